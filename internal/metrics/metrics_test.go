package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/idswatch/internal/models"
	"github.com/rewired-gh/idswatch/internal/monitor"
	"github.com/rewired-gh/idswatch/internal/risk"
	"github.com/rewired-gh/idswatch/internal/stream"
)

func TestStreamStateGauge(t *testing.T) {
	c := New(nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.streamState.WithLabelValues("DISCONNECTED")))

	c.StreamState(stream.Connecting)
	c.StreamState(stream.Connected)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.streamState.WithLabelValues("CONNECTED")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.streamState.WithLabelValues("CONNECTING")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.reconnects))

	c.StreamState(stream.Reconnecting)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.reconnects))
}

func TestEventCounters(t *testing.T) {
	c := New(nil)

	c.StreamMessage(stream.ResultAccepted)
	c.StreamMessage(stream.ResultAccepted)
	c.StreamMessage(stream.ResultMalformed)
	c.PollRead("status", false)
	c.BackendUp(false)
	c.CueDispatch("sent")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.streamMessages.WithLabelValues(stream.ResultAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.streamMessages.WithLabelValues(stream.ResultMalformed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pollReads.WithLabelValues("status", "error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.backendUp))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cueDispatches.WithLabelValues("sent")))

	c.BackendUp(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.backendUp))
}

func TestViewMetrics(t *testing.T) {
	mon := monitor.New(monitor.DefaultConfig())
	mon.IngestBatch([]models.Alert{
		models.NewAlert("t", "10.0.0.1", 0.03),
		models.NewAlert("t", "10.0.0.2", 0.5),
	})
	c := New(mon)

	expected := `
# HELP idswatch_alerts_buffered Alerts currently held for display.
# TYPE idswatch_alerts_buffered gauge
idswatch_alerts_buffered 2
# HELP idswatch_risk_confidence Confidence band of the aggregate risk score; 1 for the current band.
# TYPE idswatch_risk_confidence gauge
idswatch_risk_confidence{confidence="HIGH"} 0
idswatch_risk_confidence{confidence="LOW"} 0
idswatch_risk_confidence{confidence="MEDIUM"} 1
# HELP idswatch_risk_score Aggregate risk score over the most recent alerts (0-10).
# TYPE idswatch_risk_score gauge
idswatch_risk_score 6
# HELP idswatch_timeline_samples Samples currently on the anomaly timeline.
# TYPE idswatch_timeline_samples gauge
idswatch_timeline_samples 1
`
	err := testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected),
		"idswatch_alerts_buffered", "idswatch_risk_confidence", "idswatch_risk_score", "idswatch_timeline_samples")
	require.NoError(t, err)
}

type staticSource struct{}

func (staticSource) Risk() risk.Assessment {
	return risk.Assessment{Score: 9, Confidence: risk.ConfidenceHigh}
}

func (staticSource) Counts() (int, int) { return 500, 30 }

func TestRegistryGathers(t *testing.T) {
	c := New(staticSource{})
	families, err := c.Registry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"idswatch_risk_score", "idswatch_stream_state", "go_goroutines"} {
		assert.True(t, names[want], "missing %s", want)
	}
}
