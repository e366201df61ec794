package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/idswatch/internal/metrics"
	"github.com/rewired-gh/idswatch/internal/models"
	"github.com/rewired-gh/idswatch/internal/monitor"
	"github.com/rewired-gh/idswatch/internal/stream"
)

type fixedState stream.State

func (s fixedState) State() stream.State { return stream.State(s) }

type fakeExplain struct{ available bool }

func (f fakeExplain) ExplainURL(stamp time.Time) string {
	return "http://ids.local/explain/shap.png?t=" + stamp.UTC().Format("150405")
}

func (f fakeExplain) ExplainAvailable(context.Context, time.Time) bool { return f.available }

type fakeJournal struct {
	records []models.CueRecord
	err     error
	limit   int
}

func (f *fakeJournal) Recent(k int) ([]models.CueRecord, error) {
	f.limit = k
	return f.records, f.err
}

func newMonitor() *monitor.Monitor {
	mon := monitor.New(monitor.DefaultConfig())
	mon.SetStatus("running")
	mon.IngestBatch([]models.Alert{
		models.NewAlert("2024-05-01 10:00:00", "10.0.0.1", 0.03),
		models.NewAlert("2024-05-01 10:00:00", "10.0.0.2", 0.5),
	})
	return mon
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleView(t *testing.T) {
	h := &Handler{View: newMonitor(), Stream: fixedState(stream.Connected), Explain: fakeExplain{}}
	rec := get(t, h.Router(), "/view")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Status string `json:"status"`
		Stream string `json:"stream"`
		Risk   struct {
			Score      int    `json:"risk_score"`
			Confidence string `json:"confidence"`
		} `json:"risk"`
		Alerts []struct {
			Source string `json:"src_ip"`
			Danger struct {
				Tier  string `json:"tier"`
				Level int    `json:"level"`
			} `json:"danger"`
		} `json:"alerts"`
		Timeline   []json.RawMessage `json:"timeline"`
		ExplainURL string            `json:"explain_url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	assert.Equal(t, "running", body.Status)
	assert.Equal(t, "CONNECTED", body.Stream)
	assert.Equal(t, 6, body.Risk.Score)
	assert.Equal(t, "MEDIUM", body.Risk.Confidence)
	require.Len(t, body.Alerts, 2)
	assert.Equal(t, "10.0.0.1", body.Alerts[0].Source)
	assert.Equal(t, "CRITICAL", body.Alerts[0].Danger.Tier)
	assert.Equal(t, 10, body.Alerts[0].Danger.Level)
	assert.Len(t, body.Timeline, 1)
	assert.True(t, strings.HasPrefix(body.ExplainURL, "http://ids.local/explain/"))
}

func TestHandleViewWithoutOptionalSources(t *testing.T) {
	h := &Handler{View: monitor.New(monitor.DefaultConfig())}
	rec := get(t, h.Router(), "/view")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "DISCONNECTED", body["stream"])
	assert.Equal(t, []any{}, body["timeline"])
	assert.NotContains(t, body, "explain_url")
}

func TestHandleHealth(t *testing.T) {
	h := &Handler{View: newMonitor(), Stream: fixedState(stream.Reconnecting)}
	rec := get(t, h.Router(), "/healthz")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "running", body["backend"])
	assert.Equal(t, "RECONNECTING", body["stream"])
}

func TestHandleExplain(t *testing.T) {
	h := &Handler{View: newMonitor(), Explain: fakeExplain{available: true}}
	rec := get(t, h.Router(), "/explain")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"available":true`)

	h = &Handler{View: newMonitor()}
	rec = get(t, h.Router(), "/explain")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleCues(t *testing.T) {
	score := 0.02
	journal := &fakeJournal{records: []models.CueRecord{{
		ID: "abc", Source: "10.0.0.1", Score: &score, AlertTime: "2024-05-01 10:00:00",
		SentAt: time.Date(2024, 5, 1, 10, 0, 1, 0, time.UTC), Sinks: []string{"bell"},
	}}}
	h := &Handler{View: newMonitor(), Journal: journal}

	rec := get(t, h.Router(), "/cues?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, journal.limit)

	var body []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "10.0.0.1", body[0]["src_ip"])
	assert.Equal(t, "2024-05-01T10:00:01Z", body[0]["sent_at"])

	rec = get(t, h.Router(), "/cues")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, journal.limit)

	rec = get(t, h.Router(), "/cues?limit=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	journal.err = errors.New("disk gone")
	rec = get(t, h.Router(), "/cues")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	mon := newMonitor()
	collector := metrics.New(mon)
	collector.StreamState(stream.Connected)
	h := &Handler{View: mon, Registry: collector.Registry()}

	rec := get(t, h.Router(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "idswatch_risk_score 6")
	assert.Contains(t, body, `idswatch_stream_state{state="CONNECTED"} 1`)
}

func TestMetricsEndpointDisabled(t *testing.T) {
	h := &Handler{View: newMonitor()}
	rec := get(t, h.Router(), "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	h := &Handler{View: newMonitor()}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, ln, h.Router()) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestListenAddressInUse(t *testing.T) {
	held, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer held.Close()

	_, err = Listen(held.Addr().String())
	assert.Error(t, err)
}

func TestServeReturnsAcceptError(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	h := &Handler{View: newMonitor()}
	err = Serve(context.Background(), ln, h.Router())
	assert.Error(t, err)
}
