// Package metrics exposes watcher state as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rewired-gh/idswatch/internal/risk"
	"github.com/rewired-gh/idswatch/internal/stream"
)

const namespace = "idswatch"

var allStates = []stream.State{
	stream.Disconnected, stream.Connecting, stream.Connected, stream.Reconnecting, stream.Error,
}

var allConfidences = []risk.Confidence{risk.ConfidenceLow, risk.ConfidenceMedium, risk.ConfidenceHigh}

// ViewSource is read on every scrape.
type ViewSource interface {
	Risk() risk.Assessment
	Counts() (alerts, timeline int)
}

// Collector records stream, poller, and cue events and reports the monitor
// view at scrape time. It owns its registry.
type Collector struct {
	registry *prometheus.Registry
	source   ViewSource

	streamState    *prometheus.GaugeVec
	streamMessages *prometheus.CounterVec
	reconnects     prometheus.Counter
	backendUp      prometheus.Gauge
	pollReads      *prometheus.CounterVec
	cueDispatches  *prometheus.CounterVec

	riskScore      *prometheus.Desc
	riskConfidence *prometheus.Desc
	alertsBuffered *prometheus.Desc
	timelineLength *prometheus.Desc
}

// New creates a collector registered on a fresh registry, together with the
// Go runtime and process collectors.
func New(source ViewSource) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		source:   source,
		streamState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_state",
			Help:      "Push channel connection state; 1 for the current state.",
		}, []string{"state"}),
		streamMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_messages_total",
			Help:      "Push channel messages by decode result.",
		}, []string{"result"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_reconnects_total",
			Help:      "Reconnect attempts scheduled after the push channel dropped.",
		}),
		backendUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_up",
			Help:      "Whether the last status read succeeded.",
		}),
		pollReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_reads_total",
			Help:      "Snapshot reads by endpoint and result.",
		}, []string{"read", "result"}),
		cueDispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cue_dispatches_total",
			Help:      "Critical cue dispatches by result.",
		}, []string{"result"}),
		riskScore: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "risk_score"),
			"Aggregate risk score over the most recent alerts (0-10).",
			nil, nil),
		riskConfidence: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "risk_confidence"),
			"Confidence band of the aggregate risk score; 1 for the current band.",
			[]string{"confidence"}, nil),
		alertsBuffered: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "alerts_buffered"),
			"Alerts currently held for display.",
			nil, nil),
		timelineLength: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "timeline_samples"),
			"Samples currently on the anomaly timeline.",
			nil, nil),
	}

	c.StreamState(stream.Disconnected)

	c.registry.MustRegister(
		c,
		c.streamState,
		c.streamMessages,
		c.reconnects,
		c.backendUp,
		c.pollReads,
		c.cueDispatches,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry for the HTTP handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Describe implements prometheus.Collector for the scrape-time metrics.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.riskScore
	ch <- c.riskConfidence
	ch <- c.alertsBuffered
	ch <- c.timelineLength
}

// Collect implements prometheus.Collector. It reads the view source on
// every scrape.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.source == nil {
		return
	}
	a := c.source.Risk()
	ch <- prometheus.MustNewConstMetric(c.riskScore, prometheus.GaugeValue, float64(a.Score))
	for _, conf := range allConfidences {
		v := 0.0
		if a.Confidence == conf {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.riskConfidence, prometheus.GaugeValue, v, string(conf))
	}

	alerts, timeline := c.source.Counts()
	ch <- prometheus.MustNewConstMetric(c.alertsBuffered, prometheus.GaugeValue, float64(alerts))
	ch <- prometheus.MustNewConstMetric(c.timelineLength, prometheus.GaugeValue, float64(timeline))
}

// StreamState implements stream.Observer.
func (c *Collector) StreamState(s stream.State) {
	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1
		}
		c.streamState.WithLabelValues(st.String()).Set(v)
	}
	if s == stream.Reconnecting {
		c.reconnects.Inc()
	}
}

// StreamMessage implements stream.Observer.
func (c *Collector) StreamMessage(result string) {
	c.streamMessages.WithLabelValues(result).Inc()
}

// BackendUp implements poller.Observer.
func (c *Collector) BackendUp(up bool) {
	if up {
		c.backendUp.Set(1)
	} else {
		c.backendUp.Set(0)
	}
}

// PollRead implements poller.Observer.
func (c *Collector) PollRead(read string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	c.pollReads.WithLabelValues(read, result).Inc()
}

// CueDispatch implements cue.Observer.
func (c *Collector) CueDispatch(result string) {
	c.cueDispatches.WithLabelValues(result).Inc()
}
