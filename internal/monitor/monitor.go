// Package monitor owns the display state: alert and timeline buffers, the
// derived risk assessment, and the latest backend snapshots.
package monitor

import (
	"sync"
	"time"

	"github.com/rewired-gh/idswatch/internal/buffer"
	"github.com/rewired-gh/idswatch/internal/logger"
	"github.com/rewired-gh/idswatch/internal/models"
	"github.com/rewired-gh/idswatch/internal/risk"
)

type Config struct {
	AlertCapacity    int
	TimelineCapacity int
	RiskWindow       int
}

func DefaultConfig() Config {
	return Config{
		AlertCapacity:    buffer.DefaultAlertCapacity,
		TimelineCapacity: buffer.DefaultTimelineCapacity,
		RiskWindow:       risk.DefaultWindow,
	}
}

// Monitor is the single owner of view state. The stream feeds it through
// IngestBatch; the poller through the Seed/Replace/Set methods.
type Monitor struct {
	config   Config
	alerts   *buffer.AlertBuffer
	timeline *buffer.TimelineBuffer
	now      func() time.Time

	mu           sync.RWMutex
	assessment   risk.Assessment
	status       string
	statistics   *models.Statistics
	modelInfo    *models.ModelInfo
	explainStamp time.Time
	batches      int
}

func New(config Config) *Monitor {
	m := &Monitor{
		config:   config,
		alerts:   buffer.NewAlertBuffer(config.AlertCapacity),
		timeline: buffer.NewTimelineBuffer(config.TimelineCapacity),
		now:      time.Now,
		status:   "loading...",
	}
	m.assessment = risk.Aggregate(nil, config.RiskWindow)
	m.explainStamp = m.now()
	return m
}

// IngestBatch applies a live batch: it is prepended to the alert buffer, a
// timeline sample is appended, and the risk assessment is recomputed.
func (m *Monitor) IngestBatch(batch []models.Alert) {
	if len(batch) == 0 {
		return
	}
	now := m.now()

	// Buffer mutation and recompute happen under one lock so a concurrent
	// seed cannot interleave with the recompute.
	m.mu.Lock()
	contents := m.alerts.Prepend(batch)
	m.timeline.Append(models.SampleFromBatch(now, batch))
	m.assessment = risk.Aggregate(contents, m.config.RiskWindow)
	m.explainStamp = now
	m.batches++
	assessment := m.assessment
	m.mu.Unlock()

	logger.Debug("Ingested batch of %d alerts (buffer=%d, risk=%d %s)",
		len(batch), len(contents), assessment.Score, assessment.Confidence)
}

// SeedAlerts loads the cold-start alert snapshot. It is ignored once any
// live batch has been ingested.
func (m *Monitor) SeedAlerts(initial []models.Alert) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.alerts.Seed(initial) {
		logger.Debug("Ignoring alert snapshot of %d entries: live data already received", len(initial))
		return false
	}
	m.assessment = risk.Aggregate(m.alerts.Recent(m.config.RiskWindow), m.config.RiskWindow)
	return true
}

// ReplaceTimeline swaps the timeline for the samples derived from the
// backend's score history.
func (m *Monitor) ReplaceTimeline(points []models.ScorePoint) {
	threshold := m.ModelInfo().Threshold
	samples := make([]models.TimelineSample, len(points))
	for i, p := range points {
		samples[i] = models.SampleFromPoint(p, threshold)
	}
	m.timeline.Replace(samples)
}

func (m *Monitor) SetStatus(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != status {
		logger.Info("Backend status changed: %s -> %s", m.status, status)
	}
	m.status = status
}

func (m *Monitor) SetStatistics(stats models.Statistics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statistics = &stats
}

func (m *Monitor) SetModelInfo(info models.ModelInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modelInfo = &info
}

// HasModelInfo reports whether the backend has reported its model info.
func (m *Monitor) HasModelInfo() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.modelInfo != nil
}

// ModelInfo returns the reported model info or the defaults.
func (m *Monitor) ModelInfo() models.ModelInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.modelInfo == nil {
		return models.DefaultModelInfo()
	}
	return *m.modelInfo
}

func (m *Monitor) Risk() risk.Assessment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.assessment
}

func (m *Monitor) Status() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Monitor) Alerts() []models.Alert {
	return m.alerts.Snapshot()
}

func (m *Monitor) Timeline() []models.TimelineSample {
	return m.timeline.Samples()
}

// ExplainStamp is the cache-buster for the explanation image; it moves
// forward with every live batch.
func (m *Monitor) ExplainStamp() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.explainStamp
}

func (m *Monitor) BatchesIngested() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.batches
}

// Counts returns the current alert and timeline buffer lengths.
func (m *Monitor) Counts() (alerts, timeline int) {
	return m.alerts.Len(), m.timeline.Len()
}
