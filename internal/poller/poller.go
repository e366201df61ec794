// Package poller periodically refreshes backend snapshots into the monitor.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/rewired-gh/idswatch/internal/logger"
	"github.com/rewired-gh/idswatch/internal/models"
)

// Source is the set of backend reads the poller performs.
type Source interface {
	Status(ctx context.Context) (models.StatusResponse, error)
	Alerts(ctx context.Context, limit int) ([]models.Alert, error)
	ModelInfo(ctx context.Context) (models.ModelInfo, error)
	Statistics(ctx context.Context) (models.Statistics, error)
	Scores(ctx context.Context) ([]models.ScorePoint, error)
}

// Target receives the results of successful reads.
type Target interface {
	SetStatus(status string)
	SeedAlerts(initial []models.Alert) bool
	SetModelInfo(info models.ModelInfo)
	HasModelInfo() bool
	SetStatistics(stats models.Statistics)
	ReplaceTimeline(points []models.ScorePoint)
}

// Observer is told about every read outcome, typically for metrics.
type Observer interface {
	BackendUp(up bool)
	PollRead(read string, ok bool)
}

// Read names reported to the Observer.
const (
	ReadStatus     = "status"
	ReadAlerts     = "alerts"
	ReadModelInfo  = "model_info"
	ReadStatistics = "statistics"
	ReadScores     = "scores"
)

// Poller runs one cycle at startup and then one per interval.
type Poller struct {
	source      Source
	target      Target
	observer    Observer
	interval    time.Duration
	alertsLimit int

	mu     sync.Mutex
	cycles int
}

func New(source Source, target Target, interval time.Duration, alertsLimit int, observer Observer) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{
		source:      source,
		target:      target,
		observer:    observer,
		interval:    interval,
		alertsLimit: alertsLimit,
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	logger.Info("Starting snapshot poller (interval=%v)", p.interval)

	p.Poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Snapshot poller stopped")
			return nil
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll runs one cycle of independent reads and waits for all of them. The
// first cycle also seeds the alert buffer.
func (p *Poller) Poll(ctx context.Context) {
	p.mu.Lock()
	coldStart := p.cycles == 0
	p.cycles++
	p.mu.Unlock()

	var wg sync.WaitGroup
	run := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	run(p.pollStatus)
	run(p.pollStatistics)
	run(p.pollScores)
	if coldStart {
		run(p.seedAlerts)
	}
	if !p.target.HasModelInfo() {
		run(p.pollModelInfo)
	}

	wg.Wait()
}

// Cycles returns the number of cycles started.
func (p *Poller) Cycles() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cycles
}

func (p *Poller) pollStatus(ctx context.Context) {
	st, err := p.source.Status(ctx)
	if err != nil {
		logger.Debug("Status read failed: %v", err)
		p.target.SetStatus(models.StatusOffline)
		p.report(ReadStatus, false)
		return
	}
	p.target.SetStatus(st.Value())
	p.report(ReadStatus, true)
}

func (p *Poller) seedAlerts(ctx context.Context) {
	alerts, err := p.source.Alerts(ctx, p.alertsLimit)
	if err != nil {
		logger.Warn("Initial alert snapshot failed: %v", err)
		p.report(ReadAlerts, false)
		return
	}
	if p.target.SeedAlerts(alerts) {
		logger.Info("Seeded %d alerts from snapshot", len(alerts))
	}
	p.report(ReadAlerts, true)
}

func (p *Poller) pollModelInfo(ctx context.Context) {
	info, err := p.source.ModelInfo(ctx)
	if err != nil {
		logger.Debug("Model info read failed: %v", err)
		p.report(ReadModelInfo, false)
		return
	}
	p.target.SetModelInfo(info)
	logger.Info("Backend model: %s (window=%s, threshold=%.2f)", info.Model, info.Window, info.Threshold)
	p.report(ReadModelInfo, true)
}

func (p *Poller) pollStatistics(ctx context.Context) {
	stats, err := p.source.Statistics(ctx)
	if err != nil {
		logger.Debug("Statistics read failed: %v", err)
		p.report(ReadStatistics, false)
		return
	}
	p.target.SetStatistics(stats)
	p.report(ReadStatistics, true)
}

func (p *Poller) pollScores(ctx context.Context) {
	points, err := p.source.Scores(ctx)
	if err != nil {
		logger.Debug("Scores read failed: %v", err)
		p.report(ReadScores, false)
		return
	}
	p.target.ReplaceTimeline(points)
	p.report(ReadScores, true)
}

func (p *Poller) report(read string, ok bool) {
	if p.observer == nil {
		return
	}
	p.observer.PollRead(read, ok)
	if read == ReadStatus {
		p.observer.BackendUp(ok)
	}
}
