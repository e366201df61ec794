// Package cue delivers fire-and-forget notifications for critical alerts.
package cue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rewired-gh/idswatch/internal/danger"
	"github.com/rewired-gh/idswatch/internal/logger"
	"github.com/rewired-gh/idswatch/internal/models"
)

// Sink delivers a critical notification somewhere.
type Sink interface {
	Name() string
	Send(ctx context.Context, alerts []models.Alert) error
}

// Journal remembers dispatched notifications across restarts.
type Journal interface {
	Record(rec *models.CueRecord) error
	LastSent(source string) (time.Time, bool, error)
}

// Observer is told the result of every dispatch, typically for metrics.
type Observer interface {
	CueDispatch(result string)
}

// Dispatch results.
const (
	ResultSent        = "sent"
	ResultFailed      = "failed"
	ResultSuppressed  = "suppressed"
	ResultRateLimited = "rate_limited"
	ResultIgnored     = "ignored"
)

type Options struct {
	Cooldown      time.Duration
	RatePerMinute int
	SendTimeout   time.Duration
	Observer      Observer
}

// Dispatcher filters, throttles, and fans out critical notifications.
type Dispatcher struct {
	sinks       []Sink
	journal     Journal
	limiter     *rate.Limiter
	cooldown    time.Duration
	sendTimeout time.Duration
	observer    Observer
	now         func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher. journal may be nil.
func NewDispatcher(opts Options, journal Journal, sinks ...Sink) *Dispatcher {
	if opts.RatePerMinute <= 0 {
		opts.RatePerMinute = 6
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	perMinute := rate.Every(time.Minute / time.Duration(opts.RatePerMinute))
	return &Dispatcher{
		sinks:       sinks,
		journal:     journal,
		limiter:     rate.NewLimiter(perMinute, opts.RatePerMinute),
		cooldown:    opts.Cooldown,
		sendTimeout: opts.SendTimeout,
		observer:    opts.Observer,
		now:         time.Now,
		lastSent:    make(map[string]time.Time),
	}
}

// Notify dispatches in the background and returns immediately. Failures are
// logged and never reach the caller.
func (d *Dispatcher) Notify(ctx context.Context, batch []models.Alert) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Dispatch(ctx, batch)
	}()
}

// Wait blocks until background dispatches finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Dispatch runs one notification synchronously and returns its result.
func (d *Dispatcher) Dispatch(ctx context.Context, batch []models.Alert) (result string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Cue dispatch panicked: %v", r)
			result = ResultFailed
		}
		if d.observer != nil {
			d.observer.CueDispatch(result)
		}
	}()

	critical := criticalOnly(batch)
	if len(critical) == 0 {
		return ResultIgnored
	}

	eligible := d.claim(critical)
	if len(eligible) == 0 {
		logger.Debug("Suppressed critical cue for %d alerts within cooldown", len(critical))
		return ResultSuppressed
	}

	if !d.limiter.Allow() {
		d.release(eligible)
		logger.Warn("Critical cue rate limited (%d alerts)", len(eligible))
		return ResultRateLimited
	}

	// Sinks outlive ctx cancellation, bounded by sendTimeout.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.sendTimeout)
	defer cancel()

	delivered := make([]string, 0, len(d.sinks))
	for _, sink := range d.sinks {
		if err := send(sendCtx, sink, eligible); err != nil {
			logger.Warn("Critical cue via %s failed: %v", sink.Name(), err)
			continue
		}
		delivered = append(delivered, sink.Name())
	}

	if len(d.sinks) > 0 && len(delivered) == 0 {
		d.release(eligible)
		return ResultFailed
	}

	d.record(eligible, delivered)
	logger.Info("Critical cue sent for %d alerts via %v", len(eligible), delivered)
	return ResultSent
}

// claim returns the alerts whose source is outside its cooldown, one per
// source, and marks those sources as sent.
func (d *Dispatcher) claim(critical []models.Alert) []models.Alert {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	var eligible []models.Alert
	seen := make(map[string]bool, len(critical))
	for _, a := range critical {
		src := a.DisplaySource()
		if seen[src] {
			continue
		}
		seen[src] = true

		if last, ok := d.lastSentLocked(src); ok && now.Sub(last) < d.cooldown {
			continue
		}
		d.lastSent[src] = now
		eligible = append(eligible, a)
	}
	return eligible
}

func (d *Dispatcher) lastSentLocked(src string) (time.Time, bool) {
	if last, ok := d.lastSent[src]; ok {
		return last, true
	}
	if d.journal == nil {
		return time.Time{}, false
	}
	last, ok, err := d.journal.LastSent(src)
	if err != nil {
		logger.Warn("Cue journal lookup for %s failed: %v", src, err)
		return time.Time{}, false
	}
	if ok {
		d.lastSent[src] = last
	}
	return last, ok
}

// release undoes claim for alerts that were never sent.
func (d *Dispatcher) release(alerts []models.Alert) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, a := range alerts {
		delete(d.lastSent, a.DisplaySource())
	}
}

func (d *Dispatcher) record(alerts []models.Alert, sinks []string) {
	if d.journal == nil {
		return
	}
	now := d.now()
	for _, a := range alerts {
		rec := &models.CueRecord{
			Source:    a.DisplaySource(),
			Score:     a.AnomalyScore,
			AlertTime: a.Time,
			SentAt:    now,
			Sinks:     sinks,
		}
		if err := d.journal.Record(rec); err != nil {
			logger.Warn("Failed to journal critical cue for %s: %v", rec.Source, err)
		}
	}
}

func send(ctx context.Context, sink Sink, alerts []models.Alert) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return sink.Send(ctx, alerts)
}

func criticalOnly(batch []models.Alert) []models.Alert {
	var out []models.Alert
	for _, a := range batch {
		if danger.ClassifyAlert(a).Tier == danger.Critical {
			out = append(out, a)
		}
	}
	return out
}
