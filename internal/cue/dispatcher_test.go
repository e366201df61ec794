package cue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/idswatch/internal/models"
	"github.com/rewired-gh/idswatch/internal/storage"
)

type fakeSink struct {
	name string
	err  error
	mu   sync.Mutex
	sent [][]models.Alert
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Send(_ context.Context, alerts []models.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, alerts)
	return f.err
}

func (f *fakeSink) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type panicSink struct{}

func (panicSink) Name() string { return "panic" }

func (panicSink) Send(context.Context, []models.Alert) error { panic("boom") }

type resultLog struct {
	mu      sync.Mutex
	results []string
}

func (r *resultLog) CueDispatch(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func critical(src string) models.Alert {
	return models.NewAlert("2024-05-01 10:00:00", src, 0.02)
}

func newJournal(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.New(100, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDispatchIgnoresNonCritical(t *testing.T) {
	sink := &fakeSink{name: "fake"}
	d := NewDispatcher(Options{Cooldown: time.Minute}, nil, sink)

	result := d.Dispatch(context.Background(), []models.Alert{
		models.NewAlert("t", "10.0.0.1", 0.07),
		{SourceIP: "10.0.0.2"},
	})

	assert.Equal(t, ResultIgnored, result)
	assert.Equal(t, 0, sink.calls())
}

func TestDispatchSendsOnlyCriticalAlerts(t *testing.T) {
	sink := &fakeSink{name: "fake"}
	journal := newJournal(t)
	d := NewDispatcher(Options{Cooldown: time.Minute}, journal, sink)

	result := d.Dispatch(context.Background(), []models.Alert{
		critical("10.0.0.1"),
		models.NewAlert("t", "10.0.0.2", 0.5),
		critical("10.0.0.3"),
	})

	require.Equal(t, ResultSent, result)
	require.Equal(t, 1, sink.calls())
	require.Len(t, sink.sent[0], 2)
	assert.Equal(t, "10.0.0.1", sink.sent[0][0].SourceIP)
	assert.Equal(t, "10.0.0.3", sink.sent[0][1].SourceIP)

	records, err := journal.Recent(10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"fake"}, records[0].Sinks)
}

func TestDispatchCooldownPerSource(t *testing.T) {
	sink := &fakeSink{name: "fake"}
	d := NewDispatcher(Options{Cooldown: time.Minute}, nil, sink)
	now := time.Now()
	d.now = func() time.Time { return now }

	assert.Equal(t, ResultSent, d.Dispatch(context.Background(), []models.Alert{critical("a")}))
	assert.Equal(t, ResultSuppressed, d.Dispatch(context.Background(), []models.Alert{critical("a")}))
	assert.Equal(t, ResultSent, d.Dispatch(context.Background(), []models.Alert{critical("a"), critical("b")}))
	require.Len(t, sink.sent[1], 1)
	assert.Equal(t, "b", sink.sent[1][0].SourceIP)

	now = now.Add(61 * time.Second)
	assert.Equal(t, ResultSent, d.Dispatch(context.Background(), []models.Alert{critical("a")}))
	assert.Equal(t, 3, sink.calls())
}

func TestDispatchOnePerSourceWithinBatch(t *testing.T) {
	sink := &fakeSink{name: "fake"}
	d := NewDispatcher(Options{}, nil, sink)

	d.Dispatch(context.Background(), []models.Alert{critical("a"), critical("a"), critical("a")})

	require.Equal(t, 1, sink.calls())
	assert.Len(t, sink.sent[0], 1)
}

func TestDispatchCooldownSurvivesRestart(t *testing.T) {
	journal := newJournal(t)
	first := NewDispatcher(Options{Cooldown: time.Hour}, journal, &fakeSink{name: "fake"})
	require.Equal(t, ResultSent, first.Dispatch(context.Background(), []models.Alert{critical("10.0.0.1")}))

	sink := &fakeSink{name: "fake"}
	second := NewDispatcher(Options{Cooldown: time.Hour}, journal, sink)
	assert.Equal(t, ResultSuppressed, second.Dispatch(context.Background(), []models.Alert{critical("10.0.0.1")}))
	assert.Equal(t, 0, sink.calls())
}

func TestDispatchRateLimit(t *testing.T) {
	sink := &fakeSink{name: "fake"}
	d := NewDispatcher(Options{RatePerMinute: 2}, nil, sink)

	assert.Equal(t, ResultSent, d.Dispatch(context.Background(), []models.Alert{critical("a")}))
	assert.Equal(t, ResultSent, d.Dispatch(context.Background(), []models.Alert{critical("b")}))
	assert.Equal(t, ResultRateLimited, d.Dispatch(context.Background(), []models.Alert{critical("c")}))
	assert.Equal(t, 2, sink.calls())

	// A rate-limited source is not put into cooldown.
	d.mu.Lock()
	_, claimed := d.lastSent["c"]
	d.mu.Unlock()
	assert.False(t, claimed)
}

func TestDispatchSinkFailures(t *testing.T) {
	good := &fakeSink{name: "good"}
	bad := &fakeSink{name: "bad", err: errors.New("unreachable")}
	journal := newJournal(t)
	obs := &resultLog{}
	d := NewDispatcher(Options{Cooldown: time.Minute, Observer: obs}, journal, bad, panicSink{}, good)

	assert.Equal(t, ResultSent, d.Dispatch(context.Background(), []models.Alert{critical("a")}))
	records, err := journal.Recent(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, records[0].Sinks)

	allBad := NewDispatcher(Options{Cooldown: time.Minute, Observer: obs}, nil, bad, panicSink{})
	assert.Equal(t, ResultFailed, allBad.Dispatch(context.Background(), []models.Alert{critical("a")}))
	// A failed source may be retried right away.
	assert.Equal(t, ResultFailed, allBad.Dispatch(context.Background(), []models.Alert{critical("a")}))

	assert.Equal(t, []string{ResultSent, ResultFailed, ResultFailed}, obs.results)
}

func TestNotifyDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	blocking := &blockingSink{release: release}
	d := NewDispatcher(Options{}, nil, blocking)

	done := make(chan struct{})
	go func() {
		d.Notify(context.Background(), []models.Alert{critical("a")})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a slow sink")
	}
	close(release)
	d.Wait()
	assert.True(t, blocking.sent)
}

type blockingSink struct {
	release chan struct{}
	sent    bool
}

func (b *blockingSink) Name() string { return "blocking" }

func (b *blockingSink) Send(ctx context.Context, _ []models.Alert) error {
	<-b.release
	b.sent = true
	return nil
}

func TestBellSink(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	var buf bytes.Buffer
	bell := NewBell(&buf)
	err := bell.Send(context.Background(), []models.Alert{critical("10.0.0.1"), {}})
	require.NoError(t, err)

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "\a"))
	assert.Contains(t, out, " CRITICAL  10.0.0.1 score=0.020 2024-05-01 10:00:00")
	assert.Contains(t, out, "- score=n/a -")
}

func TestCriticalEventPayload(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	data, err := json.Marshal(newCriticalEvent(at, []models.Alert{critical("10.0.0.1")}))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "2024-05-01T10:00:00Z", decoded["sent_at"])
	alerts := decoded["alerts"].([]any)
	require.Len(t, alerts, 1)
	first := alerts[0].(map[string]any)
	assert.Equal(t, "10.0.0.1", first["src_ip"])
	assert.EqualValues(t, 10, first["risk_level"])
}
