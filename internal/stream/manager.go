// Package stream maintains the push channel to the detection backend and
// feeds decoded alert batches into the monitor.
package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rewired-gh/idswatch/internal/danger"
	"github.com/rewired-gh/idswatch/internal/logger"
	"github.com/rewired-gh/idswatch/internal/models"
)

// State is the push channel connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Error
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Reconnecting:
		return "RECONNECTING"
	case Error:
		return "ERROR"
	default:
		return "DISCONNECTED"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Sink receives every decoded batch.
type Sink interface {
	IngestBatch(batch []models.Alert)
}

// Notifier is told about batches that contain a critical alert. Notify is
// called from the read loop and must return promptly.
type Notifier interface {
	Notify(ctx context.Context, batch []models.Alert)
}

// Observer receives connection and message events, typically for metrics.
type Observer interface {
	StreamState(s State)
	StreamMessage(result string)
}

// Message results reported to the Observer.
const (
	ResultAccepted  = "accepted"
	ResultMalformed = "malformed"
	ResultEmpty     = "empty"
)

// Options configures a Manager.
type Options struct {
	URL              string
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	ReadLimit        int64
	Notifier         Notifier
	Observer         Observer
}

// Manager owns one websocket connection at a time and reconnects after a
// fixed delay whenever it drops.
type Manager struct {
	opts   Options
	sink   Sink
	dialer *websocket.Dialer

	mu    sync.RWMutex
	state State
}

// NewManager creates a stream manager in the Disconnected state.
func NewManager(opts Options, sink Sink) *Manager {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 2 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 5 * time.Second
	}
	return &Manager{
		opts: opts,
		sink: sink,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		state: Disconnected,
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()

	if prev == s {
		return
	}
	logger.Debug("Stream state %s -> %s", prev, s)
	if m.opts.Observer != nil {
		m.opts.Observer.StreamState(s)
	}
}

// Run connects immediately and keeps the channel alive until ctx is
// cancelled. It always returns nil after shutdown.
func (m *Manager) Run(ctx context.Context) error {
	defer m.setState(Disconnected)

	logger.Info("Connecting to alert stream at %s", m.opts.URL)
	for {
		if ctx.Err() != nil {
			return nil
		}

		m.setState(Connecting)
		conn, _, err := m.dialer.DialContext(ctx, m.opts.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("Alert stream connection failed: %v", err)
			m.setState(Error)
		} else {
			m.setState(Connected)
			logger.Info("Alert stream connected")
			if err := m.readLoop(ctx, conn); err != nil && ctx.Err() == nil {
				logger.Warn("Alert stream closed: %v", err)
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		m.setState(Reconnecting)
		timer := time.NewTimer(m.opts.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// readLoop reads messages until the connection fails or ctx is cancelled.
// A clean close from the peer returns nil.
func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()
	if m.opts.ReadLimit > 0 {
		conn.SetReadLimit(m.opts.ReadLimit)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		m.handleMessage(ctx, data)
	}
}

func (m *Manager) handleMessage(ctx context.Context, data []byte) {
	batch, err := Decode(data)
	if err != nil {
		result := ResultMalformed
		if errors.Is(err, ErrEmptyBatch) {
			result = ResultEmpty
		}
		logger.Warn("Dropping stream message: %v", err)
		m.observe(result)
		return
	}

	m.sink.IngestBatch(batch)
	m.observe(ResultAccepted)

	if m.opts.Notifier != nil && danger.AnyCritical(batch) {
		m.cue(ctx, batch)
	}
}

// cue hands the batch to the notifier, which must not block. Panics are
// recovered.
func (m *Manager) cue(ctx context.Context, batch []models.Alert) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Critical cue panicked: %v", r)
		}
	}()
	m.opts.Notifier.Notify(ctx, batch)
}

func (m *Manager) observe(result string) {
	if m.opts.Observer != nil {
		m.opts.Observer.StreamMessage(result)
	}
}
