// Package server exposes the read-only view, health, and metrics over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rewired-gh/idswatch/internal/logger"
	"github.com/rewired-gh/idswatch/internal/models"
	"github.com/rewired-gh/idswatch/internal/monitor"
	"github.com/rewired-gh/idswatch/internal/stream"
)

type ViewSource interface {
	View() monitor.View
}

type StateSource interface {
	State() stream.State
}

type ExplainSource interface {
	ExplainURL(stamp time.Time) string
	ExplainAvailable(ctx context.Context, stamp time.Time) bool
}

type CueJournal interface {
	Recent(k int) ([]models.CueRecord, error)
}

// Handler serves the watcher's HTTP API. Stream, Explain, Journal and
// Registry are optional.
type Handler struct {
	View     ViewSource
	Stream   StateSource
	Explain  ExplainSource
	Journal  CueJournal
	Registry *prometheus.Registry
	Timeout  time.Duration
}

// ViewResponse is the body of GET /view.
type ViewResponse struct {
	monitor.View
	Stream     string `json:"stream"`
	ExplainURL string `json:"explain_url,omitempty"`
}

type cueRecordResponse struct {
	ID        string    `json:"id"`
	Source    string    `json:"src_ip"`
	Score     *float64  `json:"anomaly_score"`
	AlertTime string    `json:"alert_time"`
	SentAt    time.Time `json:"sent_at"`
	Sinks     []string  `json:"sinks"`
}

// Router builds the chi router with the standard middleware stack.
func (h *Handler) Router() http.Handler {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	h.RegisterRoutes(r)
	return r
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Get("/view", h.handleView)
	r.Get("/explain", h.handleExplain)
	r.Get("/cues", h.handleCues)
	if h.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.Registry, promhttp.HandlerOpts{}))
	}
}

func (h *Handler) streamState() string {
	if h.Stream == nil {
		return stream.Disconnected.String()
	}
	return h.Stream.State().String()
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	v := h.View.View()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"backend": v.Status,
		"stream":  h.streamState(),
	})
}

func (h *Handler) handleView(w http.ResponseWriter, r *http.Request) {
	v := h.View.View()
	resp := ViewResponse{View: v, Stream: h.streamState()}
	if h.Explain != nil {
		resp.ExplainURL = h.Explain.ExplainURL(v.ExplainStamp)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleExplain(w http.ResponseWriter, r *http.Request) {
	if h.Explain == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "explanations not configured"})
		return
	}
	stamp := h.View.View().ExplainStamp
	writeJSON(w, http.StatusOK, map[string]any{
		"url":       h.Explain.ExplainURL(stamp),
		"available": h.Explain.ExplainAvailable(r.Context(), stamp),
	})
}

func (h *Handler) handleCues(w http.ResponseWriter, r *http.Request) {
	if h.Journal == nil {
		writeJSON(w, http.StatusOK, []cueRecordResponse{})
		return
	}
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 1000 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}

	records, err := h.Journal.Recent(limit)
	if err != nil {
		logger.Warn("Failed to read cue journal: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "journal unavailable"})
		return
	}
	out := make([]cueRecordResponse, len(records))
	for i, rec := range records {
		out[i] = cueRecordResponse{
			ID:        rec.ID,
			Source:    rec.Source,
			Score:     rec.Score,
			AlertTime: rec.AlertTime,
			SentAt:    rec.SentAt,
			Sinks:     rec.Sinks,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Listen binds addr so that configuration errors surface before serving.
func Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return ln, nil
}

// Serve accepts on ln until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		logger.Info("HTTP server stopped")
		return nil
	}
}
