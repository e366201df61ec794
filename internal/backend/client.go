// Package backend is a client for the detection backend's REST API.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/idswatch/internal/models"
)

// ErrStatus is wrapped by errors for non-2xx responses.
var ErrStatus = errors.New("unexpected response status")

// Client provides access to the detection backend API
type Client struct {
	baseURL         string
	httpClient      *http.Client
	statusTimeout   time.Duration
	maxRetries      int
	retryDelayBase  time.Duration
	explainArtifact string
}

// ClientConfig tunes retries and the underlying transport.
type ClientConfig struct {
	StatusTimeout       time.Duration
	MaxRetries          int
	RetryDelayBase      time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	ExplainArtifact     string
}

// NewClient creates a new backend client
func NewClient(baseURL string, timeout time.Duration, cfg ClientConfig) *Client {
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = 4 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = 500 * time.Millisecond
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 10
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = 5
	}
	if cfg.IdleConnTimeout <= 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}
	if cfg.ExplainArtifact == "" {
		cfg.ExplainArtifact = "shap_feature_importance"
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		statusTimeout:   cfg.StatusTimeout,
		maxRetries:      cfg.MaxRetries,
		retryDelayBase:  cfg.RetryDelayBase,
		explainArtifact: cfg.ExplainArtifact,
	}
}

// Status reads the backend status. The read is abandoned after the status
// timeout regardless of the client timeout.
func (c *Client) Status(ctx context.Context) (models.StatusResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.statusTimeout)
	defer cancel()

	var resp models.StatusResponse
	if err := c.getJSON(ctx, "/status", nil, &resp); err != nil {
		return models.StatusResponse{}, fmt.Errorf("failed to fetch status: %w", err)
	}
	return resp, nil
}

// Alerts retrieves the backend's alert snapshot, newest first. A limit of
// zero uses the backend default.
func (c *Client) Alerts(ctx context.Context, limit int) ([]models.Alert, error) {
	var q url.Values
	if limit > 0 {
		q = url.Values{"limit": []string{strconv.Itoa(limit)}}
	}

	// Response is array directly, not wrapped
	var alerts []models.Alert
	if err := c.getJSON(ctx, "/alerts", q, &alerts); err != nil {
		return nil, fmt.Errorf("failed to fetch alerts: %w", err)
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	return alerts, nil
}

func (c *Client) ModelInfo(ctx context.Context) (models.ModelInfo, error) {
	var info models.ModelInfo
	if err := c.getJSON(ctx, "/model-info", nil, &info); err != nil {
		return models.ModelInfo{}, fmt.Errorf("failed to fetch model info: %w", err)
	}
	return info, nil
}

func (c *Client) Statistics(ctx context.Context) (models.Statistics, error) {
	var stats models.Statistics
	if err := c.getJSON(ctx, "/statistics", nil, &stats); err != nil {
		return models.Statistics{}, fmt.Errorf("failed to fetch statistics: %w", err)
	}
	return stats, nil
}

// Scores retrieves the historical score series, oldest first.
func (c *Client) Scores(ctx context.Context) ([]models.ScorePoint, error) {
	var points []models.ScorePoint
	if err := c.getJSON(ctx, "/scores", nil, &points); err != nil {
		return nil, fmt.Errorf("failed to fetch scores: %w", err)
	}
	return points, nil
}

// ExplainURL returns the explanation image URL with stamp as cache-buster.
func (c *Client) ExplainURL(stamp time.Time) string {
	return fmt.Sprintf("%s/explain/%s.png?t=%d", c.baseURL, url.PathEscape(c.explainArtifact), stamp.UnixMilli())
}

// ExplainAvailable reports whether the explanation image currently exists.
// Any failure, including 404, is reported as unavailable.
func (c *Client) ExplainAvailable(ctx context.Context, stamp time.Time) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.ExplainURL(stamp), nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	resp, err := c.doRequest(ctx, u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// doRequest performs HTTP request with retry logic. Only transport errors
// and 5xx responses are retried.
func (c *Client) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelayBase * time.Duration(i)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}

		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			drain(resp)
			lastErr = fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
			continue
		}
		if resp.StatusCode >= 300 {
			drain(resp)
			return nil, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
		}

		return resp, nil
	}

	if c.maxRetries == 1 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
