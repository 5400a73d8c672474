package reconcile

import (
	"bytes"
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

	"waypoint/internal/config"
	"waypoint/internal/services"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "Waypoint-Go/0.1.0"
	maxErrorBody     = 2048
	maxResponseBody  = 8 << 20
)

// Mode selects the race-day or pre-race endpoints.
type Mode string

const (
	ModeRace    Mode = config.RaceModeRace
	ModePrerace Mode = config.RaceModePrerace
)

// Options configures a Client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	Mode       Mode
	HTTPClient *http.Client
	UserAgent  string
	HealthURL  string
}

// Client talks to the timing server.
type Client struct {
	baseURL   string
	healthURL string
	mode      Mode
	http      *http.Client
	userAgent string
}

// New validates opts and returns a Client.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, services.Wrap(services.ErrConfiguration, "reconcile", "new client", "base url is empty", nil)
	}
	if _, err := url.Parse(base); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "reconcile", "new client", "invalid base url", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeRace
	}
	if mode != ModeRace && mode != ModePrerace {
		return nil, services.Wrap(services.ErrConfiguration, "reconcile", "new client",
			fmt.Sprintf("unknown race mode %q", mode), nil)
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	health := strings.TrimSpace(opts.HealthURL)
	if health == "" {
		health = base + "/health"
	}
	return &Client{
		baseURL:   base,
		healthURL: health,
		mode:      mode,
		http:      httpClient,
		userAgent: userAgent,
	}, nil
}

// NewFromConfig builds a Client from the [server] and [connectivity] sections.
func NewFromConfig(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "reconcile", "new client", "config is nil", nil)
	}
	return New(Options{
		BaseURL:   cfg.Server.BaseURL,
		Timeout:   cfg.ServerTimeout(),
		Mode:      Mode(cfg.Server.RaceMode),
		HealthURL: cfg.Connectivity.HealthURL,
	})
}

// Mode returns the configured endpoint family.
func (c *Client) Mode() Mode {
	return c.mode
}

// SyncPath returns the batch endpoint path for the configured mode.
func (c *Client) SyncPath() string {
	if c.mode == ModePrerace {
		return "/times/prerace/sync"
	}
	return "/times/race/sync"
}

// Sync posts one batch. Every failure to obtain a parseable 2xx answer is a
// *NetworkError.
func (c *Client) Sync(ctx context.Context, token string, records []WireRecord) (*SyncResponse, error) {
	if records == nil {
		records = []WireRecord{}
	}
	body, err := json.Marshal(SyncRequest{Records: records})
	if err != nil {
		return nil, fmt.Errorf("encode sync request: %w", err)
	}
	var resp SyncResponse
	traceID, err := c.do(ctx, "sync", http.MethodPost, c.SyncPath(), token, body, &resp)
	if err != nil {
		return nil, err
	}
	resp.TraceID = traceID
	return &resp, nil
}

// RaceResults lists race-day results, optionally for one checkpoint.
func (c *Client) RaceResults(ctx context.Context, token string, checkpointID int64) ([]Result, error) {
	return c.results(ctx, "race results", "/times/race/results", token, checkpointID)
}

// PreRaceResults lists pre-race results, optionally for one checkpoint.
func (c *Client) PreRaceResults(ctx context.Context, token string, checkpointID int64) ([]Result, error) {
	return c.results(ctx, "prerace results", "/times/prerace/results", token, checkpointID)
}

// FinalResults lists final standings for an event.
func (c *Client) FinalResults(ctx context.Context, token string, eventID int64) ([]Result, error) {
	if eventID <= 0 {
		return nil, services.Wrap(services.ErrValidation, "reconcile", "final results", "event id must be positive", nil)
	}
	var out []Result
	path := "/times/race/final/" + strconv.FormatInt(eventID, 10)
	if _, err := c.do(ctx, "final results", http.MethodGet, path, token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) results(ctx context.Context, op, path, token string, checkpointID int64) ([]Result, error) {
	if checkpointID > 0 {
		path += "?checkpointId=" + strconv.FormatInt(checkpointID, 10)
	}
	var out []Result
	if _, err := c.do(ctx, op, http.MethodGet, path, token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Ping reports whether the server answers at all. Any HTTP status counts as
// reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, nil)
	if err != nil {
		return &NetworkError{Op: "ping", Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: "ping", Err: err}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	return nil
}

type serverError struct {
	Message string `json:"message"`
	Details string `json:"details"`
}

func (c *Client) do(ctx context.Context, op, method, path, token string, body []byte, out any) (string, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return "", &NetworkError{Op: op, Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token = strings.TrimSpace(token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if requestID, ok := services.RequestIDFromContext(ctx); ok {
		req.Header.Set("X-Request-ID", requestID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	traceID := strings.TrimSpace(resp.Header.Get("x-trace-id"))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return traceID, &NetworkError{
			Op:         op,
			StatusCode: resp.StatusCode,
			TraceID:    traceID,
			Message:    errorMessage(resp.StatusCode, raw),
		}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return traceID, &NetworkError{Op: op, StatusCode: resp.StatusCode, TraceID: traceID, Err: err}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return traceID, &NetworkError{
			Op:         op,
			StatusCode: resp.StatusCode,
			TraceID:    traceID,
			Message:    "malformed response body",
			Err:        err,
		}
	}
	return traceID, nil
}

func errorMessage(status int, raw []byte) string {
	var parsed serverError
	if err := json.Unmarshal(raw, &parsed); err == nil && strings.TrimSpace(parsed.Message) != "" {
		return strings.TrimSpace(parsed.Message)
	}
	switch {
	case status == http.StatusUnauthorized:
		return "session expired; log in again"
	case status == http.StatusForbidden:
		return "not permitted for this account"
	case status == http.StatusNotFound:
		return "endpoint not found"
	case status >= 500:
		return "server error"
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return http.StatusText(status)
}

// IsNetworkError reports whether err came from a failed exchange.
func IsNetworkError(err error) bool {
	return errors.Is(err, ErrNetwork)
}
