package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"waypoint/internal/config"
)

const userAgent = "Waypoint-Go/0.1.0"

// Event names a notification.
type Event string

const (
	EventRecordsRejected Event = "records_rejected"
	EventQueueBacklog    Event = "queue_backlog"
	EventSyncRecovered   Event = "sync_recovered"
	EventTest            Event = "test"
)

// Payload carries event fields.
type Payload map[string]any

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventRecordsRejected: cfg.Notifications.RecordsRejected,
			EventQueueBacklog:    cfg.Notifications.QueueBacklog,
			EventSyncRecovered:   cfg.Notifications.SyncRecovered,
			EventTest:            true,
		},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, data Payload) error {
	if !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, data)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, data Payload) (payload, bool) {
	switch event {
	case EventRecordsRejected:
		count := intValue(data["count"])
		message := fmt.Sprintf("%d scan(s) rejected by the timing server", count)
		if checkpoint := stringValue(data["checkpoint"]); checkpoint != "" {
			message += " at " + checkpoint
		}
		if reason := stringValue(data["reason"]); reason != "" {
			message += "\nFirst reason: " + reason
		}
		return payload{
			title:    "Waypoint - Scans Rejected",
			message:  message,
			tags:     []string{"waypoint", "sync", "rejected"},
			priority: "high",
		}, true
	case EventQueueBacklog:
		pending := intValue(data["pending"])
		threshold := intValue(data["threshold"])
		return payload{
			title:   "Waypoint - Backlog Growing",
			message: fmt.Sprintf("%d scans waiting to sync (alert threshold %d)", pending, threshold),
			tags:    []string{"waypoint", "queue", "backlog"},
		}, true
	case EventSyncRecovered:
		return payload{
			title:   "Waypoint - Sync Recovered",
			message: fmt.Sprintf("Backlog drained: %d scans synced", intValue(data["synced"])),
			tags:    []string{"waypoint", "sync", "recovered"},
		}, true
	case EventTest:
		return payload{
			title:    "Waypoint - Test",
			message:  "Notification system test",
			tags:     []string{"waypoint", "test"},
			priority: "low",
		}, true
	default:
		return payload{}, false
	}
}

func intValue(v any) int {
	switch value := v.(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(value))
		return n
	default:
		return 0
	}
}

func stringValue(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(value)
	default:
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
