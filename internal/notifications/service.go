package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vidpilot/internal/config"
)

const userAgent = "vidpilot/0.1.0"

// Event names a notification kind.
type Event string

const (
	EventJobPublished   Event = "job_published"
	EventJobFailed      Event = "job_failed"
	EventJobRejected    Event = "job_rejected"
	EventQueueStarted   Event = "queue_started"
	EventQueueCompleted Event = "queue_completed"
	EventTest           Event = "test"
)

// Payload carries event fields. Keys are documented per event in format.
type Payload map[string]any

// Service defines the notification surface exposed to workflow components.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		published: cfg.Notifications.Published,
		failures:  cfg.Notifications.Failures,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
	click    string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	published bool
	failures  bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	switch event {
	case EventJobPublished:
		if !n.published {
			return nil
		}
	case EventJobFailed:
		if !n.failures {
			return nil
		}
	}
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventJobPublished:
		title := payloadString(payload, "title")
		url := payloadString(payload, "url")
		body := fmt.Sprintf("✅ Published: %s", title)
		if url != "" {
			body += "\n" + url
		}
		return message{
			title:    "vidpilot - Published",
			body:     body,
			tags:     []string{"vidpilot", "published"},
			priority: "high",
			click:    url,
		}, true
	case EventJobFailed:
		label := payloadString(payload, "source")
		if label == "" {
			label = payloadString(payload, "job_id")
		}
		var b strings.Builder
		b.WriteString("❌ ")
		b.WriteString(label)
		if stage := payloadString(payload, "stage"); stage != "" {
			b.WriteString(" failed at ")
			b.WriteString(stage)
		} else {
			b.WriteString(" failed")
		}
		if reason := payloadString(payload, "reason"); reason != "" {
			b.WriteString(": ")
			b.WriteString(reason)
		}
		return message{
			title:    "vidpilot - Failed",
			body:     b.String(),
			tags:     []string{"vidpilot", "error", "alert"},
			priority: "high",
		}, true
	case EventJobRejected:
		return message{
			title: "vidpilot - Rejected",
			body:  fmt.Sprintf("🚫 Rejected by %s: %s", payloadString(payload, "decided_by"), payloadString(payload, "title")),
			tags:  []string{"vidpilot", "rejected"},
		}, true
	case EventQueueStarted:
		return message{
			title: "vidpilot - Processing",
			body:  fmt.Sprintf("Processing %d video(s)", payloadInt(payload, "count")),
			tags:  []string{"vidpilot", "queue", "started"},
		}, true
	case EventQueueCompleted:
		duration := payloadDuration(payload, "duration").Round(time.Second)
		if duration < 0 {
			duration = 0
		}
		published, failed := payloadInt(payload, "published"), payloadInt(payload, "failed")
		title := "vidpilot - Queue Idle"
		body := fmt.Sprintf("%d published in %s", published, duration)
		if failed > 0 {
			title = "vidpilot - Queue Idle (with errors)"
			body = fmt.Sprintf("%d published, %d failed in %s", published, failed, duration)
		}
		return message{title: title, body: body, tags: []string{"vidpilot", "queue", "completed"}}, true
	case EventTest:
		return message{
			title:    "vidpilot - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"vidpilot", "test"},
			priority: "low",
		}, true
	}
	return message{}, false
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}
	if msg.click != "" {
		req.Header.Set("Click", msg.click)
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

func payloadString(p Payload, key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	case error:
		return strings.TrimSpace(v.Error())
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func payloadInt(p Payload, key string) int {
	if p == nil {
		return 0
	}
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

func payloadDuration(p Payload, key string) time.Duration {
	if p == nil {
		return 0
	}
	if v, ok := p[key].(time.Duration); ok {
		return v
	}
	return 0
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
