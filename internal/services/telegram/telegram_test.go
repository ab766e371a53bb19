package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"vidpilot/internal/approval"
	"vidpilot/internal/config"
	"vidpilot/internal/services"
)

type call struct {
	method string
	body   string
}

// fakeBot is a Bot API stand-in. getUpdates hands out queued batches and
// otherwise returns an empty list after a short pause.
type fakeBot struct {
	mu      sync.Mutex
	calls   []call
	batches [][]Update
	status  int
}

func (b *fakeBot) handler(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	body, _ := io.ReadAll(r.Body)
	b.mu.Lock()
	b.calls = append(b.calls, call{method: method, body: string(body)})
	status := b.status
	var batch []Update
	if method == "getUpdates" && len(b.batches) > 0 {
		batch, b.batches = b.batches[0], b.batches[1:]
	}
	b.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": status, "description": "nope"})
		return
	}
	var result any = map[string]any{"message_id": 7, "chat": map[string]any{"id": 42}}
	switch method {
	case "getUpdates":
		if batch == nil {
			time.Sleep(10 * time.Millisecond)
			batch = []Update{}
		}
		result = batch
	case "getMe":
		result = map[string]any{"id": 1, "username": "vidpilot_bot"}
	case "answerCallbackQuery", "editMessageReplyMarkup":
		result = true
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
}

func (b *fakeBot) methods(name string) []call {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []call
	for _, c := range b.calls {
		if c.method == name {
			out = append(out, c)
		}
	}
	return out
}

func newBot(t *testing.T) (*fakeBot, *config.Config, *Client) {
	t.Helper()
	bot := &fakeBot{}
	server := httptest.NewServer(http.HandlerFunc(bot.handler))
	t.Cleanup(server.Close)
	cfg := config.Default()
	cfg.Telegram.BotToken = "123:abc"
	cfg.Telegram.ChatID = "42"
	cfg.Telegram.APIBaseURL = server.URL
	cfg.Telegram.PollTimeoutSeconds = 1
	return bot, &cfg, NewClient(server.URL, cfg.Telegram.BotToken, time.Second, nil)
}

type fakeDecider struct {
	mu        sync.Mutex
	decisions []approval.Decision
	ids       []string
	result    approval.Result
	done      chan struct{}
}

func (d *fakeDecider) OnDecision(_ context.Context, jobID string, dec approval.Decision) (approval.Result, error) {
	d.mu.Lock()
	d.ids = append(d.ids, jobID)
	d.decisions = append(d.decisions, dec)
	d.mu.Unlock()
	res := d.result
	res.JobID = jobID
	if d.done != nil {
		d.done <- struct{}{}
	}
	return res, nil
}

func TestFormatRequestTruncatesDescriptionAndTags(t *testing.T) {
	req := approval.Request{
		ShortID:     "abc123",
		Title:       "Big Day",
		Description: strings.Repeat("x", 800),
		Tags:        []string{"a", "b", "c", "d", "e", "f", "g"},
		Privacy:     "unlisted",
	}
	text := FormatRequest(req)
	if strings.Contains(text, strings.Repeat("x", 500)) || !strings.Contains(text, strings.Repeat("x", 499)+"…") {
		t.Fatal("expected description truncated to 500 runes")
	}
	if !strings.Contains(text, "a, b, c, d, e\n") || strings.Contains(text, ", f") {
		t.Fatalf("expected first five tags only:\n%s", text)
	}
	if !strings.Contains(text, "ID: abc123") {
		t.Fatalf("expected short id in message:\n%s", text)
	}
}

func TestMessengerSendsPhotoWithButtons(t *testing.T) {
	bot, cfg, client := newBot(t)
	thumb := filepath.Join(t.TempDir(), "thumbnail.jpg")
	if err := os.WriteFile(thumb, []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	messenger := NewMessenger(cfg, client)
	if err := messenger.Send(context.Background(), approval.Request{ShortID: "abc123", Title: "T", ThumbnailPath: thumb}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	photos := bot.methods("sendPhoto")
	if len(photos) != 1 {
		t.Fatalf("expected one sendPhoto call, got %d", len(photos))
	}
	if !strings.Contains(photos[0].body, `approve:abc123`) || !strings.Contains(photos[0].body, `reject:abc123`) {
		t.Fatalf("expected inline buttons in form: %s", photos[0].body)
	}
}

func TestMessengerFallsBackToText(t *testing.T) {
	bot, cfg, client := newBot(t)
	if err := NewMessenger(cfg, client).Send(context.Background(), approval.Request{ShortID: "abc123", Title: "T", ThumbnailPath: "/missing.jpg"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got := bot.methods("sendMessage"); len(got) != 1 || !strings.Contains(got[0].body, `"chat_id":"42"`) {
		t.Fatalf("expected text message to chat 42, got %+v", got)
	}
}

func TestNewMessengerRequiresConfig(t *testing.T) {
	cfg := config.Default()
	if NewMessenger(&cfg, nil) != nil {
		t.Fatal("expected nil messenger without credentials")
	}
}

func TestClientClassifiesErrors(t *testing.T) {
	tests := []struct {
		status int
		marker error
	}{
		{http.StatusTooManyRequests, services.ErrRateLimited},
		{http.StatusUnauthorized, services.ErrConfiguration},
		{http.StatusBadGateway, services.ErrTransient},
		{http.StatusBadRequest, services.ErrValidation},
	}
	for _, tc := range tests {
		bot, _, client := newBot(t)
		bot.status = tc.status
		_, err := client.GetMe(context.Background())
		if !errors.Is(err, tc.marker) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.marker, err)
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Description != "nope" {
			t.Fatalf("status %d: expected APIError with description, got %v", tc.status, err)
		}
	}
}

func TestPollerForwardsCallbacksAndCommands(t *testing.T) {
	bot, cfg, client := newBot(t)
	bot.batches = [][]Update{{
		{UpdateID: 10, CallbackQuery: &CallbackQuery{
			ID: "q1", From: User{Username: "alex"}, Data: "approve:abc123",
			Message: &Message{MessageID: 5, Chat: Chat{ID: 42}},
		}},
		{UpdateID: 11, Message: &Message{Chat: Chat{ID: 99}, Text: "reject abc123"}},
		{UpdateID: 12, Message: &Message{Chat: Chat{ID: 42}, From: &User{First: "Sam"}, Text: "/edit abc123 title A better title"}},
	}}
	decider := &fakeDecider{result: approval.Result{Status: approval.StatusApplied}, done: make(chan struct{}, 4)}
	poller := NewPoller(cfg, client, decider, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- poller.Run(ctx) }()
	for range 2 {
		select {
		case <-decider.done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for decisions")
		}
	}
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run returned %v", err)
	}

	decider.mu.Lock()
	defer decider.mu.Unlock()
	if len(decider.decisions) != 2 {
		t.Fatalf("expected foreign chat ignored, got %+v", decider.decisions)
	}
	if d := decider.decisions[0]; d.Kind != approval.KindApprove || d.DecidedBy != "telegram:@alex" || decider.ids[0] != "abc123" {
		t.Fatalf("unexpected callback decision %+v", d)
	}
	if d := decider.decisions[1]; d.Kind != approval.KindEdit || d.Field != "title" || d.Value != "A better title" || d.DecidedBy != "telegram:Sam" {
		t.Fatalf("unexpected edit decision %+v", d)
	}
	if len(bot.methods("answerCallbackQuery")) != 1 || len(bot.methods("editMessageReplyMarkup")) != 1 {
		t.Fatal("expected callback answered and buttons cleared")
	}
	for _, c := range bot.methods("getUpdates")[1:] {
		if !strings.Contains(c.body, `"offset":13`) {
			t.Fatalf("expected offset advanced past handled updates: %s", c.body)
		}
	}
}

func TestPollerStopsOnRejectedToken(t *testing.T) {
	bot, cfg, client := newBot(t)
	bot.status = http.StatusUnauthorized
	err := NewPoller(cfg, client, &fakeDecider{}, nil).Run(context.Background())
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestPollerRetriesTransientFailures(t *testing.T) {
	bot, cfg, client := newBot(t)
	bot.status = http.StatusBadGateway
	poller := NewPoller(cfg, client, &fakeDecider{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	var waits []time.Duration
	poller.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		if len(waits) == 3 {
			cancel()
			return context.Canceled
		}
		return nil
	}
	if err := poller.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if len(waits) != 3 || waits[0] != time.Second || waits[1] != 2*time.Second || waits[2] != 4*time.Second {
		t.Fatalf("unexpected backoff sequence %v", waits)
	}
}
