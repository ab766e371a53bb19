package telegram

import (
	"context"
	"fmt"
	"os"
	"strings"

	"vidpilot/internal/approval"
	"vidpilot/internal/config"
	"vidpilot/internal/textutil"
)

const (
	maxDescriptionRunes = 500
	maxTags             = 5
	maxCaptionRunes     = 1024
	maxMessageRunes     = 4096
)

// Callback data prefixes for the inline buttons.
const (
	callbackApprove = "approve:"
	callbackReject  = "reject:"
)

// Messenger implements approval.Messenger over the Bot API.
type Messenger struct {
	client *Client
	chatID string
}

// NewMessenger builds a messenger for the configured chat. It returns nil
// when Telegram is not configured.
func NewMessenger(cfg *config.Config, client *Client) *Messenger {
	if !cfg.TelegramEnabled() {
		return nil
	}
	return &Messenger{client: client, chatID: strings.TrimSpace(cfg.Telegram.ChatID)}
}

// Send delivers the approval request as a photo when a thumbnail exists and
// as a text message otherwise.
func (m *Messenger) Send(ctx context.Context, req approval.Request) error {
	markup := decisionKeyboard(req.ShortID)
	if req.ThumbnailPath != "" {
		if _, err := os.Stat(req.ThumbnailPath); err == nil {
			caption := textutil.Truncate(FormatRequest(req), maxCaptionRunes)
			_, err := m.client.SendPhoto(ctx, m.chatID, req.ThumbnailPath, caption, markup)
			return err
		}
	}
	_, err := m.client.SendMessage(ctx, m.chatID, textutil.Truncate(FormatRequest(req), maxMessageRunes), markup)
	return err
}

// Notify sends a plain text message to the configured chat.
func (m *Messenger) Notify(ctx context.Context, text string) error {
	_, err := m.client.SendMessage(ctx, m.chatID, textutil.Truncate(text, maxMessageRunes), nil)
	return err
}

// FormatRequest renders the review message for req.
func FormatRequest(req approval.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎬 %s\n", req.Title)
	if req.SourceName != "" {
		fmt.Fprintf(&b, "📁 %s\n", req.SourceName)
	}
	if desc := strings.TrimSpace(req.Description); desc != "" {
		fmt.Fprintf(&b, "\n%s\n", textutil.Truncate(desc, maxDescriptionRunes))
	}
	if len(req.Tags) > 0 {
		tags := req.Tags
		if len(tags) > maxTags {
			tags = tags[:maxTags]
		}
		fmt.Fprintf(&b, "\n🏷 %s\n", strings.Join(tags, ", "))
	}
	if req.Privacy != "" {
		fmt.Fprintf(&b, "🔒 %s\n", req.Privacy)
	}
	if req.Revision > 1 {
		fmt.Fprintf(&b, "✏️ revision %d\n", req.Revision)
	}
	fmt.Fprintf(&b, "\nID: %s\nReply \"edit %s <title|description|tags|privacy> <value>\" to change a field.",
		req.ShortID, req.ShortID)
	return b.String()
}

func decisionKeyboard(shortID string) *InlineKeyboardMarkup {
	return &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{{
		{Text: "✅ Approve", CallbackData: callbackApprove + shortID},
		{Text: "❌ Reject", CallbackData: callbackReject + shortID},
	}}}
}
