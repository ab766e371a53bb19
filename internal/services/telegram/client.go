package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vidpilot/internal/services"
)

const userAgent = "vidpilot/0.1.0"

// HTTPDoer describes the HTTP client used by the bot client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a minimal Bot API client covering the methods vidpilot uses.
type Client struct {
	baseURL string
	token   string
	http    HTTPDoer
}

// NewClient constructs a client. pollTimeout bounds getUpdates long polls;
// the HTTP timeout leaves headroom above it.
func NewClient(baseURL, token string, pollTimeout time.Duration, doer HTTPDoer) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: pollTimeout + 15*time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		http:    doer,
	}
}

// InlineKeyboardButton is a button under a message.
type InlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// InlineKeyboardMarkup is the reply_markup for inline buttons.
type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

// User is a Telegram account.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	First    string `json:"first_name"`
}

// Chat is the conversation a message belongs to.
type Chat struct {
	ID int64 `json:"id"`
}

// Message is an inbound or sent message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

// CallbackQuery is an inline button press.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message"`
	Data    string   `json:"data"`
}

// Update is one getUpdates entry.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message"`
	CallbackQuery *CallbackQuery `json:"callback_query"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// APIError is a Bot API failure.
type APIError struct {
	Method      string
	StatusCode  int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("telegram %s returned %d", e.Method, e.StatusCode)
	if e.Description != "" {
		msg += ": " + e.Description
	}
	return msg
}

// GetMe returns the bot account.
func (c *Client) GetMe(ctx context.Context) (User, error) {
	var user User
	err := c.callJSON(ctx, "getMe", nil, &user)
	return user, err
}

// SendMessage posts a text message.
func (c *Client) SendMessage(ctx context.Context, chatID, text string, markup *InlineKeyboardMarkup) (Message, error) {
	params := map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	}
	if markup != nil {
		params["reply_markup"] = markup
	}
	var msg Message
	err := c.callJSON(ctx, "sendMessage", params, &msg)
	return msg, err
}

// SendPhoto uploads a local image with a caption.
func (c *Client) SendPhoto(ctx context.Context, chatID, photoPath, caption string, markup *InlineKeyboardMarkup) (Message, error) {
	file, err := os.Open(photoPath)
	if err != nil {
		return Message{}, services.Wrap(services.ErrValidation, "telegram", "open photo", photoPath, err)
	}
	defer file.Close()

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	_ = form.WriteField("chat_id", chatID)
	_ = form.WriteField("caption", caption)
	if markup != nil {
		encoded, err := json.Marshal(markup)
		if err != nil {
			return Message{}, fmt.Errorf("encode reply markup: %w", err)
		}
		_ = form.WriteField("reply_markup", string(encoded))
	}
	part, err := form.CreateFormFile("photo", filepath.Base(photoPath))
	if err != nil {
		return Message{}, fmt.Errorf("build photo form: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return Message{}, fmt.Errorf("read photo: %w", err)
	}
	if err := form.Close(); err != nil {
		return Message{}, fmt.Errorf("finish photo form: %w", err)
	}
	var msg Message
	err = c.call(ctx, "sendPhoto", form.FormDataContentType(), &body, &msg)
	return msg, err
}

// AnswerCallbackQuery acknowledges a button press with a short toast.
func (c *Client) AnswerCallbackQuery(ctx context.Context, queryID, text string) error {
	return c.callJSON(ctx, "answerCallbackQuery", map[string]any{
		"callback_query_id": queryID,
		"text":              text,
	}, nil)
}

// ClearReplyMarkup removes the inline buttons from a message.
func (c *Client) ClearReplyMarkup(ctx context.Context, chatID int64, messageID int64) error {
	return c.callJSON(ctx, "editMessageReplyMarkup", map[string]any{
		"chat_id":      chatID,
		"message_id":   messageID,
		"reply_markup": InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{}},
	}, nil)
}

// GetUpdates long-polls for updates after offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	var updates []Update
	err := c.callJSON(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         int(timeout / time.Second),
		"allowed_updates": []string{"message", "callback_query"},
	}, &updates)
	return updates, err
}

func (c *Client) callJSON(ctx context.Context, method string, params any, out any) error {
	var body io.Reader
	contentType := ""
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode %s params: %w", method, err)
		}
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	}
	return c.call(ctx, method, contentType, body, out)
}

func (c *Client) call(ctx context.Context, method, contentType string, body io.Reader, out any) error {
	if c.token == "" {
		return services.Wrap(services.ErrConfiguration, "telegram", method, "bot token not configured", nil)
	}
	httpMethod := http.MethodGet
	if body != nil {
		httpMethod = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, httpMethod, c.baseURL+"/bot"+c.token+"/"+method, body)
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return services.Wrap(services.ErrTransient, "telegram", method, "bot api unreachable", err)
		}
		return services.Wrap(services.ErrTransient, "telegram", method, "request failed", err)
	}
	defer resp.Body.Close()

	var decoded apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&decoded); err != nil {
		if resp.StatusCode >= http.StatusInternalServerError {
			return services.Wrap(services.ErrTransient, "telegram", method, fmt.Sprintf("http %d", resp.StatusCode), err)
		}
		return services.Wrap(services.ErrTransient, "telegram", method, "unexpected response", err)
	}
	if resp.StatusCode != http.StatusOK || !decoded.OK {
		return classify(method, resp.StatusCode, decoded)
	}
	if out != nil && len(decoded.Result) > 0 {
		if err := json.Unmarshal(decoded.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

func classify(method string, status int, decoded apiResponse) error {
	code := decoded.ErrorCode
	if code == 0 {
		code = status
	}
	apiErr := &APIError{
		Method:      method,
		StatusCode:  code,
		Description: decoded.Description,
		RetryAfter:  time.Duration(decoded.Parameters.RetryAfter) * time.Second,
	}
	switch {
	case code == http.StatusTooManyRequests:
		return services.Wrap(services.ErrRateLimited, "telegram", method, "bot api rate limited", apiErr)
	case code == http.StatusUnauthorized || code == http.StatusNotFound:
		return services.Wrap(services.ErrConfiguration, "telegram", method, "invalid bot token", apiErr)
	case code == http.StatusForbidden:
		return services.Wrap(services.ErrConfiguration, "telegram", method, "bot cannot post to chat", apiErr)
	case code >= http.StatusInternalServerError:
		return services.Wrap(services.ErrTransient, "telegram", method, "bot api unavailable", apiErr)
	default:
		return services.Wrap(services.ErrValidation, "telegram", method, "request rejected", apiErr)
	}
}
