package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"vidpilot/internal/approval"
	"vidpilot/internal/config"
	"vidpilot/internal/logging"
	"vidpilot/internal/services"
	"vidpilot/internal/textutil"
)

const (
	minPollBackoff = time.Second
	maxPollBackoff = time.Minute
)

const helpText = `vidpilot approval bot
approve <id>  publish the video
reject <id>   discard it
edit <id> <title|description|tags|privacy> <value>  change a field and re-review`

// Decider receives reviewer decisions. approval.Gateway implements it.
type Decider interface {
	OnDecision(ctx context.Context, jobID string, d approval.Decision) (approval.Result, error)
}

// Poller long-polls the Bot API and forwards decisions.
type Poller struct {
	client  *Client
	decider Decider
	chatID  string
	timeout time.Duration
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewPoller builds a poller for the configured chat.
func NewPoller(cfg *config.Config, client *Client, decider Decider, logger *slog.Logger) *Poller {
	timeout := time.Duration(cfg.Telegram.PollTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Poller{
		client:  client,
		decider: decider,
		chatID:  strings.TrimSpace(cfg.Telegram.ChatID),
		timeout: timeout,
		logger:  logging.NewComponentLogger(logger, "telegram"),
		sleep:   sleepContext,
	}
}

// Run polls until ctx is cancelled. It returns an error only when the bot
// credentials are rejected, since retrying cannot fix that.
func (p *Poller) Run(ctx context.Context) error {
	var offset int64
	backoff := minPollBackoff
	p.logger.Info("telegram poller started",
		logging.String(logging.FieldEventType, "telegram_poller_started"),
		logging.Duration("poll_timeout", p.timeout),
	)
	for {
		if ctx.Err() != nil {
			return nil
		}
		updates, err := p.client.GetUpdates(ctx, offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, services.ErrConfiguration) {
				logging.ErrorWithContext(p.logger, "telegram poller stopped", "telegram_poller_failed",
					logging.String(logging.FieldImpact, "approvals must be given with the CLI or API"),
					logging.String(logging.FieldErrorHint, "check telegram.bot_token"),
					logging.Error(err),
				)
				return err
			}
			wait := backoff
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.RetryAfter > wait {
				wait = apiErr.RetryAfter
			}
			logging.WarnWithContext(p.logger, "telegram poll failed", "telegram_poll_failed",
				logging.String(logging.FieldImpact, "decisions are delayed until the bot api recovers"),
				logging.Duration("retry_in", wait),
				logging.Error(err),
			)
			if p.sleep(ctx, wait) != nil {
				return nil
			}
			backoff = min(backoff*2, maxPollBackoff)
			continue
		}
		backoff = minPollBackoff
		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			p.handle(ctx, update)
		}
	}
}

func (p *Poller) handle(ctx context.Context, update Update) {
	ctx = services.WithRequestID(ctx, uuid.NewString())
	switch {
	case update.CallbackQuery != nil:
		p.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		p.handleMessage(ctx, update.Message)
	}
}

func (p *Poller) handleCallback(ctx context.Context, query *CallbackQuery) {
	if query.Message == nil || !p.allowedChat(query.Message.Chat.ID) {
		return
	}
	by := reviewer(&query.From)
	var (
		jobID    string
		decision approval.Decision
	)
	switch {
	case strings.HasPrefix(query.Data, callbackApprove):
		jobID, decision = strings.TrimPrefix(query.Data, callbackApprove), approval.Approve(by)
	case strings.HasPrefix(query.Data, callbackReject):
		jobID, decision = strings.TrimPrefix(query.Data, callbackReject), approval.Reject(by)
	default:
		_ = p.client.AnswerCallbackQuery(ctx, query.ID, "Unknown action")
		return
	}

	result, err := p.decider.OnDecision(services.WithJobID(ctx, jobID), jobID, decision)
	if err != nil {
		p.logger.Warn("decision could not be applied", logging.Job(jobID), logging.Error(err))
		_ = p.client.AnswerCallbackQuery(ctx, query.ID, "Failed, try again")
		return
	}
	if err := p.client.AnswerCallbackQuery(ctx, query.ID, describe(decision, result)); err != nil {
		p.logger.Debug("callback answer failed", logging.Error(err))
	}
	if result.Status == approval.StatusApplied || result.Status == approval.StatusNotPending {
		if err := p.client.ClearReplyMarkup(ctx, query.Message.Chat.ID, query.Message.MessageID); err != nil {
			p.logger.Debug("clearing buttons failed", logging.Error(err))
		}
	}
}

func (p *Poller) handleMessage(ctx context.Context, msg *Message) {
	if !p.allowedChat(msg.Chat.ID) {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	chat := strconv.FormatInt(msg.Chat.ID, 10)
	verb := strings.ToLower(strings.TrimPrefix(strings.Fields(text)[0], "/"))
	if verb == "start" || verb == "help" {
		p.reply(ctx, chat, helpText)
		return
	}

	jobID, decision, err := approval.ParseCommand(text, reviewer(msg.From))
	if err != nil {
		p.reply(ctx, chat, err.Error())
		return
	}
	result, err := p.decider.OnDecision(services.WithJobID(ctx, jobID), jobID, decision)
	if err != nil {
		p.logger.Warn("decision could not be applied", logging.Job(jobID), logging.Error(err))
		p.reply(ctx, chat, "Failed to apply decision, try again")
		return
	}
	// Applied edits are followed by a fresh request message from the gateway.
	if decision.Kind == approval.KindEdit && result.Applied() {
		return
	}
	p.reply(ctx, chat, describe(decision, result))
}

func (p *Poller) reply(ctx context.Context, chat, text string) {
	if _, err := p.client.SendMessage(ctx, chat, text, nil); err != nil {
		p.logger.Debug("telegram reply failed", logging.Error(err))
	}
}

// allowedChat reports whether chatID is the configured chat. Channel
// usernames cannot be compared against numeric ids and are accepted.
func (p *Poller) allowedChat(chatID int64) bool {
	configured, err := strconv.ParseInt(p.chatID, 10, 64)
	if err != nil {
		return true
	}
	return configured == chatID
}

func describe(d approval.Decision, r approval.Result) string {
	short := textutil.ShortID(r.JobID, approval.ShortIDLength)
	switch r.Status {
	case approval.StatusApplied:
		switch d.Kind {
		case approval.KindApprove:
			return fmt.Sprintf("✅ Approved %s, uploading", short)
		case approval.KindReject:
			return fmt.Sprintf("❌ Rejected %s", short)
		default:
			return fmt.Sprintf("✏️ Updated %s %s", short, d.Field)
		}
	case approval.StatusUnknownJob:
		return fmt.Sprintf("Unknown job %s", short)
	case approval.StatusNotPending:
		return fmt.Sprintf("%s is no longer awaiting approval (%s)", short, r.State)
	default:
		return strings.TrimSpace("Not applied: " + r.Message)
	}
}

func reviewer(user *User) string {
	if user == nil {
		return "telegram"
	}
	if user.Username != "" {
		return "telegram:@" + user.Username
	}
	if user.First != "" {
		return "telegram:" + user.First
	}
	return "telegram:" + strconv.FormatInt(user.ID, 10)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
