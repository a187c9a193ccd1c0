// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/rewired-gh/chodetect/internal/logger"
	"github.com/rewired-gh/chodetect/internal/models"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type updater interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// StatusFunc renders the pipeline status for the /status command.
type StatusFunc func() string

// Client handles Telegram notifications.
type Client struct {
	bot            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	limiter        *rate.Limiter
}

// NewClient creates a new Telegram client sending at most perMinute messages
// per minute.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration, perMinute int) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	return newClient(bot, chatIDInt, maxRetries, retryDelayBase, perMinute), nil
}

func newClient(bot sender, chatID int64, maxRetries int, retryDelayBase time.Duration, perMinute int) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	if perMinute <= 0 {
		perMinute = 20
	}

	return &Client{
		bot:            bot,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		limiter:        rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

// ListenForCommands answers bot commands until ctx is done. /ping replies
// Pong and /status replies with the output of status.
func (c *Client) ListenForCommands(ctx context.Context, status StatusFunc) {
	bot, ok := c.bot.(updater)
	if !ok {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message, status)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message, status StatusFunc) {
	var text string
	switch msg.Command() {
	case "ping":
		text = "Pong"
	case "status":
		if status == nil {
			return
		}
		text = status()
	default:
		return
	}
	if _, err := c.bot.Send(tgbotapi.NewMessage(msg.Chat.ID, text)); err != nil {
		logger.Warn("Failed to answer /%s: %v", msg.Command(), err)
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if i == c.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a pipeline error notification.
func (c *Client) SendError(ctx context.Context, pipelineErr error) error {
	text := fmt.Sprintf("⚠️ *Pipeline error*\n`%s`", escapeMarkdownV2(pipelineErr.Error()))
	return c.sendMarkdownV2(ctx, text)
}

// SendRecovery announces that persistence works again after failureCount
// consecutive failures.
func (c *Client) SendRecovery(ctx context.Context, failureCount int) error {
	text := fmt.Sprintf("✅ *Storage recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(ctx, text)
}

// SendReport sends the evaluation report of a stopped segment.
func (c *Client) SendReport(ctx context.Context, report models.Report) error {
	return c.sendMarkdownV2(ctx, formatReport(report))
}

// formatReport formats a segment report into a Telegram MarkdownV2 message.
func formatReport(r models.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 *Segment %d report*\n\n", r.Segment)

	if !r.HasData {
		b.WriteString("No reference events, nothing to score\\.\n")
		fmt.Fprintf(&b, "FP: %d\n", r.Stats.FalsePositiveConfirmed)
		return b.String()
	}

	confirmDelay := "n/a"
	if r.HasConfirmations {
		confirmDelay = fmt.Sprintf("%.1f min", r.MeanConfirmDelay)
	}

	fmt.Fprintf(&b, "🍽 CHO count: %d\n", r.Stats.Count)
	fmt.Fprintf(&b, "🎯 Detected: *%s* \\(%d\\), delay %s\n",
		escapeMarkdownV2(fmt.Sprintf("%.1f%%", r.DetectionAccuracy*100)),
		r.Stats.TruePositiveDetected,
		escapeMarkdownV2(fmt.Sprintf("%.1f min", r.MeanDelay)))
	fmt.Fprintf(&b, "✅ Confirmed: *%s* \\(%d\\), delay %s\n",
		escapeMarkdownV2(fmt.Sprintf("%.1f%%", r.ConfirmationAccuracy*100)),
		r.Stats.TruePositiveConfirmed,
		escapeMarkdownV2(confirmDelay))
	fmt.Fprintf(&b, "FN: %d, FP: %d\n", r.Stats.FalseNegative, r.Stats.FalsePositiveConfirmed)
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
