// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/seismo/internal/alert"
	"github.com/rewired-gh/seismo/internal/logger"
	"github.com/rewired-gh/seismo/internal/models"
)

// TopSource answers the /top command.
type TopSource interface {
	TopScores(ctx context.Context, window models.Window, limit int) ([]*models.Score, error)
	GetEvent(ctx context.Context, id string) (*models.Event, error)
}

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	top            TopSource
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newClient(bot, chatIDInt, maxRetries, retryDelayBase), nil
}

func newClient(bot *tgbotapi.BotAPI, chatID int64, maxRetries int, retryDelayBase time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		bot:            bot,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

// SetTopSource enables the /top command.
func (c *Client) SetTopSource(src TopSource) {
	c.top = src
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(ctx, update.Message)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	var text string
	switch msg.Command() {
	case "ping":
		c.bot.Send(tgbotapi.NewMessage(msg.Chat.ID, "Pong")) //nolint:errcheck
		return
	case "top":
		text = c.topReply(ctx, strings.TrimSpace(msg.CommandArguments()))
	default:
		return
	}
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ParseMode = "MarkdownV2"
	if _, err := c.bot.Send(reply); err != nil {
		logger.Warn("failed to answer /%s: %v", msg.Command(), err)
	}
}

func (c *Client) topReply(ctx context.Context, arg string) string {
	if c.top == nil {
		return escapeMarkdownV2("Scores are not available.")
	}
	window := models.Window24h
	if arg != "" {
		w, err := models.ParseWindow(arg)
		if err != nil {
			return escapeMarkdownV2("Usage: /top [1h|24h|7d|30d]")
		}
		window = w
	}
	scores, err := c.top.TopScores(ctx, window, 5)
	if err != nil {
		logger.Warn("top scores for %s: %v", window, err)
		return escapeMarkdownV2("Failed to load scores.")
	}
	titles := make(map[string]string, len(scores))
	for _, sc := range scores {
		if e, err := c.top.GetEvent(ctx, sc.EventID); err == nil {
			titles[sc.EventID] = e.Title
		}
	}
	return formatTop(window, scores, titles)
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a job failure notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(job string, jobErr error) error {
	text := fmt.Sprintf("⚠️ *Job %s failed*\n`%s`", escapeMarkdownV2(job), escapeMarkdownV2(jobErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(job string, failureCount int) error {
	text := fmt.Sprintf("✅ *Job %s recovered* after %d consecutive failure\\(s\\)", escapeMarkdownV2(job), failureCount)
	return c.sendMarkdownV2(text)
}

// SendAlerts sends a notification with the selected scores.
func (c *Client) SendAlerts(alerts []alert.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	return c.sendMarkdownV2(formatAlerts(alerts))
}

// formatAlerts formats alerts into a Telegram MarkdownV2 message.
func formatAlerts(alerts []alert.Alert) string {
	var b strings.Builder
	sc := alerts[0].Score
	fmt.Fprintf(&b, "🚨 *Intense Odds Movements* \\(%s\\)\n\n", escapeMarkdownV2(string(sc.Window)))
	dateStr := escapeMarkdownV2(sc.ComputedAt.UTC().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "📅 Computed: %s UTC\n\n", dateStr)

	for i, al := range alerts {
		titleLink := escapeMarkdownV2(al.EventTitle)
		if url := al.URL(); url != "" {
			titleLink = fmt.Sprintf("[%s](%s)", titleLink, url)
		}
		scoreStr := escapeMarkdownV2(fmt.Sprintf("%.1f", al.Score.Value))
		fmt.Fprintf(&b, "%d\\. %s  *%s*/10\n", i+1, titleLink, scoreStr)

		if al.TopQuestion != "" && al.TopQuestion != al.EventTitle {
			fmt.Fprintf(&b, "   🎯 %s\n", escapeMarkdownV2(al.TopQuestion))
		}

		directionEmoji := "📈"
		if al.Direction() == "decrease" {
			directionEmoji = "📉"
		}
		deltaStr := escapeMarkdownV2(fmt.Sprintf("%+.1fpp", (al.Score.TopCurrPrice-al.Score.TopPrevPrice)*100))
		oldPctStr := escapeMarkdownV2(fmt.Sprintf("%.1f%%", al.Score.TopPrevPrice*100))
		newPctStr := escapeMarkdownV2(fmt.Sprintf("%.1f%%", al.Score.TopCurrPrice*100))
		fmt.Fprintf(&b, "   %s *%s* \\(%s → %s\\)\n\n", directionEmoji, deltaStr, oldPctStr, newPctStr)
	}
	return b.String()
}

// formatTop formats the /top reply.
func formatTop(window models.Window, scores []*models.Score, titles map[string]string) string {
	if len(scores) == 0 {
		return escapeMarkdownV2(fmt.Sprintf("No scores for %s yet.", window))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📊 *Top events* \\(%s\\)\n", escapeMarkdownV2(string(window)))
	for i, sc := range scores {
		title := titles[sc.EventID]
		if title == "" {
			title = sc.EventID
		}
		fmt.Fprintf(&b, "%d\\. %s  *%s*\n", i+1, escapeMarkdownV2(title), escapeMarkdownV2(fmt.Sprintf("%.1f", sc.Value)))
	}
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
