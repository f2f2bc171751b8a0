// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/sitwatch/internal/models"
)

// maxSignalsPerMessage keeps messages under Telegram's length limit.
const maxSignalsPerMessage = 15

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Reporter answers bot commands with live engine state.
type Reporter interface {
	Categories() []models.CategoryStatus
	Hotspots() []models.Hotspot
}

// Playback switches between live and replayed state for /playback and /live.
type Playback interface {
	EnterPlayback(ctx context.Context, ts time.Time) error
	ExitPlayback(ctx context.Context) error
}

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	send           sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
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

	c := newClient(bot, chatIDInt, maxRetries, retryDelayBase)
	c.bot = bot
	return c, nil
}

func newClient(s sender, chatID int64, maxRetries int, retryDelayBase time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		send:           s,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

func (c *Client) Name() string { return "telegram" }

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled. playback may be nil.
func (c *Client) ListenForCommands(ctx context.Context, reporter Reporter, playback Playback) {
	if c.bot == nil {
		return
	}
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
					c.handleCommand(ctx, update.Message, reporter, playback)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(ctx context.Context, msg *tgbotapi.Message, reporter Reporter, playback Playback) {
	if msg.Command() == "ping" {
		c.send.Send(tgbotapi.NewMessage(msg.Chat.ID, "Pong")) //nolint:errcheck
		return
	}
	// everything past /ping is for the configured chat only
	if msg.Chat == nil || msg.Chat.ID != c.chatID {
		return
	}

	var text string
	switch msg.Command() {
	case "status":
		text = formatStatus(reporter.Categories())
	case "hotspots":
		text = formatHotspots(reporter.Hotspots())
	case "playback", "live":
		if playback == nil {
			return
		}
		text = runPlayback(ctx, playback, msg.Command(), msg.CommandArguments())
	default:
		return
	}
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ParseMode = "MarkdownV2"
	c.send.Send(reply) //nolint:errcheck
}

func runPlayback(ctx context.Context, playback Playback, command, args string) string {
	if command == "live" {
		if err := playback.ExitPlayback(ctx); err != nil {
			return escapeMarkdownV2("❌ " + err.Error())
		}
		return "▶️ *Live*"
	}

	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(args))
	if err != nil {
		return escapeMarkdownV2("Usage: /playback 2026-01-02T15:04:05Z")
	}
	if err := playback.EnterPlayback(ctx, ts); err != nil {
		return escapeMarkdownV2("❌ " + err.Error())
	}
	return escapeMarkdownV2("⏪ Playback at " + ts.UTC().Format(time.RFC3339))
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.send.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
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

// SendError sends a monitoring error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(ctx context.Context, cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Refresh error*\n`%s`", escapeCode(cycleErr.Error()))
	return c.sendMarkdownV2(ctx, text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(ctx context.Context, failureCount int) error {
	text := fmt.Sprintf("✅ *Refresh recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(ctx, text)
}

// NotifySignals sends one message listing signals, most confident first.
func (c *Client) NotifySignals(ctx context.Context, signals []models.Signal) error {
	if len(signals) == 0 {
		return nil
	}
	return c.sendMarkdownV2(ctx, formatSignals(signals))
}

func formatSignals(signals []models.Signal) string {
	sorted := append([]models.Signal(nil), signals...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })

	var b strings.Builder
	b.WriteString("🛰 *Correlation Signals*\n\n")
	b.WriteString(fmt.Sprintf("📅 Detected: %s\n\n",
		escapeMarkdownV2(sorted[0].CreatedAt.UTC().Format("2006-01-02 15:04:05"))))

	for i, s := range sorted {
		if i == maxSignalsPerMessage {
			b.WriteString(escapeMarkdownV2(fmt.Sprintf("… and %d more", len(sorted)-i)))
			b.WriteString("\n")
			break
		}
		b.WriteString(fmt.Sprintf("%d\\. %s *%s* %s\n",
			i+1, kindEmoji(s.Kind), escapeMarkdownV2(kindLabel(s.Kind)),
			escapeMarkdownV2(fmt.Sprintf("(%.0f%%)", s.Confidence*100))))
		b.WriteString("   ")
		b.WriteString(escapeMarkdownV2(s.Description))
		b.WriteString("\n")
		if len(s.RelatedMarketSymbols) > 0 {
			b.WriteString(fmt.Sprintf("   💹 %s\n", escapeMarkdownV2(strings.Join(s.RelatedMarketSymbols, ", "))))
		}
	}
	return b.String()
}

func formatStatus(categories []models.CategoryStatus) string {
	if len(categories) == 0 {
		return escapeMarkdownV2("No refresh has completed yet.")
	}
	var b strings.Builder
	b.WriteString("📊 *Category status*\n\n")
	for _, c := range categories {
		icon := "✅"
		switch c.Status {
		case models.StatusError:
			icon = "❌"
		case models.StatusDisabled:
			icon = "⏸"
		}
		line := fmt.Sprintf("%s: %d items", c.Name, c.Count)
		if c.Message != "" {
			line += " (" + c.Message + ")"
		}
		b.WriteString(icon + " " + escapeMarkdownV2(line) + "\n")
	}
	return b.String()
}

func formatHotspots(hotspots []models.Hotspot) string {
	var b strings.Builder
	b.WriteString("🗺 *Hotspots*\n\n")
	active := 0
	for _, h := range hotspots {
		if h.MatchedCount == 0 && h.Level == models.HotspotLow {
			continue
		}
		active++
		icon := "🟡"
		if h.Level == models.HotspotHigh {
			icon = "🔴"
		} else if h.Level == models.HotspotLow {
			icon = "🟢"
		}
		b.WriteString(fmt.Sprintf("%s *%s* %s\n", icon, escapeMarkdownV2(h.Name),
			escapeMarkdownV2(fmt.Sprintf("%s, %d matches, score %d", h.Status, h.MatchedCount, h.Score))))
	}
	if active == 0 {
		b.WriteString(escapeMarkdownV2("All quiet."))
	}
	return b.String()
}

func kindEmoji(k models.SignalKind) string {
	switch k {
	case models.SignalPredictionShift:
		return "🎯"
	case models.SignalMarketMove:
		return "📈"
	case models.SignalNewsVelocity:
		return "⚡"
	case models.SignalPredictionDivergence:
		return "❓"
	default:
		return "•"
	}
}

func kindLabel(k models.SignalKind) string {
	return strings.ReplaceAll(string(k), "_", " ")
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// escapeCode escapes text for a MarkdownV2 code span, where only ` and \ are special.
func escapeCode(text string) string {
	return strings.NewReplacer("\\", "\\\\", "`", "\\`").Replace(text)
}
