package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/sitwatch/internal/models"
)

type fakeSender struct {
	failures int
	sent     []tgbotapi.MessageConfig
	calls    int
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.calls++
	if f.calls <= f.failures {
		return tgbotapi.Message{}, errors.New("429 too many requests")
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello World"},
		{"Hello_World", "Hello\\_World"},
		{"Test*bold*", "Test\\*bold\\*"},
		{"Price: $100.50", "Price: $100\\.50"},
		{"[link](url)", "\\[link\\]\\(url\\)"},
		{"~strikethrough~", "\\~strikethrough\\~"},
		{"`code`", "\\`code\\`"},
		{">blockquote", "\\>blockquote"},
		{"#header", "\\#header"},
		{"+plus-minus", "\\+plus\\-minus"},
		{"=equal|pipe", "\\=equal\\|pipe"},
		{"{brace}", "\\{brace\\}"},
		{"end!", "end\\!"},
		{"", ""},
		{"_*[]()~`>#+-=|{}.!", "\\_\\*\\[\\]\\(\\)\\~\\`\\>\\#\\+\\-\\=\\|\\{\\}\\.\\!"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := escapeMarkdownV2(tt.input)
			if result != tt.expected {
				t.Errorf("escapeMarkdownV2(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNewClient_InvalidChatID(t *testing.T) {
	_, err := NewClient("", "not-a-number", 3, time.Second)
	if err == nil {
		t.Error("Expected error for invalid chat ID, got nil")
	}
}

func TestNotifySignals_OrdersByConfidence(t *testing.T) {
	fake := &fakeSender{}
	c := newClient(fake, 42, 1, time.Millisecond)
	at := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	signals := []models.Signal{
		{Kind: models.SignalNewsVelocity, Confidence: 0.3, Description: "Kyiv coverage surging", CreatedAt: at},
		{Kind: models.SignalMarketMove, Confidence: 0.9, Description: "CL=F +3.5%", RelatedMarketSymbols: []string{"CL=F"}, CreatedAt: at},
	}

	if err := c.NotifySignals(context.Background(), signals); err != nil {
		t.Fatalf("NotifySignals: %v", err)
	}
	if len(fake.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(fake.sent))
	}
	msg := fake.sent[0]
	if msg.ChatID != 42 || msg.ParseMode != "MarkdownV2" {
		t.Errorf("chat/parse mode = %d/%q", msg.ChatID, msg.ParseMode)
	}
	move := strings.Index(msg.Text, "market move")
	velocity := strings.Index(msg.Text, "news velocity")
	if move < 0 || velocity < 0 || move > velocity {
		t.Errorf("signals not ordered by confidence:\n%s", msg.Text)
	}
	if !strings.Contains(msg.Text, "CL\\=F \\+3\\.5%") {
		t.Errorf("description not escaped:\n%s", msg.Text)
	}
}

func TestNotifySignals_EmptyIsNoop(t *testing.T) {
	fake := &fakeSender{}
	if err := newClient(fake, 1, 1, time.Millisecond).NotifySignals(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if fake.calls != 0 {
		t.Error("empty signal list should not send")
	}
}

func TestSendMarkdownV2_Retries(t *testing.T) {
	fake := &fakeSender{failures: 2}
	c := newClient(fake, 1, 3, time.Millisecond)
	if err := c.SendRecovery(context.Background(), 4); err != nil {
		t.Fatalf("SendRecovery: %v", err)
	}
	if fake.calls != 3 {
		t.Errorf("calls = %d, want 3", fake.calls)
	}

	fake = &fakeSender{failures: 5}
	c = newClient(fake, 1, 2, time.Millisecond)
	if err := c.SendError(context.Background(), errors.New("feeds down")); err == nil {
		t.Error("expected error after exhausting retries")
	}
	if fake.calls != 2 {
		t.Errorf("calls = %d, want 2", fake.calls)
	}
}

func TestSendMarkdownV2_StopsOnCancel(t *testing.T) {
	fake := &fakeSender{failures: 10}
	c := newClient(fake, 1, 5, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.SendError(ctx, errors.New("x")); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestFormatSignals_Truncates(t *testing.T) {
	var signals []models.Signal
	for i := 0; i < maxSignalsPerMessage+3; i++ {
		signals = append(signals, models.Signal{Kind: models.SignalMarketMove, Description: "move"})
	}
	text := formatSignals(signals)
	if !strings.Contains(text, "and 3 more") {
		t.Errorf("missing truncation note:\n%s", text)
	}
}

func TestFormatStatusAndHotspots(t *testing.T) {
	status := formatStatus([]models.CategoryStatus{
		{Name: "news:politics", Status: models.StatusOK, Count: 12},
		{Name: "markets", Status: models.StatusError, Message: "timeout"},
	})
	if !strings.Contains(status, "✅ news:politics: 12 items") || !strings.Contains(status, "❌ markets: 0 items \\(timeout\\)") {
		t.Errorf("status text:\n%s", status)
	}

	hs := formatHotspots([]models.Hotspot{
		{Name: "Gaza", Level: models.HotspotHigh, Status: "BREAKING NEWS", MatchedCount: 3, Score: 18},
		{Name: "Kashmir", Level: models.HotspotLow, Status: "Monitoring"},
	})
	if !strings.Contains(hs, "🔴 *Gaza*") || strings.Contains(hs, "Kashmir") {
		t.Errorf("hotspot text:\n%s", hs)
	}
	if quiet := formatHotspots(nil); !strings.Contains(quiet, "All quiet") {
		t.Errorf("empty hotspots:\n%s", quiet)
	}
}

type fakePlayback struct {
	entered time.Time
	exited  bool
	err     error
}

func (f *fakePlayback) EnterPlayback(ctx context.Context, ts time.Time) error {
	f.entered = ts
	return f.err
}

func (f *fakePlayback) ExitPlayback(ctx context.Context) error {
	f.exited = true
	return f.err
}

func TestRunPlayback(t *testing.T) {
	ctx := context.Background()

	pb := &fakePlayback{}
	text := runPlayback(ctx, pb, "playback", " 2026-10-15T12:00:00Z ")
	if want := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC); !pb.entered.Equal(want) {
		t.Errorf("entered at %v, want %v", pb.entered, want)
	}
	if !strings.Contains(text, "Playback at 2026\\-10\\-15T12:00:00Z") {
		t.Errorf("reply = %q", text)
	}

	if text := runPlayback(ctx, &fakePlayback{}, "playback", "yesterday"); !strings.Contains(text, "Usage") {
		t.Errorf("bad timestamp reply = %q", text)
	}

	failing := &fakePlayback{err: errors.New("snapshot not found")}
	if text := runPlayback(ctx, failing, "playback", "2026-10-15T12:00:00Z"); !strings.Contains(text, "snapshot not found") {
		t.Errorf("error reply = %q", text)
	}

	pb = &fakePlayback{}
	if text := runPlayback(ctx, pb, "live", ""); !pb.exited || !strings.Contains(text, "Live") {
		t.Errorf("live reply = %q, exited = %v", text, pb.exited)
	}
}

func commandMessage(chatID int64, text string) *tgbotapi.Message {
	cmd, _, _ := strings.Cut(text, " ")
	return &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: chatID},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}
}

type fakeReporter struct{}

func (fakeReporter) Categories() []models.CategoryStatus { return nil }
func (fakeReporter) Hotspots() []models.Hotspot          { return nil }

func TestHandleCommand_OnlyConfiguredChat(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{}
	c := newClient(sender, 1001, 1, time.Millisecond)

	tests := []struct {
		name      string
		chatID    int64
		text      string
		wantReply bool
		wantEnter bool
	}{
		{"foreign playback", 666, "/playback 2026-01-02T15:04:05Z", false, false},
		{"foreign live", 666, "/live", false, false},
		{"foreign status", 666, "/status", false, false},
		{"foreign hotspots", 666, "/hotspots", false, false},
		{"foreign ping", 666, "/ping", true, false},
		{"own playback", 1001, "/playback 2026-01-02T15:04:05Z", true, true},
		{"own status", 1001, "/status", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender.sent = nil
			pb := &fakePlayback{}
			c.handleCommand(ctx, commandMessage(tt.chatID, tt.text), fakeReporter{}, pb)

			if got := len(sender.sent) > 0; got != tt.wantReply {
				t.Errorf("replied = %v, want %v", got, tt.wantReply)
			}
			if got := !pb.entered.IsZero(); got != tt.wantEnter {
				t.Errorf("entered playback = %v, want %v", got, tt.wantEnter)
			}
			if pb.exited {
				t.Error("foreign /live exited playback")
			}
		})
	}
}

func TestSendError_CodeSpanEscaping(t *testing.T) {
	sender := &fakeSender{}
	c := newClient(sender, 1001, 1, time.Millisecond)

	err := c.SendError(context.Background(), errors.New("fetch news.world: status 503 (retry-after `5`) at C:\\feeds"))
	if err != nil {
		t.Fatalf("SendError: %v", err)
	}
	got := sender.sent[0].Text
	want := "`fetch news.world: status 503 (retry-after \\`5\\`) at C:\\\\feeds`"
	if !strings.Contains(got, want) {
		t.Errorf("SendError text = %q, want it to contain %q", got, want)
	}
}
