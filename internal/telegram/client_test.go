package telegram

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/seismo/internal/alert"
	"github.com/rewired-gh/seismo/internal/models"
)

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

func testAlerts() []alert.Alert {
	computed := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	return []alert.Alert{
		{
			Score: &models.Score{
				EventID: "e1", Window: models.Window1h, ComputedAt: computed, Value: 8.4,
				TopMarketID: "m1", TopPrevPrice: 0.45, TopCurrPrice: 0.60,
			},
			EventTitle:  "Fed decision",
			EventSlug:   "fed-decision",
			TopQuestion: "Will the Fed cut rates?",
		},
		{
			Score: &models.Score{
				EventID: "e2", Window: models.Window1h, ComputedAt: computed, Value: 7.1,
				TopMarketID: "m2", TopPrevPrice: 0.80, TopCurrPrice: 0.70,
			},
			EventTitle:  "Election",
			TopQuestion: "Election",
		},
	}
}

func TestFormatAlerts(t *testing.T) {
	msg := formatAlerts(testAlerts())

	for _, want := range []string{
		"🚨 *Intense Odds Movements* \\(1h\\)",
		"📅 Computed: 2026\\-03\\-10 12:00:00 UTC",
		"1\\. [Fed decision](https://polymarket.com/event/fed-decision)  *8\\.4*/10",
		"🎯 Will the Fed cut rates?",
		"📈 *\\+15\\.0pp* \\(45\\.0% → 60\\.0%\\)",
		"2\\. Election  *7\\.1*/10",
		"📉 *\\-10\\.0pp* \\(80\\.0% → 70\\.0%\\)",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
	if strings.Count(msg, "🎯") != 1 {
		t.Error("question equal to the event title should not be repeated")
	}
}

func TestFormatTop(t *testing.T) {
	scores := []*models.Score{{EventID: "e1", Value: 9.2}, {EventID: "e2", Value: 3}}
	msg := formatTop(models.Window24h, scores, map[string]string{"e1": "Fed decision"})
	for _, want := range []string{"📊 *Top events* \\(24h\\)", "1\\. Fed decision  *9\\.2*", "2\\. e2  *3\\.0*"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
	if got := formatTop(models.Window7d, nil, nil); got != "No scores for 7d yet\\." {
		t.Errorf("empty reply = %q", got)
	}
}

type fakeAPI struct {
	mu       sync.Mutex
	failures int
	texts    []string
	modes    []string
}

func (f *fakeAPI) handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"seismo","username":"seismo_bot"}}`))
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		_ = r.ParseForm()
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failures > 0 {
			f.failures--
			_, _ = w.Write([]byte(`{"ok":false,"error_code":500,"description":"Internal Server Error"}`))
			return
		}
		f.texts = append(f.texts, r.PostForm.Get("text"))
		f.modes = append(f.modes, r.PostForm.Get("parse_mode"))
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`))
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, api *fakeAPI, maxRetries int) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(api.handler))
	t.Cleanup(srv.Close)
	bot, err := tgbotapi.NewBotAPIWithClient("token", srv.URL+"/bot%s/%s", srv.Client())
	if err != nil {
		t.Fatalf("NewBotAPIWithClient: %v", err)
	}
	return newClient(bot, 42, maxRetries, time.Millisecond)
}

func TestSendAlertsAndNotices(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api, 3)

	if err := c.SendAlerts(testAlerts()); err != nil {
		t.Fatalf("SendAlerts: %v", err)
	}
	if err := c.SendAlerts(nil); err != nil {
		t.Fatalf("SendAlerts(nil): %v", err)
	}
	if err := c.SendError("scores-1h", errTest("db locked")); err != nil {
		t.Fatalf("SendError: %v", err)
	}
	if err := c.SendRecovery("scores-1h", 3); err != nil {
		t.Fatalf("SendRecovery: %v", err)
	}

	if len(api.texts) != 3 {
		t.Fatalf("messages = %d, want 3 (empty alert batch sends nothing)", len(api.texts))
	}
	if api.modes[0] != "MarkdownV2" {
		t.Errorf("parse mode = %q", api.modes[0])
	}
	if !strings.Contains(api.texts[1], "*Job scores\\-1h failed*") || !strings.Contains(api.texts[1], "`db locked`") {
		t.Errorf("error notice = %q", api.texts[1])
	}
	if !strings.Contains(api.texts[2], "after 3 consecutive failure\\(s\\)") {
		t.Errorf("recovery notice = %q", api.texts[2])
	}
}

func TestSend_RetriesThenFails(t *testing.T) {
	api := &fakeAPI{failures: 1}
	c := newTestClient(t, api, 2)
	if err := c.SendRecovery("catalog", 1); err != nil {
		t.Fatalf("expected the retry to succeed: %v", err)
	}

	api.failures = 5
	if err := c.SendRecovery("catalog", 1); err == nil {
		t.Error("expected error after exhausting retries")
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }
