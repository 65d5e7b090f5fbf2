package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lunch-menu-bot/internal/config"
	"lunch-menu-bot/internal/menu"
	"lunch-menu-bot/internal/metrics"
)

const lunchChat int64 = -100500

// --- Mocks ---

type MockMessenger struct {
	mu       sync.Mutex
	Sent     []tgbotapi.Chattable
	Requests []tgbotapi.Chattable
}

func (m *MockMessenger) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, c)
	return tgbotapi.Message{MessageID: len(m.Sent)}, nil
}

func (m *MockMessenger) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

// messages returns chat id and text of every sent text message.
func (m *MockMessenger) messages() []tgbotapi.MessageConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []tgbotapi.MessageConfig
	for _, c := range m.Sent {
		if msg, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, msg)
		}
	}
	return out
}

func (m *MockMessenger) callbacks() []tgbotapi.CallbackConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []tgbotapi.CallbackConfig
	for _, c := range m.Requests {
		if cb, ok := c.(tgbotapi.CallbackConfig); ok {
			out = append(out, cb)
		}
	}
	return out
}

type MockAudit struct {
	mu     sync.Mutex
	Events []metrics.ActionEvent
}

func (m *MockAudit) Record(_ context.Context, e metrics.ActionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, e)
	return nil
}

func (m *MockAudit) GetDailyActivity(_ context.Context, _ int) ([]metrics.DailyActivity, error) {
	return []metrics.DailyActivity{{Date: "2025-06-09", Total: 3, Confirms: 1, UniqueUsers: 2}}, nil
}

type fixture struct {
	bot      *Bot
	api      *MockMessenger
	audit    *MockAudit
	calls    int
	menus    []string
	supplyMu sync.Mutex
}

func newFixture(t *testing.T, statePath string, cfgMod func(*config.Config)) *fixture {
	t.Helper()
	now := time.Date(2025, 6, 9, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	if statePath == "" {
		statePath = filepath.Join(t.TempDir(), "state.json")
	}
	store, err := menu.NewStore(statePath, menu.WithStoreClock(clock), menu.WithStoreLocation(time.UTC))
	require.NoError(t, err)

	cfg := &config.Config{
		LunchChatID:       lunchChat,
		StartupChatID:     lunchChat,
		RerollMaxAttempts: 5,
		StateFile:         statePath,
	}
	if cfgMod != nil {
		cfgMod(cfg)
	}

	f := &fixture{api: &MockMessenger{}, audit: &MockAudit{}, menus: []string{"Bibimbap"}}
	sup := menu.SupplierFunc(func(ctx context.Context) (menu.Suggestion, error) {
		f.supplyMu.Lock()
		defer f.supplyMu.Unlock()
		i := f.calls
		if i >= len(f.menus) {
			i = len(f.menus) - 1
		}
		f.calls++
		if f.menus[i] == "" {
			return menu.Suggestion{}, errors.New("randomizer down")
		}
		return menu.Suggestion{Menu: f.menus[i]}, nil
	})

	f.bot = NewBot(cfg, f.api, Options{
		Selector: menu.NewSelector(store, clock, time.UTC),
		Supplier: sup,
		Audit:    f.audit,
	})
	return f
}

func press(t *testing.T, f *fixture, action Action, userID int64, name string) {
	t.Helper()
	update := tgbotapi.Update{
		UpdateID: 1,
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:      "cb-" + string(action),
			From:    &tgbotapi.User{ID: userID, UserName: name},
			Message: &tgbotapi.Message{MessageID: 10, Chat: &tgbotapi.Chat{ID: lunchChat}},
			Data:    string(action),
		},
	}
	post(t, f, update)
}

func post(t *testing.T, f *fixture, update tgbotapi.Update) {
	t.Helper()
	body, err := json.Marshal(update)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	f.bot.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	f.bot.Wait()
}

func lastCallback(t *testing.T, f *fixture) tgbotapi.CallbackConfig {
	t.Helper()
	cbs := f.api.callbacks()
	require.NotEmpty(t, cbs)
	return cbs[len(cbs)-1]
}

// --- Tests ---

func TestPreviewIsPrivateAndStable(t *testing.T) {
	f := newFixture(t, "", nil)

	press(t, f, ActionPreview, 1, "alice")
	press(t, f, ActionPreview, 2, "bob")

	cbs := f.api.callbacks()
	require.Len(t, cbs, 2)
	for _, cb := range cbs {
		assert.True(t, cb.ShowAlert)
		assert.Contains(t, cb.Text, "Bibimbap")
	}
	assert.Empty(t, f.api.messages(), "preview must not post to the chat")
	assert.Equal(t, 1, f.calls)
	require.Len(t, f.audit.Events, 2)
	assert.Equal(t, metrics.OutcomeOK, f.audit.Events[0].Outcome)
}

func TestConfirmWithoutPreview(t *testing.T) {
	f := newFixture(t, "", nil)

	press(t, f, ActionConfirm, 1, "alice")

	cb := lastCallback(t, f)
	assert.True(t, cb.ShowAlert)
	assert.Contains(t, cb.Text, "No menu suggested yet")
	assert.Empty(t, f.api.messages())
	assert.Equal(t, metrics.OutcomeRejected, f.audit.Events[0].Outcome)
}

func TestConfirmFirstWins(t *testing.T) {
	f := newFixture(t, "", nil)

	press(t, f, ActionPreview, 1, "alice")
	press(t, f, ActionConfirm, 1, "alice")
	press(t, f, ActionConfirm, 2, "bob")

	msgs := f.api.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, lunchChat, msgs[0].ChatID)
	assert.Contains(t, msgs[0].Text, "alice")
	assert.Contains(t, msgs[0].Text, "Bibimbap")

	cb := lastCallback(t, f)
	assert.True(t, cb.ShowAlert)
	assert.Contains(t, cb.Text, "already Bibimbap, picked by alice at 12:00")
}

func TestInstantAfterConfirmIsRejected(t *testing.T) {
	f := newFixture(t, "", nil)

	press(t, f, ActionInstant, 1, "alice")
	press(t, f, ActionInstant, 2, "bob")

	require.Len(t, f.api.messages(), 1)
	cb := lastCallback(t, f)
	assert.Contains(t, cb.Text, "already")
	assert.Equal(t, 1, f.calls)
}

func TestRerollPostsPublicly(t *testing.T) {
	f := newFixture(t, "", nil)
	f.menus = []string{"Kimchi Stew", "Kimchi Stew", "Sushi"}

	press(t, f, ActionInstant, 1, "alice")
	press(t, f, ActionReroll, 2, "bob")

	msgs := f.api.messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Text, "rerolled")
	assert.Contains(t, msgs[1].Text, "Sushi")
}

func TestCancel(t *testing.T) {
	f := newFixture(t, "", nil)

	press(t, f, ActionCancel, 1, "alice")
	cb := lastCallback(t, f)
	assert.True(t, cb.ShowAlert)
	assert.Contains(t, cb.Text, "Nothing to give back")

	press(t, f, ActionInstant, 1, "alice")
	press(t, f, ActionCancel, 1, "alice")
	msgs := f.api.messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Text, "gave back")

	// menu kept, another user may confirm
	press(t, f, ActionConfirm, 2, "bob")
	msgs = f.api.messages()
	require.Len(t, msgs, 3)
	assert.Contains(t, msgs[2].Text, "bob")
	assert.Contains(t, msgs[2].Text, "Bibimbap")
}

func TestCancelPreviewedDayStaysPrivate(t *testing.T) {
	f := newFixture(t, "", nil)

	press(t, f, ActionPreview, 1, "alice")
	press(t, f, ActionCancel, 2, "bob")

	assert.Empty(t, f.api.messages())
	cb := lastCallback(t, f)
	assert.Contains(t, cb.Text, "Nothing to give back")
	_, state := f.bot.selector.Get("2025-06-09")
	assert.Equal(t, menu.StatePreviewed, state)
	assert.Equal(t, metrics.OutcomeNoop, f.audit.Events[len(f.audit.Events)-1].Outcome)
}

func TestCancelOnlyByConfirmerOrAdmin(t *testing.T) {
	f := newFixture(t, "", func(c *config.Config) { c.AdminTelegramIDs = []int64{99} })

	press(t, f, ActionInstant, 1, "alice")
	press(t, f, ActionCancel, 2, "bob")

	cb := lastCallback(t, f)
	assert.True(t, cb.ShowAlert)
	assert.Contains(t, cb.Text, "Only alice or an admin")
	require.Len(t, f.api.messages(), 1)
	_, state := f.bot.selector.Get("2025-06-09")
	assert.Equal(t, menu.StateConfirmed, state)

	press(t, f, ActionCancel, 99, "root")
	msgs := f.api.messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Text, "gave back")
	_, state = f.bot.selector.Get("2025-06-09")
	assert.Equal(t, menu.StatePreviewed, state)
}

func TestResetAdminGate(t *testing.T) {
	f := newFixture(t, "", func(c *config.Config) { c.AdminTelegramIDs = []int64{99} })

	press(t, f, ActionInstant, 1, "alice")
	press(t, f, ActionReset, 1, "alice")

	cb := lastCallback(t, f)
	assert.Contains(t, cb.Text, "Admin only")
	rec, state := f.bot.selector.Get("2025-06-09")
	assert.Equal(t, menu.StateConfirmed, state)
	assert.Equal(t, "Bibimbap", rec.Menu())

	press(t, f, ActionReset, 99, "root")
	_, state = f.bot.selector.Get("2025-06-09")
	assert.Equal(t, menu.StateEmpty, state)
	msgs := f.api.messages()
	assert.Contains(t, msgs[len(msgs)-1].Text, "reset the lunch pick")
}

func TestSupplierFailureIsPrivate(t *testing.T) {
	f := newFixture(t, "", nil)
	f.menus = []string{""}

	press(t, f, ActionPreview, 1, "alice")

	cb := lastCallback(t, f)
	assert.True(t, cb.ShowAlert)
	assert.Contains(t, cb.Text, "Could not come up with a menu")
	assert.Equal(t, metrics.OutcomeFailed, f.audit.Events[0].Outcome)
	_, state := f.bot.selector.Get("2025-06-09")
	assert.Equal(t, menu.StateEmpty, state)
}

func TestPersistFailureAlertsAdmin(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.json")
	f := newFixture(t, statePath, func(c *config.Config) { c.AdminTelegramIDs = []int64{77} })
	// A non-empty directory at the state path makes every save fail.
	require.NoError(t, os.MkdirAll(filepath.Join(statePath, "blocker"), 0755))

	press(t, f, ActionInstant, 1, "alice")

	var alert, public bool
	for _, m := range f.api.messages() {
		if m.ChatID == 77 && strings.Contains(m.Text, "State not saved") {
			alert = true
		}
		if m.ChatID == lunchChat && strings.Contains(m.Text, "Bibimbap") {
			public = true
		}
	}
	assert.True(t, alert, "admin should be alerted")
	assert.True(t, public, "decision still stands")
}

func TestWebhookRejectsBadRequests(t *testing.T) {
	f := newFixture(t, "", nil)

	rec := httptest.NewRecorder()
	f.bot.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	f.bot.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookSecretToken(t *testing.T) {
	f := newFixture(t, "", func(c *config.Config) { c.TelegramWebhookSecret = "lunch_secret" })
	body, err := json.Marshal(tgbotapi.Update{
		UpdateID: 3,
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:   "forged",
			From: &tgbotapi.User{ID: 99, UserName: "mallory"},
			Data: string(ActionReset),
		},
	})
	require.NoError(t, err)

	for _, secret := range []string{"", "guess"} {
		req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
		if secret != "" {
			req.Header.Set("X-Telegram-Bot-Api-Secret-Token", secret)
		}
		rec := httptest.NewRecorder()
		f.bot.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	f.bot.Wait()
	assert.Empty(t, f.api.callbacks())
	assert.Empty(t, f.audit.Events)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Telegram-Bot-Api-Secret-Token", "lunch_secret")
	rec := httptest.NewRecorder()
	f.bot.ServeHTTP(rec, req)
	f.bot.Wait()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, f.api.callbacks(), 1)
}

func TestWebhookParams(t *testing.T) {
	params := webhookParams(&config.Config{TelegramWebhookURL: "https://bot.example/webhook", TelegramWebhookSecret: "s"})
	assert.Equal(t, "https://bot.example/webhook", params["url"])
	assert.Equal(t, "s", params["secret_token"])

	params = webhookParams(&config.Config{TelegramWebhookURL: "https://bot.example/webhook"})
	_, ok := params["secret_token"]
	assert.False(t, ok)
}

func commandUpdate(text string, userID int64) tgbotapi.Update {
	cmd := strings.Fields(text)[0]
	return tgbotapi.Update{
		UpdateID: 2,
		Message: &tgbotapi.Message{
			MessageID: 5,
			From:      &tgbotapi.User{ID: userID, UserName: "alice"},
			Chat:      &tgbotapi.Chat{ID: lunchChat},
			Text:      text,
			Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
		},
	}
}

func TestCommands(t *testing.T) {
	f := newFixture(t, "", func(c *config.Config) { c.AdminTelegramIDs = []int64{99} })

	post(t, f, commandUpdate("/today", 1))
	msgs := f.api.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "No lunch pick yet for 2025-06-09")

	post(t, f, commandUpdate("/status", 1))
	msgs = f.api.messages()
	assert.Contains(t, msgs[len(msgs)-1].Text, "Access Denied")

	post(t, f, commandUpdate("/status", 99))
	msgs = f.api.messages()
	assert.Contains(t, msgs[len(msgs)-1].Text, "Usage & Health Report")
	assert.Contains(t, msgs[len(msgs)-1].Text, "*2025-06-09*: 3 actions, 2 users")
}

func TestPublishMenu(t *testing.T) {
	f := newFixture(t, "", nil)

	require.NoError(t, f.bot.PublishMenu(context.Background(), []byte("jpeg"), "🍱 *Today's menu*"))
	require.NoError(t, f.bot.PublishMenu(context.Background(), nil, "no image today"))

	require.Len(t, f.api.Sent, 2)
	photo, ok := f.api.Sent[0].(tgbotapi.PhotoConfig)
	require.True(t, ok)
	assert.Equal(t, lunchChat, photo.ChatID)
	assert.Equal(t, "🍱 *Today's menu*", photo.Caption)
	kb, ok := photo.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, kb.InlineKeyboard, 3)
	assert.Equal(t, string(ActionPreview), *kb.InlineKeyboard[0][0].CallbackData)

	text, ok := f.api.Sent[1].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, "no image today", text.Text)
	assert.NotNil(t, text.ReplyMarkup)
}
