package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"lunch-menu-bot/internal/config"
	"lunch-menu-bot/internal/logfields"
	"lunch-menu-bot/internal/menu"
	"lunch-menu-bot/internal/metrics"
)

const (
	handlerTimeout  = 30 * time.Second
	maxCaptionRunes = 1024
	maxAlertRunes   = 200

	webhookSecretHeader = "X-Telegram-Bot-Api-Secret-Token"
)

// Messenger is the part of the Telegram API the bot uses. *tgbotapi.BotAPI
// satisfies it.
type Messenger interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// AuditStore persists every interaction. *metrics.Store satisfies it.
type AuditStore interface {
	Record(ctx context.Context, e metrics.ActionEvent) error
	GetDailyActivity(ctx context.Context, days int) ([]metrics.DailyActivity, error)
}

// Options holds the collaborators of a Bot. Audit and Recorder may be nil.
type Options struct {
	Selector *menu.Selector
	Supplier menu.Supplier
	Audit    AuditStore
	Recorder *metrics.Recorder
}

// Bot publishes the daily menu and turns button presses into menu selection
// operations.
type Bot struct {
	api      Messenger
	cfg      *config.Config
	selector *menu.Selector
	supplier menu.Supplier
	audit    AuditStore
	recorder *metrics.Recorder

	wg sync.WaitGroup
}

// NewAPI authorizes against Telegram and registers the webhook when one is configured.
func NewAPI(cfg *config.Config) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram api: %w", err)
	}
	slog.Info("Authorized on Telegram", slog.String("account", api.Self.UserName))

	if cfg.TelegramWebhookURL == "" {
		return api, nil
	}
	if cfg.TelegramWebhookSecret == "" {
		slog.Warn("TELEGRAM_WEBHOOK_SECRET not set; webhook calls are not authenticated")
	}
	resp, err := api.MakeRequest("setWebhook", webhookParams(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to set webhook to %s: %w", cfg.TelegramWebhookURL, err)
	}
	slog.Info("Webhook set", logfields.URL(cfg.TelegramWebhookURL), slog.String("response", resp.Description))
	return api, nil
}

// webhookParams builds the setWebhook call. WebhookConfig predates the
// secret_token parameter, so the request is assembled by hand.
func webhookParams(cfg *config.Config) tgbotapi.Params {
	params := tgbotapi.Params{"url": cfg.TelegramWebhookURL}
	params.AddNonEmpty("secret_token", cfg.TelegramWebhookSecret)
	return params
}

// NewBot creates a Bot sending through api.
func NewBot(cfg *config.Config, api Messenger, opts Options) *Bot {
	return &Bot{
		api:      api,
		cfg:      cfg,
		selector: opts.Selector,
		supplier: opts.Supplier,
		audit:    opts.Audit,
		recorder: opts.Recorder,
	}
}

// PublishMenu posts the menu image with the selection keyboard to the lunch
// chat. Without an image only the caption is sent.
func (b *Bot) PublishMenu(ctx context.Context, image []byte, caption string) error {
	keyboard := menuKeyboard()
	chatID := b.cfg.LunchChatID

	if len(image) == 0 {
		msg := tgbotapi.NewMessage(chatID, caption)
		msg.ParseMode = tgbotapi.ModeMarkdown
		msg.ReplyMarkup = keyboard
		if _, err := b.api.Send(msg); err != nil {
			return fmt.Errorf("failed to send menu message: %w", err)
		}
		return nil
	}

	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "menu.jpg", Bytes: image})
	photo.Caption = truncate(caption, maxCaptionRunes)
	photo.ParseMode = tgbotapi.ModeMarkdown
	photo.ReplyMarkup = keyboard
	if _, err := b.api.Send(photo); err != nil {
		return fmt.Errorf("failed to send menu photo: %w", err)
	}
	slog.Info("Menu published", logfields.ChatID(chatID), logfields.Count(len(image)))
	return nil
}

// SendText posts a Markdown message to chatID.
func (b *Bot) SendText(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send message to %d: %w", chatID, err)
	}
	return nil
}

// ServeHTTP is the webhook endpoint. Telegram gets its 200 right away and the
// update is handled afterwards.
func (b *Bot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !b.authorizedWebhook(r) {
		slog.Warn("Rejected webhook call with a wrong secret token", slog.String("remote", r.RemoteAddr))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		slog.Warn("Error parsing update", logfields.Error(err))
		http.Error(w, "invalid update", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		b.HandleUpdate(ctx, update)
	}()
}

func (b *Bot) authorizedWebhook(r *http.Request) bool {
	want := b.cfg.TelegramWebhookSecret
	if want == "" {
		return true
	}
	got := r.Header.Get(webhookSecretHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// Wait blocks until every in-flight update has been handled.
func (b *Bot) Wait() {
	b.wg.Wait()
}

// HandleUpdate dispatches one update synchronously.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Update handler panicked", slog.Any("panic", r), slog.Int("update_id", update.UpdateID))
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		b.handleCallbackQuery(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		b.handleCommand(ctx, update.Message)
	}
}

func (b *Bot) sendAdminAlert(text string) {
	targets := b.cfg.AdminTelegramIDs
	if len(targets) == 0 {
		targets = []int64{b.cfg.StartupChatID}
	}
	for _, id := range targets {
		if id == 0 {
			continue
		}
		msg := tgbotapi.NewMessage(id, text)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := b.api.Send(msg); err != nil {
			slog.Error("Failed to send admin alert", logfields.ChatID(id), logfields.Error(err))
		}
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
