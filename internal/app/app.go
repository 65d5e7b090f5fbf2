package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"lunch-menu-bot/internal/config"
	"lunch-menu-bot/internal/llm"
	"lunch-menu-bot/internal/logfields"
	"lunch-menu-bot/internal/menu"
	"lunch-menu-bot/internal/scheduler"
	"lunch-menu-bot/internal/scraper"
)

// Task names registered on the scheduler.
const (
	DailyMenuTask    = "daily-menu"
	HousekeepingTask = "housekeeping"

	housekeepingCron = "30 0 * * *"
	auditRetention   = 30
)

// MenuFetcher downloads the menu image from the menu page.
type MenuFetcher interface {
	FetchMenuImage(ctx context.Context, pageURL string) (*scraper.MenuImage, error)
}

// Publisher posts to Telegram. *telegram.Bot satisfies it.
type Publisher interface {
	PublishMenu(ctx context.Context, image []byte, caption string) error
	SendText(ctx context.Context, chatID int64, text string) error
}

// AuditCleaner removes old audit rows. *metrics.Store satisfies it.
type AuditCleaner interface {
	Cleanup(ctx context.Context, olderThanDays int) (int64, error)
}

// TaskScheduler is where the app registers its jobs.
type TaskScheduler interface {
	Add(name, cronExpr string, fn scheduler.TaskFunc, opts scheduler.TaskOptions) error
}

// App runs the daily menu post and the bot's housekeeping.
type App struct {
	cfg       *config.Config
	fetcher   MenuFetcher
	extractor llm.TextExtractor
	publisher Publisher
	store     *menu.Store
	audit     AuditCleaner
	now       func() time.Time
}

// Deps holds the collaborators of an App. Extractor and Audit may be nil.
type Deps struct {
	Fetcher   MenuFetcher
	Extractor llm.TextExtractor
	Publisher Publisher
	Store     *menu.Store
	Audit     AuditCleaner
	Now       func() time.Time
}

// NewApp creates and initializes a new App instance.
func NewApp(cfg *config.Config, deps Deps) *App {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &App{
		cfg:       cfg,
		fetcher:   deps.Fetcher,
		extractor: deps.Extractor,
		publisher: deps.Publisher,
		store:     deps.Store,
		audit:     deps.Audit,
		now:       now,
	}
}

// PublishDailyMenu scrapes the menu image, optionally transcribes it and posts
// it with the selection keyboard. On failure a notice goes to the lunch chat.
func (a *App) PublishDailyMenu(ctx context.Context) error {
	today := a.now().In(a.cfg.Location)
	slog.Info("Publishing daily menu", logfields.Date(menu.DateKey(today, a.cfg.Location)), logfields.URL(a.cfg.MenuPageURL))

	img, err := a.fetcher.FetchMenuImage(ctx, a.cfg.MenuPageURL)
	if err != nil {
		a.notifyFailure(ctx, today, err)
		return fmt.Errorf("failed to fetch menu image: %w", err)
	}

	text := a.extractText(ctx, img)
	caption := FormatCaption(today, text)

	if err := a.publisher.PublishMenu(ctx, img.Data, caption); err != nil {
		a.notifyFailure(ctx, today, err)
		return fmt.Errorf("failed to publish menu: %w", err)
	}
	slog.Info("Daily menu published", logfields.URL(img.SourceURL), slog.String("method", img.Method))
	return nil
}

func (a *App) extractText(ctx context.Context, img *scraper.MenuImage) string {
	if a.extractor == nil {
		return ""
	}
	text, err := a.extractor.ExtractText(ctx, img.Data, img.ContentType)
	switch {
	case errors.Is(err, llm.ErrNoText):
		slog.Info("No text found on menu image")
		return ""
	case err != nil:
		slog.Warn("Menu text extraction failed; posting image only", logfields.Error(err))
		return ""
	}
	return text
}

func (a *App) notifyFailure(ctx context.Context, day time.Time, cause error) {
	text := fmt.Sprintf("❌ Could not post the lunch menu for %s.\nPlease check the menu page directly: %s",
		day.Format(menu.DateLayout), a.cfg.MenuPageURL)
	if err := a.publisher.SendText(ctx, a.cfg.LunchChatID, text); err != nil {
		slog.Error("Failed to send failure notice", logfields.Error(err), slog.String("cause", cause.Error()))
	}
}

// NotifyStartup tells the notification chat the bot is up. Failures are only logged.
func (a *App) NotifyStartup(ctx context.Context) {
	text := fmt.Sprintf("🤖 *Lunch bot started*\n• Schedule: `%s` (%s)\n• Menu page: %s",
		a.cfg.ScheduleCron, a.cfg.Timezone, tgbotapi.EscapeText(tgbotapi.ModeMarkdown, a.cfg.MenuPageURL))
	if err := a.publisher.SendText(ctx, a.cfg.StartupChatID, text); err != nil {
		slog.Warn("Failed to send startup notification", logfields.Error(err))
	}
}

// HandleTaskError is the scheduler's error callback.
func (a *App) HandleTaskError(ctx context.Context, err error, task string) {
	safeErr := strings.ReplaceAll(err.Error(), "`", "'")
	text := fmt.Sprintf("⚠️ *Task failed*: %s\n```\n%s\n```", tgbotapi.EscapeText(tgbotapi.ModeMarkdown, task), safeErr)
	if sendErr := a.publisher.SendText(ctx, a.cfg.StartupChatID, text); sendErr != nil {
		slog.Error("Failed to send task error notice", logfields.Task(task), logfields.Error(sendErr))
	}
}

// Housekeeping applies the retention policies of the state file and the audit log.
func (a *App) Housekeeping(ctx context.Context) error {
	pruned := a.store.Prune(a.now())
	if pruned > 0 {
		if err := a.store.Save(); err != nil {
			return fmt.Errorf("failed to save pruned state: %w", err)
		}
	}
	var removed int64
	if a.audit != nil {
		var err error
		removed, err = a.audit.Cleanup(ctx, auditRetention)
		if err != nil {
			return err
		}
	}
	slog.Info("Housekeeping done", logfields.Count(pruned), slog.Int64("audit_rows_removed", removed))
	return nil
}

// RegisterJobs adds the daily menu post and housekeeping to s.
func (a *App) RegisterJobs(s TaskScheduler) error {
	opts := scheduler.TaskOptions{OnError: a.HandleTaskError}
	if err := s.Add(DailyMenuTask, a.cfg.ScheduleCron, a.PublishDailyMenu, opts); err != nil {
		return err
	}
	return s.Add(HousekeepingTask, housekeepingCron, a.Housekeeping, opts)
}

// FormatCaption builds the Markdown caption of the daily post.
func FormatCaption(day time.Time, text string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🍱 *Today's lunch* · %s (%s)\n", day.Format(menu.DateLayout), day.Weekday()))
	if text != "" {
		sb.WriteString("\n")
		sb.WriteString(tgbotapi.EscapeText(tgbotapi.ModeMarkdown, text))
		sb.WriteString("\n")
	}
	sb.WriteString("\nNot feeling it? Use the buttons below.")
	return sb.String()
}
