package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"lunch-menu-bot/internal/logfields"
	"lunch-menu-bot/internal/menu"
	"lunch-menu-bot/internal/metrics"
)

// Action is the callback data carried by a keyboard button.
type Action string

const (
	ActionPreview Action = "preview"
	ActionConfirm Action = "confirm"
	ActionInstant Action = "instant"
	ActionReroll  Action = "reroll"
	ActionCancel  Action = "cancel"
	ActionReset   Action = "reset"
)

func menuKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("👀 Other menu?", string(ActionPreview)),
			tgbotapi.NewInlineKeyboardButtonData("✅ Let's go", string(ActionConfirm)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🎲 Just pick one", string(ActionInstant)),
			tgbotapi.NewInlineKeyboardButtonData("🔁 Reroll", string(ActionReroll)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("↩️ Give back", string(ActionCancel)),
			tgbotapi.NewInlineKeyboardButtonData("🧹 Reset", string(ActionReset)),
		),
	)
}

func actorFrom(u *tgbotapi.User) menu.Actor {
	if u == nil {
		return menu.Actor{}
	}
	name := u.UserName
	if name == "" {
		name = strings.TrimSpace(u.FirstName + " " + u.LastName)
	}
	return menu.Actor{ID: strconv.FormatInt(u.ID, 10), Name: name}
}

func (b *Bot) handleCallbackQuery(ctx context.Context, q *tgbotapi.CallbackQuery) {
	actor := actorFrom(q.From)
	date := b.selector.Today()
	action := Action(q.Data)

	chatID := b.cfg.LunchChatID
	if q.Message != nil && q.Message.Chat != nil {
		chatID = q.Message.Chat.ID
	}

	slog.Info("Menu action", logfields.Action(string(action)), logfields.Date(date),
		logfields.UserID(actor.ID), logfields.UserName(actor.Name))

	switch action {
	case ActionPreview:
		res, err := b.selector.Preview(ctx, date, b.supplier)
		if err != nil {
			b.replyError(ctx, q, action, date, actor, res, err)
			return
		}
		b.afterMutation(res)
		b.answerPrivate(q, formatPreview(res.Record))
		b.record(ctx, action, date, actor, res.Menu(), outcomeFor(res))

	case ActionConfirm:
		res, err := b.selector.Confirm(ctx, date, actor)
		if err != nil {
			b.replyError(ctx, q, action, date, actor, res, err)
			return
		}
		if !res.Changed {
			b.answerPrivate(q, formatAlreadyConfirmed(res.Record, b.selector.Location()))
			b.record(ctx, action, date, actor, res.Menu(), metrics.OutcomeNoop)
			return
		}
		b.afterMutation(res)
		b.answerEmpty(q)
		b.postPublic(chatID, formatConfirmed(res.Record, actor, action))
		b.record(ctx, action, date, actor, res.Menu(), metrics.OutcomeOK)

	case ActionInstant:
		res, err := b.selector.InstantSelectAndConfirm(ctx, date, b.supplier, actor)
		if err != nil {
			b.replyError(ctx, q, action, date, actor, res, err)
			return
		}
		b.afterMutation(res)
		b.answerEmpty(q)
		b.postPublic(chatID, formatConfirmed(res.Record, actor, action))
		b.record(ctx, action, date, actor, res.Menu(), metrics.OutcomeOK)

	case ActionReroll:
		res, err := b.selector.Reroll(ctx, date, b.supplier, actor, b.cfg.RerollMaxAttempts)
		if err != nil {
			b.replyError(ctx, q, action, date, actor, res, err)
			return
		}
		b.afterMutation(res)
		b.answerEmpty(q)
		b.postPublic(chatID, formatConfirmed(res.Record, actor, action))
		b.record(ctx, action, date, actor, res.Menu(), metrics.OutcomeOK)

	case ActionCancel:
		override := q.From != nil && b.cfg.IsListedAdmin(q.From.ID)
		res, err := b.selector.GiveBack(ctx, date, actor, override)
		if err != nil {
			b.replyError(ctx, q, action, date, actor, res, err)
			return
		}
		if !res.Changed {
			b.answerPrivate(q, "Nothing to give back today.")
			b.record(ctx, action, date, actor, "", metrics.OutcomeNoop)
			return
		}
		b.afterMutation(res)
		b.answerEmpty(q)
		b.postPublic(chatID, formatCancelled(res.Record, actor))
		b.record(ctx, action, date, actor, res.Menu(), metrics.OutcomeOK)

	case ActionReset:
		if !b.isAdmin(q.From) {
			b.answerPrivate(q, "⛔ Admin only.")
			b.record(ctx, action, date, actor, "", metrics.OutcomeRejected)
			return
		}
		res, err := b.selector.ResetAdmin(ctx, date)
		if err != nil {
			b.replyError(ctx, q, action, date, actor, res, err)
			return
		}
		b.afterMutation(res)
		b.answerEmpty(q)
		b.postPublic(chatID, formatReset(date, actor, res.Changed))
		b.record(ctx, action, date, actor, "", outcomeFor(res))

	default:
		slog.Warn("Unknown callback data", slog.String("data", q.Data), logfields.UserID(actor.ID))
		b.answerPrivate(q, "Unknown action.")
	}
}

// replyError answers the actor privately. Domain rejections are expected,
// supplier failures are logged as errors.
func (b *Bot) replyError(ctx context.Context, q *tgbotapi.CallbackQuery, action Action, date string, actor menu.Actor, res menu.Result, err error) {
	outcome := metrics.OutcomeRejected
	var text string
	var supErr *menu.SupplierError
	switch {
	case errors.Is(err, menu.ErrAlreadyConfirmed):
		text = formatAlreadyConfirmed(res.Record, b.selector.Location())
	case errors.Is(err, menu.ErrNoPreview):
		text = "No menu suggested yet. Tap \"Other menu?\" first."
	case errors.Is(err, menu.ErrNotOwner):
		owner := menu.Actor{ID: res.Record.FirstActorID, Name: res.Record.FirstActorName}
		text = fmt.Sprintf("Only %s or an admin can give this pick back.", owner.DisplayName())
	case errors.As(err, &supErr):
		outcome = metrics.OutcomeFailed
		text = "Could not come up with a menu right now. Please try again later."
		slog.Error("Menu supplier failed", logfields.Action(string(action)), logfields.Date(date), logfields.Error(err))
	default:
		outcome = metrics.OutcomeFailed
		text = "Something went wrong. Please try again."
		slog.Error("Menu action failed", logfields.Action(string(action)), logfields.Date(date), logfields.Error(err))
	}
	b.answerPrivate(q, text)
	b.record(ctx, action, date, actor, res.Menu(), outcome)
}

func (b *Bot) afterMutation(res menu.Result) {
	if res.PersistErr == nil {
		return
	}
	b.recorder.IncPersistFailure()
	b.sendAdminAlert(formatPersistAlert(res.Record.Date, res.PersistErr))
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	switch msg.Command() {
	case "today":
		date := b.selector.Today()
		rec, state := b.selector.Get(date)
		b.postPublic(chatID, formatToday(rec, state, b.selector.Location()))
	case "status":
		if !b.isAdmin(msg.From) {
			b.postPublic(chatID, "⛔ *Access Denied*: Admin only.")
			return
		}
		b.handleStatusCommand(ctx, chatID)
	case "help", "start":
		b.postPublic(chatID, formatHelp())
	}
}

func (b *Bot) handleStatusCommand(ctx context.Context, chatID int64) {
	var activity []metrics.DailyActivity
	if b.audit != nil {
		var err error
		activity, err = b.audit.GetDailyActivity(ctx, 7)
		if err != nil {
			slog.Error("Failed to load activity", logfields.Error(err))
			b.postPublic(chatID, "❌ Error fetching activity.")
			return
		}
	}
	health := metrics.GetSysHealth(b.cfg.StateFile, b.cfg.DatabasePath)
	b.postPublic(chatID, formatStatus(activity, health))
}

func (b *Bot) isAdmin(u *tgbotapi.User) bool {
	if u == nil {
		return false
	}
	return b.cfg.IsAdmin(u.ID)
}

func (b *Bot) answerPrivate(q *tgbotapi.CallbackQuery, text string) {
	cb := tgbotapi.NewCallbackWithAlert(q.ID, truncate(text, maxAlertRunes))
	if _, err := b.api.Request(cb); err != nil {
		slog.Error("Failed to answer callback", logfields.Error(err))
	}
}

func (b *Bot) answerEmpty(q *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
		slog.Error("Failed to answer callback", logfields.Error(err))
	}
}

func (b *Bot) postPublic(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.api.Send(msg); err != nil {
		slog.Error("Failed to send message", logfields.ChatID(chatID), logfields.Error(err))
	}
}

func (b *Bot) record(ctx context.Context, action Action, date string, actor menu.Actor, menuName, outcome string) {
	b.recorder.IncAction(string(action), outcome)
	if b.audit == nil {
		return
	}
	err := b.audit.Record(ctx, metrics.ActionEvent{
		Date:     date,
		Action:   string(action),
		UserID:   actor.ID,
		UserName: actor.Name,
		Menu:     menuName,
		Outcome:  outcome,
	})
	if err != nil {
		slog.Warn("Failed to record action", logfields.Action(string(action)), logfields.Error(err))
	}
}

func outcomeFor(res menu.Result) string {
	if res.Changed {
		return metrics.OutcomeOK
	}
	return metrics.OutcomeNoop
}
