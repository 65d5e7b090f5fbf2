package telegram

import (
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"lunch-menu-bot/internal/menu"
	"lunch-menu-bot/internal/metrics"
)

func md(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}

// formatPreview is shown as a callback alert, which is plain text.
func formatPreview(rec menu.DailyRecord) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🍽 How about %s?", rec.Menu()))
	if wc := rec.WeatherContext; wc != nil && wc.Reason != "" {
		sb.WriteString(fmt.Sprintf("\n🌨 %s, indoor menus only.", wc.Reason))
	}
	if rec.Confirmed {
		sb.WriteString("\n(already confirmed)")
	} else {
		sb.WriteString("\nTap \"Let's go\" to lock it in.")
	}
	return sb.String()
}

func formatAlreadyConfirmed(rec menu.DailyRecord, loc *time.Location) string {
	who := rec.FirstActorName
	if who == "" {
		who = rec.FirstActorID
	}
	text := fmt.Sprintf("🔒 Today's lunch is already %s", rec.Menu())
	if who != "" {
		text += fmt.Sprintf(", picked by %s", who)
		if rec.FirstActorTimestamp != nil {
			text += " at " + rec.FirstActorTimestamp.In(loc).Format("15:04")
		}
	}
	return text + "."
}

func formatConfirmed(rec menu.DailyRecord, actor menu.Actor, action Action) string {
	var sb strings.Builder
	switch action {
	case ActionReroll:
		sb.WriteString(fmt.Sprintf("🔁 *%s* rerolled the menu!\n", md(actor.DisplayName())))
	case ActionInstant:
		sb.WriteString(fmt.Sprintf("🎲 *%s* let the bot pick!\n", md(actor.DisplayName())))
	default:
		sb.WriteString(fmt.Sprintf("✅ *%s* confirmed today's lunch!\n", md(actor.DisplayName())))
	}
	sb.WriteString(fmt.Sprintf("🍽 *%s*", md(rec.Menu())))
	if wc := rec.WeatherContext; wc != nil && wc.Reason != "" {
		sb.WriteString(fmt.Sprintf("\n_%s_", md(wc.Reason)))
	}
	return sb.String()
}

func formatCancelled(rec menu.DailyRecord, actor menu.Actor) string {
	return fmt.Sprintf("↩️ *%s* gave back the pick. *%s* is up for grabs again.",
		md(actor.DisplayName()), md(rec.Menu()))
}

func formatReset(date string, actor menu.Actor, existed bool) string {
	if !existed {
		return fmt.Sprintf("🧹 Nothing to reset for %s.", date)
	}
	return fmt.Sprintf("🧹 *%s* reset the lunch pick for %s.", md(actor.DisplayName()), date)
}

func formatToday(rec menu.DailyRecord, state menu.State, loc *time.Location) string {
	switch state {
	case menu.StateConfirmed:
		text := fmt.Sprintf("🔒 Lunch for %s: *%s*", rec.Date, md(rec.Menu()))
		if rec.FirstActorName != "" || rec.FirstActorID != "" {
			who := rec.FirstActorName
			if who == "" {
				who = rec.FirstActorID
			}
			text += fmt.Sprintf(" (by %s", md(who))
			if rec.FirstActorTimestamp != nil {
				text += " at " + rec.FirstActorTimestamp.In(loc).Format("15:04")
			}
			text += ")"
		}
		return text
	case menu.StatePreviewed:
		return fmt.Sprintf("🤔 Suggested for %s: *%s* (not confirmed yet)", rec.Date, md(rec.Menu()))
	default:
		return fmt.Sprintf("📭 No lunch pick yet for %s.", rec.Date)
	}
}

func formatStatus(activity []metrics.DailyActivity, health metrics.SysHealth) string {
	var sb strings.Builder
	sb.WriteString("📊 *Usage & Health Report*\n\n")

	sb.WriteString("🗓 *Recent Activity*\n")
	if len(activity) == 0 {
		sb.WriteString("_No data yet_\n")
	}
	for _, d := range activity {
		sb.WriteString(fmt.Sprintf("• *%s*: %d actions, %d users (%d confirms, %d rerolls, %d give-backs)\n",
			d.Date, d.Total, d.UniqueUsers, d.Confirms, d.Rerolls, d.Cancels))
	}

	sb.WriteString("\n🧠 *System Health*\n")
	sb.WriteString(fmt.Sprintf("• RAM: %dMB (Heap) / %dMB (Sys)\n", health.HeapMB, health.SysMB))
	sb.WriteString(fmt.Sprintf("• Goroutines: %d\n", health.Goroutines))
	sb.WriteString(fmt.Sprintf("• Uptime: %s\n", health.Uptime))
	sb.WriteString(fmt.Sprintf("• State file: %s\n", usageLine(health.StateFile)))
	sb.WriteString(fmt.Sprintf("• Audit DB: %s\n", usageLine(health.Database)))
	return sb.String()
}

func usageLine(u metrics.FileUsage) string {
	if u.Missing {
		return "missing"
	}
	return u.Size
}

func formatPersistAlert(date string, err error) string {
	safeErr := strings.ReplaceAll(err.Error(), "`", "'")
	return fmt.Sprintf("⚠️ *State not saved* for %s\nThe decision stands in memory.\n```\n%s\n```", date, safeErr)
}

func formatHelp() string {
	return "🍱 *Lunch bot*\n" +
		"• /today shows today's pick\n" +
		"• /status shows activity and health (admin)\n" +
		"Use the buttons under the daily menu to suggest, confirm, reroll or give back a pick."
}
