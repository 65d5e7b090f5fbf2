package logfields

import "log/slog"

// Canonical log field names shared across packages.
const (
	KeyDate       = "date"
	KeyAction     = "action"
	KeyUserID     = "user_id"
	KeyUserName   = "user_name"
	KeyMenu       = "menu"
	KeyState      = "state"
	KeyTask       = "task"
	KeySchedule   = "schedule"
	KeyDurationMS = "duration_ms"
	KeyPath       = "path"
	KeyURL        = "url"
	KeyChatID     = "chat_id"
	KeyCount      = "count"
	KeyError      = "error"
)

func Date(d string) slog.Attr        { return slog.String(KeyDate, d) }
func Action(a string) slog.Attr      { return slog.String(KeyAction, a) }
func UserID(id string) slog.Attr     { return slog.String(KeyUserID, id) }
func UserName(n string) slog.Attr    { return slog.String(KeyUserName, n) }
func Menu(m string) slog.Attr        { return slog.String(KeyMenu, m) }
func State(s string) slog.Attr       { return slog.String(KeyState, s) }
func Task(name string) slog.Attr     { return slog.String(KeyTask, name) }
func Schedule(expr string) slog.Attr { return slog.String(KeySchedule, expr) }
func DurationMS(ms int64) slog.Attr  { return slog.Int64(KeyDurationMS, ms) }
func Path(p string) slog.Attr        { return slog.String(KeyPath, p) }
func URL(u string) slog.Attr         { return slog.String(KeyURL, u) }
func ChatID(id int64) slog.Attr      { return slog.Int64(KeyChatID, id) }
func Count(n int) slog.Attr          { return slog.Int(KeyCount, n) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
