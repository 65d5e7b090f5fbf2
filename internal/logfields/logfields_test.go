package logfields

import (
	"errors"
	"log/slog"
	"testing"
)

// TestHelperKeyNames guards key stability; dashboards query these names.
func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    slog.Attr
	}{
		{"Date", KeyDate, "2025-06-10", Date("2025-06-10")},
		{"Action", KeyAction, "confirm", Action("confirm")},
		{"UserID", KeyUserID, "42", UserID("42")},
		{"UserName", KeyUserName, "kim", UserName("kim")},
		{"Menu", KeyMenu, "Bibimbap", Menu("Bibimbap")},
		{"State", KeyState, "CONFIRMED", State("CONFIRMED")},
		{"Task", KeyTask, "daily-menu", Task("daily-menu")},
		{"Schedule", KeySchedule, "0 12 * * 1-5", Schedule("0 12 * * 1-5")},
		{"Path", KeyPath, "/tmp/x", Path("/tmp/x")},
		{"URL", KeyURL, "http://example", URL("http://example")},
		{"DurationMS", KeyDurationMS, "15", DurationMS(15)},
		{"ChatID", KeyChatID, "-100", ChatID(-100)},
		{"Count", KeyCount, "3", Count(3)},
		{"Error", KeyError, "boom", Error(errors.New("boom"))},
		{"NilError", KeyError, "", Error(nil)},
	}

	for _, tc := range cases {
		if tc.attr.Key != tc.attrKey {
			t.Fatalf("%s: expected key %s, got %s", tc.name, tc.attrKey, tc.attr.Key)
		}
		if got := tc.attr.Value.String(); got != tc.attrVal {
			t.Fatalf("%s: expected value %s, got %v", tc.name, tc.attrVal, got)
		}
	}
}
