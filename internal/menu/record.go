package menu

import (
	"fmt"
	"time"
)

// DateLayout is the key format of a DailyRecord.
const DateLayout = "2006-01-02"

// RetentionDays is how many days of records survive the load-time sweep.
const RetentionDays = 7

// State is the derived selection state of a calendar date.
type State string

const (
	StateEmpty     State = "EMPTY"
	StatePreviewed State = "PREVIEWED"
	StateConfirmed State = "CONFIRMED"
)

// WeatherContext is attached when the menu was picked under adverse weather.
// It is informational only and never re-derived.
type WeatherContext struct {
	Reason      string  `json:"reason"`
	Temperature float64 `json:"temperature"`
	Description string  `json:"description"`
	IndoorOnly  bool    `json:"indoorOnly"`
}

// DailyRecord holds the menu selection of a single calendar date.
type DailyRecord struct {
	Date                string          `json:"date"`
	SelectedMenu        *string         `json:"selectedMenu"`
	WeatherContext      *WeatherContext `json:"weatherContext,omitempty"`
	Confirmed           bool            `json:"confirmed"`
	FirstActorID        string          `json:"firstActorId,omitempty"`
	FirstActorName      string          `json:"firstActorName,omitempty"`
	FirstActorTimestamp *time.Time      `json:"firstActorTimestamp,omitempty"`
}

// State derives the selection state from the record fields.
func (r *DailyRecord) State() State {
	if r == nil {
		return StateEmpty
	}
	if r.Confirmed {
		return StateConfirmed
	}
	if r.SelectedMenu != nil {
		return StatePreviewed
	}
	return StateEmpty
}

// Menu returns the selected menu or an empty string.
func (r *DailyRecord) Menu() string {
	if r == nil || r.SelectedMenu == nil {
		return ""
	}
	return *r.SelectedMenu
}

// clone returns a deep copy so callers never alias store internals.
func (r DailyRecord) clone() DailyRecord {
	out := r
	if r.SelectedMenu != nil {
		m := *r.SelectedMenu
		out.SelectedMenu = &m
	}
	if r.WeatherContext != nil {
		wc := *r.WeatherContext
		out.WeatherContext = &wc
	}
	if r.FirstActorTimestamp != nil {
		ts := *r.FirstActorTimestamp
		out.FirstActorTimestamp = &ts
	}
	return out
}

// Actor identifies the user behind an action.
type Actor struct {
	ID   string
	Name string
}

// DisplayName prefers the name and falls back to the ID.
func (a Actor) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

// DateKey formats t as a record key in loc.
func DateKey(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(DateLayout)
}

// ParseDate validates a record key.
func ParseDate(date string) (time.Time, error) {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", date)
	}
	return t, nil
}
