package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Outcomes recorded for an action.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
	OutcomeNoop     = "noop"
)

// timestampLayout is fixed width so stored timestamps compare as strings.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// ActionEvent is one interaction with the daily menu.
type ActionEvent struct {
	ID        uuid.UUID `json:"id"`
	Date      string    `json:"date"`
	Action    string    `json:"action"`
	UserID    string    `json:"userId,omitempty"`
	UserName  string    `json:"userName,omitempty"`
	Menu      string    `json:"menu,omitempty"`
	Outcome   string    `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`
}

// Store handles persistence of action events to SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore initializes the Store with an existing database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Record saves an event. Missing ID and Timestamp are filled in.
func (s *Store) Record(ctx context.Context, e ActionEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO action_events (id, date, action, user_id, user_name, menu, outcome, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.Date, e.Action, e.UserID, e.UserName, e.Menu, e.Outcome,
		e.Timestamp.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to record action event: %w", err)
	}
	return nil
}

// RecentEvents returns the latest events, newest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]ActionEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, date, action, user_id, user_name, menu, outcome, timestamp
		 FROM action_events ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query action events: %w", err)
	}
	defer rows.Close()

	var events []ActionEvent
	for rows.Next() {
		var e ActionEvent
		var id, ts string
		if err := rows.Scan(&id, &e.Date, &e.Action, &e.UserID, &e.UserName, &e.Menu, &e.Outcome, &ts); err != nil {
			return nil, err
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid event id %q: %w", id, err)
		}
		if e.Timestamp, err = time.Parse(timestampLayout, ts); err != nil {
			return nil, fmt.Errorf("invalid event timestamp %q: %w", ts, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// DailyActivity summarises the events of one date.
type DailyActivity struct {
	Date        string `json:"date"`
	Total       int    `json:"total"`
	Confirms    int    `json:"confirms"`
	Rerolls     int    `json:"rerolls"`
	Cancels     int    `json:"cancels"`
	UniqueUsers int    `json:"uniqueUsers"`
}

// GetDailyActivity retrieves activity for the last N days, newest first.
func (s *Store) GetDailyActivity(ctx context.Context, days int) ([]DailyActivity, error) {
	since := s.now().AddDate(0, 0, -days).UTC().Format(timestampLayout)
	rows, err := s.db.QueryContext(ctx,
		`SELECT date,
		        COUNT(*),
		        SUM(CASE WHEN action IN ('confirm', 'instant') AND outcome = 'ok' THEN 1 ELSE 0 END),
		        SUM(CASE WHEN action = 'reroll' AND outcome = 'ok' THEN 1 ELSE 0 END),
		        SUM(CASE WHEN action = 'cancel' AND outcome = 'ok' THEN 1 ELSE 0 END),
		        COUNT(DISTINCT NULLIF(user_id, ''))
		 FROM action_events
		 WHERE timestamp >= ?
		 GROUP BY date
		 ORDER BY date DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily activity: %w", err)
	}
	defer rows.Close()

	var results []DailyActivity
	for rows.Next() {
		var a DailyActivity
		if err := rows.Scan(&a.Date, &a.Total, &a.Confirms, &a.Rerolls, &a.Cancels, &a.UniqueUsers); err != nil {
			return nil, err
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

// Cleanup removes records older than the specified number of days.
func (s *Store) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	threshold := s.now().AddDate(0, 0, -olderThanDays).UTC().Format(timestampLayout)
	res, err := s.db.ExecContext(ctx, `DELETE FROM action_events WHERE timestamp < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up action events: %w", err)
	}
	return res.RowsAffected()
}
