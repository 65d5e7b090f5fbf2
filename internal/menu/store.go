package menu

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"lunch-menu-bot/internal/logfields"
)

// ErrPersistence marks a failure to flush the in-memory state to disk.
// The in-memory state remains authoritative when it is returned.
var ErrPersistence = errors.New("state not persisted")

// Patch is a partial update merged by Store.Upsert. Nil fields are left as is.
type Patch struct {
	SelectedMenu   *string
	WeatherContext *WeatherContext
	ClearWeather   bool
	Confirmed      *bool
	Actor          *Actor
	ActorAt        *time.Time
	ClearActor     bool
}

// Store provides file-based storage of DailyRecords keyed by date.
type Store struct {
	path string
	now  func() time.Time
	loc  *time.Location

	mu      sync.RWMutex
	records map[string]DailyRecord
}

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithStoreClock overrides the clock used for the load-time retention sweep.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithStoreLocation sets the time zone that defines "today" for the sweep.
func WithStoreLocation(loc *time.Location) StoreOption {
	return func(s *Store) { s.loc = loc }
}

// NewStore creates a Store and ensures the parent directory exists.
// It does not read the file; call Load for that.
func NewStore(path string, opts ...StoreOption) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory for %s: %w", path, err)
	}
	s := &Store{
		path:    path,
		now:     time.Now,
		loc:     time.Local,
		records: make(map[string]DailyRecord),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the location of the state document.
func (s *Store) Path() string { return s.path }

// Load replaces the in-memory set with the persisted one and runs the
// retention sweep. Missing or corrupt storage yields an empty set; Load never
// fails. It returns the number of records kept.
func (s *Store) Load() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]DailyRecord)

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Info("No existing state file found, starting fresh", logfields.Path(s.path))
		return 0
	case err != nil:
		slog.Error("Failed to read state file, starting fresh", logfields.Path(s.path), logfields.Error(err))
		return 0
	}

	var raw map[string]DailyRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		slog.Error("State file is corrupt, starting fresh", logfields.Path(s.path), logfields.Error(err))
		s.quarantine()
		return 0
	}

	for date, rec := range raw {
		if _, err := ParseDate(date); err != nil {
			slog.Warn("Skipping state record with invalid key", logfields.Date(date))
			continue
		}
		rec.Date = date
		if rec.Confirmed && rec.SelectedMenu == nil {
			// A confirmation without a menu cannot be honoured.
			rec.Confirmed = false
		}
		s.records[date] = rec
	}
	slog.Info("Loaded daily state", logfields.Path(s.path), logfields.Count(len(s.records)))

	if pruned := s.pruneLocked(s.now()); pruned > 0 {
		slog.Info("Cleaned up old daily records", logfields.Count(pruned))
		if err := s.saveLocked(); err != nil {
			slog.Error("Failed to save state after cleanup", logfields.Error(err))
		}
	}
	return len(s.records)
}

// quarantine moves an unreadable document aside so the next save does not
// destroy it.
func (s *Store) quarantine() {
	dst := fmt.Sprintf("%s.corrupt-%d", s.path, s.now().Unix())
	if err := os.Rename(s.path, dst); err != nil {
		slog.Warn("Failed to move corrupt state file aside", logfields.Path(s.path), logfields.Error(err))
		return
	}
	slog.Warn("Moved corrupt state file aside", logfields.Path(dst))
}

// Save persists the full in-memory set.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: failed to marshal state: %w", ErrPersistence, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %w", ErrPersistence, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: failed to write state: %w", ErrPersistence, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: failed to close state file: %w", ErrPersistence, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: failed to replace %s: %w", ErrPersistence, s.path, err)
	}
	slog.Debug("Saved daily state", logfields.Path(s.path))
	return nil
}

// Prune removes records dated more than RetentionDays before reference.
// It only touches memory; callers decide when to Save.
func (s *Store) Prune(reference time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked(reference)
}

func (s *Store) pruneLocked(reference time.Time) int {
	cutoff := DateKey(reference.AddDate(0, 0, -RetentionDays), s.loc)
	removed := 0
	for date := range s.records {
		if date < cutoff {
			delete(s.records, date)
			removed++
		}
	}
	return removed
}

// Get returns a copy of the record for date.
func (s *Store) Get(date string) (DailyRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[date]
	if !ok {
		return DailyRecord{}, false
	}
	return rec.clone(), true
}

// Upsert merges patch into the record for date, creating it with defaults when
// absent, and saves. On a save failure the merged record is still returned
// together with an error wrapping ErrPersistence.
func (s *Store) Upsert(date string, patch Patch) (DailyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[date]
	if !ok {
		rec = DailyRecord{Date: date}
	}
	rec = applyPatch(rec, patch)
	s.records[date] = rec

	return rec.clone(), s.saveLocked()
}

func applyPatch(rec DailyRecord, p Patch) DailyRecord {
	if p.SelectedMenu != nil {
		m := *p.SelectedMenu
		rec.SelectedMenu = &m
	}
	if p.ClearWeather {
		rec.WeatherContext = nil
	}
	if p.WeatherContext != nil {
		wc := *p.WeatherContext
		rec.WeatherContext = &wc
	}
	if p.Confirmed != nil {
		rec.Confirmed = *p.Confirmed
	}
	if p.ClearActor {
		rec.FirstActorID = ""
		rec.FirstActorName = ""
		rec.FirstActorTimestamp = nil
	}
	if p.Actor != nil {
		rec.FirstActorID = p.Actor.ID
		rec.FirstActorName = p.Actor.Name
	}
	if p.ActorAt != nil {
		ts := *p.ActorAt
		rec.FirstActorTimestamp = &ts
	}
	return rec
}

// Delete removes the record for date and saves. It reports whether a record
// existed. Deleting a missing record does not touch the disk.
func (s *Store) Delete(date string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[date]; !ok {
		return false, nil
	}
	delete(s.records, date)
	return true, s.saveLocked()
}

// All returns every record sorted by date.
func (s *Store) All() []DailyRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]DailyRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}
