package menu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lunch-menu-bot/internal/logfields"
)

// DefaultRerollAttempts bounds how often Reroll asks the supplier for a
// different menu.
const DefaultRerollAttempts = 5

var (
	// ErrAlreadyConfirmed is returned when the date already has a confirmed menu.
	ErrAlreadyConfirmed = errors.New("menu already confirmed for this date")
	// ErrNoPreview is returned when confirming a date that has no menu yet.
	ErrNoPreview = errors.New("no menu has been previewed for this date")
	// ErrNotOwner is returned when someone other than the confirming actor
	// tries to give a confirmation back.
	ErrNotOwner = errors.New("menu was confirmed by someone else")
)

// SupplierError wraps a failure of the injected menu supplier.
type SupplierError struct {
	Op  string
	Err error
}

func (e *SupplierError) Error() string {
	return fmt.Sprintf("%s: menu supplier failed: %v", e.Op, e.Err)
}

func (e *SupplierError) Unwrap() error { return e.Err }

// Suggestion is one menu produced by a Supplier.
type Suggestion struct {
	Menu    string
	Weather *WeatherContext
}

// Supplier produces a menu candidate. It may consult weather and randomness.
type Supplier interface {
	Suggest(ctx context.Context) (Suggestion, error)
}

// SupplierFunc adapts a function to Supplier.
type SupplierFunc func(ctx context.Context) (Suggestion, error)

func (f SupplierFunc) Suggest(ctx context.Context) (Suggestion, error) { return f(ctx) }

// Result is the outcome of a Selector operation.
type Result struct {
	Record DailyRecord
	State  State
	// Changed is false when the operation was an idempotent no-op.
	Changed bool
	// PersistErr is set when the decision could not be flushed to disk.
	// The decision stands for the process lifetime.
	PersistErr error
}

// Menu is a shortcut for the record's selected menu.
func (r Result) Menu() string { return r.Record.Menu() }

// Selector enforces one confirmed menu per date on top of a Store.
// Every operation on a date runs inside that date's critical section, so
// "first confirmation wins" holds regardless of how many goroutines call in.
type Selector struct {
	store *Store
	now   func() time.Time
	loc   *time.Location

	mu    sync.Mutex
	locks map[string]*dateLock
}

// dateLock is dropped from Selector.locks once no caller holds or waits on it.
type dateLock struct {
	mu   sync.Mutex
	refs int
}

// NewSelector creates a Selector backed by store.
func NewSelector(store *Store, now func() time.Time, loc *time.Location) *Selector {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.Local
	}
	return &Selector{
		store: store,
		now:   now,
		loc:   loc,
		locks: make(map[string]*dateLock),
	}
}

// Today returns the record key for the current date in the selector's zone.
func (s *Selector) Today() string {
	return DateKey(s.now(), s.loc)
}

// Location returns the time zone that defines calendar dates.
func (s *Selector) Location() *time.Location { return s.loc }

func (s *Selector) lock(date string) func() {
	s.mu.Lock()
	l, ok := s.locks[date]
	if !ok {
		l = &dateLock{}
		s.locks[date] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, date)
		}
		s.mu.Unlock()
	}
}

func (s *Selector) heldLocks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}

// Get returns the current record and state of date.
func (s *Selector) Get(date string) (DailyRecord, State) {
	rec, ok := s.store.Get(date)
	if !ok {
		return DailyRecord{Date: date}, StateEmpty
	}
	return rec, rec.State()
}

// Preview returns the candidate menu of date, asking sup only when there is
// none yet. Every viewer sees the same candidate.
func (s *Selector) Preview(ctx context.Context, date string, sup Supplier) (Result, error) {
	defer s.lock(date)()

	rec, ok := s.store.Get(date)
	if ok && rec.Confirmed {
		return Result{Record: rec, State: StateConfirmed}, ErrAlreadyConfirmed
	}
	if ok && rec.SelectedMenu != nil {
		return Result{Record: rec, State: rec.State()}, nil
	}

	sug, err := suggest(ctx, "preview", sup)
	if err != nil {
		return Result{}, err
	}

	patch := Patch{SelectedMenu: &sug.Menu, WeatherContext: sug.Weather, ClearWeather: true}
	return s.commit(date, "preview", patch)
}

// Confirm locks in the previewed menu of date for actor.
func (s *Selector) Confirm(ctx context.Context, date string, actor Actor) (Result, error) {
	defer s.lock(date)()

	rec, ok := s.store.Get(date)
	if !ok || rec.SelectedMenu == nil {
		return Result{Record: DailyRecord{Date: date}, State: StateEmpty}, ErrNoPreview
	}
	if rec.Confirmed {
		return Result{Record: rec, State: StateConfirmed}, nil
	}

	return s.commit(date, "confirm", s.confirmPatch(actor))
}

// Cancel gives back the confirmation of date while keeping the menu, so that
// another user may act. Changed reports whether a record existed.
func (s *Selector) Cancel(ctx context.Context, date string) (Result, error) {
	defer s.lock(date)()

	if _, ok := s.store.Get(date); !ok {
		return Result{Record: DailyRecord{Date: date}, State: StateEmpty}, nil
	}

	unconfirmed := false
	return s.commit(date, "cancel", Patch{Confirmed: &unconfirmed, ClearActor: true})
}

// GiveBack withdraws actor's confirmation of date, keeping the menu. Only the
// confirming actor may give it back unless override is set. Changed is false
// when the date was not confirmed.
func (s *Selector) GiveBack(ctx context.Context, date string, actor Actor, override bool) (Result, error) {
	defer s.lock(date)()

	rec, ok := s.store.Get(date)
	if !ok {
		return Result{Record: DailyRecord{Date: date}, State: StateEmpty}, nil
	}
	if !rec.Confirmed {
		return Result{Record: rec, State: rec.State()}, nil
	}
	if !override && rec.FirstActorID != actor.ID {
		return Result{Record: rec, State: StateConfirmed}, ErrNotOwner
	}

	unconfirmed := false
	return s.commit(date, "cancel", Patch{Confirmed: &unconfirmed, ClearActor: true})
}

// InstantSelectAndConfirm previews and confirms in one step.
func (s *Selector) InstantSelectAndConfirm(ctx context.Context, date string, sup Supplier, actor Actor) (Result, error) {
	defer s.lock(date)()

	rec, ok := s.store.Get(date)
	if ok && rec.Confirmed {
		return Result{Record: rec, State: StateConfirmed}, ErrAlreadyConfirmed
	}

	patch := s.confirmPatch(actor)
	if !ok || rec.SelectedMenu == nil {
		sug, err := suggest(ctx, "instant select", sup)
		if err != nil {
			return Result{}, err
		}
		patch.SelectedMenu = &sug.Menu
		patch.WeatherContext = sug.Weather
		patch.ClearWeather = true
	}
	return s.commit(date, "instant", patch)
}

// Reroll replaces the menu of date and confirms the replacement. The supplier
// is asked up to maxAttempts times while it repeats the previous menu; the
// last answer is kept even if it still repeats.
func (s *Selector) Reroll(ctx context.Context, date string, sup Supplier, actor Actor, maxAttempts int) (Result, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultRerollAttempts
	}
	defer s.lock(date)()

	rec, _ := s.store.Get(date)
	previous := rec.Menu()

	var sug Suggestion
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var err error
		sug, err = suggest(ctx, "reroll", sup)
		if err != nil {
			return Result{}, err
		}
		if previous == "" || sug.Menu != previous {
			break
		}
		slog.Debug("Reroll produced the previous menu, retrying",
			logfields.Date(date), logfields.Menu(sug.Menu), slog.Int("attempt", attempt))
	}

	patch := s.confirmPatch(actor)
	patch.SelectedMenu = &sug.Menu
	patch.WeatherContext = sug.Weather
	patch.ClearWeather = true
	return s.commit(date, "reroll", patch)
}

// ResetAdmin deletes the record of date regardless of its state.
// Changed reports whether a record existed.
func (s *Selector) ResetAdmin(ctx context.Context, date string) (Result, error) {
	defer s.lock(date)()

	existed, err := s.store.Delete(date)
	res := Result{Record: DailyRecord{Date: date}, State: StateEmpty, Changed: existed}
	if err != nil {
		res.PersistErr = err
		s.warnPersist(date, "reset", err)
	}
	if existed {
		slog.Info("Daily record deleted", logfields.Date(date))
	}
	return res, nil
}

func (s *Selector) confirmPatch(actor Actor) Patch {
	confirmed := true
	at := s.now()
	return Patch{Confirmed: &confirmed, Actor: &actor, ActorAt: &at}
}

func (s *Selector) commit(date, op string, patch Patch) (Result, error) {
	rec, err := s.store.Upsert(date, patch)
	res := Result{Record: rec, State: rec.State(), Changed: true}
	if err != nil {
		res.PersistErr = err
		s.warnPersist(date, op, err)
	}
	slog.Info("Daily menu updated",
		logfields.Action(op), logfields.Date(date), logfields.Menu(rec.Menu()),
		logfields.State(string(res.State)), logfields.UserID(rec.FirstActorID))
	return res, nil
}

func (s *Selector) warnPersist(date, op string, err error) {
	slog.Warn("Daily state could not be persisted; keeping in-memory decision",
		logfields.Action(op), logfields.Date(date), logfields.Error(err))
}

func suggest(ctx context.Context, op string, sup Supplier) (Suggestion, error) {
	if sup == nil {
		return Suggestion{}, &SupplierError{Op: op, Err: errors.New("no supplier configured")}
	}
	sug, err := sup.Suggest(ctx)
	if err != nil {
		return Suggestion{}, &SupplierError{Op: op, Err: err}
	}
	if sug.Menu == "" {
		return Suggestion{}, &SupplierError{Op: op, Err: errors.New("supplier returned an empty menu")}
	}
	return sug, nil
}
