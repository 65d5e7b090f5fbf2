package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"lunch-menu-bot/internal/logfields"
)

var (
	// ErrTaskNotFound is returned for operations on an unknown task name.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskExists is returned when Add is called twice with the same name.
	ErrTaskExists = errors.New("task already registered")
	// ErrTaskBusy is returned by RunNow while the task is already executing.
	ErrTaskBusy = errors.New("task already in progress")
)

// TaskFunc is the unit of scheduled work.
type TaskFunc func(ctx context.Context) error

// ErrorHandler is called with the error of a failed run.
type ErrorHandler func(ctx context.Context, err error, task string)

// Observer receives the outcome of every run.
type Observer interface {
	ObserveTask(task string, duration time.Duration, err error)
}

// TaskOptions configures a task.
type TaskOptions struct {
	OnError ErrorHandler
}

// TaskStatus describes a registered task.
type TaskStatus struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	Running   bool       `json:"running"`
	InFlight  bool       `json:"inFlight,omitempty"`
	NextRun   *time.Time `json:"nextRun,omitempty"`
	LastRun   *time.Time `json:"lastRun,omitempty"`
	LastError string     `json:"lastError,omitempty"`
}

type task struct {
	name     string
	schedule string
	fn       TaskFunc
	onError  ErrorHandler
	jobID    uuid.UUID
	job      gocron.Job

	running   bool
	inFlight  bool
	lastRun   *time.Time
	lastError string
}

// Scheduler runs named cron tasks in a fixed time zone. Tasks are registered
// stopped; Start or StartAll lets them fire.
type Scheduler struct {
	scheduler gocron.Scheduler
	loc       *time.Location
	observer  Observer

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	tasks map[string]*task
}

// NewScheduler creates a scheduler evaluating cron expressions in loc.
func NewScheduler(loc *time.Location, observer Observer) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	s, err := gocron.NewScheduler(gocron.WithLocation(loc))
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	sch := &Scheduler{
		scheduler: s,
		loc:       loc,
		observer:  observer,
		ctx:       ctx,
		cancel:    cancel,
		tasks:     make(map[string]*task),
	}
	s.Start()
	return sch, nil
}

// Add registers a cron task. An invalid expression is rejected.
func (s *Scheduler) Add(name, cronExpr string, fn TaskFunc, opts TaskOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[name]; ok {
		return fmt.Errorf("%w: %s", ErrTaskExists, name)
	}

	withSeconds := len(strings.Fields(cronExpr)) == 6
	job, err := s.scheduler.NewJob(
		gocron.CronJob(cronExpr, withSeconds),
		gocron.NewTask(s.fire, name),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("invalid schedule %q for task %s: %w", cronExpr, name, err)
	}

	s.tasks[name] = &task{
		name:     name,
		schedule: cronExpr,
		fn:       fn,
		onError:  opts.OnError,
		jobID:    job.ID(),
		job:      job,
	}
	slog.Info("Task registered", logfields.Task(name), logfields.Schedule(cronExpr))
	return nil
}

// Start lets a task fire on its schedule.
func (s *Scheduler) Start(name string) error {
	return s.setRunning(name, true)
}

// Stop keeps a task registered but stops it firing.
func (s *Scheduler) Stop(name string) error {
	return s.setRunning(name, false)
}

func (s *Scheduler) setRunning(name string, running bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	t.running = running
	if running {
		slog.Info("Task started", logfields.Task(name), logfields.Schedule(t.schedule))
	} else {
		slog.Info("Task stopped", logfields.Task(name))
	}
	return nil
}

// StartAll starts every registered task.
func (s *Scheduler) StartAll() {
	for _, name := range s.names() {
		_ = s.Start(name)
	}
}

// StopAll stops every registered task.
func (s *Scheduler) StopAll() {
	for _, name := range s.names() {
		_ = s.Stop(name)
	}
}

// Remove unregisters a task.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	if err := s.scheduler.RemoveJob(t.jobID); err != nil {
		return fmt.Errorf("failed to remove task %s: %w", name, err)
	}
	delete(s.tasks, name)
	return nil
}

// RunNow runs a task immediately, whether or not it is started, and returns
// its error after the error handler has seen it. A task never overlaps itself:
// RunNow fails with ErrTaskBusy while a scheduled or manual run is executing.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	if t.inFlight {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskBusy, name)
	}
	t.inFlight = true
	s.mu.Unlock()
	return s.execute(ctx, t)
}

// Status reports one task.
func (s *Scheduler) Status(name string) (TaskStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	if !ok {
		return TaskStatus{}, fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	return s.statusLocked(t), nil
}

// AllStatus reports every task, sorted by name.
func (s *Scheduler) AllStatus() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskStatus, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, s.statusLocked(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) statusLocked(t *task) TaskStatus {
	st := TaskStatus{
		Name:      t.name,
		Schedule:  t.schedule,
		Running:   t.running,
		InFlight:  t.inFlight,
		LastRun:   t.lastRun,
		LastError: t.lastError,
	}
	if t.running {
		if next, err := t.job.NextRun(); err == nil && !next.IsZero() {
			next = next.In(s.loc)
			st.NextRun = &next
		}
	}
	return st
}

// Shutdown stops every task and releases the underlying scheduler.
func (s *Scheduler) Shutdown() error {
	slog.Info("Stopping scheduler")
	s.cancel()
	return s.scheduler.Shutdown()
}

func (s *Scheduler) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// fire is the gocron entry point.
func (s *Scheduler) fire(name string) {
	s.mu.Lock()
	t, ok := s.tasks[name]
	if !ok || !t.running {
		s.mu.Unlock()
		return
	}
	if t.inFlight {
		s.mu.Unlock()
		slog.Warn("Skipping scheduled run; task still in progress", logfields.Task(name))
		return
	}
	t.inFlight = true
	s.mu.Unlock()
	_ = s.execute(s.ctx, t)
}

// execute runs t, which the caller has marked in flight.
func (s *Scheduler) execute(ctx context.Context, t *task) (err error) {
	start := time.Now()
	slog.Info("Running task", logfields.Task(t.name))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.name, r)
		}
		elapsed := time.Since(start)

		s.mu.Lock()
		ran := start.In(s.loc)
		t.inFlight = false
		t.lastRun = &ran
		t.lastError = ""
		if err != nil {
			t.lastError = err.Error()
		}
		s.mu.Unlock()

		if s.observer != nil {
			s.observer.ObserveTask(t.name, elapsed, err)
		}
		if err != nil {
			slog.Error("Task failed", logfields.Task(t.name), logfields.DurationMS(elapsed.Milliseconds()), logfields.Error(err))
			s.notify(ctx, t, err)
			return
		}
		slog.Info("Task completed", logfields.Task(t.name), logfields.DurationMS(elapsed.Milliseconds()))
	}()

	return t.fn(ctx)
}

func (s *Scheduler) notify(ctx context.Context, t *task, err error) {
	if t.onError == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Task error handler panicked", logfields.Task(t.name), slog.Any("panic", r))
		}
	}()
	t.onError(ctx, err, t.name)
}
