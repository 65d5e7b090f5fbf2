package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"lunch-menu-bot/internal/logfields"
	"lunch-menu-bot/internal/menu"
	"lunch-menu-bot/internal/scheduler"
	"lunch-menu-bot/internal/supplier"
)

const adminRunTimeout = 5 * time.Minute

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": s.opts.Now().UTC().Format(time.RFC3339),
	})
}

// DayView is a record together with its derived state.
type DayView struct {
	Date   string           `json:"date"`
	State  menu.State       `json:"state"`
	Record menu.DailyRecord `json:"record"`
}

// StatusView is the admin status payload.
type StatusView struct {
	Tasks   []scheduler.TaskStatus `json:"tasks"`
	Today   DayView                `json:"today"`
	Records []menu.DailyRecord     `json:"records"`
	Menus   []supplier.Item        `json:"menus"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view := StatusView{Tasks: []scheduler.TaskStatus{}, Records: []menu.DailyRecord{}, Menus: []supplier.Item{}}
	if s.opts.Tasks != nil {
		view.Tasks = s.opts.Tasks.AllStatus()
	}
	if s.opts.Selector != nil {
		date := s.opts.Selector.Today()
		rec, state := s.opts.Selector.Get(date)
		view.Today = DayView{Date: date, State: state, Record: rec}
	}
	if s.opts.Store != nil {
		view.Records = s.opts.Store.All()
	}
	if s.opts.Catalog != nil {
		view.Menus = s.opts.Catalog.Items()
	}
	writeSuccess(w, http.StatusOK, view)
}

// DayChange reports an admin mutation.
type DayChange struct {
	Date         string     `json:"date"`
	Changed      bool       `json:"changed"`
	State        menu.State `json:"state"`
	PersistError string     `json:"persistError,omitempty"`
}

func (s *Server) handleResetDay(w http.ResponseWriter, r *http.Request) {
	s.mutateDay(w, r, "reset", s.opts.Selector.ResetAdmin)
}

func (s *Server) handleCancelDay(w http.ResponseWriter, r *http.Request) {
	s.mutateDay(w, r, "cancel", s.opts.Selector.Cancel)
}

func (s *Server) mutateDay(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, string) (menu.Result, error)) {
	date := chi.URLParam(r, "date")
	if _, err := menu.ParseDate(date); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := fn(r.Context(), date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	slog.Info("Admin day change", logfields.Action(op), logfields.Date(date),
		slog.Bool("changed", res.Changed), slog.String("admin", adminSubject(r.Context())))

	change := DayChange{Date: date, Changed: res.Changed, State: res.State}
	if res.PersistErr != nil {
		change.PersistError = res.PersistErr.Error()
	}
	writeSuccess(w, http.StatusOK, change)
}

// PruneResult reports an admin prune.
type PruneResult struct {
	Removed      int    `json:"removed"`
	PersistError string `json:"persistError,omitempty"`
}

func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "no state store configured")
		return
	}
	res := PruneResult{Removed: s.opts.Store.Prune(s.opts.Now())}
	if res.Removed > 0 {
		if err := s.opts.Store.Save(); err != nil {
			res.PersistError = err.Error()
		}
	}
	slog.Info("Admin prune", logfields.Count(res.Removed), slog.String("admin", adminSubject(r.Context())))
	writeSuccess(w, http.StatusOK, res)
}

// handleRun starts the daily task in the background. It refuses while the
// task is already running, whether started here or by the scheduler.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.opts.Tasks == nil || s.opts.DailyTask == "" {
		writeError(w, http.StatusServiceUnavailable, "no task configured")
		return
	}
	if s.taskInFlight(s.opts.DailyTask) {
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	}
	select {
	case s.runs <- struct{}{}:
	default:
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	}

	task := s.opts.DailyTask
	admin := adminSubject(r.Context())
	go func() {
		defer func() { <-s.runs }()
		ctx, cancel := context.WithTimeout(context.Background(), adminRunTimeout)
		defer cancel()
		slog.Info("Admin triggered task", logfields.Task(task), slog.String("admin", admin))
		err := s.opts.Tasks.RunNow(ctx, task)
		switch {
		case errors.Is(err, scheduler.ErrTaskBusy):
			slog.Warn("Admin triggered task skipped; a scheduled run is in flight", logfields.Task(task))
		case err != nil:
			slog.Error("Admin triggered task failed", logfields.Task(task), logfields.Error(err))
		}
	}()
	writeSuccess(w, http.StatusAccepted, map[string]string{"task": task, "status": "started"})
}

func (s *Server) taskInFlight(name string) bool {
	for _, st := range s.opts.Tasks.AllStatus() {
		if st.Name == name {
			return st.InFlight
		}
	}
	return false
}
