package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lunch-menu-bot/internal/menu"
	"lunch-menu-bot/internal/metrics"
	"lunch-menu-bot/internal/scheduler"
	"lunch-menu-bot/internal/supplier"
)

const testSecret = "s3cret"

type fakeRunner struct {
	ran      chan string
	inFlight atomic.Bool
}

func (f *fakeRunner) AllStatus() []scheduler.TaskStatus {
	return []scheduler.TaskStatus{{Name: "daily-menu", Schedule: "0 12 * * 1-5", Running: true, InFlight: f.inFlight.Load()}}
}

func (f *fakeRunner) RunNow(_ context.Context, name string) error {
	f.ran <- name
	return nil
}

type testEnv struct {
	srv      *Server
	selector *menu.Selector
	store    *menu.Store
	runner   *fakeRunner
	webhook  chan struct{}
	recorder *metrics.Recorder
}

var testNow = time.Date(2025, 6, 9, 12, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T, secret string) *testEnv {
	t.Helper()
	clock := func() time.Time { return testNow }
	store, err := menu.NewStore(filepath.Join(t.TempDir(), "state.json"), menu.WithStoreClock(clock), menu.WithStoreLocation(time.UTC))
	require.NoError(t, err)
	selector := menu.NewSelector(store, clock, time.UTC)

	env := &testEnv{
		selector: selector,
		store:    store,
		runner:   &fakeRunner{ran: make(chan string, 1)},
		webhook:  make(chan struct{}, 1),
		recorder: metrics.NewRecorder(prom.NewRegistry()),
	}
	env.srv = New(Options{
		Webhook: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			env.webhook <- struct{}{}
			w.WriteHeader(http.StatusOK)
		}),
		Registry:  env.recorder.Registry(),
		Selector:  selector,
		Store:     store,
		Catalog:   supplier.NewCatalog([]supplier.Item{{Name: "Pho", Indoor: true}, {Name: "Bibimbap"}}),
		Tasks:     env.runner,
		DailyTask: "daily-menu",
		JWTSecret: secret,
		Now:       clock,
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func validToken(t *testing.T) string {
	t.Helper()
	tok, err := IssueAdminToken(testSecret, "ops", time.Hour, time.Now())
	require.NoError(t, err)
	return tok
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data interface{}) {
	t.Helper()
	resp := Response{Data: data}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.True(t, resp.Success, resp.Error)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "2025-06-09T12:00:00Z", body["timestamp"])
}

func TestWebhookRoute(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodPost, "/webhook", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	select {
	case <-env.webhook:
	default:
		t.Fatal("webhook handler not called")
	}

	rec = env.do(t, http.MethodGet, "/webhook", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, "")
	env.recorder.IncAction("confirm", metrics.OutcomeOK)

	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `lunchbot_actions_total{action="confirm",outcome="ok"} 1`)
}

func TestAdminDisabledWithoutSecret(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodGet, "/admin/status", "anything")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminAuth(t *testing.T) {
	env := newTestEnv(t, testSecret)

	expired, err := IssueAdminToken(testSecret, "ops", time.Hour, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	otherSecret, err := IssueAdminToken("other", "ops", time.Hour, time.Now())
	require.NoError(t, err)
	wrongAud, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"aud": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"aud": AdminAudience,
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"garbage", "not-a-jwt"},
		{"expired", expired},
		{"wrong secret", otherSecret},
		{"wrong audience", wrongAud},
		{"no expiry", noExp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/admin/status", tt.token)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}

	rec := env.do(t, http.MethodGet, "/admin/status", validToken(t))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminStatus(t *testing.T) {
	env := newTestEnv(t, testSecret)
	_, err := env.selector.InstantSelectAndConfirm(context.Background(), "2025-06-09",
		menu.SupplierFunc(func(context.Context) (menu.Suggestion, error) { return menu.Suggestion{Menu: "Pho"}, nil }),
		menu.Actor{ID: "1", Name: "alice"})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/admin/status", validToken(t))
	require.Equal(t, http.StatusOK, rec.Code)

	var view StatusView
	decode(t, rec, &view)
	require.Len(t, view.Tasks, 1)
	assert.Equal(t, "daily-menu", view.Tasks[0].Name)
	assert.Equal(t, "2025-06-09", view.Today.Date)
	assert.Equal(t, menu.StateConfirmed, view.Today.State)
	require.Len(t, view.Records, 1)
	assert.Equal(t, "Pho", view.Records[0].Menu())
	require.Len(t, view.Menus, 2)
	assert.Equal(t, "Pho", view.Menus[0].Name)
	assert.True(t, view.Menus[0].Indoor)
}

func TestAdminDayMutations(t *testing.T) {
	env := newTestEnv(t, testSecret)
	token := validToken(t)
	_, err := env.selector.InstantSelectAndConfirm(context.Background(), "2025-06-09",
		menu.SupplierFunc(func(context.Context) (menu.Suggestion, error) { return menu.Suggestion{Menu: "Pho"}, nil }),
		menu.Actor{ID: "1"})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/admin/days/2025-06-09/cancel", token)
	require.Equal(t, http.StatusOK, rec.Code)
	var change DayChange
	decode(t, rec, &change)
	assert.True(t, change.Changed)
	assert.Equal(t, menu.StatePreviewed, change.State)

	rec = env.do(t, http.MethodDelete, "/admin/days/2025-06-09", token)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &change)
	assert.True(t, change.Changed)
	_, state := env.selector.Get("2025-06-09")
	assert.Equal(t, menu.StateEmpty, state)

	rec = env.do(t, http.MethodDelete, "/admin/days/2025-06-09", token)
	decode(t, rec, &change)
	assert.False(t, change.Changed)

	rec = env.do(t, http.MethodDelete, "/admin/days/yesterday", token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRun(t *testing.T) {
	env := newTestEnv(t, testSecret)

	rec := env.do(t, http.MethodPost, "/admin/run", validToken(t))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "daily-menu"))

	select {
	case name := <-env.runner.ran:
		assert.Equal(t, "daily-menu", name)
	case <-time.After(2 * time.Second):
		t.Fatal("task was not run")
	}
}

func TestAdminRunRefusedWhileInFlight(t *testing.T) {
	env := newTestEnv(t, testSecret)
	env.runner.inFlight.Store(true)

	rec := env.do(t, http.MethodPost, "/admin/run", validToken(t))
	assert.Equal(t, http.StatusConflict, rec.Code)
	select {
	case <-env.runner.ran:
		t.Fatal("task ran while another run was in flight")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAdminPrune(t *testing.T) {
	env := newTestEnv(t, testSecret)
	old := testNow.AddDate(0, 0, -(menu.RetentionDays + 5))
	_, err := env.store.Upsert(menu.DateKey(old, time.UTC), menu.Patch{SelectedMenu: ptr("Ramen")})
	require.NoError(t, err)
	_, err = env.store.Upsert("2025-06-09", menu.Patch{SelectedMenu: ptr("Pho")})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/admin/prune", validToken(t))
	require.Equal(t, http.StatusOK, rec.Code)
	var res PruneResult
	decode(t, rec, &res)
	assert.Equal(t, 1, res.Removed)
	assert.Empty(t, res.PersistError)

	reloaded, err := menu.NewStore(env.store.Path(), menu.WithStoreClock(func() time.Time { return testNow }), menu.WithStoreLocation(time.UTC))
	require.NoError(t, err)
	reloaded.Load()
	require.Len(t, reloaded.All(), 1)
	assert.Equal(t, "2025-06-09", reloaded.All()[0].Date)
}

func TestIssueAdminToken(t *testing.T) {
	_, err := IssueAdminToken("", "ops", time.Hour, time.Now())
	require.Error(t, err)
	_, err = IssueAdminToken(testSecret, "ops", 0, time.Now())
	require.Error(t, err)

	tok := validToken(t)
	sub, err := ValidateAdminToken(testSecret, tok)
	require.NoError(t, err)
	assert.Equal(t, "ops", sub)
}

func ptr(s string) *string { return &s }
