package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"lunch-menu-bot/internal/config"
	"lunch-menu-bot/internal/database"
	"lunch-menu-bot/internal/menu"
	"lunch-menu-bot/internal/metrics"
	"lunch-menu-bot/internal/server"
)

const (
	clientTokenTTL = 5 * time.Minute
	requestTimeout = 30 * time.Second
)

// Global is passed to every command.
type Global struct {
	Config *config.Config
	Out    io.Writer
	// Now defaults to time.Now.
	Now func() time.Time
}

func (g *Global) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// client returns an admin API client for the running bot, authenticated
// with a short-lived token minted from ADMIN_JWT_SECRET.
func (g *Global) client() (*server.Client, error) {
	if g.Config.AdminJWTSecret == "" {
		return nil, errors.New("ADMIN_JWT_SECRET environment variable not set; the admin API is required")
	}
	token, err := server.IssueAdminToken(g.Config.AdminJWTSecret, "lunchctl", clientTokenTTL, g.now())
	if err != nil {
		return nil, err
	}
	return server.NewClient(g.Config.AdminURL, token, &http.Client{Timeout: requestTimeout}), nil
}

// auditStore opens the audit database directly. SQLite serialises writers
// across processes, so this is safe next to a running bot.
func (g *Global) auditStore() (*metrics.Store, func() error, error) {
	db, err := database.NewDB(g.Config.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init database: %w", err)
	}
	return metrics.NewStore(db.SQL), db.Close, nil
}

// CLI is the root of the command tree.
type CLI struct {
	EnvFile string `name:"env-file" help:"Dotenv file to read before the environment" default:".env"`
	Server  string `name:"server" help:"Admin API base URL of the running bot; overrides LUNCHBOT_ADMIN_URL"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	RunNow        RunNowCmd        `cmd:"" name:"run-now" help:"Ask the bot to scrape and post today's menu now"`
	Status        StatusCmd        `cmd:"" help:"Show scheduled tasks, stored daily records and the menu catalog"`
	History       HistoryCmd       `cmd:"" help:"Show recent button activity"`
	Reset         ResetCmd         `cmd:"" help:"Delete the record of a day"`
	Cancel        CancelCmd        `cmd:"" help:"Withdraw the confirmation of a day"`
	Prune         PruneCmd         `cmd:"" help:"Drop daily records past the retention window"`
	Token         TokenCmd         `cmd:"" help:"Issue a bearer token for the admin API"`
	CleanupEvents CleanupEventsCmd `cmd:"" name:"cleanup-events" help:"Delete audit events older than N days"`
}

// AfterApply sets up logging once flags are parsed.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// RunNowCmd implements 'run-now'.
type RunNowCmd struct{}

func (c *RunNowCmd) Run(g *Global) error {
	client, err := g.client()
	if err != nil {
		return err
	}
	if err := client.Run(context.Background()); err != nil {
		return err
	}
	fmt.Fprintln(g.Out, "Daily menu run started; check the bot log for the result.")
	return nil
}

// StatusCmd implements 'status'.
type StatusCmd struct{}

type statusView struct {
	server.StatusView
	StateFile metrics.FileUsage `json:"stateFile"`
	Database  metrics.FileUsage `json:"database"`
}

func (c *StatusCmd) Run(g *Global) error {
	client, err := g.client()
	if err != nil {
		return err
	}
	view, err := client.Status(context.Background())
	if err != nil {
		return err
	}
	sys := metrics.GetSysHealth(g.Config.StateFile, g.Config.DatabasePath)
	return printJSON(g.Out, statusView{StatusView: view, StateFile: sys.StateFile, Database: sys.Database})
}

// HistoryCmd implements 'history'.
type HistoryCmd struct {
	Days  int `help:"Number of days to summarise" default:"7"`
	Limit int `help:"Number of recent events to list" default:"20"`
}

func (c *HistoryCmd) Run(g *Global) error {
	ctx := context.Background()
	audit, closeDB, err := g.auditStore()
	if err != nil {
		return err
	}
	defer closeDB()

	activity, err := audit.GetDailyActivity(ctx, c.Days)
	if err != nil {
		return err
	}
	events, err := audit.RecentEvents(ctx, c.Limit)
	if err != nil {
		return err
	}
	return printJSON(g.Out, map[string]any{
		"activity": activity,
		"events":   events,
	})
}

// DayFlag selects the day a command changes.
type DayFlag struct {
	Date string `help:"Day to change (YYYY-MM-DD); defaults to today"`
}

func (d DayFlag) resolve(now time.Time, loc *time.Location) (string, error) {
	if d.Date == "" {
		return menu.DateKey(now, loc), nil
	}
	if _, err := menu.ParseDate(d.Date); err != nil {
		return "", err
	}
	return d.Date, nil
}

func mutate(g *Global, d DayFlag, op func(*server.Client, context.Context, string) (server.DayChange, error)) error {
	date, err := d.resolve(g.now(), g.Config.Location)
	if err != nil {
		return err
	}
	client, err := g.client()
	if err != nil {
		return err
	}
	change, err := op(client, context.Background(), date)
	if err != nil {
		return err
	}
	if change.PersistError != "" {
		return fmt.Errorf("change applied in memory only: %s", change.PersistError)
	}
	return printJSON(g.Out, change)
}

// ResetCmd implements 'reset'.
type ResetCmd struct {
	Day DayFlag `embed:""`
}

func (c *ResetCmd) Run(g *Global) error {
	return mutate(g, c.Day, (*server.Client).ResetDay)
}

// CancelCmd implements 'cancel'.
type CancelCmd struct {
	Day DayFlag `embed:""`
}

func (c *CancelCmd) Run(g *Global) error {
	return mutate(g, c.Day, (*server.Client).CancelDay)
}

// PruneCmd implements 'prune'.
type PruneCmd struct{}

func (c *PruneCmd) Run(g *Global) error {
	client, err := g.client()
	if err != nil {
		return err
	}
	res, err := client.Prune(context.Background())
	if err != nil {
		return err
	}
	if res.PersistError != "" {
		return fmt.Errorf("removed %d record(s) in memory only: %s", res.Removed, res.PersistError)
	}
	fmt.Fprintf(g.Out, "Removed %d record(s).\n", res.Removed)
	return nil
}

// TokenCmd implements 'token'.
type TokenCmd struct {
	Subject string        `help:"Token subject, recorded in the server log" default:"lunchctl"`
	TTL     time.Duration `name:"ttl" help:"Token lifetime" default:"1h"`
}

func (c *TokenCmd) Run(g *Global) error {
	if g.Config.AdminJWTSecret == "" {
		return fmt.Errorf("ADMIN_JWT_SECRET environment variable not set")
	}
	token, err := server.IssueAdminToken(g.Config.AdminJWTSecret, c.Subject, c.TTL, g.now())
	if err != nil {
		return err
	}
	fmt.Fprintln(g.Out, token)
	return nil
}

// CleanupEventsCmd implements 'cleanup-events'.
type CleanupEventsCmd struct {
	Days int `help:"Keep events from the last N days" default:"30"`
}

func (c *CleanupEventsCmd) Run(g *Global) error {
	audit, closeDB, err := g.auditStore()
	if err != nil {
		return err
	}
	defer closeDB()

	removed, err := audit.Cleanup(context.Background(), c.Days)
	if err != nil {
		return err
	}
	fmt.Fprintf(g.Out, "Removed %d event(s).\n", removed)
	return nil
}
