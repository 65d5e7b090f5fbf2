package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lunch-menu-bot/internal/config"
	"lunch-menu-bot/internal/database"
	"lunch-menu-bot/internal/llm"
	"lunch-menu-bot/internal/logfields"
	"lunch-menu-bot/internal/menu"
	"lunch-menu-bot/internal/metrics"
	"lunch-menu-bot/internal/scheduler"
	"lunch-menu-bot/internal/scraper"
	"lunch-menu-bot/internal/supplier"
	"lunch-menu-bot/internal/telegram"
	"lunch-menu-bot/internal/weather"
)

// Runtime is the fully wired bot shared by the server and the CLI.
type Runtime struct {
	Config    *config.Config
	Store     *menu.Store
	Selector  *menu.Selector
	Catalog   *supplier.Catalog
	Watcher   *supplier.Watcher
	Supplier  *supplier.WeatherAware
	DB        *database.DB
	Audit     *metrics.Store
	Recorder  *metrics.Recorder
	Scheduler *scheduler.Scheduler
	Bot       *telegram.Bot
	App       *App

	closers []func() error
}

// NewRuntime builds every component from cfg. messenger carries outgoing
// Telegram traffic.
func NewRuntime(ctx context.Context, cfg *config.Config, messenger telegram.Messenger) (*Runtime, error) {
	rt := &Runtime{Config: cfg}

	store, err := menu.NewStore(cfg.StateFile, menu.WithStoreLocation(cfg.Location))
	if err != nil {
		return nil, err
	}
	store.Load()
	rt.Store = store
	rt.Selector = menu.NewSelector(store, time.Now, cfg.Location)

	catalog, err := LoadCatalog(cfg)
	if err != nil {
		return nil, err
	}
	rt.Catalog = catalog

	var source supplier.WeatherSource
	if cfg.WeatherEnabled {
		threshold := cfg.ColdThreshold
		source = weather.NewClient(weather.Options{
			Latitude:      cfg.WeatherLat,
			Longitude:     cfg.WeatherLon,
			Timezone:      cfg.Timezone,
			ColdThreshold: &threshold,
		})
	}
	rt.Supplier = supplier.NewWeatherAware(supplier.NewRandom(catalog, nil), source, time.Now, cfg.Location)

	db, err := database.NewDB(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}
	rt.DB = db
	rt.closers = append(rt.closers, db.Close)
	rt.Audit = metrics.NewStore(db.SQL)
	rt.Recorder = metrics.NewRecorder(nil)

	sched, err := scheduler.NewScheduler(cfg.Location, rt.Recorder)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Scheduler = sched
	rt.closers = append(rt.closers, sched.Shutdown)

	var extractor llm.TextExtractor
	if cfg.GeminiAPIKey != "" {
		gemini, err := llm.NewGeminiClient(ctx, cfg)
		if err != nil {
			rt.Close()
			return nil, err
		}
		extractor = gemini
		rt.closers = append(rt.closers, gemini.Close)
	} else {
		slog.Info("GEMINI_API_KEY not set; menu text extraction disabled")
	}

	rt.Bot = telegram.NewBot(cfg, messenger, telegram.Options{
		Selector: rt.Selector,
		Supplier: rt.Supplier,
		Audit:    rt.Audit,
		Recorder: rt.Recorder,
	})
	rt.App = NewApp(cfg, Deps{
		Fetcher:   scraper.New(nil),
		Extractor: extractor,
		Publisher: rt.Bot,
		Store:     store,
		Audit:     rt.Audit,
	})
	if err := rt.App.RegisterJobs(sched); err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to register jobs: %w", err)
	}
	return rt, nil
}

// WatchCatalog reloads the catalog file on change. It is a no-op without
// MENU_CATALOG_PATH.
func (rt *Runtime) WatchCatalog(ctx context.Context) error {
	if rt.Config.MenuCatalogPath == "" {
		return nil
	}
	w, err := supplier.NewWatcher(rt.Config.MenuCatalogPath, rt.Catalog, time.Second)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	rt.Watcher = w
	rt.closers = append([]func() error{w.Stop}, rt.closers...)
	return nil
}

// Close releases every component in reverse order of creation.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// LoadCatalog picks the menu catalog: the YAML file, then ALTERNATIVE_MENUS,
// then the built-in defaults.
func LoadCatalog(cfg *config.Config) (*supplier.Catalog, error) {
	switch {
	case cfg.MenuCatalogPath != "":
		items, err := supplier.LoadCatalogFile(cfg.MenuCatalogPath)
		if err != nil {
			return nil, err
		}
		slog.Info("Loaded menu catalog", logfields.Path(cfg.MenuCatalogPath), logfields.Count(len(items)))
		return supplier.NewCatalog(items), nil
	case cfg.AlternativeMenus != "":
		items := supplier.ParseMenuList(cfg.AlternativeMenus)
		if len(items) == 0 {
			return nil, fmt.Errorf("ALTERNATIVE_MENUS has no menu names")
		}
		return supplier.NewCatalog(items), nil
	default:
		return supplier.NewCatalog(supplier.DefaultMenus), nil
	}
}
