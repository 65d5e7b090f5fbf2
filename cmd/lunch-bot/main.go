package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lunch-menu-bot/internal/app"
	"lunch-menu-bot/internal/config"
	"lunch-menu-bot/internal/logfields"
	"lunch-menu-bot/internal/server"
	"lunch-menu-bot/internal/telegram"
)

func main() {
	// 1. Load Configuration
	if err := config.LoadDotEnv(".env"); err != nil {
		slog.Error("Failed to read .env", logfields.Error(err))
		os.Exit(1)
	}
	cfg, err := config.NewFromEnv()
	if err != nil {
		slog.Error("Failed to load config", logfields.Error(err))
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Initialize Telegram API
	api, err := telegram.NewAPI(cfg)
	if err != nil {
		slog.Error("Failed to initialize Telegram API", logfields.Error(err))
		os.Exit(1)
	}

	// 3. Wire components
	rt, err := app.NewRuntime(ctx, cfg, api)
	if err != nil {
		slog.Error("Failed to initialize bot", logfields.Error(err))
		os.Exit(1)
	}
	if err := rt.WatchCatalog(ctx); err != nil {
		slog.Warn("Menu catalog hot reload disabled", logfields.Error(err))
	}

	// 4. Start Server with Graceful Shutdown
	srv := server.New(server.Options{
		Addr:      ":" + cfg.Port,
		Webhook:   rt.Bot,
		Registry:  rt.Recorder.Registry(),
		Selector:  rt.Selector,
		Store:     rt.Store,
		Catalog:   rt.Catalog,
		Tasks:     rt.Scheduler,
		DailyTask: app.DailyMenuTask,
		JWTSecret: cfg.AdminJWTSecret,
	})

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Lunch bot server listening", slog.String("port", cfg.Port))
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	rt.Scheduler.StartAll()
	rt.App.NotifyStartup(ctx)

	select {
	case <-ctx.Done():
		slog.Info("Shutting down server...")
	case err := <-serverErr:
		slog.Error("Server failed", logfields.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", logfields.Error(err))
	}
	rt.Bot.Wait()
	if err := rt.Close(); err != nil {
		slog.Error("Failed to release resources", logfields.Error(err))
	}
	slog.Info("Server exiting")
}
