package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the configuration for the bot and the operator CLI.
type Config struct {
	// Telegram Config
	TelegramBotToken   string
	TelegramWebhookURL string
	// TelegramWebhookSecret is echoed by Telegram in the
	// X-Telegram-Bot-Api-Secret-Token header of every webhook call.
	TelegramWebhookSecret string
	LunchChatID           int64
	StartupChatID         int64
	AdminTelegramIDs      []int64

	MenuPageURL  string
	ScheduleCron string
	Timezone     string
	Location     *time.Location

	StateFile    string
	DatabasePath string
	Port         string
	LogLevel     slog.Level

	// Menu selection
	MenuCatalogPath   string
	AlternativeMenus  string
	RerollMaxAttempts int

	// Weather
	WeatherEnabled bool
	ColdThreshold  float64
	WeatherLat     float64
	WeatherLon     float64

	// Optional integrations
	GeminiAPIKey   string
	AdminJWTSecret string
	// AdminURL is where lunchctl reaches the running bot's admin API.
	AdminURL string
}

var webhookSecretPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,256}$`)

const (
	defaultScheduleCron = "0 12 * * 1-5"
	defaultTimezone     = "Asia/Seoul"
	defaultStateFile    = "data/daily-state.json"
	defaultDatabasePath = "data/lunchbot.db"
	defaultPort         = "8080"
)

// LoadDotEnv loads a .env file into the environment when one exists.
// Variables already set are not overridden.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// NewFromEnv creates a new Config object from environment variables.
func NewFromEnv() (*Config, error) {
	telegramBotToken := os.Getenv("TELEGRAM_BOT_TOKEN")
	if telegramBotToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN environment variable not set")
	}

	lunchChatStr := os.Getenv("LUNCH_CHAT_ID")
	if lunchChatStr == "" {
		return nil, fmt.Errorf("LUNCH_CHAT_ID environment variable not set")
	}
	lunchChatID, err := strconv.ParseInt(strings.TrimSpace(lunchChatStr), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("LUNCH_CHAT_ID must be a numeric chat id: %w", err)
	}

	menuPageURL := os.Getenv("MENU_PAGE_URL")
	if menuPageURL == "" {
		return nil, fmt.Errorf("MENU_PAGE_URL environment variable not set")
	}

	startupChatID := lunchChatID
	if s := os.Getenv("STARTUP_CHAT_ID"); s != "" {
		startupChatID, err = strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("STARTUP_CHAT_ID must be a numeric chat id: %w", err)
		}
	}

	adminIDs, err := parseIDList(os.Getenv("ADMIN_TELEGRAM_IDS"))
	if err != nil {
		return nil, fmt.Errorf("ADMIN_TELEGRAM_IDS: %w", err)
	}

	tz := getenvDefault("TIMEZONE", defaultTimezone)
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q is not a valid time zone: %w", tz, err)
	}

	rerollMax, err := intFromEnv("REROLL_MAX_ATTEMPTS", 5)
	if err != nil {
		return nil, err
	}
	if rerollMax < 1 {
		return nil, fmt.Errorf("REROLL_MAX_ATTEMPTS must be at least 1")
	}

	coldThreshold, err := floatFromEnv("COLD_THRESHOLD", -5)
	if err != nil {
		return nil, err
	}
	lat, err := floatFromEnv("WEATHER_LAT", 37.5665)
	if err != nil {
		return nil, err
	}
	lon, err := floatFromEnv("WEATHER_LON", 126.9780)
	if err != nil {
		return nil, err
	}

	webhookSecret := os.Getenv("TELEGRAM_WEBHOOK_SECRET")
	if webhookSecret != "" && !webhookSecretPattern.MatchString(webhookSecret) {
		return nil, fmt.Errorf("TELEGRAM_WEBHOOK_SECRET must be 1-256 characters of A-Z, a-z, 0-9, _ or -")
	}
	port := getenvDefault("PORT", defaultPort)

	weatherEnabled := true
	if s := os.Getenv("WEATHER_ENABLED"); s != "" {
		weatherEnabled, err = strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("WEATHER_ENABLED must be true or false: %w", err)
		}
	}

	return &Config{
		TelegramBotToken:      telegramBotToken,
		TelegramWebhookURL:    os.Getenv("TELEGRAM_WEBHOOK_URL"),
		TelegramWebhookSecret: webhookSecret,
		LunchChatID:           lunchChatID,
		StartupChatID:         startupChatID,
		AdminTelegramIDs:      adminIDs,
		MenuPageURL:           menuPageURL,
		ScheduleCron:          getenvDefault("SCHEDULE_CRON", defaultScheduleCron),
		Timezone:              tz,
		Location:              loc,
		StateFile:             getenvDefault("STATE_FILE", defaultStateFile),
		DatabasePath:          getenvDefault("DATABASE_PATH", defaultDatabasePath),
		Port:                  port,
		LogLevel:              parseLogLevel(os.Getenv("LOG_LEVEL")),
		MenuCatalogPath:       os.Getenv("MENU_CATALOG_PATH"),
		AlternativeMenus:      os.Getenv("ALTERNATIVE_MENUS"),
		RerollMaxAttempts:     rerollMax,
		WeatherEnabled:        weatherEnabled,
		ColdThreshold:         coldThreshold,
		WeatherLat:            lat,
		WeatherLon:            lon,
		GeminiAPIKey:          os.Getenv("GEMINI_API_KEY"),
		AdminJWTSecret:        os.Getenv("ADMIN_JWT_SECRET"),
		AdminURL:              getenvDefault("LUNCHBOT_ADMIN_URL", "http://localhost:"+port),
	}, nil
}

// IsAdmin reports whether the Telegram user may run admin actions. With no
// admin list configured everyone may.
func (c *Config) IsAdmin(userID int64) bool {
	return len(c.AdminTelegramIDs) == 0 || c.IsListedAdmin(userID)
}

// IsListedAdmin reports whether userID appears in ADMIN_TELEGRAM_IDS.
func (c *Config) IsListedAdmin(userID int64) bool {
	for _, id := range c.AdminTelegramIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func intFromEnv(key string, def int) (int, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return v, nil
}

func floatFromEnv(key string, def float64) (float64, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", key, err)
	}
	return v, nil
}

func parseIDList(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
