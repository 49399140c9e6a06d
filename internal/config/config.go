package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"slack-digest/internal/diagnostics"
	"slack-digest/internal/logger"
	"slack-digest/internal/period"
)

type Config struct {
	Slack       SlackConfig       `mapstructure:"slack"`
	Gemini      GeminiConfig      `mapstructure:"gemini"`
	Schedule    ScheduleConfig    `mapstructure:"schedule"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`
	Storage     StorageConfig     `mapstructure:"storage"`
}

type SlackConfig struct {
	BotToken            string   `mapstructure:"bot_token"`
	ChannelID           string   `mapstructure:"channel_id"`
	RecipientIDs        []string `mapstructure:"recipient_ids"`
	PageSize            int      `mapstructure:"page_size"`
	MaxPages            int      `mapstructure:"max_pages"`
	DeliveryConcurrency int      `mapstructure:"delivery_concurrency"`
}

type GeminiConfig struct {
	APIKey        string        `mapstructure:"api_key"`
	BaseURL       string        `mapstructure:"base_url"` // OpenAI-compatible endpoint
	Model         string        `mapstructure:"model"`
	MaxTokens     int           `mapstructure:"max_tokens"`
	Temperature   float32       `mapstructure:"temperature"`
	MaxInputChars int           `mapstructure:"max_input_chars"` // transcript budget per request
	Timeout       time.Duration `mapstructure:"timeout"`
}

// ScheduleConfig holds one standard 5-field cron expression per report kind.
// An empty expression disables that cadence.
type ScheduleConfig struct {
	Timezone string `mapstructure:"timezone"`
	Daily    string `mapstructure:"daily"`
	Weekly   string `mapstructure:"weekly"`
	Monthly  string `mapstructure:"monthly"`
}

type DiagnosticsConfig struct {
	ChatThreshold        time.Duration `mapstructure:"chat_threshold"`
	AIThreshold          time.Duration `mapstructure:"ai_threshold"`
	PersistenceThreshold time.Duration `mapstructure:"persistence_threshold"`
	DefaultThreshold     time.Duration `mapstructure:"default_threshold"`
	Budget               time.Duration `mapstructure:"budget"`
	EnforceBudget        bool          `mapstructure:"enforce_budget"` // exit once the budget is spent
}

type StorageConfig struct {
	DBPath        string    `mapstructure:"db_path"` // empty disables report history
	RetentionDays int       `mapstructure:"retention_days"`
	LogPath       string    `mapstructure:"log_path"`
	Log           LogConfig `mapstructure:"log"`
}

type LogConfig struct {
	Level        string `mapstructure:"level"`         // "debug", "info", "warn", "error"
	Format       string `mapstructure:"format"`        // "text" or "json"
	RotationTime string `mapstructure:"rotation_time"` // Time-based rotation interval (e.g., "1h", "24h")
	MaxSize      int    `mapstructure:"max_size"`      // Maximum size in megabytes before rotation
	MaxBackups   int    `mapstructure:"max_backups"`   // Maximum number of old log files to retain
	MaxAge       int    `mapstructure:"max_age"`       // Maximum number of days to retain old log files
	Compress     bool   `mapstructure:"compress"`      // Whether to compress rotated log files
}

// Environment variables that override file settings.
var envBindings = map[string]string{
	"slack.bot_token":     "SLACK_BOT_TOKEN",
	"slack.channel_id":    "SLACK_CHANNEL_ID",
	"slack.recipient_ids": "RECIPIENT_USER_IDS",
	"gemini.api_key":      "GEMINI_API_KEY",
	"gemini.model":        "GEMINI_MODEL",
	"storage.db_path":     "DB_PATH",
	"storage.log.level":   "LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("slack.page_size", 200)
	v.SetDefault("slack.max_pages", 10)
	v.SetDefault("slack.delivery_concurrency", 4)

	v.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com/v1beta/openai/")
	v.SetDefault("gemini.model", "gemini-2.0-flash")
	v.SetDefault("gemini.max_tokens", 2048)
	v.SetDefault("gemini.temperature", 0.3)
	v.SetDefault("gemini.max_input_chars", 60000)
	v.SetDefault("gemini.timeout", "30s")

	v.SetDefault("schedule.timezone", "Local")
	v.SetDefault("schedule.daily", "0 9 * * *")   // every day at 09:00
	v.SetDefault("schedule.weekly", "0 9 * * 1")  // Mondays at 09:00
	v.SetDefault("schedule.monthly", "0 9 1 * *") // 1st of the month at 09:00

	v.SetDefault("diagnostics.chat_threshold", "10s")
	v.SetDefault("diagnostics.ai_threshold", "20s")
	v.SetDefault("diagnostics.persistence_threshold", "5s")
	v.SetDefault("diagnostics.default_threshold", "30s")
	v.SetDefault("diagnostics.budget", "50s")
	v.SetDefault("diagnostics.enforce_budget", true)

	v.SetDefault("storage.db_path", "")
	v.SetDefault("storage.retention_days", 90)
	v.SetDefault("storage.log_path", "")
	v.SetDefault("storage.log.level", "info")
	v.SetDefault("storage.log.format", "text")
	v.SetDefault("storage.log.rotation_time", "24h")
	v.SetDefault("storage.log.max_size", 50)
	v.SetDefault("storage.log.max_backups", 5)
	v.SetDefault("storage.log.max_age", 28)
	v.SetDefault("storage.log.compress", true)
}

// Load reads the YAML config (explicit path or the usual search paths), then
// applies .env and process environment overrides. It does not validate.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")

		if execPath, err := os.Executable(); err == nil {
			execDir := filepath.Dir(execPath)
			v.AddConfigPath(filepath.Join(execDir, "config"))
			v.AddConfigPath(execDir)
		}
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if homeDir, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".slack-digest"))
		}
	}

	setDefaults(v)

	if err := loadDotEnv(configPath); err != nil {
		return nil, err
	}
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Slack.RecipientIDs = SplitIDs(cfg.Slack.RecipientIDs...)
	if err := normalizePaths(&cfg); err != nil {
		return nil, fmt.Errorf("failed to normalize paths: %w", err)
	}
	return &cfg, nil
}

// loadDotEnv reads .env from the working directory and, when given, the config
// file's directory. Variables already set in the process win.
func loadDotEnv(configPath string) error {
	candidates := []string{".env"}
	if configPath != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(configPath), ".env"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// SplitIDs flattens comma separated entries and drops blanks and duplicates.
func SplitIDs(values ...string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range values {
		for _, id := range strings.Split(v, ",") {
			id = strings.TrimSpace(id)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// ValidationError lists every missing or invalid setting at once.
type ValidationError struct {
	Missing []string
	Invalid []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required configuration: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid configuration: "+strings.Join(e.Invalid, "; "))
	}
	return strings.Join(parts, "; ")
}

// Validate checks the settings a run needs before any external call is made.
func (c *Config) Validate() error {
	verr := &ValidationError{}
	require := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			verr.Missing = append(verr.Missing, describeKey(key))
		}
	}
	require("slack.bot_token", c.Slack.BotToken)
	require("slack.channel_id", c.Slack.ChannelID)
	if len(c.Slack.RecipientIDs) == 0 {
		verr.Missing = append(verr.Missing, describeKey("slack.recipient_ids"))
	}
	require("gemini.api_key", c.Gemini.APIKey)

	if _, err := c.Schedule.Location(); err != nil {
		verr.Invalid = append(verr.Invalid, err.Error())
	}
	for _, kind := range period.Kinds() {
		spec := c.Schedule.Spec(kind)
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			verr.Invalid = append(verr.Invalid, fmt.Sprintf("schedule.%s %q: %v", kind, spec, err))
		}
	}
	if c.Diagnostics.Budget < 0 {
		verr.Invalid = append(verr.Invalid, "diagnostics.budget must not be negative")
	}

	if len(verr.Missing) == 0 && len(verr.Invalid) == 0 {
		return nil
	}
	return verr
}

func describeKey(key string) string {
	if env, ok := envBindings[key]; ok {
		return fmt.Sprintf("%s (%s)", key, env)
	}
	return key
}

// Location resolves the configured timezone. "Local" and empty mean the host zone.
func (s ScheduleConfig) Location() (*time.Location, error) {
	if s.Timezone == "" || s.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

func (s ScheduleConfig) Spec(kind period.Kind) string {
	switch kind {
	case period.Daily:
		return strings.TrimSpace(s.Daily)
	case period.Weekly:
		return strings.TrimSpace(s.Weekly)
	case period.Monthly:
		return strings.TrimSpace(s.Monthly)
	}
	return ""
}

func (d DiagnosticsConfig) Thresholds() diagnostics.Thresholds {
	return diagnostics.Thresholds{
		Chat:        d.ChatThreshold,
		AI:          d.AIThreshold,
		Persistence: d.PersistenceThreshold,
		Default:     d.DefaultThreshold,
		Total:       d.Budget,
	}
}

// InitLogger configures the global logger from the storage.log section.
func (c *Config) InitLogger() error {
	return logger.Init(logger.LogConfig{
		Level:        c.Storage.Log.Level,
		Format:       c.Storage.Log.Format,
		FilePath:     c.Storage.LogPath,
		RotationTime: c.Storage.Log.RotationTime,
		MaxSize:      c.Storage.Log.MaxSize,
		MaxBackups:   c.Storage.Log.MaxBackups,
		MaxAge:       c.Storage.Log.MaxAge,
		Compress:     c.Storage.Log.Compress,
	})
}

// MaskSecret keeps the first and last four characters of long secrets.
func MaskSecret(key string) string {
	if len(key) == 0 {
		return "(not set)"
	}
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func normalizePaths(cfg *Config) error {
	if cfg.Storage.DBPath == "" && cfg.Storage.LogPath == "" {
		return nil
	}
	baseDir, err := getBaseDirectory()
	if err != nil {
		return fmt.Errorf("failed to get base directory: %w", err)
	}
	if cfg.Storage.DBPath != "" && cfg.Storage.DBPath != ":memory:" && !filepath.IsAbs(cfg.Storage.DBPath) {
		cfg.Storage.DBPath = filepath.Join(baseDir, cfg.Storage.DBPath)
	}
	if cfg.Storage.LogPath != "" {
		if !filepath.IsAbs(cfg.Storage.LogPath) {
			cfg.Storage.LogPath = filepath.Join(baseDir, cfg.Storage.LogPath)
		}
		if info, err := os.Stat(cfg.Storage.LogPath); err == nil && info.IsDir() {
			cfg.Storage.LogPath = filepath.Join(cfg.Storage.LogPath, "slack-digest.log")
		}
	}
	return nil
}

// getBaseDirectory resolves relative paths against the project root when the
// binary lives in a bin/ directory next to config/, else the working directory.
func getBaseDirectory() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	execPath, err := os.Executable()
	if err != nil {
		return wd, nil
	}
	if realPath, err := filepath.EvalSymlinks(execPath); err == nil {
		execPath = realPath
	}

	execDir := filepath.Dir(execPath)
	if filepath.Base(execDir) != "bin" {
		return wd, nil
	}
	for dir := filepath.Dir(execDir); ; dir = filepath.Dir(dir) {
		if info, err := os.Stat(filepath.Join(dir, "config")); err == nil && info.IsDir() {
			return dir, nil
		}
		if filepath.Dir(dir) == dir {
			return wd, nil
		}
	}
}
