package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/DeRuina/timberjack"
	"github.com/sirupsen/logrus"
)

var (
	// Logger is the global logger instance
	Logger *logrus.Logger

	mu          sync.Mutex
	initialized bool
	fileWriter  *timberjack.Logger
)

// LogConfig holds configuration for logging
type LogConfig struct {
	Level        string // "debug", "info", "warn", "error"
	Format       string // "text" or "json"
	FilePath     string // Optional log file; empty logs to stdout only
	RotationTime string // Time-based rotation interval (e.g., "1h", "24h")
	MaxSize      int    // Megabytes before rotation
	MaxBackups   int
	MaxAge       int // Days
	Compress     bool
}

// Init configures the global logger. Subsequent calls are ignored until Close.
func Init(config LogConfig) error {
	mu.Lock()
	defer mu.Unlock()

	if initialized && Logger != nil {
		return nil
	}
	if Logger == nil {
		Logger = logrus.New()
	}

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	Logger.SetLevel(level)
	Logger.SetFormatter(newFormatter(config.Format))

	var writers []io.Writer
	// The daemon points stdout at the log file, which the rotating writer already covers.
	if config.FilePath == "" || !stdoutIsRegularFile() {
		writers = append(writers, os.Stdout)
	}

	if config.FilePath != "" {
		dir := filepath.Dir(config.FilePath)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return err
			}
		}

		rotation := 24 * time.Hour
		if config.RotationTime != "" {
			rotation, err = time.ParseDuration(config.RotationTime)
			if err != nil {
				return fmt.Errorf("invalid rotation_time: %w", err)
			}
		}

		compression := ""
		if config.Compress {
			compression = "gzip"
		}

		fileWriter = &timberjack.Logger{
			Filename:         config.FilePath,
			MaxSize:          orDefault(config.MaxSize, 50),
			MaxBackups:       orDefault(config.MaxBackups, 5),
			MaxAge:           orDefault(config.MaxAge, 14),
			RotationInterval: rotation,
			Compression:      compression,
			LocalTime:        true,
		}
		writers = append(writers, fileWriter)
	}

	Logger.SetOutput(io.MultiWriter(writers...))
	initialized = true
	return nil
}

// Close flushes and releases the rotating log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	initialized = false
	if fileWriter == nil {
		return nil
	}
	err := fileWriter.Close()
	fileWriter = nil
	return err
}

func stdoutIsRegularFile() bool {
	stat, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return stat.Mode().IsRegular()
}

// GetLogger returns the global logger instance
func GetLogger() *logrus.Logger {
	mu.Lock()
	defer mu.Unlock()

	if Logger == nil {
		// Not marked initialized so a later Init can still configure output.
		Logger = logrus.New()
		Logger.SetOutput(os.Stderr)
		Logger.SetLevel(logrus.InfoLevel)
		Logger.SetFormatter(newFormatter("text"))
	}
	return Logger
}

// WithComponent tags entries with the subsystem that emitted them.
func WithComponent(name string) *logrus.Entry {
	return GetLogger().WithField("component", name)
}

func newFormatter(format string) logrus.Formatter {
	if format == "json" {
		return &logrus.JSONFormatter{TimestampFormat: time.RFC3339}
	}
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		DisableColors:   true,
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
