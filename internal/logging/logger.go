// Package logging provides categorized diagnostic file logging for pilot.
// Logs are written to <home>/logs/ with a separate date-stamped file per
// category. Logging is controlled by logging.debug_mode in config.yaml;
// when false, every logger is a silent no-op.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup and shutdown
	CategoryServer    Category = "server"    // Connection handling, turns
	CategoryTmux      Category = "tmux"      // Multiplexer subprocess calls
	CategoryTranslate Category = "translate" // Gemini calls, prompt assembly
	CategoryContext   Category = "context"   // Rolling context document updates
)

// Settings mirrors config.LoggingConfig without importing the config
// package, keeping this package dependency-free.
type Settings struct {
	DebugMode  bool
	Level      string
	Categories map[string]bool
	JSONFormat bool
}

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// entry is the JSON log record written when JSONFormat is enabled.
type entry struct {
	Timestamp int64  `json:"ts"` // Unix milliseconds
	Category  string `json:"cat"`
	Level     string `json:"lvl"`
	Message   string `json:"msg"`
}

// Logger writes to one category's log file. The zero value is a no-op.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	mu       sync.RWMutex
	loggers  = make(map[Category]*Logger)
	logsDir  string
	settings Settings
	logLevel int
)

// Initialize sets up the logging directory and applies settings. Call once
// at startup; safe to skip entirely (all loggers no-op when uninitialized).
func Initialize(dir string, s Settings) error {
	mu.Lock()
	settings = s
	logLevel = parseLevel(s.Level)
	logsDir = ""
	loggers = make(map[Category]*Logger)
	mu.Unlock()

	if !s.DebugMode {
		return nil // Silent no-op in production mode.
	}

	if dir == "" {
		return fmt.Errorf("logs directory required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	mu.Lock()
	logsDir = dir
	mu.Unlock()

	boot := Get(CategoryBoot)
	boot.Info("=== pilot logging initialized ===")
	boot.Info("Logs directory: %s", dir)
	boot.Info("Log level: %s", s.Level)
	return nil
}

func parseLevel(level string) int {
	switch level {
	case "debug":
		return LevelDebug
	case "info", "":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// enabled reports whether a category should produce output.
func enabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()

	if !settings.DebugMode || logsDir == "" {
		return false
	}
	if settings.Categories == nil {
		return true // All enabled by default in debug mode.
	}
	on, exists := settings.Categories[string(category)]
	if !exists {
		return true
	}
	return on
}

// Get returns (or creates) the logger for a category. Returns a no-op
// logger when debug mode is off or the category is disabled.
func Get(category Category) *Logger {
	if !enabled(category) {
		return &Logger{category: category}
	}

	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	if l, ok := loggers[category]; ok {
		return l
	}

	// Date prefix keeps rotation trivial: old files age out by name.
	date := time.Now().Format("2006-01-02")
	path := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] could not open log file %s: %v\n", path, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

// Close flushes and closes all open log files.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			_ = l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
	logsDir = ""
}

func (l *Logger) write(level int, tag, format string, args ...interface{}) {
	if l.logger == nil {
		return
	}

	mu.RLock()
	minLevel := logLevel
	jsonFormat := settings.JSONFormat
	mu.RUnlock()

	if minLevel > level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if jsonFormat {
		data, err := json.Marshal(entry{
			Timestamp: time.Now().UnixMilli(),
			Category:  string(l.category),
			Level:     tag,
			Message:   msg,
		})
		if err == nil {
			l.logger.Printf("%s", data)
			return
		}
	}
	l.logger.Printf("[%s] %s", tag, msg)
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.write(LevelDebug, "DEBUG", format, args...)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.write(LevelInfo, "INFO", format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.write(LevelWarn, "WARN", format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(LevelError, "ERROR", format, args...)
}
