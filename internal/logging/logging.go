// Package logging provides structured logging functionality using Go's slog package.
// It supports both text and JSON output formats, configurable log levels,
// and context-aware logging for the dispatch controller and worker.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	// File permissions for directories and log files.
	logDirPerm  = 0750
	logFilePerm = 0600
)

// LogLevel represents the available log levels.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogFormat represents the available log formats.
type LogFormat string

const (
	FormatText LogFormat = "text"
	FormatJSON LogFormat = "json"
)

// Config holds logging configuration.
type Config struct {
	Level     LogLevel  `yaml:"level" json:"level"`
	Format    LogFormat `yaml:"format" json:"format"`
	Output    string    `yaml:"output" json:"output"`
	AddSource bool      `yaml:"add_source" json:"add_source"`
}

// DefaultConfig returns a default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:     LevelInfo,
		Format:    FormatText,
		Output:    "stdout",
		AddSource: false,
	}
}

// Logger wraps slog.Logger with additional functionality.
type Logger struct {
	*slog.Logger
	config Config
}

// New creates a new structured logger with the given configuration.
func New(cfg Config) (*Logger, error) {
	// Parse log level
	var level slog.Level
	switch strings.ToLower(string(cfg.Level)) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Determine output writer
	var writer io.Writer
	switch cfg.Output {
	case "stdout":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		// Assume it's a file path
		if err := os.MkdirAll(filepath.Dir(cfg.Output), logDirPerm); err != nil {
			return nil, err
		}
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePerm)
		if err != nil {
			return nil, err
		}
		writer = file
	}

	// Create handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(writer, opts)
	default:
		handler = slog.NewTextHandler(writer, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
		config: cfg,
	}, nil
}

// NewDefault creates a logger with default configuration.
func NewDefault() *Logger {
	logger, _ := New(DefaultConfig())
	return logger
}

// WithContext returns a copy of the logger. ctx is not read: the copy
// carries no attributes from it.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	return &Logger{
		Logger: l.With(),
		config: l.config,
	}
}

// WithFields adds structured fields to the logger.
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger: l.With(fields...),
		config: l.config,
	}
}

// WithComponent adds a component field to the logger.
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithBulkScanID adds a bulk scan ID field to the logger.
func (l *Logger) WithBulkScanID(bulkScanID string) *Logger {
	return l.WithFields("bulk_scan_id", bulkScanID)
}

// WithJobID adds a job/delivery tag field to the logger.
func (l *Logger) WithJobID(jobID any) *Logger {
	return l.WithFields("job_id", jobID)
}

// WithTarget adds a target field to the logger.
func (l *Logger) WithTarget(target string) *Logger {
	return l.WithFields("target", target)
}

// WithError adds an error field to the logger.
func (l *Logger) WithError(err error) *Logger {
	return l.WithFields("error", err)
}

// InfoPublish logs publisher-related information.
func (l *Logger) InfoPublish(msg, bulkScanID string, fields ...any) {
	allFields := append([]any{"bulk_scan_id", bulkScanID}, fields...)
	l.Info(msg, allFields...)
}

// ErrorPublish logs publisher-related errors.
func (l *Logger) ErrorPublish(msg, bulkScanID string, err error, fields ...any) {
	allFields := append([]any{"bulk_scan_id", bulkScanID, "error", err}, fields...)
	l.Error(msg, allFields...)
}

// InfoDispatch logs worker-router-related information.
func (l *Logger) InfoDispatch(msg, target string, fields ...any) {
	allFields := append([]any{"target", target}, fields...)
	l.Info(msg, allFields...)
}

// ErrorDispatch logs worker-router-related errors.
func (l *Logger) ErrorDispatch(msg, target string, err error, fields ...any) {
	allFields := append([]any{"target", target, "error", err}, fields...)
	l.Error(msg, allFields...)
}

// InfoMonitor logs progress-monitor-related information.
func (l *Logger) InfoMonitor(msg, bulkScanID string, fields ...any) {
	allFields := append([]any{"bulk_scan_id", bulkScanID, "component", "monitor"}, fields...)
	l.Info(msg, allFields...)
}

// ErrorMonitor logs progress-monitor-related errors.
func (l *Logger) ErrorMonitor(msg, bulkScanID string, err error, fields ...any) {
	allFields := append([]any{"bulk_scan_id", bulkScanID, "component", "monitor", "error", err}, fields...)
	l.Error(msg, allFields...)
}

// InfoBus logs orchestration-bus-related information.
func (l *Logger) InfoBus(msg string, fields ...any) {
	allFields := append([]any{"component", "bus"}, fields...)
	l.Info(msg, allFields...)
}

// ErrorBus logs orchestration-bus-related errors.
func (l *Logger) ErrorBus(msg string, err error, fields ...any) {
	allFields := append([]any{"component", "bus", "error", err}, fields...)
	l.Error(msg, allFields...)
}

// Global logger instance - can be replaced for testing.
var defaultLogger = NewDefault()

// SetDefault sets the default logger instance.
func SetDefault(logger *Logger) {
	defaultLogger = logger
}

// Default returns the default logger instance.
func Default() *Logger {
	return defaultLogger
}

// Debug logs at debug level using the default logger.
func Debug(msg string, fields ...any) {
	defaultLogger.Debug(msg, fields...)
}

// Info logs at info level using the default logger.
func Info(msg string, fields ...any) {
	defaultLogger.Info(msg, fields...)
}

// Warn logs at warn level using the default logger.
func Warn(msg string, fields ...any) {
	defaultLogger.Warn(msg, fields...)
}

// Error logs at error level using the default logger.
func Error(msg string, fields ...any) {
	defaultLogger.Error(msg, fields...)
}

// InfoPublish logs publisher-related information using the default logger.
func InfoPublish(msg, bulkScanID string, fields ...any) {
	defaultLogger.InfoPublish(msg, bulkScanID, fields...)
}

// ErrorPublish logs publisher-related errors using the default logger.
func ErrorPublish(msg, bulkScanID string, err error, fields ...any) {
	defaultLogger.ErrorPublish(msg, bulkScanID, err, fields...)
}

// InfoDispatch logs worker-router-related information using the default logger.
func InfoDispatch(msg, target string, fields ...any) {
	defaultLogger.InfoDispatch(msg, target, fields...)
}

// ErrorDispatch logs worker-router-related errors using the default logger.
func ErrorDispatch(msg, target string, err error, fields ...any) {
	defaultLogger.ErrorDispatch(msg, target, err, fields...)
}

// InfoMonitor logs progress-monitor-related information using the default logger.
func InfoMonitor(msg, bulkScanID string, fields ...any) {
	defaultLogger.InfoMonitor(msg, bulkScanID, fields...)
}

// ErrorMonitor logs progress-monitor-related errors using the default logger.
func ErrorMonitor(msg, bulkScanID string, err error, fields ...any) {
	defaultLogger.ErrorMonitor(msg, bulkScanID, err, fields...)
}
