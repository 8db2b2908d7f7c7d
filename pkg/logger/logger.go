package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// LogLevel represents the logging verbosity level
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// DebugCategory represents specific debug categories for targeted debugging
type DebugCategory string

const (
	DebugIOTC  DebugCategory = "iotc"
	DebugFrame DebugCategory = "frame"
	DebugIOCtl DebugCategory = "ioctl"
	DebugMTX   DebugCategory = "mtx"
	DebugMQTT  DebugCategory = "mqtt"
	DebugCloud DebugCategory = "cloud"
	DebugAll   DebugCategory = "all"
)

var allCategories = []DebugCategory{
	DebugIOTC, DebugFrame, DebugIOCtl, DebugMTX, DebugMQTT, DebugCloud,
}

// Config holds logger configuration
type Config struct {
	Level             LogLevel
	Format            OutputFormat
	OutputFile        string
	EnabledCategories map[DebugCategory]bool
	mu                sync.RWMutex
}

// OutputFormat determines the log output format
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatText OutputFormat = "text"
)

// Global logger instance
var (
	defaultLogger *Logger
	once          sync.Once
)

// Logger wraps slog.Logger with category-based debugging
type Logger struct {
	*slog.Logger
	config *Config
	file   *os.File
}

// NewConfig creates a new logger configuration with defaults
func NewConfig() *Config {
	return &Config{
		Level:             LevelInfo,
		Format:            FormatText,
		OutputFile:        "",
		EnabledCategories: make(map[DebugCategory]bool),
	}
}

// ParseLevel converts a string to LogLevel
func ParseLevel(level string) (LogLevel, error) {
	switch level {
	case "debug", "DEBUG":
		return LevelDebug, nil
	case "info", "INFO":
		return LevelInfo, nil
	case "warn", "WARN", "warning", "WARNING":
		return LevelWarn, nil
	case "error", "ERROR":
		return LevelError, nil
	default:
		return "", fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", level)
	}
}

// ParseFormat converts a string to OutputFormat
func ParseFormat(format string) (OutputFormat, error) {
	switch format {
	case "json", "JSON":
		return FormatJSON, nil
	case "text", "TEXT":
		return FormatText, nil
	default:
		return "", fmt.Errorf("invalid log format: %s (must be json or text)", format)
	}
}

// ToSlogLevel converts LogLevel to slog.Level
func (l LogLevel) ToSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a new Logger instance with the given configuration
func New(cfg *Config) (*Logger, error) {
	var writer io.Writer = os.Stdout
	var file *os.File

	// Setup output file if specified
	if cfg.OutputFile != "" {
		f, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.OutputFile, err)
		}
		writer = f
		file = f
	}

	// Create handler based on format
	var handler slog.Handler
	handlerOpts := &slog.HandlerOptions{
		Level: cfg.Level.ToSlogLevel(),
	}

	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(writer, handlerOpts)
	default:
		handler = slog.NewTextHandler(writer, handlerOpts)
	}

	logger := &Logger{
		Logger: slog.New(handler),
		config: cfg,
		file:   file,
	}

	return logger, nil
}

// EnableCategory enables a specific debug category
func (c *Config) EnableCategory(category DebugCategory) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if category == DebugAll {
		for _, cat := range allCategories {
			c.EnabledCategories[cat] = true
		}
	} else {
		c.EnabledCategories[category] = true
	}
}

// IsCategoryEnabled checks if a debug category is enabled
func (c *Config) IsCategoryEnabled(category DebugCategory) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.EnabledCategories[category]
}

// IsDebugEnabled checks if any debug category is enabled
func (c *Config) IsDebugEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.EnabledCategories) > 0
}

// Close closes the log file if one was opened
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Category-specific logging methods

// DebugIOTC logs IOTC session details if iotc debugging is enabled
func (l *Logger) DebugIOTC(msg string, args ...any) {
	if l.config.IsCategoryEnabled(DebugIOTC) {
		args = append([]any{"category", "iotc"}, args...)
		l.Debug(msg, args...)
	}
}

// DebugFrame logs frame pump details if frame debugging is enabled
func (l *Logger) DebugFrame(msg string, args ...any) {
	if l.config.IsCategoryEnabled(DebugFrame) {
		args = append([]any{"category", "frame"}, args...)
		l.Debug(msg, args...)
	}
}

// DebugIOCtl logs control mux details if ioctl debugging is enabled
func (l *Logger) DebugIOCtl(msg string, args ...any) {
	if l.config.IsCategoryEnabled(DebugIOCtl) {
		args = append([]any{"category", "ioctl"}, args...)
		l.Debug(msg, args...)
	}
}

// DebugMTX logs media relay details if mtx debugging is enabled
func (l *Logger) DebugMTX(msg string, args ...any) {
	if l.config.IsCategoryEnabled(DebugMTX) {
		args = append([]any{"category", "mtx"}, args...)
		l.Debug(msg, args...)
	}
}

// DebugMQTT logs MQTT details if mqtt debugging is enabled
func (l *Logger) DebugMQTT(msg string, args ...any) {
	if l.config.IsCategoryEnabled(DebugMQTT) {
		args = append([]any{"category", "mqtt"}, args...)
		l.Debug(msg, args...)
	}
}

// DebugCloud logs cloud API details if cloud debugging is enabled
func (l *Logger) DebugCloud(msg string, args ...any) {
	if l.config.IsCategoryEnabled(DebugCloud) {
		args = append([]any{"category", "cloud"}, args...)
		l.Debug(msg, args...)
	}
}

// DebugIOCtlMessage logs a control message exchange in either direction
func (l *Logger) DebugIOCtlMessage(direction string, code uint16, payloadLen int) {
	if l.config.IsCategoryEnabled(DebugIOCtl) {
		l.Debug("control message",
			"category", "ioctl",
			"direction", direction,
			"code", code,
			"payload_len", payloadLen)
	}
}

// DebugFrameInfo logs per-frame metadata reported by the camera
func (l *Logger) DebugFrameInfo(frameNo uint32, frameSize, codecID int, keyframe bool, frameLen int) {
	if l.config.IsCategoryEnabled(DebugFrame) {
		l.Debug("frame",
			"category", "frame",
			"frame_no", frameNo,
			"frame_size", frameSize,
			"codec_id", codecID,
			"keyframe", keyframe,
			"frame_len", frameLen)
	}
}

// With returns a new Logger with the given attributes
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
		config: l.config,
		file:   l.file,
	}
}

// SetDefault sets the global default logger
func SetDefault(logger *Logger) {
	defaultLogger = logger
	slog.SetDefault(logger.Logger)
}

// Default returns the default logger, creating one if necessary
func Default() *Logger {
	once.Do(func() {
		cfg := NewConfig()
		logger, err := New(cfg)
		if err != nil {
			// Fallback to basic logger
			logger = &Logger{
				Logger: slog.Default(),
				config: cfg,
			}
		}
		defaultLogger = logger
	})
	return defaultLogger
}

// Package-level convenience functions

// Debug logs at Debug level using the default logger
func Debug(msg string, args ...any) {
	Default().Debug(msg, args...)
}

// Info logs at Info level using the default logger
func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

// Warn logs at Warn level using the default logger
func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

// Error logs at Error level using the default logger
func Error(msg string, args ...any) {
	Default().Error(msg, args...)
}
