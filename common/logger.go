// Package common provides the logging setup shared by every skusync package.
//
// Log lines are written as one JSON object per line, by default to stdout:
//
//	{"level":"info","message":"synced","name":"skusync.fetch","time":"2025-01-15T10:30:00.123Z"}
//
// Core packages never reach for a global logger. They receive a
// logrus.FieldLogger and derive a named child with Named, which keeps them
// testable with logrus/hooks/test.
package common

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// FieldName is the field carrying the logger name on every entry.
const FieldName = "name"

// Supported level names, matching the values accepted in configuration.
const (
	LevelDebug    = "DEBUG"
	LevelInfo     = "INFO"
	LevelWarning  = "WARNING"
	LevelError    = "ERROR"
	LevelCritical = "CRITICAL"
)

// LoggerConfig contains configuration for creating a logger
type LoggerConfig struct {
	Level      string    // DEBUG, INFO, WARNING, ERROR or CRITICAL
	Format     string    // "json" or "text"
	Output     io.Writer // defaults to os.Stdout
	TimeFormat string    // defaults to time.RFC3339Nano
}

// DefaultLoggerConfig returns a logger config with sensible defaults
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		Level:      LevelInfo,
		Format:     "json",
		Output:     os.Stdout,
		TimeFormat: time.RFC3339Nano,
	}
}

// ParseLevel maps a configured level name to a logrus level.
// CRITICAL maps to logrus.FatalLevel, which only filters; nothing in skusync
// calls Fatal.
func ParseLevel(level string) (logrus.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case LevelDebug:
		return logrus.DebugLevel, nil
	case LevelInfo:
		return logrus.InfoLevel, nil
	case LevelWarning, "WARN":
		return logrus.WarnLevel, nil
	case LevelError:
		return logrus.ErrorLevel, nil
	case LevelCritical:
		return logrus.FatalLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// NewLogger creates a new configured logger instance
func NewLogger(config LoggerConfig) (*logrus.Logger, error) {
	level, err := ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}
	if config.TimeFormat == "" {
		config.TimeFormat = time.RFC3339Nano
	}
	if config.Output == nil {
		config.Output = os.Stdout
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(config.Output)

	switch config.Format {
	case "", "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: config.TimeFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyMsg: "message",
			},
		})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: config.TimeFormat,
			FullTimestamp:   true,
		})
	default:
		return nil, fmt.Errorf("unknown log format %q", config.Format)
	}

	return logger, nil
}

// Named returns a child logger tagged with a logger name.
func Named(logger logrus.FieldLogger, name string) logrus.FieldLogger {
	return logger.WithField(FieldName, name)
}

// LogDuration logs how long an operation took when the returned func runs.
//
//	defer common.LogDuration(log, "sync")()
func LogDuration(logger logrus.FieldLogger, operation string) func() {
	start := time.Now()
	return func() {
		logger.WithFields(logrus.Fields{
			"operation": operation,
			"duration":  time.Since(start).Round(time.Millisecond).String(),
		}).Debug("operation finished")
	}
}
