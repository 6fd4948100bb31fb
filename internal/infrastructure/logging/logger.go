package logging

import (
	"fmt"

	"github.com/hilthontt/courier/internal/infrastructure/env"
)

// Backends accepted in LoggerConfig.Logger.
const (
	BackendZap     = "zap"
	BackendZerolog = "zerolog"
)

// Logger is the structured logger every component receives. Structured calls
// take a category pair plus optional extra fields; the f variants are for
// ad-hoc messages.
type Logger interface {
	Init()

	Debug(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Debugf(template string, args ...any)

	Info(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Infof(template string, args ...any)

	Warn(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Warnf(template string, args ...any)

	Error(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Errorf(template string, args ...any)

	Fatal(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Fatalf(template string, args ...any)

	Sync() error
}

type LoggerConfig struct {
	// FilePath is the directory for the rotated log file. Empty means stdout only.
	FilePath   string
	Encoding   string
	Level      string
	Logger     string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func NewDefaultConfig() *LoggerConfig {
	return &LoggerConfig{
		FilePath:   env.GetString("LOGGER_FILE_PATH", ""),
		Encoding:   env.GetString("LOGGER_ENCODING", "json"),
		Level:      env.GetString("LOGGER_LEVEL", "debug"),
		Logger:     env.GetString("LOGGER_LOGGER", BackendZap),
		MaxSizeMB:  env.GetInt("LOGGER_MAX_SIZE_MB", 100),
		MaxBackups: env.GetInt("LOGGER_MAX_BACKUPS", 5),
		MaxAgeDays: env.GetInt("LOGGER_MAX_AGE_DAYS", 14),
	}
}

func NewLogger(cfg *LoggerConfig) (Logger, error) {
	switch cfg.Logger {
	case BackendZap, "":
		return newZapLogger(cfg), nil
	case BackendZerolog:
		return newZeroLogger(cfg), nil
	}
	return nil, fmt.Errorf("unsupported logger %q, want %s or %s", cfg.Logger, BackendZap, BackendZerolog)
}
