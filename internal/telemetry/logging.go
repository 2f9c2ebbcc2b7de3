package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Форматы вывода логов.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// LogConfig — параметры логгера.
type LogConfig struct {
	// Level — debug, info, warn или error (регистр не важен, default: info).
	Level string `yaml:"level"`

	// Format — json (default) или text.
	Format string `yaml:"format"`
}

// ParseLevel разбирает уровень логирования. Пустая строка — info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Validate проверяет уровень и формат.
func (c LogConfig) Validate() error {
	if _, err := ParseLevel(c.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Format) {
	case "", LogFormatJSON, LogFormatText:
		return nil
	default:
		return fmt.Errorf("unknown log format %q", c.Format)
	}
}

// SetupLogger создаёт логгер из LOG_LEVEL и LOG_FORMAT, пишет в stdout
// и делает его глобальным. Используется до загрузки конфигурации.
func SetupLogger() *slog.Logger {
	return NewLogger(os.Stdout, LogConfig{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: os.Getenv("LOG_FORMAT"),
	})
}

// NewLogger создаёт логгер и делает его глобальным (slog.SetDefault).
// Некорректный уровень трактуется как info.
//
// На уровне debug в записи добавляется источник вызова.
func NewLogger(w io.Writer, cfg LogConfig) *slog.Logger {
	level, _ := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, LogFormatText) {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

type loggerKey struct{}

// WithLogger кладёт логгер в контекст.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext достаёт логгер из контекста; без него — глобальный.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithPlanID добавляет plan_id.
func WithPlanID(logger *slog.Logger, planID string) *slog.Logger {
	return logger.With("plan_id", planID)
}

// WithTaskID добавляет task_id.
func WithTaskID(logger *slog.Logger, taskID string) *slog.Logger {
	return logger.With("task_id", taskID)
}

// WithTenantID добавляет tenant_id.
func WithTenantID(logger *slog.Logger, tenantID string) *slog.Logger {
	return logger.With("tenant_id", tenantID)
}

// WithComponent добавляет имя компонента.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With("component", component)
}
