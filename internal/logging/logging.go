package logging

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/topi314/tint"

	"github.com/mrajeshsfdc/sfdoc/internal/config"
)

// New builds the process logger: coloured text through tint or JSON.
func New(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var handler slog.Handler
	switch cfg.Format {
	case config.LogFormatJSON:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			AddSource: cfg.AddSource,
			Level:     cfg.Level,
		})
	default:
		handler = tint.NewHandler(w, &tint.Options{
			AddSource:  cfg.AddSource,
			Level:      cfg.Level,
			NoColor:    cfg.NoColor,
			TimeFormat: time.StampMilli,
		})
	}
	return slog.New(handler)
}

// ParseLevel maps a flag value to a level; unknown values mean debug.
func ParseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "info":
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
