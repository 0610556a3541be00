package telemetry

import (
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps a configured level string onto a slog level. Unknown or
// empty values fall back to info rather than failing startup over a typo.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// SetupLogger installs the global slog logger from the configured format and
// level. format "json" selects the JSON handler for production log pipelines;
// anything else gets the text handler for local development. Source locations
// are attached only at debug level.
//
// Installing the result as the default means request handlers, the audit
// logger and background jobs all log through plain slog calls without
// threading a *slog.Logger around.
func SetupLogger(format, level string) {
	lvl := ParseLevel(level)

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialised", "format", format, "level", lvl.String())
}
