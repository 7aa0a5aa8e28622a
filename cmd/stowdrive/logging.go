package main

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"

	"github.com/sagarc03/stowdrive/config"
)

// newLogger returns a JSON logger in prod and a tint logger otherwise. An
// empty level means info in prod and debug elsewhere.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	prod := cfg.Env == "prod"

	level := slog.LevelDebug
	if prod {
		level = slog.LevelInfo
	}
	if cfg.Log.Level != "" {
		level = parseLevel(cfg.Log.Level)
	}

	if !prod {
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      level,
			AddSource:  true,
			TimeFormat: "15:04:05.000",
			NoColor:    os.Getenv("NO_COLOR") != "",
		}))
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.String("ts", a.Value.Time().UTC().Format(time.RFC3339Nano))
			}
			return a
		},
	})
	return slog.New(h).With("service", "stowdrive")
}

// setupLogging installs the logger as the slog default and routes the
// standard log package through it.
func setupLogging(cfg *config.Config) {
	logger := newLogger(os.Stderr, cfg)
	slog.SetDefault(logger)

	log.SetFlags(0)
	log.SetOutput(slog.NewLogLogger(logger.Handler(), slog.LevelInfo).Writer())
}

func parseLevel(s string) slog.Level {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
