package logging

import (
	"io"
	"log/slog"
	"os"
)

// New creates a structured logger appropriate for the environment.
// Production uses JSON format, anything else human-readable text.
func New(env string) *slog.Logger {
	return newLogger(os.Stdout, env)
}

func newLogger(w io.Writer, env string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if env == "production" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	opts.Level = slog.LevelDebug
	return slog.New(slog.NewTextHandler(w, opts))
}
