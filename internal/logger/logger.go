// Package logger builds the process-wide slog handler.
package logger

import (
	"log/slog"
	"os"
)

// New returns a JSON logger in prod for the log shipper and a readable
// text logger everywhere else; non-prod also logs debug.
func New(env string) *slog.Logger {
	var h slog.Handler
	if env == "prod" {
		h = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		h = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	return slog.New(h)
}
