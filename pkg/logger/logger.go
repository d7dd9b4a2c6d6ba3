package logger

import (
	"log/slog"
	"os"
)

// New returns a JSON slog.Logger. Development environments log at debug,
// everything else at info.
func New(environment string) *slog.Logger {
	level := slog.LevelInfo
	if environment == "development" {
		level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("env", environment)
}
