// Package logging installs the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// VerboseEnv forces debug logging when set to "1", whatever --logLevel says.
const VerboseEnv = "SECREVIEW_VERBOSE"

// ParseLevel maps debug|info|warn|error to a slog level. Anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// New builds a tint handler on w. Colour is disabled unless w is a terminal.
func New(w io.Writer, level slog.Leveler) *slog.Logger {
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		AddSource:  level.Level() <= slog.LevelDebug,
		NoColor:    noColor,
	}))
}

// Init sets the default logger to write to stderr at the given level.
func Init(level string) {
	lvl := ParseLevel(level)
	if os.Getenv(VerboseEnv) == "1" {
		lvl = slog.LevelDebug
	}
	slog.SetDefault(New(os.Stderr, lvl))
}
