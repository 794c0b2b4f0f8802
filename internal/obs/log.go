package obs

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	loggerMu sync.RWMutex
	logger   = newLogger(os.Stdout, zerolog.InfoLevel, "json")
)

func init() {
	zerolog.TimestampFieldName = "ts"
	zerolog.MessageFieldName = "msg"
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// SetupLogger configures the process-wide logger. Format "console" switches to
// human readable output for local development; anything else emits JSON lines.
func SetupLogger(level, format string) {
	SetOutput(os.Stdout, level, format)
}

// SetOutput redirects the process-wide logger, mainly so tests can capture lines.
func SetOutput(w io.Writer, level, format string) {
	lvl := parseLevel(level)
	zerolog.SetGlobalLevel(lvl)
	l := newLogger(w, lvl, format)

	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
}

// Logger returns a child logger tagged with the given component.
func Logger(component string) zerolog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	if component == "" {
		return logger
	}
	return logger.With().Str("component", component).Logger()
}

func newLogger(w io.Writer, lvl zerolog.Level, format string) zerolog.Logger {
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
