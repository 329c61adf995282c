package observability

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ServiceName is stamped on every log line so shipped logs from the service
// and its migrate tool can be told apart from other ledger processes.
const ServiceName = "spotledger"

// NewLogger creates a structured JSON logger on stdout at the level named by
// SPOT_LOG_LEVEL (info when unset).
func NewLogger(component string) zerolog.Logger {
	return NewLoggerWithLevel(component, ParseLogLevel(os.Getenv("SPOT_LOG_LEVEL")))
}

func NewLoggerWithLevel(component string, level zerolog.Level) zerolog.Logger {
	return NewLoggerTo(os.Stdout, component, level)
}

// NewLoggerTo writes to w instead of stdout.
func NewLoggerTo(w io.Writer, component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", ServiceName).
		Str("component", component).
		Logger()
}

// ParseLogLevel accepts zerolog level names and "warning". Empty or unknown
// names fall back to info.
func ParseLogLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return zerolog.WarnLevel
	}
	level, err := zerolog.ParseLevel(s)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// WithBalance scopes l to one (user, asset) balance row.
func WithBalance(l zerolog.Logger, userID uuid.UUID, asset string) zerolog.Logger {
	return l.With().
		Str("user_id", userID.String()).
		Str("asset", asset).
		Logger()
}

// WithRef adds the idempotency reference (TYPE:id) of a hold or journal entry.
func WithRef(l zerolog.Logger, ref fmt.Stringer) zerolog.Logger {
	return l.With().Str("ref", ref.String()).Logger()
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
