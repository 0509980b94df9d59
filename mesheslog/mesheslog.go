// Package mesheslog centralizes structured logging setup for both
// binaries: one named, timestamped logger per component, with session ids
// attached as a structured field rather than baked into the message text.
package mesheslog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a Logger for component, writing human-readable output to w
// (typically os.Stderr). Pass nil for w to use a sensible console default.
func New(component string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).With().
		Timestamp().
		Str("component", component).
		Logger()
}

// WithSession returns a child logger annotated with the given session id.
func WithSession(l zerolog.Logger, sessionID string) zerolog.Logger {
	return l.With().Str("session_id", sessionID).Logger()
}
