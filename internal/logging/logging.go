// Package logging wraps zerolog.Logger so every component logs through a
// collaborator passed in at construction, never a package global — the
// same pattern the daemon's other components (Session, Repository,
// VoucherQueue) use for their other dependencies. Grounded on spdlog's role
// in the original source (daemon/connection_acceptor.hpp, daemon/cli.cpp
// call spdlog::info/error directly at named call sites); zerolog is the
// stack's equivalent structured logger.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is a thin handle around a configured zerolog.Logger.
type Logger struct {
	zerolog.Logger
}

// New returns a Logger writing to w (or a colorized console writer over
// os.Stderr if w is nil) at the given level.
func New(w io.Writer, level zerolog.Level) Logger {
	if w == nil {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	}
	return Logger{zerolog.New(w).Level(level).With().Timestamp().Logger()}
}

// Nop returns a Logger that discards everything, for tests and callers
// that don't care about log output.
func Nop() Logger {
	return Logger{zerolog.Nop()}
}

// Session returns a child logger with a session_id field bound, so every
// event it logs carries it without the caller repeating it.
func (l Logger) Session(id uint64) Logger {
	return Logger{l.With().Uint64("session_id", id).Logger()}
}

// Request returns a child logger with seqno and token fields bound, for a
// single request's lifetime (including any deferred completion it later
// produces).
func (l Logger) Request(seqno uint64, tok interface{ String() string }) Logger {
	ev := l.With().Uint64("seqno", seqno)
	if tok != nil {
		ev = ev.Str("token", tok.String())
	}
	return Logger{ev.Logger()}
}
