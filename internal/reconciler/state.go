// Package reconciler keeps a locally reordered sequence in step with the
// server: moves show up immediately, are persisted in the background, and a
// failed persist is repaired by fetching the authoritative order again.
package reconciler

import (
	"errors"
	"log/slog"
)

type State int

const (
	Idle State = iota
	Dragging
	Saving
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dragging:
		return "dragging"
	case Saving:
		return "saving"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

var ErrClosed = errors.New("reconciler: closed")

type NoticeKind int

const (
	NoticeInfo NoticeKind = iota
	NoticeError
)

// Notifier shows short user-facing messages.
type Notifier interface {
	Notice(kind NoticeKind, msg string)
}

type NotifierFunc func(kind NoticeKind, msg string)

func (f NotifierFunc) Notice(kind NoticeKind, msg string) {
	f(kind, msg)
}

// LogNotifier writes notices to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notice(kind NoticeKind, msg string) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if kind == NoticeError {
		logger.Error(msg)
		return
	}
	logger.Info(msg)
}

const (
	msgOrderReverted = "no se pudo guardar el orden, se restauró el orden del servidor"
	msgMoveReverted  = "no se pudo mover el lead, se restauró el tablero"
)
