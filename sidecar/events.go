package sidecar

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of the supervised sidecar.
type State int

const (
	NotStarted State = iota
	Starting
	Ready
	Failed
	Stopped
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventType discriminates supervisor events.
type EventType int

const (
	EventProgress EventType = iota
	EventReady
	EventError
	// EventExited is sent when the sidecar exits cleanly without being asked to.
	EventExited
)

func (t EventType) String() string {
	switch t {
	case EventProgress:
		return "progress"
	case EventReady:
		return "ready"
	case EventError:
		return "error"
	case EventExited:
		return "exited"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is a lifecycle event emitted by a Supervisor.
type Event struct {
	Type EventType
	// Generation identifies the start attempt the event is about. It is 0 for events not tied to a
	// process, such as those sent with Report.
	Generation uint64
	// PID of the process the event is about.
	PID int
	// Message is the progress text, or the user-visible error text for EventError.
	Message string
	// Port is set on EventReady.
	Port int
	// Err is set on EventError. It is a *SpawnError, an *ExitError, wraps ErrReadyTimeout,
	// or is the error of a failed start preparation.
	Err error
}

var (
	// ErrAlreadyRunning is returned by Start when a sidecar is already live. Callers must Stop first.
	ErrAlreadyRunning = errors.New("sidecar is already running")
	// ErrReadyTimeout is reported when the sidecar doesn't emit a ready-signal in time.
	ErrReadyTimeout = errors.New("timed out waiting for sidecar to become ready")
)

// SpawnError is reported when the sidecar executable could not be started.
type SpawnError struct {
	Executable string
	Err        error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("Failed to start backend: %s", e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExitError is reported when the sidecar exits on its own with a non-zero code or is killed
// by a signal nobody here sent.
type ExitError struct {
	// Code is the exit code, or -1 when the process was killed by a signal.
	Code        int
	Signal      string
	Diagnostics string
}

func (e *ExitError) Error() string {
	reason := fmt.Sprintf("exited with code %d", e.Code)
	if e.Signal != "" {
		reason = "was terminated by " + e.Signal
	}
	return fmt.Sprintf("Backend process %s.\n\nLast error output:\n%s", reason, e.Diagnostics)
}

type readyTimeoutError struct {
	after       string
	diagnostics string
}

func (e *readyTimeoutError) Error() string {
	return fmt.Sprintf("Backend did not become ready within %s.\n\nLast error output:\n%s", e.after, e.diagnostics)
}

func (e *readyTimeoutError) Unwrap() error { return ErrReadyTimeout }
