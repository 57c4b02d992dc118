package task

import (
	"fmt"

	"github.com/guseggert/sidecar/api"
)

// State is where a task is in its lifecycle, as seen by the client.
type State int

const (
	// Idle means nothing was submitted yet.
	Idle State = iota
	Pending
	Streaming
	Complete
	Cancelled
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Streaming:
		return "streaming"
	case Complete:
		return "complete"
	case Cancelled:
		return "cancelled"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// InFlight reports whether the task may still produce frames.
func (s State) InFlight() bool {
	return s == Pending || s == Streaming
}

// Cause tells why a task ended in the Error state.
type Cause int

const (
	CauseNone Cause = iota
	// CauseSubmit means the job was never accepted.
	CauseSubmit
	// CauseBackend means the backend sent an error frame.
	CauseBackend
	// CauseConnectionLost means the stream closed before a terminal frame.
	CauseConnectionLost
	// CauseStream means the stream could not be opened.
	CauseStream
)

func (c Cause) String() string {
	switch c {
	case CauseNone:
		return "none"
	case CauseSubmit:
		return "submit"
	case CauseBackend:
		return "backend"
	case CauseConnectionLost:
		return "connection_lost"
	case CauseStream:
		return "stream"
	default:
		return fmt.Sprintf("cause(%d)", int(c))
	}
}

// Progress is the latest progress reported for a task.
type Progress struct {
	Percent float64
	Status  string
	Preview *string
}

// Snapshot is the state of the current task of a controller.
type Snapshot struct {
	Kind   api.Kind
	TaskID api.TaskID
	State  State
	// Generation increases with every submission and cancellation.
	Generation uint64
	Progress   Progress
	// History is the chat history so far, or the final one once Complete.
	History []api.ChatMessage
	// Images are the artifacts of a completed generation.
	Images []string
	Cause  Cause
	// Err is the user-visible error text when State is Error.
	Err string
}

const connectionLost = "Connection lost"

func clampPercent(p float64) float64 {
	switch {
	case p != p:
		return 0
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
