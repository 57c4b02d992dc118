package sidecar

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const startingMessage = "Starting backend server..."

// LaunchFunc produces the command for one start attempt. It runs once per attempt, so it may
// pick a fresh port.
type LaunchFunc func(ctx context.Context) (Command, error)

// PrepareFunc runs before each start attempt. Progress messages it reports are forwarded as
// EventProgress.
type PrepareFunc func(ctx context.Context, progress func(msg string)) error

// RetrySupervisor runs start attempts on behalf of the host: on first launch and on every
// explicit retry it stops any existing sidecar, waits for it to exit, then starts a new one.
// It never restarts on its own; an EventError ends the current attempt.
type RetrySupervisor struct {
	log     *zap.SugaredLogger
	sup     *Supervisor
	launch  LaunchFunc
	prepare PrepareFunc

	mu        sync.Mutex
	attempts  int
	attemptID string
}

type RetryOption func(r *RetrySupervisor)

func WithRetryLogger(l *zap.SugaredLogger) RetryOption {
	return func(r *RetrySupervisor) {
		r.log = l.Named("retry")
	}
}

func WithPrepare(f PrepareFunc) RetryOption {
	return func(r *RetrySupervisor) {
		r.prepare = f
	}
}

func NewRetrySupervisor(sup *Supervisor, launch LaunchFunc, opts ...RetryOption) *RetrySupervisor {
	r := &RetrySupervisor{
		log:    defaultLogger.Named("retry"),
		sup:    sup,
		launch: launch,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Supervisor returns the underlying supervisor, whose Events the host should drain.
func (r *RetrySupervisor) Supervisor() *Supervisor {
	return r.sup
}

// Launch runs the first start attempt.
func (r *RetrySupervisor) Launch(ctx context.Context) error {
	return r.attempt(ctx, "launch")
}

// Retry runs another start attempt, typically after the user acknowledged a failure.
func (r *RetrySupervisor) Retry(ctx context.Context) error {
	return r.attempt(ctx, "retry")
}

// Shutdown stops the sidecar. The host must call it before exiting so no sidecar is orphaned.
func (r *RetrySupervisor) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log.Infow("shutting down sidecar", "Attempts", r.attempts)
	return r.sup.Stop(ctx)
}

// Attempts returns how many start attempts were made, and the id of the latest one.
func (r *RetrySupervisor) Attempts() (int, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts, r.attemptID
}

func (r *RetrySupervisor) attempt(ctx context.Context, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// two sidecars must never be bound to the same port
	err := r.sup.Stop(ctx)
	if err != nil {
		return fmt.Errorf("stopping previous sidecar: %w", err)
	}

	r.attempts++
	r.attemptID = uuid.NewString()
	log := r.log.With("Attempt", r.attempts, "AttemptID", r.attemptID, "Reason", reason)
	log.Info("starting sidecar attempt")

	if r.prepare != nil {
		err = r.prepare(ctx, r.sup.Report)
		if err != nil {
			err = fmt.Errorf("preparing sidecar start: %w", err)
			log.Errorw("preparation failed", "Error", err)
			r.sup.report(Event{Type: EventError, Message: err.Error(), Err: err})
			return err
		}
	}

	cmd, err := r.launch(ctx)
	if err != nil {
		err = fmt.Errorf("building sidecar command: %w", err)
		log.Errorw("launch failed", "Error", err)
		r.sup.report(Event{Type: EventError, Message: err.Error(), Err: err})
		return err
	}

	r.sup.Report(startingMessage)
	err = r.sup.Start(cmd)
	if err != nil {
		return fmt.Errorf("starting sidecar: %w", err)
	}
	return nil
}
