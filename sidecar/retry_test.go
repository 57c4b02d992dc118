//go:build !windows

package sidecar

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestRetryReplacesSidecar(t *testing.T) {
	s := newTestSupervisor(t)
	launches := 0
	launch := func(ctx context.Context) (Command, error) {
		launches++
		return shell(fmt.Sprintf(`echo "Uvicorn running on port %d"; exec sleep 30`, launches), launches), nil
	}
	r := NewRetrySupervisor(s, launch, WithRetryLogger(zaptest.NewLogger(t).Sugar()))

	require.NoError(t, r.Launch(context.Background()))
	ev := waitForEvent(t, s, EventReady)
	assert.Equal(t, 1, ev.Port)
	first := s.PID()
	n, firstID := r.Attempts()
	assert.Equal(t, 1, n)
	assert.NotEmpty(t, firstID)

	require.NoError(t, r.Retry(context.Background()))
	assert.False(t, processAlive(first))
	ev = waitForEvent(t, s, EventReady)
	assert.Equal(t, 2, ev.Port)
	assert.NotEqual(t, first, s.PID())

	n, secondID := r.Attempts()
	assert.Equal(t, 2, n)
	assert.NotEqual(t, firstID, secondID)

	require.NoError(t, r.Shutdown(context.Background()))
	assert.False(t, s.IsRunning())
	assert.Equal(t, Stopped, s.State())
}

func TestRetryAfterFailure(t *testing.T) {
	s := newTestSupervisor(t)
	fail := true
	launch := func(ctx context.Context) (Command, error) {
		if fail {
			return shell(`echo "fatal: bad config" >&2; exit 2`, 0), nil
		}
		return shell(`echo "Uvicorn running on x"; exec sleep 30`, 0), nil
	}
	r := NewRetrySupervisor(s, launch)

	require.NoError(t, r.Launch(context.Background()))
	ev := waitForEvent(t, s, EventError)
	assert.Contains(t, ev.Message, "fatal: bad config")
	assert.Equal(t, Failed, s.State())

	fail = false
	require.NoError(t, r.Retry(context.Background()))
	waitForEvent(t, s, EventReady)
	assert.Equal(t, Ready, s.State())
}

func TestRetryPrepareReportsProgress(t *testing.T) {
	s := newTestSupervisor(t)
	prepare := func(ctx context.Context, progress func(string)) error {
		progress("Creating user data directories...")
		return nil
	}
	launch := func(ctx context.Context) (Command, error) {
		return shell(`exec sleep 30`, 0), nil
	}
	r := NewRetrySupervisor(s, launch, WithPrepare(prepare))

	require.NoError(t, r.Launch(context.Background()))
	ev := nextEvent(t, s)
	assert.Equal(t, EventProgress, ev.Type)
	assert.Equal(t, "Creating user data directories...", ev.Message)
	assert.True(t, s.IsRunning())
}

func TestRetryPrepareFailure(t *testing.T) {
	s := newTestSupervisor(t)
	diskFull := errors.New("disk full")
	launched := false
	r := NewRetrySupervisor(s,
		func(ctx context.Context) (Command, error) {
			launched = true
			return shell(`exec sleep 30`, 0), nil
		},
		WithPrepare(func(ctx context.Context, progress func(string)) error { return diskFull }),
	)

	err := r.Launch(context.Background())
	assert.ErrorIs(t, err, diskFull)
	assert.False(t, launched)

	ev := nextEvent(t, s)
	assert.Equal(t, EventError, ev.Type)
	assert.ErrorIs(t, ev.Err, diskFull)
	assert.False(t, s.IsRunning())
}

func TestRetryLaunchFailure(t *testing.T) {
	s := newTestSupervisor(t)
	r := NewRetrySupervisor(s, func(ctx context.Context) (Command, error) {
		return Command{}, errors.New("no python interpreter found")
	})

	err := r.Launch(context.Background())
	assert.ErrorContains(t, err, "no python interpreter found")
	ev := nextEvent(t, s)
	assert.Equal(t, EventError, ev.Type)
}

func TestRetryReportsStartingBeforeSpawn(t *testing.T) {
	s := newTestSupervisor(t)
	r := NewRetrySupervisor(s, func(ctx context.Context) (Command, error) {
		return shell(`exec sleep 30`, 0), nil
	})

	require.NoError(t, r.Launch(context.Background()))
	ev := nextEvent(t, s)
	assert.Equal(t, EventProgress, ev.Type)
	assert.Equal(t, "Starting backend server...", ev.Message)
}

func TestRetryAfterReadyTimeoutWaitsForOldSidecar(t *testing.T) {
	s := newTestSupervisor(t, WithReadyTimeout(300*time.Millisecond))
	launches := 0
	launch := func(ctx context.Context) (Command, error) {
		launches++
		if launches == 1 {
			return shell(`trap 'sleep 1; exit 0' TERM; while true; do sleep 0.1; done`, 7865), nil
		}
		return shell(`echo "Uvicorn running on x"; exec sleep 30`, 7865), nil
	}
	r := NewRetrySupervisor(s, launch)

	require.NoError(t, r.Launch(context.Background()))
	first := s.PID()
	ev := waitForEvent(t, s, EventError)
	require.ErrorIs(t, ev.Err, ErrReadyTimeout)

	require.NoError(t, r.Retry(context.Background()))
	assert.False(t, processAlive(first))
	assert.NotEqual(t, first, s.PID())
	waitForEvent(t, s, EventReady)
}

func TestRetryIgnoresEventsOfReplacedSidecar(t *testing.T) {
	s := newTestSupervisor(t)
	launches := 0
	launch := func(ctx context.Context) (Command, error) {
		launches++
		if launches == 1 {
			return shell(`echo "Uvicorn running on x"; exec sleep 30`, 7865), nil
		}
		return shell(`exec sleep 30`, 7865), nil
	}
	r := NewRetrySupervisor(s, launch)

	require.NoError(t, r.Launch(context.Background()))
	// the host hasn't read anything yet: starting message and ready are buffered
	require.Eventually(t, func() bool { return len(s.events) == 2 }, eventTimeout, 10*time.Millisecond)
	require.NoError(t, r.Retry(context.Background()))

	staleReady := 0
	deadline := time.After(500 * time.Millisecond)
	for done := false; !done; {
		select {
		case ev := <-s.Events():
			if !s.IsCurrent(ev) {
				if ev.Type == EventReady {
					staleReady++
				}
				continue
			}
			assert.NotEqual(t, EventReady, ev.Type, "ready reported for a sidecar that is still starting")
		case <-deadline:
			done = true
		}
	}
	assert.Equal(t, 1, staleReady)
	assert.Equal(t, Starting, s.State())
}

func TestRetryLogsDroppedFailureAsError(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := newTestSupervisor(t, WithLogger(zap.New(core).Sugar()), WithEventBuffer(1))
	s.Report("Creating user data directories...")

	r := NewRetrySupervisor(s, func(ctx context.Context) (Command, error) {
		return Command{}, errors.New("no python interpreter found")
	})
	require.Error(t, r.Launch(context.Background()))

	dropped := logs.FilterMessage("event buffer full, dropping event").All()
	require.Len(t, dropped, 1)
	assert.Equal(t, zapcore.ErrorLevel, dropped[0].Level)
}
