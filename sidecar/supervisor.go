package sidecar

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const loggerName = "sidecar"

var defaultLogger *zap.SugaredLogger

func init() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("error constructing default logger: %s", err))
	}
	defaultLogger = logger.Sugar().Named(loggerName)
}

// Command describes how to launch the sidecar.
type Command struct {
	Executable string
	Args       []string
	Dir        string
	// Env is appended to the environment of the current process.
	Env []string
	// Port is the port the sidecar was told to listen on. It is reported with EventReady.
	Port int
}

// Supervisor owns at most one sidecar process at a time.
// It reports progress, readiness and failures as Events on a single channel, which the host must drain.
type Supervisor struct {
	log          *zap.SugaredLogger
	terminator   Terminator
	readyTimeout time.Duration
	stopTimeout  time.Duration
	waitDelay    time.Duration
	events       chan Event

	mu    sync.Mutex
	state State
	proc  *sidecarProcess
	// terminating holds a process that timed out and was signaled, until it has exited.
	terminating *sidecarProcess
	gen         uint64
	current     uint64
	lastErrs    *RingBuffer
}

type sidecarProcess struct {
	cmd       *exec.Cmd
	gen       uint64
	port      int
	startedAt time.Time
	errs      *RingBuffer

	stdout    *lineWriter
	stderr    *lineWriter
	stdoutLog *zap.SugaredLogger
	stderrLog *zap.SugaredLogger

	readyOnce  sync.Once
	readyTimer *time.Timer

	// stopRequested is set when termination was asked for by the supervisor, so the exit is not an error.
	stopRequested atomic.Bool

	// abandoned is closed once nobody is interested in events from this process anymore.
	abandoned   chan struct{}
	abandonOnce sync.Once
	// exited is closed after the process has been reaped and its output flushed.
	exited chan struct{}
}

// pid is safe to call from the output goroutines, which exec starts after setting cmd.Process.
func (p *sidecarProcess) pid() int {
	return p.cmd.Process.Pid
}

func (p *sidecarProcess) abandon() {
	p.abandonOnce.Do(func() { close(p.abandoned) })
}

func (p *sidecarProcess) stopReadyTimer() {
	if p.readyTimer != nil {
		p.readyTimer.Stop()
	}
}

type Option func(s *Supervisor)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Supervisor) {
		s.log = l.Named(loggerName)
	}
}

// WithTerminator replaces the platform's process-tree terminator.
func WithTerminator(t Terminator) Option {
	return func(s *Supervisor) {
		s.terminator = t
	}
}

// WithReadyTimeout fails a start attempt that doesn't produce a ready-signal within d.
// Zero, the default, waits forever.
func WithReadyTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		s.readyTimeout = d
	}
}

// WithStopTimeout bounds how long Stop waits for the tree to exit before killing it outright.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		s.stopTimeout = d
	}
}

// WithWaitDelay bounds how long output pipes held open by orphaned children may delay reaping.
func WithWaitDelay(d time.Duration) Option {
	return func(s *Supervisor) {
		s.waitDelay = d
	}
}

func WithEventBuffer(n int) Option {
	return func(s *Supervisor) {
		s.events = make(chan Event, n)
	}
}

func NewSupervisor(opts ...Option) *Supervisor {
	s := &Supervisor{
		log:         defaultLogger,
		terminator:  DefaultTerminator(),
		stopTimeout: 10 * time.Second,
		waitDelay:   2 * time.Second,
		events:      make(chan Event, 256),
		state:       NotStarted,
		lastErrs:    NewRingBuffer(errorBufferSize),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Events returns the channel all lifecycle events are sent on. It is never closed.
// Events of a stopped process may still be buffered after Stop; check them with IsCurrent.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// IsCurrent reports whether ev is about the latest start attempt. Events of a process that was stopped
// or replaced are not.
func (s *Supervisor) IsCurrent(ev Event) bool {
	if ev.Generation == 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return ev.Generation == s.current
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRunning reports whether the sidecar of the current attempt is live.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil
}

// PID returns the pid of the live sidecar, or 0.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return 0
	}
	return s.proc.pid()
}

// LastErrors returns the last stderr lines of the most recent sidecar, newline-joined.
func (s *Supervisor) LastErrors() string {
	s.mu.Lock()
	errs := s.lastErrs
	s.mu.Unlock()
	return errs.Diagnostics()
}

// Start launches the sidecar. It returns ErrAlreadyRunning if one is live, or if one that timed out
// has not exited yet.
// A spawn failure is both returned and reported as an EventError; it is not retried.
func (s *Supervisor) Start(c Command) error {
	s.mu.Lock()
	if s.proc != nil || s.terminating != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.gen++
	s.current = s.gen

	cmd := exec.Command(c.Executable, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.WaitDelay = s.waitDelay
	configureProcAttr(cmd)

	p := &sidecarProcess{
		cmd:       cmd,
		gen:       s.gen,
		port:      c.Port,
		errs:      NewRingBuffer(errorBufferSize),
		stdoutLog: s.log.Named("stdout"),
		stderrLog: s.log.Named("stderr"),
		abandoned: make(chan struct{}),
		exited:    make(chan struct{}),
	}
	p.stdout = newLineWriter(func(line string) { s.handleLine(p, line, false) })
	p.stderr = newLineWriter(func(line string) { s.handleLine(p, line, true) })
	cmd.Stdout = p.stdout
	cmd.Stderr = p.stderr
	s.lastErrs = p.errs
	s.state = Starting

	s.log.Infow("starting sidecar", "Executable", c.Executable, "Args", c.Args, "Dir", c.Dir, "Port", c.Port)
	p.startedAt = time.Now()
	err := cmd.Start()
	if err != nil {
		s.state = Failed
		s.mu.Unlock()

		spawnErr := &SpawnError{Executable: c.Executable, Err: err}
		s.log.Errorw("failed to spawn sidecar", "Executable", c.Executable, "Error", err)
		s.report(Event{Type: EventError, Generation: p.gen, Message: spawnErr.Error(), Err: spawnErr})
		return spawnErr
	}

	s.proc = p
	if s.readyTimeout > 0 {
		p.readyTimer = time.AfterFunc(s.readyTimeout, func() { s.readyTimedOut(p) })
	}
	s.mu.Unlock()

	s.log.Debugw("sidecar started", "PID", p.pid())
	go s.wait(p)
	return nil
}

// Stop terminates the whole sidecar process tree and waits for the top-level process to exit.
// It is a no-op when nothing is running, and always leaves the supervisor in the Stopped state
// with no process, so Start may be called right after. A sidecar that timed out and is still
// shutting down is waited for as well.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	p := s.proc
	signaled := false
	if p == nil && s.terminating != nil {
		p = s.terminating
		signaled = true
	}
	s.proc = nil
	s.terminating = nil
	s.current = 0
	s.state = Stopped
	if p != nil {
		p.stopRequested.Store(true)
	}
	s.mu.Unlock()

	if p == nil {
		return nil
	}
	p.abandon()
	p.stopReadyTimer()

	if signaled {
		s.log.Infow("waiting for timed out sidecar to exit", "PID", p.pid())
	} else {
		s.log.Infow("stopping sidecar", "PID", p.pid())
		s.terminate(p)
	}
	return s.awaitExit(ctx, p)
}

// awaitExit waits for p to be reaped, killing its tree once the stop timeout has passed.
func (s *Supervisor) awaitExit(ctx context.Context, p *sidecarProcess) error {
	timer := time.NewTimer(s.stopTimeout)
	defer timer.Stop()
	select {
	case <-p.exited:
		return nil
	case <-ctx.Done():
		s.log.Warnw("context done before sidecar exited, killing", "PID", p.pid())
		forceKillTree(p.cmd.Process)
		return fmt.Errorf("waiting for sidecar %d to exit: %w", p.pid(), ctx.Err())
	case <-timer.C:
		s.log.Warnw("sidecar did not exit in time, killing", "PID", p.pid(), "Timeout", s.stopTimeout)
		forceKillTree(p.cmd.Process)
	}

	select {
	case <-p.exited:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for sidecar %d to exit: %w", p.pid(), ctx.Err())
	}
}

func (s *Supervisor) terminate(p *sidecarProcess) {
	err := s.terminator.TerminateTree(p.pid())
	if err == nil {
		return
	}
	s.log.Warnw("process tree termination failed, terminating top-level process", "PID", p.pid(), "Error", err)
	if err := terminateProcess(p.cmd.Process); err != nil {
		s.log.Debugw("error terminating top-level process", "PID", p.pid(), "Error", err)
	}
}

func (s *Supervisor) handleLine(p *sidecarProcess, line string, stderr bool) {
	c := Classify(line)
	if c.Signal == SignalNone {
		return
	}
	if stderr {
		p.errs.Add(line)
		p.stderrLog.Debug(line)
	} else {
		p.stdoutLog.Debug(line)
	}

	switch c.Signal {
	case SignalReady:
		p.readyOnce.Do(func() {
			if !s.markReady(p) {
				return
			}
			s.log.Infow("sidecar is ready", "PID", p.pid(), "Port", p.port, "After", time.Since(p.startedAt))
			s.emit(p, Event{Type: EventReady, Generation: p.gen, PID: p.pid(), Port: p.port})
		})
	case SignalProgress:
		s.emit(p, Event{Type: EventProgress, Generation: p.gen, PID: p.pid(), Message: c.Message})
	}
}

func (s *Supervisor) markReady(p *sidecarProcess) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != p || s.state != Starting {
		return false
	}
	s.state = Ready
	p.stopReadyTimer()
	return true
}

// emit blocks until the event is taken or the process is abandoned.
func (s *Supervisor) emit(p *sidecarProcess, ev Event) {
	select {
	case s.events <- ev:
	case <-p.abandoned:
	}
}

func (s *Supervisor) readyTimedOut(p *sidecarProcess) {
	s.mu.Lock()
	if s.proc != p || s.state != Starting {
		s.mu.Unlock()
		return
	}
	s.proc = nil
	s.terminating = p
	s.state = Failed
	p.stopRequested.Store(true)
	s.mu.Unlock()

	timeoutErr := &readyTimeoutError{after: s.readyTimeout.String(), diagnostics: p.errs.Diagnostics()}
	s.log.Errorw("sidecar did not become ready", "PID", p.pid(), "Timeout", s.readyTimeout)
	s.terminate(p)
	s.emit(p, Event{Type: EventError, Generation: p.gen, PID: p.pid(), Message: timeoutErr.Error(), Err: timeoutErr})
	p.abandon()
}

func (s *Supervisor) wait(p *sidecarProcess) {
	err := p.cmd.Wait()
	p.stdout.Close()
	p.stderr.Close()
	p.stopReadyTimer()
	close(p.exited)

	code, sig := exitStatus(p.cmd)
	s.log.Debugw("sidecar exited", "PID", p.pid(), "Code", code, "Signal", sig, "Error", err)

	s.mu.Lock()
	if s.terminating == p {
		s.terminating = nil
	}
	if p.stopRequested.Load() {
		s.mu.Unlock()
		return
	}
	if s.proc == p {
		s.proc = nil
	}

	var ev Event
	if code == 0 && sig == "" {
		s.state = Stopped
		ev = Event{Type: EventExited, Generation: p.gen, PID: p.pid()}
		s.log.Infow("sidecar exited cleanly", "PID", p.pid())
	} else {
		s.state = Failed
		exitErr := &ExitError{Code: code, Signal: sig, Diagnostics: p.errs.Diagnostics()}
		ev = Event{Type: EventError, Generation: p.gen, PID: p.pid(), Message: exitErr.Error(), Err: exitErr}
		s.log.Errorw("sidecar exited unexpectedly", "PID", p.pid(), "Code", code, "Signal", sig)
	}
	s.mu.Unlock()

	s.emit(p, ev)
}

func exitStatus(cmd *exec.Cmd) (int, string) {
	if cmd.ProcessState == nil {
		return -1, ""
	}
	if ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -1, ws.Signal().String()
	}
	return cmd.ProcessState.ExitCode(), ""
}

// Report sends a progress event that doesn't come from sidecar output, such as startup preparation steps.
// It never blocks; the event is dropped if the buffer is full.
func (s *Supervisor) Report(msg string) {
	s.report(Event{Type: EventProgress, Message: msg})
}

func (s *Supervisor) report(ev Event) {
	select {
	case s.events <- ev:
	default:
		if ev.Type == EventError {
			s.log.Errorw("event buffer full, dropping event", "Type", ev.Type, "Message", ev.Message)
			return
		}
		s.log.Warnw("event buffer full, dropping event", "Type", ev.Type, "Message", ev.Message)
	}
}
