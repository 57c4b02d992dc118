package task

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/guseggert/sidecar/api"
	"github.com/guseggert/sidecar/stream"
	"go.uber.org/zap"
)

// ErrClosed is returned when submitting to a closed Controller.
var ErrClosed = errors.New("task controller is closed")

// Submitter submits jobs and stops them server-side. *Client implements it.
type Submitter interface {
	Submit(ctx context.Context, kind api.Kind, payload any) (api.TaskID, error)
	Stop(ctx context.Context, kind api.Kind) error
}

// Stream is an open task stream. *stream.Channel implements it.
type Stream interface {
	Events() <-chan stream.Event
	Close() error
}

// OpenFunc opens the stream of a task.
type OpenFunc func(ctx context.Context, kind api.Kind, id api.TaskID) (Stream, error)

// DialerOpener opens streams with d.
func DialerOpener(d *stream.Dialer) OpenFunc {
	return func(ctx context.Context, kind api.Kind, id api.TaskID) (Stream, error) {
		c, err := d.Open(ctx, kind, id)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Controller drives the tasks of one kind. At most one task, and one stream, is active at a time:
// submitting or cancelling abandons the previous one, and anything it still sends is ignored.
type Controller struct {
	log       *zap.SugaredLogger
	kind      api.Kind
	submitter Submitter
	open      OpenFunc

	mu      sync.Mutex
	gen     uint64
	snap    Snapshot
	ch      Stream
	updates chan Snapshot
	closed  bool
}

type Option func(c *Controller)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Controller) {
		c.log = l.Named("task")
	}
}

// WithUpdateBuffer sets how many snapshots may queue up before new ones are dropped.
func WithUpdateBuffer(n int) Option {
	return func(c *Controller) {
		c.updates = make(chan Snapshot, n)
	}
}

func NewController(kind api.Kind, submitter Submitter, open OpenFunc, opts ...Option) *Controller {
	c := &Controller{
		log:       defaultLogger.Named("task"),
		kind:      kind,
		submitter: submitter,
		open:      open,
		updates:   make(chan Snapshot, 64),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With("Kind", kind)
	c.snap = Snapshot{Kind: kind, State: Idle}
	return c
}

// Snapshot returns the state of the current task.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Updates returns a channel receiving a Snapshot after every change. Snapshots are dropped while the
// channel is full, so consumers that fall behind should read Snapshot for the latest state.
// The channel is closed by Close.
func (c *Controller) Updates() <-chan Snapshot {
	return c.updates
}

// publish must be called with mu held.
func (c *Controller) publish() {
	if c.closed {
		return
	}
	select {
	case c.updates <- c.snap:
	default:
		c.log.Debugw("update buffer full, dropping snapshot", "State", c.snap.State)
	}
}

// detach must be called with mu held. It starts a new generation and returns the stream to close.
func (c *Controller) detach() Stream {
	c.gen++
	ch := c.ch
	c.ch = nil
	return ch
}

func closeStream(log *zap.SugaredLogger, ch Stream) {
	if ch == nil {
		return
	}
	if err := ch.Close(); err != nil {
		log.Debugf("error closing stream: %s", err)
	}
}

// Submit starts a new task, abandoning the current one. The returned error is also reflected in the
// snapshot, with CauseSubmit or CauseStream.
func (c *Controller) Submit(ctx context.Context, payload any) (api.TaskID, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	old := c.detach()
	gen := c.gen
	c.snap = Snapshot{
		Kind:       c.kind,
		State:      Pending,
		Generation: gen,
		Progress:   Progress{Percent: 0, Status: "Starting..."},
	}
	c.publish()
	c.mu.Unlock()
	closeStream(c.log, old)

	id, err := c.submitter.Submit(ctx, c.kind, payload)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		c.log.Debugw("task abandoned while submitting", "TaskID", id)
		return id, nil
	}
	if err != nil {
		c.fail(CauseSubmit, err.Error())
		c.mu.Unlock()
		c.log.Warnw("submitting task failed", "Error", err)
		return 0, fmt.Errorf("submitting %s task: %w", c.kind, err)
	}
	c.snap.TaskID = id
	c.publish()
	c.mu.Unlock()

	log := c.log.With("TaskID", id)
	ch, err := c.open(ctx, c.kind, id)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		log.Debug("task abandoned while opening its stream")
		closeStream(log, ch)
		return id, nil
	}
	if err != nil {
		c.fail(CauseStream, err.Error())
		c.mu.Unlock()
		log.Warnw("opening task stream failed", "Error", err)
		return id, fmt.Errorf("opening stream for %s task %s: %w", c.kind, id, err)
	}
	c.ch = ch
	c.mu.Unlock()

	log.Debug("streaming task")
	go c.forward(gen, id, ch)
	return id, nil
}

// Cancel abandons the current task. An in-flight task becomes Cancelled right away, then the backend is
// asked to stop; a failure to do so is returned but leaves the task Cancelled.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	inFlight := c.snap.State.InFlight()
	ch := c.detach()
	if inFlight {
		c.snap.State = Cancelled
		c.snap.Generation = c.gen
		c.publish()
	}
	c.mu.Unlock()
	closeStream(c.log, ch)

	if !inFlight {
		return nil
	}
	c.log.Infow("cancelling task", "TaskID", c.Snapshot().TaskID)
	err := c.submitter.Stop(ctx, c.kind)
	if err != nil {
		c.log.Warnw("asking backend to stop task failed", "Error", err)
		return fmt.Errorf("stopping %s task: %w", c.kind, err)
	}
	return nil
}

// Close abandons the current task without telling the backend, and closes Updates.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	ch := c.detach()
	c.closed = true
	close(c.updates)
	c.mu.Unlock()
	closeStream(c.log, ch)
	return nil
}

// fail must be called with mu held.
func (c *Controller) fail(cause Cause, msg string) {
	c.snap.State = Error
	c.snap.Cause = cause
	c.snap.Err = msg
	c.publish()
}

func (c *Controller) forward(gen uint64, id api.TaskID, ch Stream) {
	for ev := range ch.Events() {
		if done := c.fold(gen, id, ev); done {
			break
		}
	}
	closeStream(c.log, ch)
}

// fold applies one stream event to the snapshot. It returns true once the stream is of no further use.
func (c *Controller) fold(gen uint64, id api.TaskID, ev stream.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || id != c.snap.TaskID || ev.TaskID != id {
		c.log.Debugw("ignoring stale stream event", "TaskID", ev.TaskID, "Generation", gen)
		return true
	}

	if ev.Closed {
		if c.snap.State.InFlight() {
			c.log.Warnw("task stream closed before the task finished", "TaskID", id, "Error", ev.Err)
			c.fail(CauseConnectionLost, connectionLost)
		}
		return true
	}
	if !c.snap.State.InFlight() {
		return true
	}

	msg := ev.Message
	switch msg.Type {
	case api.TypeProgress, api.TypeStream:
		c.snap.State = Streaming
		if msg.Type == api.TypeProgress {
			c.snap.Progress = Progress{
				Percent: clampPercent(msg.Percent),
				Status:  msg.Status,
				Preview: msg.Preview,
			}
		}
		if msg.History != nil {
			c.snap.History = msg.History
		}
		c.publish()
		return false
	case api.TypeComplete:
		c.snap.State = Complete
		c.snap.Progress.Percent = 100
		c.snap.Images = msg.Images
		if msg.History != nil {
			c.snap.History = msg.History
		}
		c.log.Infow("task complete", "TaskID", id, "Images", len(msg.Images))
		c.publish()
		return true
	case api.TypeError:
		c.log.Warnw("backend reported task error", "TaskID", id, "Error", msg.ErrorText())
		c.fail(CauseBackend, msg.ErrorText())
		return true
	default:
		return false
	}
}
