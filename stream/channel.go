package stream

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/guseggert/sidecar/api"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// defaultReadLimit leaves room for a full chat history in a single frame.
const defaultReadLimit = 1 << 20

// Event is one item read from a task stream.
type Event struct {
	TaskID api.TaskID
	// Message is the parsed frame. It is zero when Closed is set.
	Message api.Message
	// Closed is set on the last Event of a channel, sent when the backend closed the stream or the connection dropped.
	Closed bool
	// Err is the reason of an abnormal close, nil on a normal closure.
	Err error
}

// Dialer opens task streams against a backend.
type Dialer struct {
	// BaseURL is the backend's root, e.g. http://127.0.0.1:7865. The ws and wss schemes work too.
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.SugaredLogger
	// ReadLimit is the largest frame accepted, in bytes. Larger frames abort the stream.
	ReadLimit int64
}

// Open dials the stream of the given task. The returned Channel is already reading.
func (d *Dialer) Open(ctx context.Context, kind api.Kind, id api.TaskID) (*Channel, error) {
	log := d.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	url := strings.TrimSuffix(d.BaseURL, "/") + kind.StreamPath(id)

	log.Debugw("dialing task stream", "URL", url)
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
	})
	if err != nil {
		log.Debugf("dial error: %s", err)
		return nil, fmt.Errorf("establishing WebSocket conn to stream task %s: %w", id, err)
	}
	readLimit := d.ReadLimit
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}
	conn.SetReadLimit(readLimit)

	// the stream outlives the dial context
	runCtx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		id:     id,
		kind:   kind,
		log:    log.Named("stream").With("Kind", kind, "TaskID", id),
		conn:   conn,
		ctx:    runCtx,
		cancel: cancel,
		events: make(chan Event),
	}
	c.wg.Add(1)
	go c.readMessages()
	return c, nil
}

// Channel is an open stream for one task.
type Channel struct {
	id     api.TaskID
	kind   api.Kind
	log    *zap.SugaredLogger
	conn   *websocket.Conn
	ctx    context.Context
	cancel func()
	events chan Event

	// mu makes sure that no event is handed over once Close has returned.
	mu     sync.Mutex
	closed bool

	closedByCaller atomic.Bool
	closeOnce      sync.Once
	closeConnOnce  sync.Once
	wg             sync.WaitGroup
}

func (c *Channel) TaskID() api.TaskID { return c.id }

func (c *Channel) Kind() api.Kind { return c.kind }

// Events returns the channel Events are delivered on. It is closed when the reader stops,
// which is after the Closed event or after Close.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Close abandons the stream. It is idempotent and safe to call from any goroutine,
// including while Events are being consumed.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.log.Debug("closing task stream")
		c.closedByCaller.Store(true)
		c.cancel()

		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.closeConn(websocket.StatusNormalClosure, "")
	})
	return nil
}

func (c *Channel) closeConn(code websocket.StatusCode, reason string) {
	// websocket reason can't be above 123 chars
	if len(reason) > 100 {
		reason = reason[0:100]
	}
	c.closeConnOnce.Do(func() {
		err := c.conn.Close(code, reason)
		if err != nil {
			c.log.Debugf("error closing conn: %s", err)
		}
	})
}

// deliver hands ev to the consumer, or drops it if the caller closed the channel first.
func (c *Channel) deliver(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.events <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Channel) readMessages() {
	defer c.wg.Done()
	defer close(c.events)

	for {
		typ, b, err := c.conn.Read(c.ctx)
		if err != nil {
			if c.closedByCaller.Load() {
				c.log.Debugf("reader stopped after close: %s", err)
				return
			}
			ev := Event{TaskID: c.id, Closed: true}
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				ev.Err = err
			}
			c.log.Debugw("task stream closed", "Error", ev.Err)
			c.deliver(ev)
			c.closeConn(websocket.StatusNormalClosure, "")
			return
		}
		if typ != websocket.MessageText {
			c.log.Debugf("dropping %s frame", typ)
			continue
		}
		msg, ok := api.ParseMessage(b)
		if !ok {
			c.log.Debugw("dropping malformed frame", "Frame", string(b))
			continue
		}
		if !c.deliver(Event{TaskID: c.id, Message: msg}) {
			return
		}
	}
}

// Wait blocks until the reader has stopped.
func (c *Channel) Wait() {
	c.wg.Wait()
}
