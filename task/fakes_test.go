package task

import (
	"context"
	"errors"
	"sync"

	"github.com/guseggert/sidecar/api"
	"github.com/guseggert/sidecar/stream"
)

type fakeStream struct {
	id     api.TaskID
	events chan stream.Event
	// leaky streams keep delivering after Close, like a late frame already in flight
	leaky bool

	mu     sync.Mutex
	closed bool
}

func newFakeStream(id api.TaskID, leaky bool) *fakeStream {
	return &fakeStream{id: id, events: make(chan stream.Event, 16), leaky: leaky}
}

func (s *fakeStream) Events() <-chan stream.Event { return s.events }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.leaky {
		close(s.events)
	}
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// send returns false if the stream no longer delivers.
func (s *fakeStream) send(ev stream.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed && !s.leaky {
		return false
	}
	ev.TaskID = s.id
	select {
	case s.events <- ev:
		return true
	default:
		// nobody reads a stale stream
		return false
	}
}

func (s *fakeStream) frame(m api.Message) bool {
	return s.send(stream.Event{Message: m})
}

func (s *fakeStream) remoteClose() bool {
	return s.send(stream.Event{Closed: true})
}

type fakeSubmitter struct {
	mu        sync.Mutex
	nextID    api.TaskID
	submitErr error
	stopErr   error
	stopGate  chan struct{}
	payloads  []any
	stops     int
}

func (f *fakeSubmitter) Submit(ctx context.Context, kind api.Kind, payload any) (api.TaskID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return 0, f.submitErr
	}
	f.payloads = append(f.payloads, payload)
	id := f.nextID
	f.nextID++
	return id, nil
}

func (f *fakeSubmitter) Stop(ctx context.Context, kind api.Kind) error {
	f.mu.Lock()
	gate := f.stopGate
	f.stops++
	err := f.stopErr
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeSubmitter) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

type fakeOpener struct {
	mu      sync.Mutex
	leaky   bool
	err     error
	streams []*fakeStream
}

func (o *fakeOpener) open(ctx context.Context, kind api.Kind, id api.TaskID) (Stream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	s := newFakeStream(id, o.leaky)
	o.streams = append(o.streams, s)
	return s, nil
}

func (o *fakeOpener) stream(i int) *fakeStream {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.streams[i]
}

func (o *fakeOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.streams)
}

func (o *fakeOpener) openStreams() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, s := range o.streams {
		if !s.isClosed() {
			n++
		}
	}
	return n
}

var errBoom = errors.New("boom")
