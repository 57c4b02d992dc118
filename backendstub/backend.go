package backendstub

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guseggert/sidecar/api"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// End is what a stream does once its scripted frames are sent.
type End int

const (
	// EndClose closes the stream with a normal closure.
	EndClose End = iota
	// EndAbort closes the stream with an internal error status, like a crashing backend.
	EndAbort
	// EndHold keeps the stream open until the task is stopped or the client goes away.
	EndHold
)

// Script is what the backend streams for every task of a kind.
type Script struct {
	Frames []api.Message
	// Interval is waited before each frame.
	Interval time.Duration
	End      End
}

// Submission records a job the backend accepted.
type Submission struct {
	RequestID string
	Kind      api.Kind
	TaskID    api.TaskID
	Body      json.RawMessage
}

type failure struct {
	status int
	body   string
}

type stubTask struct {
	kind     api.Kind
	script   Script
	stopped  chan struct{}
	stopOnce sync.Once
}

func (t *stubTask) stop() {
	t.stopOnce.Do(func() { close(t.stopped) })
}

// Backend is a scriptable stand-in for the inference backend's job API.
// It serves the submit, stop and stream endpoints and nothing else.
type Backend struct {
	logger     *zap.SugaredLogger
	listenAddr string
	httpServer *http.Server
	router     *httprouter.Router

	mu            sync.Mutex
	nextID        api.TaskID
	scripts       map[api.Kind]Script
	failures      map[api.Kind]failure
	tasks         map[api.TaskID]*stubTask
	submissions   []Submission
	stops         map[api.Kind]int
	streamsOpened int
}

type Option func(b *Backend)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(b *Backend) {
		b.logger = l.Named("backendstub")
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(b *Backend) {
		b.logger = b.logger.WithOptions(zap.IncreaseLevel(l))
	}
}

func WithListenAddr(s string) Option {
	return func(b *Backend) {
		b.listenAddr = s
	}
}

// WithScript sets what is streamed for tasks of the given kind.
func WithScript(kind api.Kind, s Script) Option {
	return func(b *Backend) {
		b.scripts[kind] = s
	}
}

// WithNextTaskID sets the id given to the next accepted task.
func WithNextTaskID(id api.TaskID) Option {
	return func(b *Backend) {
		b.nextID = id
	}
}

// WithSubmitFailure makes every submission of the given kind fail with status and body.
func WithSubmitFailure(kind api.Kind, status int, body string) Option {
	return func(b *Backend) {
		b.failures[kind] = failure{status: status, body: body}
	}
}

// DefaultScript is a short successful generation.
func DefaultScript(kind api.Kind) Script {
	if kind == api.KindChat {
		return Script{
			Interval: 50 * time.Millisecond,
			Frames: []api.Message{
				{Type: api.TypeStream, History: []api.ChatMessage{{Role: "assistant", Content: "Hel"}}},
				{Type: api.TypeStream, History: []api.ChatMessage{{Role: "assistant", Content: "Hello"}}},
				{Type: api.TypeComplete, History: []api.ChatMessage{{Role: "assistant", Content: "Hello!"}}},
			},
		}
	}
	return Script{
		Interval: 50 * time.Millisecond,
		Frames: []api.Message{
			{Type: api.TypeProgress, Percent: 10, Status: "Loading models"},
			{Type: api.TypeProgress, Percent: 50, Status: "Sampling"},
			{Type: api.TypeProgress, Percent: 100, Status: "Saving"},
			{Type: api.TypeComplete, Images: []string{"/outputs/stub-1.png"}},
		},
	}
}

func New(opts ...Option) *Backend {
	b := &Backend{
		logger:     defaultLogger,
		listenAddr: "127.0.0.1:7865",
		nextID:     1,
		scripts: map[api.Kind]Script{
			api.KindGenerate: DefaultScript(api.KindGenerate),
			api.KindChat:     DefaultScript(api.KindChat),
		},
		failures: map[api.Kind]failure{},
		tasks:    map[api.TaskID]*stubTask{},
		stops:    map[api.Kind]int{},
	}
	for _, o := range opts {
		o(b)
	}

	router := httprouter.New()
	for _, kind := range []api.Kind{api.KindGenerate, api.KindChat} {
		router.POST(kind.SubmitPath(), b.submit(kind))
		router.POST(kind.StopPath(), b.stop(kind))
	}
	router.GET("/api/ws/:kind/:id", b.stream)
	b.router = router
	return b
}

func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.router.ServeHTTP(w, r)
}

// Run serves on the listen address until Stop is called. If ready is not nil, the bound address is sent on it
// once the listener is up, which is useful with port 0.
func (b *Backend) Run(ready chan<- net.Addr) error {
	l, err := net.Listen("tcp", b.listenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}
	server := &http.Server{Handler: b}
	b.mu.Lock()
	b.httpServer = server
	b.mu.Unlock()

	b.logger.Infow("stub backend listening", "Addr", l.Addr().String())
	if ready != nil {
		ready <- l.Addr()
	}
	err = server.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (b *Backend) Stop() error {
	b.mu.Lock()
	server := b.httpServer
	for _, t := range b.tasks {
		t.stop()
	}
	b.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Close()
}

// Submissions returns the accepted jobs in order.
func (b *Backend) Submissions() []Submission {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Submission(nil), b.submissions...)
}

// Stops returns how many stop requests were received for the kind.
func (b *Backend) Stops(kind api.Kind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stops[kind]
}

// StreamsOpened returns how many task streams were accepted.
func (b *Backend) StreamsOpened() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streamsOpened
}

func (b *Backend) submit(kind api.Kind) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !json.Valid(body) {
			http.Error(w, "request body is not valid JSON", http.StatusBadRequest)
			return
		}

		b.mu.Lock()
		if f, ok := b.failures[kind]; ok {
			b.mu.Unlock()
			b.logger.Debugw("failing submission", "Kind", kind, "Status", f.status)
			http.Error(w, f.body, f.status)
			return
		}
		id := b.nextID
		b.nextID++
		b.tasks[id] = &stubTask{kind: kind, script: b.scripts[kind], stopped: make(chan struct{})}
		sub := Submission{RequestID: uuid.NewString(), Kind: kind, TaskID: id, Body: body}
		b.submissions = append(b.submissions, sub)
		b.mu.Unlock()

		b.logger.Debugw("accepted task", "Kind", kind, "TaskID", id, "RequestID", sub.RequestID)
		writeJSON(w, b.logger, api.SubmitResponse{TaskID: id})
	}
}

func (b *Backend) stop(kind api.Kind) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		b.mu.Lock()
		b.stops[kind]++
		for _, t := range b.tasks {
			if t.kind == kind {
				t.stop()
			}
		}
		b.mu.Unlock()

		b.logger.Debugw("stopped tasks", "Kind", kind)
		writeJSON(w, b.logger, map[string]string{"status": "stopped"})
	}
}

func (b *Backend) lookup(kind string, idStr string) (*stubTask, api.TaskID, bool) {
	n, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return nil, 0, false
	}
	id := api.TaskID(n)
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tasks[id]
	if !ok || string(t.kind) != kind {
		return nil, 0, false
	}
	b.streamsOpened++
	return t, id, true
}

func writeJSON(w http.ResponseWriter, log *zap.SugaredLogger, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "application/json")
	_, err = w.Write(b)
	if err != nil {
		log.Debugf("error writing response: %s", err)
	}
}
