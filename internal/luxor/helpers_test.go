package luxor

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tagyoureit/luxord/internal/queue"
)

// fakeController speaks the controller protocol from per-endpoint handlers.
type fakeController struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	handlers map[string]func(w http.ResponseWriter, body map[string]any)
	calls    map[string]int
	bodies   map[string][]map[string]any
	inFlight int
	maxIn    int
}

func newFakeController(t *testing.T) *fakeController {
	t.Helper()
	f := &fakeController{
		t:        t,
		handlers: make(map[string]func(http.ResponseWriter, map[string]any)),
		calls:    make(map[string]int),
		bodies:   make(map[string][]map[string]any),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeController) serve(w http.ResponseWriter, r *http.Request) {
	endpoint := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), ".json")

	if r.Method != http.MethodPost || r.Header.Get("Cache-Control") != "no-cache" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.calls[endpoint]++
	f.bodies[endpoint] = append(f.bodies[endpoint], body)
	f.inFlight++
	if f.inFlight > f.maxIn {
		f.maxIn = f.inFlight
	}
	h := f.handlers[endpoint]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if h == nil {
		writeJSON(w, map[string]any{"Status": 1})
		return
	}
	h(w, body)
}

// reply registers a handler that always answers with v.
func (f *fakeController) reply(endpoint string, v any) {
	f.handle(endpoint, func(w http.ResponseWriter, _ map[string]any) {
		writeJSON(w, v)
	})
}

func (f *fakeController) handle(endpoint string, h func(http.ResponseWriter, map[string]any)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[endpoint] = h
}

func (f *fakeController) count(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[endpoint]
}

func (f *fakeController) lastBody(endpoint string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	bodies := f.bodies[endpoint]
	if len(bodies) == 0 {
		return nil
	}
	return bodies[len(bodies)-1]
}

func (f *fakeController) maxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxIn
}

func (f *fakeController) ip() string {
	return strings.TrimPrefix(f.srv.URL, "http://")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func ok(fields map[string]any) map[string]any {
	out := map[string]any{"Status": 0, "StatusStr": "Ok"}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testEnv struct {
	client *Client
	clock  *fakeClock
	logs   *syncBuffer
	ctx    context.Context
}

func newTestClient(t *testing.T, kind Kind, f *fakeController, mutate ...func(*Options)) *testEnv {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	q := queue.New(-1)
	go q.Run(ctx)

	logs := &syncBuffer{}
	logger := zerolog.New(logs)
	clock := newFakeClock()

	opts := Options{
		IP:           f.ip(),
		Name:         "test-controller",
		Timeout:      time.Second,
		RefreshDelay: time.Hour,
		Queue:        q,
		Logger:       &logger,
		Now:          clock.Now,
	}
	for _, m := range mutate {
		m(&opts)
	}

	return &testEnv{
		client: New(kind, opts),
		clock:  clock,
		logs:   logs,
		ctx:    ctx,
	}
}

func testLogger() zerolog.Logger {
	return zerolog.New(&syncBuffer{})
}

func loggerPtr(l zerolog.Logger) *zerolog.Logger {
	return &l
}
