package livesync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/electr1fy0/cardsync/internal/protocol"
)

var (
	errFakeClosed  = errors.New("fake transport closed")
	errFakeRefused = errors.New("connection refused")
)

type fakeTransport struct {
	frames chan protocol.Frame
	writes chan []byte
	done   chan struct{}
	hold   chan struct{} // when set, each Write waits for it to close
	once   sync.Once
	closes atomic.Int32
}

func newFakeTransport(hold chan struct{}) *fakeTransport {
	return &fakeTransport{
		frames: make(chan protocol.Frame, 16),
		writes: make(chan []byte, 64),
		done:   make(chan struct{}),
		hold:   hold,
	}
}

func (t *fakeTransport) Read(ctx context.Context) (protocol.Frame, error) {
	select {
	case f := <-t.frames:
		return f, nil
	case <-t.done:
		return protocol.Frame{}, errFakeClosed
	case <-ctx.Done():
		return protocol.Frame{}, ctx.Err()
	}
}

func (t *fakeTransport) Write(ctx context.Context, data []byte) error {
	select {
	case <-t.done:
		return errFakeClosed
	default:
	}
	t.writes <- data
	if t.hold == nil {
		return nil
	}
	select {
	case <-t.hold:
		return nil
	case <-t.done:
		return errFakeClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *fakeTransport) Ping(context.Context) error { return nil }

func (t *fakeTransport) Close() error {
	t.closes.Add(1)
	t.drop()
	return nil
}

// drop simulates the relay going away.
func (t *fakeTransport) drop() {
	t.once.Do(func() { close(t.done) })
}

func (t *fakeTransport) push(frame string) {
	t.frames <- protocol.Frame{Data: []byte(frame)}
}

type fakeDialer struct {
	dials atomic.Int32
	fail  atomic.Bool
	gate  chan struct{}
	hold  chan struct{}
	conns chan *fakeTransport
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeTransport, 64)}
}

func (d *fakeDialer) Dial(ctx context.Context) (Transport, error) {
	d.dials.Add(1)
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.fail.Load() {
		return nil, errFakeRefused
	}
	t := newFakeTransport(d.hold)
	d.conns <- t
	return t, nil
}

func (d *fakeDialer) next(t *testing.T) *fakeTransport {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(time.Second):
		t.Fatal("no connection was opened")
		return nil
	}
}

func testConfig() Config {
	return Config{
		ReconnectDelay:  30 * time.Millisecond,
		GracePeriod:     40 * time.Millisecond,
		PointerInterval: 50 * time.Millisecond,
		DialTimeout:     time.Second,
		WriteTimeout:    time.Second,
		PingInterval:    time.Hour,
	}
}

func newTestHub(t *testing.T, d Dialer, mutate ...func(*Config)) *Hub {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	h := New(cfg, WithDialer(d))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
	})
	return h
}

func waitOpen(t *testing.T, h *Hub) {
	t.Helper()
	require.Eventually(t, func() bool { return h.State() == StateOpen }, time.Second, 2*time.Millisecond)
}

func nextWrite(t *testing.T, c *fakeTransport) []byte {
	t.Helper()
	select {
	case w := <-c.writes:
		return w
	case <-time.After(time.Second):
		t.Fatal("nothing was written")
		return nil
	}
}

func noWrite(t *testing.T, c *fakeTransport, wait time.Duration) {
	t.Helper()
	select {
	case w := <-c.writes:
		t.Fatalf("unexpected write %s", w)
	case <-time.After(wait):
	}
}

// recorder collects callback invocations in order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}
