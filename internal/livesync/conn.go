package livesync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/electr1fy0/cardsync/internal/logger"
	"github.com/electr1fy0/cardsync/internal/protocol"
)

// State is the lifecycle state of the hub's transport.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	}
	return "unknown"
}

// session is one open transport with its pumps.
type session struct {
	t         Transport
	out       chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.t.Close()
	})
}

// ready reports whether enqueue would currently succeed. A concurrent sender
// or a close can still beat the caller to it, in which case enqueue drops.
func (s *session) ready() bool {
	return s.ctx.Err() == nil && len(s.out) < cap(s.out)
}

// enqueue hands data to the write pump without blocking. Stale pointer
// samples are worthless, so a full buffer drops the frame.
func (s *session) enqueue(data []byte) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	select {
	case s.out <- data:
		return true
	default:
		return false
	}
}

// connManager keeps at most one transport open or opening, for as long as
// demand() is positive.
type connManager struct {
	cfg    Config
	dialer Dialer
	logger *slog.Logger
	demand func() int
	handle func(protocol.Event)
	lost   func() // a session ended

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	state       State
	current     *session
	reconnect   *task
	reopen      bool // a subscriber arrived while closing
	closeOnOpen bool // the idle check fired while connecting
	shutdown    bool

	attempts atomic.Int64
	opens    atomic.Int64
}

func newConnManager(cfg Config, dialer Dialer, log *slog.Logger, demand func() int, handle func(protocol.Event), lost func()) *connManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &connManager{
		cfg:    cfg,
		dialer: dialer,
		logger: log,
		demand: demand,
		handle: handle,
		lost:   lost,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (m *connManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ensureConnected starts a connection attempt unless one is open or in
// flight.
func (m *connManager) ensureConnected() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown {
		return
	}
	switch m.state {
	case StateOpen:
		return
	case StateConnecting:
		m.closeOnOpen = false
		return
	case StateClosing:
		m.reopen = true
		return
	}

	m.reconnect.Cancel()
	m.reconnect = nil
	m.state = StateConnecting
	m.closeOnOpen = false
	m.attempts.Add(1)
	m.wg.Add(1)
	go m.connect()
}

func (m *connManager) connect() {
	defer m.wg.Done()

	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.DialTimeout)
	t, err := m.dialer.Dial(ctx)
	cancel()
	if err != nil {
		m.failed(err)
		return
	}
	m.opened(t)
}

// failed handles a dial error. Errors only move the state back to idle;
// whether to retry is decided by the close handling.
func (m *connManager) failed(err error) {
	m.mu.Lock()
	m.state = StateIdle
	m.closeOnOpen = false
	shutdown := m.shutdown
	m.mu.Unlock()

	if shutdown {
		return
	}
	m.logger.Warn("connect failed", logger.Error(err))
	m.closed(false)
}

func (m *connManager) opened(t Transport) {
	m.mu.Lock()
	if m.shutdown || m.closeOnOpen {
		m.state = StateIdle
		m.closeOnOpen = false
		m.mu.Unlock()
		m.logger.Debug("closing connection opened after demand ended")
		_ = t.Close()
		return
	}

	ctx, cancel := context.WithCancel(m.ctx)
	s := &session{
		t:      t,
		out:    make(chan []byte, m.cfg.SendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
	m.current = s
	m.state = StateOpen
	m.opens.Add(1)
	m.wg.Add(2)
	m.mu.Unlock()

	m.logger.Info("connected")

	go m.readLoop(s)
	go m.writePump(s)
}

// readLoop receives frames from one session. Frames are decoded and fanned
// out on this goroutine, so delivery follows arrival order.
func (m *connManager) readLoop(s *session) {
	defer m.wg.Done()
	defer m.dropped(s)

	for {
		f, err := s.t.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				m.logger.Warn("connection lost", logger.Error(err))
			}
			return
		}
		m.receive(f)
	}
}

// writePump sends queued frames and pings the peer.
func (m *connManager) writePump(s *session) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case data := <-s.out:
			writeCtx, cancel := context.WithTimeout(s.ctx, m.cfg.WriteTimeout)
			err := s.t.Write(writeCtx, data)
			cancel()
			if err != nil {
				m.logger.Warn("write failed", logger.Error(err))
				s.close()
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, m.cfg.WriteTimeout)
			err := s.t.Ping(pingCtx)
			cancel()
			if err != nil {
				m.logger.Warn("ping failed", logger.Error(err))
				s.close()
				return
			}
		}
	}
}

func (m *connManager) receive(f protocol.Frame) {
	ev, err := protocol.DecodeFrame(f)
	switch {
	case errors.Is(err, protocol.ErrUnknownKind):
		m.logger.Debug("dropping frame of unknown kind", "event", f.Name, logger.Error(err))
		return
	case err != nil:
		m.logger.Warn("dropping malformed frame", "event", f.Name, logger.Error(err))
		return
	}
	m.handle(ev)
}

// dropped runs once a session's read loop ends.
func (m *connManager) dropped(s *session) {
	s.close()

	m.mu.Lock()
	if m.current != s {
		m.mu.Unlock()
		return
	}
	m.current = nil
	m.state = StateIdle
	reopen := m.reopen
	m.reopen = false
	shutdown := m.shutdown
	m.mu.Unlock()

	m.logger.Info("disconnected")
	if m.lost != nil {
		m.lost()
	}
	if shutdown {
		return
	}
	m.closed(reopen)
}

// closed decides what follows a transport reaching idle.
func (m *connManager) closed(reopen bool) {
	if m.demand() == 0 {
		return
	}
	if reopen {
		m.ensureConnected()
		return
	}
	m.scheduleReconnect()
}

// scheduleReconnect arms a single retry after the fixed delay. There is no
// backoff and no attempt limit.
func (m *connManager) scheduleReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown || m.state != StateIdle || m.reconnect.Pending() {
		return
	}
	m.logger.Info("reconnect scheduled", "delay", m.cfg.ReconnectDelay)
	m.reconnect = after(m.cfg.ReconnectDelay, func() {
		if m.demand() == 0 {
			return
		}
		m.ensureConnected()
	})
}

func (m *connManager) cancelReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reconnect.Cancel() {
		m.logger.Debug("reconnect cancelled")
	}
	m.reconnect = nil
}

// closeIfIdle closes the transport when nobody is subscribed. A connection
// still being dialed is closed as soon as it opens.
func (m *connManager) closeIfIdle() {
	m.mu.Lock()
	if m.demand() > 0 {
		m.mu.Unlock()
		return
	}

	m.reconnect.Cancel()
	m.reconnect = nil

	var s *session
	switch m.state {
	case StateOpen:
		m.state = StateClosing
		s = m.current
	case StateConnecting:
		m.closeOnOpen = true
	}
	m.mu.Unlock()

	if s != nil {
		m.logger.Info("closing idle connection")
		s.close()
	}
}

// send queues data on the open transport. It reports false, dropping the
// data, when there is none or its queue is full. admit, if set, is asked
// last, so it is only consulted for data that can be queued.
func (m *connManager) send(data []byte, admit func() bool) bool {
	m.mu.Lock()
	s := m.current
	open := m.state == StateOpen
	m.mu.Unlock()

	if !open || s == nil || !s.ready() {
		return false
	}
	if admit != nil && !admit() {
		return false
	}
	return s.enqueue(data)
}

func (m *connManager) close(ctx context.Context) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	m.reconnect.Cancel()
	m.reconnect = nil
	s := m.current
	m.mu.Unlock()

	m.cancel()
	if s != nil {
		s.close()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
