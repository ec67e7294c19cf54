// Package livesync keeps card reactions, archive flags and other viewers'
// pointers in sync for every listener in a process over one shared relay
// connection.
//
// A Hub is constructed explicitly and passed to whoever needs it. It dials
// lazily on the first Subscribe, reconnects after a fixed delay while anyone
// is subscribed, and closes the transport a grace period after the last
// subscription is released. Inbound messages are delivered to all
// subscribers in arrival order; outbound pointer positions are throttled.
//
// When the websocket endpoint cannot be used, the hub can run over the
// receive-only event stream instead. Pointer presence is then unavailable.
package livesync

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/electr1fy0/cardsync/internal/logger"
	"github.com/electr1fy0/cardsync/internal/protocol"
)

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger for hub internals.
func WithLogger(log *slog.Logger) Option {
	return func(h *Hub) {
		if log != nil {
			h.logger = log
		}
	}
}

// WithDialer replaces the transport dialer chosen from Config.
func WithDialer(d Dialer) Option {
	return func(h *Hub) {
		h.dialer = d
	}
}

// WithHTTPClient sets the client used by the built-in dialers.
func WithHTTPClient(c *http.Client) Option {
	return func(h *Hub) {
		h.httpClient = c
	}
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	State       State
	Subscribers int
	Attempts    int64
	Opens       int64
}

// Hub owns the single relay connection of a process and its subscribers.
type Hub struct {
	cfg        Config
	logger     *slog.Logger
	dialer     Dialer
	httpClient *http.Client

	registry *registry
	conn     *connManager
	throttle *throttle

	idMu     sync.RWMutex
	clientID string

	idleMu sync.Mutex
	idle   *task

	closed atomic.Bool
}

// New builds a hub. Nothing is dialed until the first Subscribe.
func New(cfg Config, opts ...Option) *Hub {
	h := &Hub{
		cfg:    cfg.withDefaults(),
		logger: logger.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.dialer == nil {
		h.dialer = h.cfg.dialer(h.httpClient)
	}

	h.registry = newRegistry(h.logger)
	h.conn = newConnManager(h.cfg, h.dialer, h.logger, h.registry.Len, h.handle, h.forgetClientID)
	h.throttle = newThrottle(h.cfg.PointerInterval)
	return h
}

// Subscribe registers cb and makes sure a connection exists or is coming.
func (h *Hub) Subscribe(cb Callbacks) *Subscription {
	s := h.registry.add(cb, h.release)
	h.logger.Debug("subscribed", "subscriber", s.id)
	h.conn.ensureConnected()
	return s
}

func (h *Hub) release(s *Subscription) {
	remaining := h.registry.remove(s)
	h.logger.Debug("released", "subscriber", s.id, "remaining", remaining)

	if remaining == 0 {
		h.conn.cancelReconnect()
	}
	if h.closed.Load() {
		return
	}

	h.idleMu.Lock()
	defer h.idleMu.Unlock()
	h.idle.Cancel()
	h.idle = after(h.cfg.GracePeriod, h.conn.closeIfIdle)
}

func (h *Hub) handle(ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.Connected:
		h.idMu.Lock()
		h.clientID = e.ClientID
		h.idMu.Unlock()
		h.logger.Info("client id assigned", "client_id", e.ClientID)
		return
	case protocol.Heartbeat:
		return
	case protocol.Presence:
		if h.isSelf(e.ClientID) {
			return
		}
	case protocol.PresenceLeave:
		if h.isSelf(e.ClientID) {
			return
		}
	}
	h.registry.dispatch(ev)
}

// forgetClientID drops the id of a connection that has ended. The next
// connection is assigned a new one.
func (h *Hub) forgetClientID() {
	h.idMu.Lock()
	h.clientID = ""
	h.idMu.Unlock()
}

func (h *Hub) isSelf(clientID string) bool {
	if clientID == "" {
		return false
	}
	return clientID == h.ClientID()
}

// ClientID returns the id the relay assigned on the current connection, or
// "" before one was received.
func (h *Hub) ClientID() string {
	h.idMu.RLock()
	defer h.idMu.RUnlock()
	return h.clientID
}

// PresenceAvailable reports whether pointer positions can be sent.
func (h *Hub) PresenceAvailable() bool {
	return h.cfg.Transport != TransportStream
}

// MovePointer sends this client's pointer position on a card. Samples
// arriving faster than the pointer interval are dropped, as is anything sent
// while no connection is open. It reports whether the sample was queued.
func (h *Hub) MovePointer(cardID int64, x, y float64) bool {
	if !h.PresenceAvailable() {
		return false
	}

	p := protocol.Presence{CardID: cardID, X: x, Y: y}
	if p.IsLeave() {
		return h.LeavePointer(cardID)
	}
	if err := p.Validate(); err != nil {
		h.logger.Debug("ignoring pointer sample", logger.Error(err))
		return false
	}
	data, err := protocol.Encode(p)
	if err != nil {
		h.logger.Warn("encode pointer sample", logger.Error(err))
		return false
	}
	// The throttle window is only spent on a sample that gets queued.
	return h.conn.send(data, h.throttle.Allow)
}

// LeavePointer tells other viewers this client's pointer left a card. It is
// never throttled.
func (h *Hub) LeavePointer(cardID int64) bool {
	if !h.PresenceAvailable() {
		return false
	}

	var ev protocol.Event = protocol.PresenceLeave{CardID: cardID}
	if h.cfg.SentinelLeave {
		ev = protocol.Presence{CardID: cardID, X: protocol.LeaveSentinel, Y: protocol.LeaveSentinel}
	}

	data, err := protocol.Encode(ev)
	if err != nil {
		h.logger.Warn("encode pointer leave", logger.Error(err))
		return false
	}
	return h.conn.send(data, nil)
}

// State returns the transport state.
func (h *Hub) State() State {
	return h.conn.State()
}

// Stats returns counters for the hub's lifetime.
func (h *Hub) Stats() Stats {
	return Stats{
		State:       h.conn.State(),
		Subscribers: h.registry.Len(),
		Attempts:    h.conn.attempts.Load(),
		Opens:       h.conn.opens.Load(),
	}
}

// Shutdown closes the transport, cancels pending timers and waits for the
// hub's goroutines, or for ctx. It must not be called from a callback.
func (h *Hub) Shutdown(ctx context.Context) error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}

	h.idleMu.Lock()
	h.idle.Cancel()
	h.idle = nil
	h.idleMu.Unlock()

	return h.conn.close(ctx)
}
