package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"runtime"

	"github.com/google/uuid"

	"github.com/electr1fy0/cardsync/internal/logger"
	"github.com/electr1fy0/cardsync/internal/protocol"
)

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.logger = log
		}
	}
}

// NewManager builds the fan-out hubs, one per CPU unless cfg says otherwise.
func NewManager(cfg Config, bp Backplane, opts ...Option) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:       cfg,
		backplane: bp,
		logger:    logger.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}

	n := cfg.Hubs
	if n <= 0 {
		n = runtime.NumCPU()
	}
	hubs := make([]*hub, n)
	for i := range n {
		hubs[i] = &hub{
			id:         uuid.NewString(),
			manager:    m,
			clients:    make(map[*client]bool),
			register:   make(chan *client, 128),
			unregister: make(chan *client, 128),
			broadcast:  make(chan []byte, 256),
		}
	}

	m.hubs = hubs
	return m
}

// Start subscribes every hub to the backplane and launches the hub loops.
// Hubs stop when ctx ends.
func (m *Manager) Start(ctx context.Context) error {
	for _, h := range m.hubs {
		ch, err := m.backplane.Subscribe(ctx)
		if err != nil {
			return fmt.Errorf("start hub %s: %w", h.id, err)
		}
		h.done = ctx.Done()
		go h.run()
		go h.listen(ch)
	}
	m.logger.Info("relay hubs started", "hubs", len(m.hubs))
	return nil
}

func (m *Manager) hubFor(clientID string) *hub {
	f := fnv.New32a()
	_, _ = f.Write([]byte(clientID))
	return m.hubs[int(f.Sum32()%uint32(len(m.hubs)))]
}

// Publish validates a card event from a collaborator and fans it out to
// every connected client.
func (m *Manager) Publish(ctx context.Context, ev protocol.Event) error {
	switch ev.(type) {
	case protocol.Reaction, protocol.Archived:
	default:
		return fmt.Errorf("%w: %s cannot be published", ErrBadEvent, ev.Kind())
	}

	payload, err := protocol.Encode(ev)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadEvent, err)
	}
	return m.publish(ctx, Message{Kind: ev.Kind(), Payload: payload})
}

func (m *Manager) publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := m.backplane.Publish(ctx, data); err != nil {
		m.logger.Error("backplane publish failed", "kind", msg.Kind, logger.Error(err))
		return err
	}
	m.published.Add(1)
	return nil
}

// Ping checks the backplane.
func (m *Manager) Ping(ctx context.Context) error {
	return m.backplane.Ping(ctx)
}

func (m *Manager) Stats() Stats {
	s := Stats{
		Hubs:      len(m.hubs),
		Published: m.published.Load(),
		Dropped:   m.dropped.Load(),
	}
	for _, h := range m.hubs {
		s.WebSockets += h.websockets.Load()
		s.Streams += h.streams.Load()
	}
	return s
}

func (m *Manager) newClient(h *hub, id string) *client {
	hello, _ := protocol.Encode(protocol.Connected{ClientID: id})
	return &client{
		hub:   h,
		send:  make(chan Message, m.cfg.SendBuffer),
		hello: Message{Kind: protocol.KindConnected, Payload: hello},
		id:    id,
	}
}
