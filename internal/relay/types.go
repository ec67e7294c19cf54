package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/electr1fy0/cardsync/internal/protocol"
)

type Manager struct {
	cfg       Config
	hubs      []*hub
	backplane Backplane
	logger    *slog.Logger

	published atomic.Int64
	dropped   atomic.Int64
}

// Message is what travels over the backplane. ID names the originating
// client, which never receives its own message back.
type Message struct {
	ID       string          `json:"id,omitempty"`
	ServerID string          `json:"server_id"`
	Kind     protocol.Kind   `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
}

type hub struct {
	id         string
	manager    *Manager
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       <-chan struct{}

	websockets atomic.Int64
	streams    atomic.Int64
}

type client struct {
	hub       *hub
	conn      *websocket.Conn // nil for stream clients
	send      chan Message
	hello     Message
	id        string
	limiter   *rate.Limiter
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (c *client) stream() bool {
	return c.conn == nil
}

// wants reports whether the client's channel carries kind. The event stream
// has no presence.
func (c *client) wants(kind protocol.Kind) bool {
	if !c.stream() {
		return true
	}
	return kind == protocol.KindReaction || kind == protocol.KindArchived
}

// Stats is a snapshot of relay activity.
type Stats struct {
	Hubs       int   `json:"hubs"`
	WebSockets int64 `json:"websockets"`
	Streams    int64 `json:"streams"`
	Published  int64 `json:"published"`
	Dropped    int64 `json:"dropped"`
}
