package relay

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/electr1fy0/cardsync/internal/logger"
)

// ServeWS upgrades to WS and binds each client to one hub.
// Also starts RW pumps per client.
func (m *Manager) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, m.acceptOptions())
	if err != nil {
		m.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, logger.Error(err))
		return
	}
	conn.SetReadLimit(m.cfg.ReadLimit)

	id := uuid.NewString()
	hub := m.hubFor(id)

	connCtx, cancel := context.WithCancel(context.Background())
	c := m.newClient(hub, id)
	c.conn = conn
	c.cancel = cancel
	c.limiter = rate.NewLimiter(rate.Limit(m.cfg.InboundRate), m.cfg.InboundBurst)

	if !hub.join(c) {
		cancel()
		_ = conn.Close(websocket.StatusGoingAway, "relay shutting down")
		return
	}
	m.logger.Info("websocket client connected", "client_id", id, "hub", hub.id)

	go c.readPump(connCtx)
	go c.writePump(connCtx)
}

func (m *Manager) acceptOptions() *websocket.AcceptOptions {
	if len(m.cfg.AllowedOrigins) == 0 {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	return &websocket.AcceptOptions{OriginPatterns: m.cfg.AllowedOrigins}
}
