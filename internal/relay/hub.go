package relay

import (
	"context"
	"encoding/json"

	"github.com/electr1fy0/cardsync/internal/logger"
)

func (h *hub) addClient(c *client) {
	h.clients[c] = true
	if c.stream() {
		h.streams.Add(1)
	} else {
		h.websockets.Add(1)
	}

	// The greeting goes out only once the client is in the fan-out set.
	select {
	case c.send <- c.hello:
	default:
	}
}

func (h *hub) removeClient(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	if c.stream() {
		h.streams.Add(-1)
	} else {
		h.websockets.Add(-1)
	}
}

// run is the single owner of hub state.
// Listens to events from everywhere.
func (h *hub) run() {
	for {
		select {
		case <-h.done:
			for c := range h.clients {
				h.removeClient(c)
			}
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		case m := <-h.broadcast:
			var envelope Message
			if err := json.Unmarshal(m, &envelope); err != nil {
				h.manager.logger.Warn("dropping undecodable backplane message", "hub", h.id, logger.Error(err))
				continue
			}

			for c := range h.clients {
				if c.id == envelope.ID || !c.wants(envelope.Kind) {
					continue
				}

				select {
				case c.send <- envelope:
				default:
					h.manager.logger.Warn("dropping slow client", "client_id", c.id)
					h.manager.dropped.Add(1)
					h.removeClient(c)
				}
			}
		}
	}
}

// listen forwards backplane payloads to the run loop.
func (h *hub) listen(ch <-chan []byte) {
	h.manager.logger.Debug("subscribed to backplane", "hub", h.id)

	for payload := range ch {
		select {
		case h.broadcast <- payload:
		case <-h.done:
			return
		}
	}
}

func (h *hub) join(c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *hub) leave(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *hub) publish(ctx context.Context, msg Message) {
	msg.ServerID = h.id
	_ = h.manager.publish(ctx, msg)
}
