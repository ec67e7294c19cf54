package relay

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/electr1fy0/cardsync/internal/logger"
	"github.com/electr1fy0/cardsync/internal/protocol"
)

// ServeSSE streams card events to clients that cannot hold a websocket.
// Only reactions and archive flags are carried, plus a periodic heartbeat.
func (m *Manager) ServeSSE(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	id := uuid.NewString()
	hub := m.hubFor(id)
	cl := m.newClient(hub, id)

	if !hub.join(cl) {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	defer hub.leave(cl)
	m.logger.Info("stream client connected", "client_id", id, "hub", hub.id)

	heartbeat := time.NewTicker(m.cfg.Heartbeat)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	messageID := 0

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false

		case <-heartbeat.C:
			err := sse.Encode(w, sse.Event{
				Event: string(protocol.KindHeartbeat),
				Data:  "heartbeat",
			})
			return err == nil

		case msg, ok := <-cl.send:
			if !ok {
				return false
			}
			ev, err := streamEvent(msg)
			if err != nil {
				m.logger.Warn("skipping stream event", "client_id", id, logger.Error(err))
				return true
			}
			messageID++
			ev.Id = strconv.Itoa(messageID)
			return sse.Encode(w, ev) == nil
		}
	})

	m.logger.Info("stream client disconnected", "client_id", id)
}

func streamEvent(msg Message) (sse.Event, error) {
	ev, err := protocol.Decode(msg.Payload)
	if err != nil {
		return sse.Event{}, fmt.Errorf("decode %s: %w", msg.Kind, err)
	}
	data, err := protocol.Payload(ev)
	if err != nil {
		return sse.Event{}, err
	}
	return sse.Event{Event: string(ev.Kind()), Data: data}, nil
}
