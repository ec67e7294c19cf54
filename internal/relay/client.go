package relay

import (
	"context"
	"errors"
	"time"

	"github.com/coder/websocket"

	"github.com/electr1fy0/cardsync/internal/logger"
	"github.com/electr1fy0/cardsync/internal/protocol"
)

func (c *client) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.hub.leave(c)
		_ = c.conn.Close(code, reason)

		// Whatever card the pointer was on, it is gone now.
		ctx, cancel := context.WithTimeout(context.Background(), c.hub.manager.cfg.WriteWait)
		defer cancel()
		leave, err := protocol.Encode(protocol.PresenceLeave{ClientID: c.id})
		if err == nil {
			c.hub.publish(ctx, Message{ID: c.id, Kind: protocol.KindPresenceLeave, Payload: leave})
		}
	})
}

// readPump receives pointer frames from one client, stamps them with the
// client's id and publishes them.
func (c *client) readPump(ctx context.Context) {
	defer c.close(websocket.StatusNormalClosure, "read loop closed")

	log := c.hub.manager.logger
	for {
		_, payload, err := c.conn.Read(ctx)
		if err != nil {
			return
		}

		if !c.limiter.Allow() {
			log.Debug("inbound frame over rate limit", "client_id", c.id)
			continue
		}

		ev, err := protocol.Decode(payload)
		if err != nil {
			log.Debug("dropping inbound frame", "client_id", c.id, logger.Error(err))
			continue
		}

		ev, err = c.stamp(ev)
		if err != nil {
			log.Debug("dropping inbound frame", "client_id", c.id, logger.Error(err))
			continue
		}

		data, err := protocol.Encode(ev)
		if err != nil {
			log.Debug("dropping inbound frame", "client_id", c.id, logger.Error(err))
			continue
		}
		c.hub.publish(ctx, Message{ID: c.id, Kind: ev.Kind(), Payload: data})
	}
}

var errClientKind = errors.New("clients may only send presence")

// stamp attributes a pointer event to this client. Anything else a client
// sends is refused.
func (c *client) stamp(ev protocol.Event) (protocol.Event, error) {
	switch e := ev.(type) {
	case protocol.Presence:
		e.ClientID = c.id
		return e, nil
	case protocol.PresenceLeave:
		e.ClientID = c.id
		return e, nil
	}
	return nil, errClientKind
}

// writePump sends outbound messages to the clients ws conn.
// Tick is used for pings.
func (c *client) writePump(ctx context.Context) {
	cfg := c.hub.manager.cfg
	ticker := time.NewTicker(cfg.PingPeriod)
	defer ticker.Stop()
	defer c.close(websocket.StatusNormalClosure, "write loop closed")

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-c.send:
			if !ok {
				return
			}

			writeCtx, cancel := context.WithTimeout(ctx, cfg.WriteWait)
			if err := c.conn.Write(writeCtx, websocket.MessageText, msg.Payload); err != nil {
				cancel()
				return
			}
			cancel()

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, cfg.WriteWait)
			if err := c.conn.Ping(pingCtx); err != nil {
				cancel()
				return
			}
			cancel()
		}
	}
}
