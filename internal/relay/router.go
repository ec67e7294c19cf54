package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/electr1fy0/cardsync/internal/logger"
	"github.com/electr1fy0/cardsync/internal/protocol"
)

// NewRouter mounts the relay endpoints.
func NewRouter(m *Manager) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(m.logger))

	r.GET("/health", m.health)
	r.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, m.Stats())
	})

	api := r.Group("/api")
	{
		api.GET("/ws", func(c *gin.Context) {
			m.ServeWS(c.Writer, c.Request)
		})
		api.GET("/sse", m.ServeSSE)
		api.POST("/events", m.postEvent)
	}
	return r
}

func (m *Manager) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := m.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// postEvent accepts a reaction or archived envelope from a collaborator.
func (m *Manager) postEvent(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, m.cfg.ReadLimit))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ev, err := protocol.Decode(body)
	if err == nil {
		err = m.Publish(c.Request.Context(), ev)
	}
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"kind": ev.Kind()})
	case errors.Is(err, protocol.ErrUnknownKind),
		errors.Is(err, protocol.ErrMalformed),
		errors.Is(err, ErrBadEvent):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			logger.Component("http"),
		)
	}
}
