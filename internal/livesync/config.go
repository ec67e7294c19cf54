package livesync

import (
	"net/http"
	"time"
)

// Transport names accepted by Config.Transport.
const (
	TransportWebSocket = "websocket"
	TransportStream    = "sse"
)

// Config controls the hub. Zero fields fall back to DefaultConfig values.
type Config struct {
	// Transport picks the bidirectional websocket or the receive-only stream.
	Transport    string `env:"LIVESYNC_TRANSPORT" envDefault:"websocket"`
	WebSocketURL string `env:"LIVESYNC_WS_URL" envDefault:"ws://localhost:8080/api/ws"`
	StreamURL    string `env:"LIVESYNC_SSE_URL" envDefault:"http://localhost:8080/api/sse"`

	ReconnectDelay  time.Duration `env:"LIVESYNC_RECONNECT_DELAY" envDefault:"2s"`
	GracePeriod     time.Duration `env:"LIVESYNC_GRACE_PERIOD" envDefault:"100ms"`
	PointerInterval time.Duration `env:"LIVESYNC_POINTER_INTERVAL" envDefault:"50ms"`
	DialTimeout     time.Duration `env:"LIVESYNC_DIAL_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"LIVESYNC_WRITE_TIMEOUT" envDefault:"5s"`
	PingInterval    time.Duration `env:"LIVESYNC_PING_INTERVAL" envDefault:"15s"`

	SendBuffer int   `env:"LIVESYNC_SEND_BUFFER" envDefault:"64"`
	ReadLimit  int64 `env:"LIVESYNC_READ_LIMIT" envDefault:"65536"`

	// SentinelLeave sends pointer leaves as a presence at (-1,-1) instead of
	// a presence_leave message, for servers that only know the sentinel.
	SentinelLeave bool `env:"LIVESYNC_SENTINEL_LEAVE"`
}

// DefaultConfig returns the settings used for unset fields.
func DefaultConfig() Config {
	return Config{
		Transport:       TransportWebSocket,
		WebSocketURL:    "ws://localhost:8080/api/ws",
		StreamURL:       "http://localhost:8080/api/sse",
		ReconnectDelay:  2 * time.Second,
		GracePeriod:     100 * time.Millisecond,
		PointerInterval: 50 * time.Millisecond,
		DialTimeout:     10 * time.Second,
		WriteTimeout:    5 * time.Second,
		PingInterval:    15 * time.Second,
		SendBuffer:      64,
		ReadLimit:       64 << 10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Transport == "" {
		c.Transport = d.Transport
	}
	if c.WebSocketURL == "" {
		c.WebSocketURL = d.WebSocketURL
	}
	if c.StreamURL == "" {
		c.StreamURL = d.StreamURL
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = d.GracePeriod
	}
	if c.PointerInterval <= 0 {
		c.PointerInterval = d.PointerInterval
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = d.ReadLimit
	}
	return c
}

func (c Config) dialer(client *http.Client) Dialer {
	if c.Transport == TransportStream {
		return &StreamDialer{URL: c.StreamURL, Client: client}
	}
	return &WebSocketDialer{URL: c.WebSocketURL, HTTPClient: client, ReadLimit: c.ReadLimit}
}
