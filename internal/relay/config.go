package relay

import (
	"errors"
	"time"
)

// ErrBadEvent is returned for card events that fail validation.
var ErrBadEvent = errors.New("bad card event")

// Config holds the relay's tunables.
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	RedisURL string `env:"REDIS_URL"`
	Topic    string `env:"RELAY_TOPIC" envDefault:"cardsync_events"`

	// Hubs is the number of fan-out hubs. Zero means one per CPU.
	Hubs int `env:"RELAY_HUBS"`

	// InboundRate and InboundBurst limit frames read from one websocket
	// client. Frames over the limit are dropped.
	InboundRate  float64 `env:"RELAY_INBOUND_RATE" envDefault:"40"`
	InboundBurst int     `env:"RELAY_INBOUND_BURST" envDefault:"10"`

	ReadLimit      int64         `env:"RELAY_READ_LIMIT" envDefault:"65536"`
	SendBuffer     int           `env:"RELAY_SEND_BUFFER" envDefault:"1024"`
	PingPeriod     time.Duration `env:"RELAY_PING_PERIOD" envDefault:"15s"`
	WriteWait      time.Duration `env:"RELAY_WRITE_WAIT" envDefault:"5s"`
	Heartbeat      time.Duration `env:"RELAY_HEARTBEAT" envDefault:"15s"`
	AllowedOrigins []string      `env:"RELAY_ALLOWED_ORIGINS" envSeparator:","`
}

func (c Config) withDefaults() Config {
	if c.Port == "" {
		c.Port = "8080"
	}
	if c.Topic == "" {
		c.Topic = eventsTopic
	}
	if c.InboundRate <= 0 {
		c.InboundRate = 40
	}
	if c.InboundBurst <= 0 {
		c.InboundBurst = 10
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 64 << 10
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = bufSize
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = pingPeriod
	}
	if c.WriteWait <= 0 {
		c.WriteWait = writeWait
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = heartbeatPeriod
	}
	return c
}
