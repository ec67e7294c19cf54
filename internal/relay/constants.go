package relay

import "time"

const (
	pingPeriod      = 15 * time.Second
	writeWait       = 5 * time.Second
	heartbeatPeriod = 15 * time.Second
	bufSize         = 1024
	eventsTopic     = "cardsync_events"
)
