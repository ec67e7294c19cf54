// Package protocol defines the card-sync wire envelopes and converts raw
// transport frames to and from typed events.
//
// Websocket frames are JSON objects discriminated by a "kind" field. The
// fallback event stream carries the same payloads under named events, so a
// Frame remembers the stream event name when there is one.
package protocol

import (
	"errors"
	"fmt"
)

// Kind discriminates envelope variants.
type Kind string

const (
	KindConnected     Kind = "connected"
	KindReaction      Kind = "reaction"
	KindArchived      Kind = "archived"
	KindPresence      Kind = "presence"
	KindPresenceLeave Kind = "presence_leave"
	KindHeartbeat     Kind = "heartbeat"
)

// LeaveSentinel is the coordinate a presence message carries to signal that
// the pointer left the card.
const LeaveSentinel = -1

var (
	// ErrUnknownKind is returned for frames with a missing or unrecognized
	// discriminator. Callers drop such frames silently.
	ErrUnknownKind = errors.New("unknown message kind")

	// ErrMalformed is returned when a frame cannot be parsed or carries
	// invalid fields.
	ErrMalformed = errors.New("malformed message")
)

// Frame is one unit read from a transport. Name is empty for websocket
// frames and holds the event name for stream events.
type Frame struct {
	Name string
	Data []byte
}

// Event is a decoded envelope.
type Event interface {
	Kind() Kind
}

// TallyEntry is the count for one emoji on a card.
type TallyEntry struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Connected carries the identity the server assigned to this client.
type Connected struct {
	ClientID string
}

// Reaction is a full replacement snapshot of a card's tally.
type Reaction struct {
	CardID int64
	Tally  []TallyEntry
}

// Archived reports that a card was archived.
type Archived struct {
	CardID int64
}

// Presence is a pointer position on a card, in percent of its size.
type Presence struct {
	ClientID string
	CardID   int64
	X, Y     float64
}

// PresenceLeave reports that a client's pointer left.
type PresenceLeave struct {
	ClientID string
	CardID   int64
}

// Heartbeat keeps a stream alive and carries nothing.
type Heartbeat struct{}

func (Connected) Kind() Kind     { return KindConnected }
func (Reaction) Kind() Kind      { return KindReaction }
func (Archived) Kind() Kind      { return KindArchived }
func (Presence) Kind() Kind      { return KindPresence }
func (PresenceLeave) Kind() Kind { return KindPresenceLeave }
func (Heartbeat) Kind() Kind     { return KindHeartbeat }

// IsLeave reports whether p is the (-1,-1) leave sentinel.
func (p Presence) IsLeave() bool {
	return p.X == LeaveSentinel && p.Y == LeaveSentinel
}

// Validate checks that the coordinates are percentages or the sentinel.
func (p Presence) Validate() error {
	if p.CardID <= 0 {
		return fmt.Errorf("%w: card_id must be positive, got %d", ErrMalformed, p.CardID)
	}
	if p.IsLeave() {
		return nil
	}
	if p.X < 0 || p.X > 100 || p.Y < 0 || p.Y > 100 {
		return fmt.Errorf("%w: position (%g,%g) out of range", ErrMalformed, p.X, p.Y)
	}
	return nil
}

// Validate checks the card id and that no count is negative.
func (r Reaction) Validate() error {
	if r.CardID <= 0 {
		return fmt.Errorf("%w: card_id must be positive, got %d", ErrMalformed, r.CardID)
	}
	for _, e := range r.Tally {
		if e.Count < 0 {
			return fmt.Errorf("%w: negative count %d for %q", ErrMalformed, e.Count, e.Value)
		}
	}
	return nil
}

// Validate checks the card id.
func (a Archived) Validate() error {
	if a.CardID <= 0 {
		return fmt.Errorf("%w: card_id must be positive, got %d", ErrMalformed, a.CardID)
	}
	return nil
}
