package protocol

import (
	"encoding/json"
	"fmt"
)

type connectedWire struct {
	Kind     Kind   `json:"kind"`
	ClientID string `json:"client_id"`
}

type reactionWire struct {
	Kind   Kind         `json:"kind"`
	CardID int64        `json:"card_id"`
	Tally  []TallyEntry `json:"tally"`
}

type archivedWire struct {
	Kind   Kind  `json:"kind"`
	CardID int64 `json:"card_id"`
}

type presenceWire struct {
	Kind     Kind    `json:"kind"`
	ClientID string  `json:"client_id,omitempty"`
	CardID   int64   `json:"card_id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

type leaveWire struct {
	Kind     Kind   `json:"kind"`
	ClientID string `json:"client_id,omitempty"`
	CardID   int64  `json:"card_id,omitempty"`
}

type heartbeatWire struct {
	Kind Kind `json:"kind"`
}

// ReactionPayload is the body of a reaction stream event.
type ReactionPayload struct {
	CardID int64        `json:"card_id"`
	Tally  []TallyEntry `json:"tally"`
}

// Encode renders ev as a websocket frame.
func Encode(ev Event) ([]byte, error) {
	var v any
	switch e := ev.(type) {
	case Connected:
		v = connectedWire{Kind: KindConnected, ClientID: e.ClientID}
	case Reaction:
		if err := e.Validate(); err != nil {
			return nil, err
		}
		tally := e.Tally
		if tally == nil {
			tally = []TallyEntry{}
		}
		v = reactionWire{Kind: KindReaction, CardID: e.CardID, Tally: tally}
	case Archived:
		if err := e.Validate(); err != nil {
			return nil, err
		}
		v = archivedWire{Kind: KindArchived, CardID: e.CardID}
	case Presence:
		if err := e.Validate(); err != nil {
			return nil, err
		}
		v = presenceWire{Kind: KindPresence, ClientID: e.ClientID, CardID: e.CardID, X: e.X, Y: e.Y}
	case PresenceLeave:
		v = leaveWire{Kind: KindPresenceLeave, ClientID: e.ClientID, CardID: e.CardID}
	case Heartbeat:
		v = heartbeatWire{Kind: KindHeartbeat}
	default:
		return nil, fmt.Errorf("%w: cannot encode %T", ErrUnknownKind, ev)
	}
	return json.Marshal(v)
}

// Payload returns what a stream event carries for ev: the tally body for a
// reaction and the bare card id for an archive.
func Payload(ev Event) (any, error) {
	switch e := ev.(type) {
	case Reaction:
		tally := e.Tally
		if tally == nil {
			tally = []TallyEntry{}
		}
		return ReactionPayload{CardID: e.CardID, Tally: tally}, nil
	case Archived:
		return e.CardID, nil
	case Connected:
		return e.ClientID, nil
	case Heartbeat:
		return "heartbeat", nil
	}
	return nil, fmt.Errorf("%w: %s is not carried on the stream", ErrUnknownKind, ev.Kind())
}
