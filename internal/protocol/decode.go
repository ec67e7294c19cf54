package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Numeric envelope types sent by older servers as {"Type":n,"Data":...}.
const (
	legacyReaction = 1
	legacyArchived = 2
)

// envelopeHeader reads only the discriminator. Field matching in
// encoding/json is case-insensitive, so "Type" and "type" both land in Type.
type envelopeHeader struct {
	Kind string          `json:"kind"`
	Type json.RawMessage `json:"type"`
	Data json.RawMessage `json:"data"`
}

// kindAliases maps the older client's pointer message names.
var kindAliases = map[string]Kind{
	"cursor":       KindPresence,
	"cursor_leave": KindPresenceLeave,
}

func (p envelopeHeader) discriminator() (kind Kind, legacy int) {
	if p.Kind != "" {
		return Kind(p.Kind), 0
	}
	if len(p.Type) == 0 {
		return "", 0
	}
	var s string
	if err := json.Unmarshal(p.Type, &s); err == nil {
		if k, ok := kindAliases[s]; ok {
			return k, 0
		}
		return Kind(s), 0
	}
	var n int
	if err := json.Unmarshal(p.Type, &n); err == nil {
		return "", n
	}
	return "", 0
}

type reactionBody struct {
	CardID int64        `json:"card_id"`
	Tally  []TallyEntry `json:"tally"`
	Emojis []TallyEntry `json:"emojis"`
}

func (b reactionBody) event() (Reaction, error) {
	tally := b.Tally
	if tally == nil {
		tally = b.Emojis
	}
	if tally == nil {
		tally = []TallyEntry{}
	}
	r := Reaction{CardID: b.CardID, Tally: tally}
	return r, r.Validate()
}

// ids accepts both snake_case and the older camelCase spelling.
type ids struct {
	ClientID     string `json:"client_id"`
	CardID       int64  `json:"card_id"`
	LegacyClient string `json:"clientId"`
	LegacyCard   int64  `json:"cardId"`
}

func (i ids) client() string {
	if i.ClientID != "" {
		return i.ClientID
	}
	return i.LegacyClient
}

func (i ids) card() int64 {
	if i.CardID != 0 {
		return i.CardID
	}
	return i.LegacyCard
}

type presenceBody struct {
	ids
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

type leaveBody struct {
	ids
}

type connectedBody struct {
	ids
}

type archivedBody struct {
	CardID int64 `json:"card_id"`
}

// Decode parses a websocket frame into an Event. Frames without a known
// discriminator yield ErrUnknownKind.
func Decode(data []byte) (Event, error) {
	var p envelopeHeader
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	kind, legacy := p.discriminator()
	if legacy != 0 {
		return decodeLegacy(legacy, p.Data)
	}

	switch kind {
	case KindConnected:
		var b connectedBody
		if err := unmarshal(data, &b); err != nil {
			return nil, err
		}
		if b.client() == "" {
			return nil, fmt.Errorf("%w: connected without client_id", ErrMalformed)
		}
		return Connected{ClientID: b.client()}, nil

	case KindReaction:
		var b reactionBody
		if err := unmarshal(data, &b); err != nil {
			return nil, err
		}
		return b.event()

	case KindArchived:
		var b archivedBody
		if err := unmarshal(data, &b); err != nil {
			return nil, err
		}
		a := Archived{CardID: b.CardID}
		return a, a.Validate()

	case KindPresence:
		var b presenceBody
		if err := unmarshal(data, &b); err != nil {
			return nil, err
		}
		if b.X == nil || b.Y == nil {
			return nil, fmt.Errorf("%w: presence without coordinates", ErrMalformed)
		}
		ev := Presence{ClientID: b.client(), CardID: b.card(), X: *b.X, Y: *b.Y}
		return ev, ev.Validate()

	case KindPresenceLeave:
		var b leaveBody
		if err := unmarshal(data, &b); err != nil {
			return nil, err
		}
		return PresenceLeave{ClientID: b.client(), CardID: b.card()}, nil

	case KindHeartbeat:
		return Heartbeat{}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

func decodeLegacy(typ int, data json.RawMessage) (Event, error) {
	switch typ {
	case legacyReaction:
		var b reactionBody
		if err := unmarshal(data, &b); err != nil {
			return nil, err
		}
		return b.event()
	case legacyArchived:
		var id int64
		if err := unmarshal(data, &id); err != nil {
			return nil, err
		}
		a := Archived{CardID: id}
		return a, a.Validate()
	}
	return nil, fmt.Errorf("%w: legacy type %d", ErrUnknownKind, typ)
}

// DecodeNamed parses one fallback stream event. Only the receive-only subset
// of the protocol is understood: connected, heartbeat, reaction, archived.
func DecodeNamed(name string, data []byte) (Event, error) {
	switch name {
	case "connected":
		return Connected{ClientID: string(bytes.TrimSpace(data))}, nil

	case "heartbeat":
		return Heartbeat{}, nil

	case "reaction", "emoji":
		if hasDiscriminator(data) {
			return expect(data, KindReaction)
		}
		var b reactionBody
		if err := unmarshal(data, &b); err != nil {
			return nil, err
		}
		return b.event()

	case "archived":
		if id, err := strconv.ParseInt(string(bytes.TrimSpace(data)), 10, 64); err == nil {
			a := Archived{CardID: id}
			return a, a.Validate()
		}
		return expect(data, KindArchived)

	case "", "message":
		ev, err := Decode(data)
		if err != nil {
			return nil, err
		}
		switch ev.(type) {
		case Reaction, Archived, Connected, Heartbeat:
			return ev, nil
		}
		return nil, fmt.Errorf("%w: %q on stream", ErrUnknownKind, ev.Kind())
	}

	return nil, fmt.Errorf("%w: stream event %q", ErrUnknownKind, name)
}

// DecodeFrame decodes a frame from either transport.
func DecodeFrame(f Frame) (Event, error) {
	if f.Name == "" {
		return Decode(f.Data)
	}
	return DecodeNamed(f.Name, f.Data)
}

func expect(data []byte, want Kind) (Event, error) {
	ev, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if ev.Kind() != want {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrMalformed, want, ev.Kind())
	}
	return ev, nil
}

func hasDiscriminator(data []byte) bool {
	var p envelopeHeader
	if err := json.Unmarshal(data, &p); err != nil {
		return false
	}
	kind, legacy := p.discriminator()
	return kind != "" || legacy != 0
}

func unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
