package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/electr1fy0/cardsync/internal/livesync"
	"github.com/electr1fy0/cardsync/internal/protocol"
)

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	cb := printer(&buf, 0)

	cb.OnReaction(42, []protocol.TallyEntry{{Value: "👍", Count: 3}, {Value: "🎉", Count: 1}})
	cb.OnArchived(42)
	cb.OnPresence("peer", 42, 12.5, 80)
	cb.OnPresenceLeave("peer")

	assert.Equal(t, "card 42 reactions 👍×3 🎉×1\n"+
		"card 42 archived\n"+
		"card 42 pointer peer at 12.5,80.0\n"+
		"pointer peer left\n", buf.String())
}

func TestPrinter_CardFilter(t *testing.T) {
	var buf bytes.Buffer
	cb := printer(&buf, 7)

	cb.OnArchived(42)
	cb.OnArchived(7)
	assert.Equal(t, "card 7 archived\n", buf.String())
}

func TestPointerCommand(t *testing.T) {
	hub := livesync.New(livesync.Config{})

	tests := []struct {
		line    string
		wantErr bool
	}{
		{"", false},
		{"42 10 20", false},
		{"leave 42", false},
		{"leave x", true},
		{"42 ten 20", true},
		{"what", true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			err := pointerCommand(hub, tt.line)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}
