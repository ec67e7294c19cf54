package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newTestRelay(t *testing.T, bp Backplane, mutate ...func(*Config)) (*Manager, *httptest.Server) {
	t.Helper()
	cfg := Config{Hubs: 2, Heartbeat: time.Hour}
	for _, fn := range mutate {
		fn(&cfg)
	}
	if bp == nil {
		bp = NewMemoryBackplane()
	}

	m := NewManager(cfg, bp)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Start(ctx))

	srv := httptest.NewServer(NewRouter(m))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return m, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
}

// connect dials the relay and returns the connection with its assigned id.
func connect(t *testing.T, srv *httptest.Server) (*websocket.Conn, string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })

	hello := readFrame(t, conn)
	require.Equal(t, "connected", hello["kind"])
	id, _ := hello["client_id"].(string)
	require.NotEmpty(t, id)
	return conn, id
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var v map[string]any
	require.NoError(t, wsjson.Read(ctx, conn, &v))
	return v
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(frame)))
}

func postEvent(t *testing.T, srv *httptest.Server, body string) int {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/events", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

type wireEvent struct {
	name string
	data string
}

// openStream connects to the event stream and decodes events in the
// background.
func openStream(t *testing.T, srv *httptest.Server) <-chan wireEvent {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/sse", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	t.Cleanup(func() { _ = resp.Body.Close() })

	events := make(chan wireEvent, 16)
	go func() {
		defer close(events)
		r := bufio.NewReader(resp.Body)
		var ev wireEvent
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			switch {
			case line == "":
				if ev.name != "" {
					events <- ev
				}
				ev = wireEvent{}
			case strings.HasPrefix(line, "event:"):
				ev.name = strings.TrimPrefix(line, "event:")
			case strings.HasPrefix(line, "data:"):
				ev.data = strings.TrimPrefix(line, "data:")
			}
		}
	}()
	return events
}

func nextEvent(t *testing.T, events <-chan wireEvent) wireEvent {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "stream closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no stream event")
		return wireEvent{}
	}
}

func TestRelay_PresenceFanOut(t *testing.T) {
	_, srv := newTestRelay(t, nil)

	a, idA := connect(t, srv)
	b, idB := connect(t, srv)
	require.NotEqual(t, idA, idB)

	writeFrame(t, a, `{"kind":"presence","client_id":"spoofed","card_id":1,"x":10,"y":20}`)

	got := readFrame(t, b)
	assert.Equal(t, "presence", got["kind"])
	assert.Equal(t, idA, got["client_id"])
	assert.Equal(t, float64(1), got["card_id"])
	assert.Equal(t, float64(10), got["x"])
	assert.Equal(t, float64(20), got["y"])

	// A's own sample never comes back, so the next frame A sees is B's.
	writeFrame(t, b, `{"kind":"presence","card_id":2,"x":50,"y":50}`)
	got = readFrame(t, a)
	assert.Equal(t, idB, got["client_id"])
	assert.Equal(t, float64(2), got["card_id"])
}

func TestRelay_SentinelAndLeaveAreStamped(t *testing.T) {
	_, srv := newTestRelay(t, nil)

	a, idA := connect(t, srv)
	b, _ := connect(t, srv)

	writeFrame(t, a, `{"kind":"presence","card_id":4,"x":-1,"y":-1}`)
	got := readFrame(t, b)
	assert.Equal(t, "presence", got["kind"])
	assert.Equal(t, idA, got["client_id"])
	assert.Equal(t, float64(-1), got["x"])

	writeFrame(t, a, `{"kind":"presence_leave","card_id":4}`)
	got = readFrame(t, b)
	assert.Equal(t, "presence_leave", got["kind"])
	assert.Equal(t, idA, got["client_id"])
}

func TestRelay_ClientsCannotPublishCardEvents(t *testing.T) {
	_, srv := newTestRelay(t, nil)

	a, _ := connect(t, srv)
	b, _ := connect(t, srv)

	writeFrame(t, a, `{"kind":"archived","card_id":3}`)
	writeFrame(t, a, `not json`)
	writeFrame(t, a, `{"kind":"presence","card_id":3,"x":5,"y":6}`)

	got := readFrame(t, b)
	assert.Equal(t, "presence", got["kind"])
}

func TestRelay_DisconnectPublishesLeave(t *testing.T) {
	_, srv := newTestRelay(t, nil)

	a, idA := connect(t, srv)
	b, _ := connect(t, srv)

	require.NoError(t, a.Close(websocket.StatusNormalClosure, "bye"))

	got := readFrame(t, b)
	assert.Equal(t, "presence_leave", got["kind"])
	assert.Equal(t, idA, got["client_id"])
}

func TestRelay_InboundRateLimit(t *testing.T) {
	_, srv := newTestRelay(t, nil, func(c *Config) {
		c.InboundRate = 0.001
		c.InboundBurst = 2
	})

	a, _ := connect(t, srv)
	b, _ := connect(t, srv)

	for i := range 5 {
		writeFrame(t, a, fmt.Sprintf(`{"kind":"presence","card_id":1,"x":%d,"y":0}`, i))
	}
	assert.Equal(t, float64(0), readFrame(t, b)["x"])
	assert.Equal(t, float64(1), readFrame(t, b)["x"])

	require.Equal(t, http.StatusAccepted, postEvent(t, srv, `{"kind":"archived","card_id":9}`))
	assert.Equal(t, "archived", readFrame(t, b)["kind"])
}

func TestRelay_EventsReachWebSocketAndStream(t *testing.T) {
	_, srv := newTestRelay(t, nil)

	a, _ := connect(t, srv)
	b, _ := connect(t, srv)
	stream := openStream(t, srv)

	hello := nextEvent(t, stream)
	assert.Equal(t, "connected", hello.name)
	assert.NotEmpty(t, hello.data)

	status := postEvent(t, srv, `{"kind":"reaction","card_id":42,"tally":[{"value":"👍","count":3}]}`)
	require.Equal(t, http.StatusAccepted, status)

	got := readFrame(t, b)
	assert.Equal(t, "reaction", got["kind"])
	assert.Equal(t, float64(42), got["card_id"])

	ev := nextEvent(t, stream)
	assert.Equal(t, "reaction", ev.name)
	assert.JSONEq(t, `{"card_id":42,"tally":[{"value":"👍","count":3}]}`, ev.data)

	// Presence is published but the stream must skip it.
	writeFrame(t, a, `{"kind":"presence","card_id":42,"x":1,"y":1}`)
	assert.Equal(t, "presence", readFrame(t, b)["kind"])

	require.Equal(t, http.StatusAccepted, postEvent(t, srv, `{"kind":"archived","card_id":42}`))
	ev = nextEvent(t, stream)
	assert.Equal(t, "archived", ev.name)
	assert.Equal(t, "42", ev.data)
}

func TestRelay_StreamHeartbeat(t *testing.T) {
	_, srv := newTestRelay(t, nil, func(c *Config) { c.Heartbeat = 20 * time.Millisecond })

	stream := openStream(t, srv)
	assert.Equal(t, "connected", nextEvent(t, stream).name)

	ev := nextEvent(t, stream)
	assert.Equal(t, "heartbeat", ev.name)
	assert.Equal(t, "heartbeat", ev.data)
}

func TestRelay_PostEventValidation(t *testing.T) {
	_, srv := newTestRelay(t, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"reaction", `{"kind":"reaction","card_id":1,"tally":[]}`, http.StatusAccepted},
		{"type field and emojis alias", `{"type":"reaction","card_id":1,"emojis":[{"value":"🔥","count":1}]}`, http.StatusAccepted},
		{"archived", `{"kind":"archived","card_id":1}`, http.StatusAccepted},
		{"presence is client only", `{"kind":"presence","card_id":1,"x":1,"y":1}`, http.StatusBadRequest},
		{"bad card id", `{"kind":"archived","card_id":0}`, http.StatusBadRequest},
		{"negative count", `{"kind":"reaction","card_id":1,"tally":[{"value":"x","count":-1}]}`, http.StatusBadRequest},
		{"unknown kind", `{"kind":"future_feature"}`, http.StatusBadRequest},
		{"not json", `{`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, postEvent(t, srv, tt.body))
		})
	}
}

func TestRelay_Stats(t *testing.T) {
	_, srv := newTestRelay(t, nil)

	connect(t, srv)
	stream := openStream(t, srv)
	nextEvent(t, stream)
	require.Equal(t, http.StatusAccepted, postEvent(t, srv, `{"kind":"archived","card_id":1}`))

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var stats Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 2, stats.Hubs)
	assert.Equal(t, int64(1), stats.WebSockets)
	assert.Equal(t, int64(1), stats.Streams)
	assert.Equal(t, int64(1), stats.Published)
}

type brokenBackplane struct {
	*MemoryBackplane
}

func (brokenBackplane) Ping(context.Context) error {
	return errors.New("backplane down")
}

func TestRelay_Health(t *testing.T) {
	_, srv := newTestRelay(t, nil)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, broken := newTestRelay(t, brokenBackplane{NewMemoryBackplane()})
	resp, err = http.Get(broken.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
