package livesync

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"

	"github.com/electr1fy0/cardsync/internal/protocol"
)

var (
	// ErrReadOnly is returned by transports that cannot send.
	ErrReadOnly = errors.New("transport is receive-only")

	// ErrUnexpectedStatus is returned when the stream endpoint answers with
	// anything but 200.
	ErrUnexpectedStatus = errors.New("unexpected response status")
)

// Transport is one open connection to the relay.
type Transport interface {
	Read(ctx context.Context) (protocol.Frame, error)
	Write(ctx context.Context, data []byte) error
	Ping(ctx context.Context) error
	Close() error
}

// Dialer opens transports. The context bounds only the time spent opening.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// WebSocketDialer dials the bidirectional endpoint.
type WebSocketDialer struct {
	URL        string
	HTTPClient *http.Client
	Header     http.Header
	ReadLimit  int64
}

func (d *WebSocketDialer) Dial(ctx context.Context) (Transport, error) {
	conn, _, err := websocket.Dial(ctx, d.URL, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: d.Header,
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Read(ctx context.Context) (protocol.Frame, error) {
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		return protocol.Frame{}, err
	}
	return protocol.Frame{Data: data}, nil
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Ping(ctx context.Context) error {
	return t.conn.Ping(ctx)
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "client closing")
}
