package livesync

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-contrib/sse"

	"github.com/electr1fy0/cardsync/internal/protocol"
)

// StreamDialer opens the receive-only event stream used when the websocket
// endpoint cannot be reached.
type StreamDialer struct {
	URL    string
	Client *http.Client
	Header http.Header
}

func (d *StreamDialer) Dial(ctx context.Context) (Transport, error) {
	// The stream outlives ctx, which only bounds the wait for headers.
	streamCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, d.URL, nil)
	if err != nil {
		stop()
		cancel()
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	for k, vs := range d.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if !stop() {
		if err == nil {
			_ = resp.Body.Close()
		}
		cancel()
		return nil, fmt.Errorf("dial %s: %w", d.URL, context.Cause(ctx))
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("dial %s: %w: %s", d.URL, ErrUnexpectedStatus, resp.Status)
	}

	return &streamTransport{
		body:   resp.Body,
		reader: bufio.NewReader(resp.Body),
		cancel: cancel,
	}, nil
}

type streamTransport struct {
	body   io.ReadCloser
	reader *bufio.Reader
	cancel context.CancelFunc
}

// Read returns the next named event. Blocks holding only comments or a retry
// hint carry no event and are skipped.
func (t *streamTransport) Read(context.Context) (protocol.Frame, error) {
	for {
		block, err := t.nextBlock()
		if err != nil {
			return protocol.Frame{}, err
		}
		events, err := sse.Decode(bytes.NewReader(block))
		if err != nil {
			return protocol.Frame{}, err
		}
		if len(events) == 0 {
			continue
		}
		ev := events[0]
		data, _ := ev.Data.(string)
		return protocol.Frame{Name: ev.Event, Data: []byte(data)}, nil
	}
}

// nextBlock reads lines up to the blank line that ends an event.
func (t *streamTransport) nextBlock() ([]byte, error) {
	var block bytes.Buffer
	for {
		line, err := t.reader.ReadBytes('\n')
		if err != nil {
			return nil, err
		}
		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			if block.Len() == 0 {
				continue
			}
			return block.Bytes(), nil
		}
		block.Write(line)
		block.WriteByte('\n')
	}
}

func (t *streamTransport) Write(context.Context, []byte) error {
	return ErrReadOnly
}

func (t *streamTransport) Ping(context.Context) error {
	return nil
}

func (t *streamTransport) Close() error {
	t.cancel()
	return t.body.Close()
}
