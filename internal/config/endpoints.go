package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrBadBaseURL is returned when a base URL cannot be turned into endpoints.
var ErrBadBaseURL = errors.New("invalid base url")

// Endpoint paths served by the relay.
const (
	WebSocketPath = "/api/ws"
	StreamPath    = "/api/sse"
)

// Endpoints are the two URLs a hub can connect to.
type Endpoints struct {
	WebSocket string
	Stream    string
}

// ResolveEndpoints derives both endpoints from an http(s) base URL: https
// maps to wss, http to ws, and the relay paths are appended to the base
// path.
func ResolveEndpoints(base string) (Endpoints, error) {
	u, err := url.Parse(base)
	if err != nil {
		return Endpoints{}, fmt.Errorf("%w: %v", ErrBadBaseURL, err)
	}
	if u.Host == "" {
		return Endpoints{}, fmt.Errorf("%w: %q has no host", ErrBadBaseURL, base)
	}

	var wsScheme string
	switch u.Scheme {
	case "https":
		wsScheme = "wss"
	case "http":
		wsScheme = "ws"
	default:
		return Endpoints{}, fmt.Errorf("%w: unsupported scheme %q", ErrBadBaseURL, u.Scheme)
	}

	prefix := strings.TrimSuffix(u.Path, "/")
	ws := url.URL{Scheme: wsScheme, Host: u.Host, Path: prefix + WebSocketPath}
	stream := url.URL{Scheme: u.Scheme, Host: u.Host, Path: prefix + StreamPath}

	return Endpoints{WebSocket: ws.String(), Stream: stream.String()}, nil
}
