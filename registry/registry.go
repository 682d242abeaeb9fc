// Package registry advertises network endpoints that expose an interface,
// so a worker can find the terminal it should attach to.
package registry

import (
	"context"
	"fmt"
	"net/url"
)

// Endpoint is one advertised endpoint.
type Endpoint struct {
	ID      string `json:"id"`
	Addr    string `json:"addr"` // ws://host:port/path or grpc://host:port
	Weight  int    `json:"weight"`
	Version string `json:"version,omitempty"`
}

// Scheme returns the transport scheme of the endpoint address.
func (e Endpoint) Scheme() (string, error) {
	u, err := url.Parse(e.Addr)
	if err != nil {
		return "", fmt.Errorf("registry: bad endpoint address %q: %w", e.Addr, err)
	}
	switch u.Scheme {
	case "ws", "wss", "grpc":
		return u.Scheme, nil
	}
	return "", fmt.Errorf("registry: unsupported scheme in %q", e.Addr)
}

type Registry interface {
	Register(ctx context.Context, service string, ep Endpoint, ttl int64) error
	Deregister(ctx context.Context, service string, id string) error
	Discover(ctx context.Context, service string) ([]Endpoint, error)
	// Watch emits the full endpoint list whenever it changes, until ctx is done.
	Watch(ctx context.Context, service string) <-chan []Endpoint
}
