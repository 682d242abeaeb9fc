package client

import (
	"context"
	"fmt"
	"strings"

	"worker-rpc/loadbalance"
	"worker-rpc/registry"
	"worker-rpc/transport"
)

// Discover looks service up in reg and lets bal pick one endpoint for key.
func Discover(ctx context.Context, reg registry.Registry, bal loadbalance.Balancer, service, key string) (registry.Endpoint, error) {
	endpoints, err := reg.Discover(ctx, service)
	if err != nil {
		return registry.Endpoint{}, err
	}
	ep, err := bal.Pick(key, endpoints)
	if err != nil {
		return registry.Endpoint{}, fmt.Errorf("client: picking %s endpoint: %w", service, err)
	}
	return ep, nil
}

// DialEndpoint opens the transport matching the endpoint scheme.
func DialEndpoint(ctx context.Context, ep registry.Endpoint, opts ...transport.Option) (transport.Transport, error) {
	scheme, err := ep.Scheme()
	if err != nil {
		return nil, err
	}
	if scheme == "grpc" {
		t, err := transport.DialGRPC(ctx, strings.TrimPrefix(ep.Addr, "grpc://"), nil, opts...)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	t, err := transport.DialWebSocket(ctx, ep.Addr, opts...)
	if err != nil {
		return nil, err
	}
	return t, nil
}
