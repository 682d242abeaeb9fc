// Package loadbalance picks which advertised endpoint a worker attaches to
// when several terminals expose the same interface.
//
// Three strategies are implemented:
//   - RoundRobin:      successive attaches cycle through the endpoints
//   - WeightedRandom:  endpoints with different capacity
//   - ConsistentHash:  a worker id keeps landing on the same terminal
package loadbalance

import (
	"errors"
	"fmt"

	"worker-rpc/registry"
)

var ErrNoEndpoints = errors.New("loadbalance: no endpoints available")

// Balancer selects one endpoint. key identifies the attaching worker; only
// key-based strategies look at it. Implementations are goroutine-safe.
type Balancer interface {
	Pick(key string, endpoints []registry.Endpoint) (registry.Endpoint, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer registered under name.
func New(name string) (Balancer, error) {
	switch name {
	case "", "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash":
		return NewConsistentHashBalancer(), nil
	}
	return nil, fmt.Errorf("loadbalance: unknown strategy %q", name)
}
