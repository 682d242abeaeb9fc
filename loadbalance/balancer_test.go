package loadbalance

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"worker-rpc/registry"
)

var testEndpoints = []registry.Endpoint{
	{ID: "a", Addr: "ws://127.0.0.1:8001/rpc", Weight: 10},
	{ID: "b", Addr: "ws://127.0.0.1:8002/rpc", Weight: 5},
	{ID: "c", Addr: "grpc://127.0.0.1:8003", Weight: 10},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		ep, err := b.Pick("", testEndpoints)
		require.NoError(t, err)
		results[i] = ep.ID
	}
	assert.Equal(t, []string{"a", "b", "c"}, results)

	// Wraps around to the first.
	ep, err := b.Pick("", testEndpoints)
	require.NoError(t, err)
	assert.Equal(t, "a", ep.ID)
}

func TestEmptyEndpoints(t *testing.T) {
	for _, name := range []string{"round_robin", "weighted_random", "consistent_hash"} {
		b, err := New(name)
		require.NoError(t, err)
		_, err = b.Pick("w", nil)
		assert.ErrorIs(t, err, ErrNoEndpoints, b.Name())
	}
}

func TestUnknownStrategy(t *testing.T) {
	_, err := New("fastest")
	assert.Error(t, err)
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	for i := 0; i < 10000; i++ {
		ep, err := b.Pick("", testEndpoints)
		require.NoError(t, err)
		counts[ep.ID]++
	}

	// Weights are 10:5:10, so a should be picked about twice as often as b.
	ratio := float64(counts["a"]) / float64(counts["b"])
	assert.InDelta(t, 2.0, ratio, 0.5)
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()

	ep1, err := b.Pick("worker-123", testEndpoints)
	require.NoError(t, err)
	ep2, err := b.Pick("worker-123", testEndpoints)
	require.NoError(t, err)
	assert.Equal(t, ep1.ID, ep2.ID)

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		ep, err := b.Pick(fmt.Sprintf("worker-%d", i), testEndpoints)
		require.NoError(t, err)
		seen[ep.ID] = true
	}
	assert.GreaterOrEqual(t, len(seen), 2)

	// Order of the endpoint list does not move a key.
	reversed := []registry.Endpoint{testEndpoints[2], testEndpoints[1], testEndpoints[0]}
	ep3, err := b.Pick("worker-123", reversed)
	require.NoError(t, err)
	assert.Equal(t, ep1.ID, ep3.ID)
}

func TestConsistentHashFollowsReRegisteredAddress(t *testing.T) {
	b := NewConsistentHashBalancer()

	single := []registry.Endpoint{{ID: "a", Addr: "ws://127.0.0.1:8001/rpc", Weight: 1}}
	ep, err := b.Pick("worker-1", single)
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:8001/rpc", ep.Addr)

	// Same id, new address after a terminal restart.
	moved := []registry.Endpoint{{ID: "a", Addr: "ws://127.0.0.1:9001/rpc", Weight: 1}}
	ep, err = b.Pick("worker-1", moved)
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:9001/rpc", ep.Addr)
}
