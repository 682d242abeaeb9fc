package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const keyRoot = "/worker-rpc/"

func servicePrefix(service string) string {
	return keyRoot + service + "/"
}

// EtcdRegistry implements Registry on etcd v3.
//
//	Key:   /worker-rpc/{service}/{endpoint id}
//	Value: JSON-encoded Endpoint
//
// Registration uses TTL leases: if the process dies, the lease expires and
// the entry disappears with it.
type EtcdRegistry struct {
	client *clientv3.Client
	log    *zap.SugaredLogger

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // key → lease, revoked on Deregister
}

// NewEtcdRegistry connects to the given etcd endpoints. log may be nil.
func NewEtcdRegistry(endpoints []string, log *zap.Logger) (*EtcdRegistry, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
		Logger:    log.Named("etcd"),
	})
	if err != nil {
		return nil, fmt.Errorf("registry: connecting to etcd: %w", err)
	}
	return &EtcdRegistry{
		client: c,
		log:    log.Sugar().Named("registry"),
		leases: make(map[string]clientv3.LeaseID),
	}, nil
}

// Register stores ep under a lease of ttl seconds and keeps the lease alive
// in the background.
func (r *EtcdRegistry) Register(ctx context.Context, service string, ep Endpoint, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("registry: granting lease: %w", err)
	}

	val, err := json.Marshal(ep)
	if err != nil {
		return err
	}

	key := servicePrefix(service) + ep.ID
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("registry: registering %s: %w", key, err)
	}

	// The keepalive must outlive ctx, which usually only bounds registration.
	ch, err := r.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return fmt.Errorf("registry: keeping lease alive: %w", err)
	}
	go func() {
		for range ch {
		}
		r.log.Debugw("lease keepalive stopped", "key", key)
	}()

	r.mu.Lock()
	r.leases[key] = lease.ID
	r.mu.Unlock()
	r.log.Infow("endpoint registered", "service", service, "addr", ep.Addr, "id", ep.ID)
	return nil
}

// Deregister removes an endpoint and revokes its lease.
func (r *EtcdRegistry) Deregister(ctx context.Context, service string, id string) error {
	key := servicePrefix(service) + id
	if _, err := r.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("registry: deregistering %s: %w", key, err)
	}

	r.mu.Lock()
	lease, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()
	if ok {
		if _, err := r.client.Revoke(ctx, lease); err != nil {
			r.log.Debugw("failed to revoke lease", "key", key, "error", err)
		}
	}
	return nil
}

// Watch re-reads the endpoint list on every change under the service prefix.
func (r *EtcdRegistry) Watch(ctx context.Context, service string) <-chan []Endpoint {
	ch := make(chan []Endpoint, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, servicePrefix(service), clientv3.WithPrefix())
		for range watchChan {
			endpoints, err := r.Discover(ctx, service)
			if err != nil {
				r.log.Warnw("failed to refresh endpoints", "service", service, "error", err)
				continue
			}
			select {
			case ch <- endpoints:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Discover returns every endpoint currently registered for service.
func (r *EtcdRegistry) Discover(ctx context.Context, service string) ([]Endpoint, error) {
	resp, err := r.client.Get(ctx, servicePrefix(service), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("registry: discovering %s: %w", service, err)
	}

	endpoints := make([]Endpoint, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var ep Endpoint
		if err := json.Unmarshal(kv.Value, &ep); err != nil {
			r.log.Warnw("skipping malformed endpoint", "key", string(kv.Key), "error", err)
			continue
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

// Close closes the etcd client; registered leases expire on their own.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
