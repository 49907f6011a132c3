// Package discovery keeps an optional etcd registry of live gossip ports so
// a starting node can find seeds beyond the ones on its command line.
// Membership itself is still decided by gossip alone.
package discovery

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"gossipd/internal/gossip"
)

const dialTimeout = 5 * time.Second

// NewClient connects to etcd.
func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
}

// Key returns the registry key for port under prefix.
func Key(prefix string, port gossip.Port) string {
	return path.Join(prefix, strconv.Itoa(int(port)))
}

// ParseKey is the inverse of Key.
func ParseKey(prefix, key string) (gossip.Port, error) {
	rest, ok := strings.CutPrefix(key, strings.TrimSuffix(prefix, "/")+"/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return 0, fmt.Errorf("key %q is not a member key under %q", key, prefix)
	}
	n, err := strconv.ParseUint(rest, 10, 16)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("key %q: invalid port %q", key, rest)
	}
	return gossip.Port(n), nil
}

// Registry publishes this node under a leased key.
type Registry struct {
	cli    *clientv3.Client
	prefix string
	ttl    time.Duration
	log    *zap.Logger

	mu     sync.Mutex
	lease  clientv3.LeaseID
	cancel context.CancelFunc
}

// NewRegistry creates a Registry. Keys live under prefix and expire ttl
// after the process stops renewing them.
func NewRegistry(cli *clientv3.Client, prefix string, ttl time.Duration, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{cli: cli, prefix: prefix, ttl: ttl, log: log}
}

// Register writes port (with instance as the value) under a lease and keeps
// the lease alive until Close.
func (r *Registry) Register(ctx context.Context, port gossip.Port, instance string) error {
	ttl := int64(r.ttl / time.Second)
	if ttl < 1 {
		ttl = 1
	}
	lease, err := r.cli.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("grant lease: %w", err)
	}

	key := Key(r.prefix, port)
	if _, err := r.cli.Put(ctx, key, instance, clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := r.cli.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		return fmt.Errorf("keepalive: %w", err)
	}

	r.mu.Lock()
	r.lease, r.cancel = lease.ID, cancel
	r.mu.Unlock()

	go func() {
		for range ch {
		}
		r.log.Debug("Lease keepalive ended", zap.String("key", key))
	}()

	r.log.Info("Registered with etcd", zap.String("key", key), zap.Int64("ttl_s", ttl))
	return nil
}

// Seeds lists the ports currently registered, in ascending order. Keys that
// do not parse are skipped.
func (r *Registry) Seeds(ctx context.Context) ([]gossip.Port, error) {
	resp, err := r.cli.Get(ctx, strings.TrimSuffix(r.prefix, "/")+"/", clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", r.prefix, err)
	}

	ports := make([]gossip.Port, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		p, err := ParseKey(r.prefix, string(kv.Key))
		if err != nil {
			r.log.Debug("Skipping registry key", zap.Error(err))
			continue
		}
		ports = append(ports, p)
	}
	return ports, nil
}

// Close stops the keepalive and revokes the lease, removing the key.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	lease, cancel := r.lease, r.cancel
	r.lease, r.cancel = 0, nil
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	if _, err := r.cli.Revoke(ctx, lease); err != nil {
		return fmt.Errorf("revoke lease: %w", err)
	}
	return nil
}
