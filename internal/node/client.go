package node

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthClients manages gRPC health clients to node health listeners,
// one connection per address.
type HealthClients struct {
	mu      sync.RWMutex
	conns   map[string]*grpc.ClientConn
	clients map[string]healthpb.HealthClient
}

// NewHealthClients creates an empty client set.
func NewHealthClients() *HealthClients {
	return &HealthClients{
		conns:   make(map[string]*grpc.ClientConn),
		clients: make(map[string]healthpb.HealthClient),
	}
}

// Get returns a health client for addr, creating the connection if needed.
// Connections are established lazily on the first RPC.
func (hc *HealthClients) Get(addr string) (healthpb.HealthClient, error) {
	hc.mu.RLock()
	client, exists := hc.clients[addr]
	hc.mu.RUnlock()

	if exists {
		return client, nil
	}

	hc.mu.Lock()
	defer hc.mu.Unlock()

	// Double-check after acquiring write lock
	if client, exists := hc.clients[addr]; exists {
		return client, nil
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	client = healthpb.NewHealthClient(conn)
	hc.conns[addr] = conn
	hc.clients[addr] = client
	return client, nil
}

// Check asks addr for the serving status of service ("" for the process).
func (hc *HealthClients) Check(ctx context.Context, addr, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	client, err := hc.Get(addr)
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check %s: %w", addr, err)
	}
	return resp.GetStatus(), nil
}

// Close closes all client connections.
func (hc *HealthClients) Close() {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	for addr, conn := range hc.conns {
		conn.Close()
		delete(hc.conns, addr)
		delete(hc.clients, addr)
	}
}
