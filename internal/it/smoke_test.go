package it

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"gossipd/internal/gossip"
	"gossipd/internal/node"
	"gossipd/internal/transport"
)

func startCluster(t *testing.T, ctx context.Context, count int) *Cluster {
	t.Helper()
	cluster := NewCluster(FastTiming, nil)
	t.Cleanup(cluster.Stop)
	require.NoError(t, cluster.StartCluster(ctx, count), "Failed to start cluster")
	return cluster
}

func TestSmoke_ClusterConverges(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cluster := startCluster(t, ctx, 4)
	require.NoError(t, cluster.WaitForConvergence(ctx, 10*time.Second))

	// Every node reports a live peer over gRPC health.
	clients := node.NewHealthClients()
	defer clients.Close()
	for _, n := range cluster.Nodes() {
		status, err := clients.Check(ctx, n.HealthAddr().String(), node.MembershipService)
		require.NoError(t, err)
		assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status, "node %d", n.Port())
	}
}

func TestSmoke_StoppedNodeIsEvicted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cluster := startCluster(t, ctx, 3)
	require.NoError(t, cluster.WaitForConvergence(ctx, 10*time.Second))

	victim := cluster.Nodes()[2]
	victim.Stop()

	require.Eventually(t, func() bool {
		for _, n := range cluster.Running() {
			for _, p := range n.Engine().Members() {
				if p == victim.Port() {
					return false
				}
			}
		}
		return true
	}, 15*time.Second, 100*time.Millisecond, "node %d was never evicted", victim.Port())

	assert.True(t, cluster.Converged())
}

func TestSmoke_LateJoinerIsAdmitted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cluster := startCluster(t, ctx, 2)
	require.NoError(t, cluster.WaitForConvergence(ctx, 10*time.Second))

	late, err := cluster.AddNodes(1)
	require.NoError(t, err)
	require.NoError(t, late[0].Start(ctx))

	require.NoError(t, cluster.WaitForConvergence(ctx, 10*time.Second))
	assert.Len(t, late[0].Engine().Members(), 3)
}

func TestSmoke_HostileDatagrams(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cluster := startCluster(t, ctx, 2)
	require.NoError(t, cluster.WaitForConvergence(ctx, 10*time.Second))
	target := cluster.Nodes()[0]
	addr := net.JoinHostPort(loopback, strconv.Itoa(int(target.Port())))

	raw, err := transport.ListenUDP(net.JoinHostPort(loopback, "0"), gossip.DefaultMaxDatagramSize)
	require.NoError(t, err)
	defer raw.Close()

	// Garbage is dropped.
	require.NoError(t, raw.Send(addr, []byte{0xff, 0xff, 0xff}))

	// A stale join is rejected.
	stale := gossip.Snapshot{Members: map[gossip.Port]gossip.Heartbeat{
		60000: {Count: 100, LastSeen: time.Now().Add(-time.Hour).Unix()},
	}}
	payload, err := gossip.Encode(gossip.MemListMessage(stale), 0)
	require.NoError(t, err)
	require.NoError(t, raw.Send(addr, payload))

	// Informational messages change nothing.
	payload, err = gossip.Encode(gossip.DataMessage("hello"), 0)
	require.NoError(t, err)
	require.NoError(t, raw.Send(addr, payload))

	// The node keeps gossiping and never admits the stale peer.
	time.Sleep(500 * time.Millisecond)
	assert.NotContains(t, target.Engine().Members(), gossip.Port(60000))
	assert.True(t, cluster.Converged())
}
