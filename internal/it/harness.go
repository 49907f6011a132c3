// Package it runs gossip clusters in-process over loopback UDP.
package it

import (
	"context"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"gossipd/internal/config"
	"gossipd/internal/gossip"
	"gossipd/internal/node"
	"gossipd/internal/transport"
)

const loopback = "127.0.0.1"

// Timing shortens the protocol intervals so tests finish in seconds.
type Timing struct {
	GossipInterval time.Duration
	ReceiveTimeout time.Duration
	SweepInterval  time.Duration
	LivenessWindow time.Duration
}

// FastTiming is the default test timing.
var FastTiming = Timing{
	GossipInterval: 100 * time.Millisecond,
	ReceiveTimeout: 50 * time.Millisecond,
	SweepInterval:  200 * time.Millisecond,
	LivenessWindow: 2 * time.Second,
}

// Cluster represents a test cluster of nodes
type Cluster struct {
	mu     sync.Mutex
	nodes  []*Node
	timing Timing
	log    *zap.Logger
}

// Node represents a single node in the test cluster
type Node struct {
	*node.Node
	running bool
}

// NewCluster creates an empty cluster. A nil logger discards output.
func NewCluster(timing Timing, log *zap.Logger) *Cluster {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cluster{timing: timing, log: log}
}

// AddNodes binds count sockets on loopback and builds one stopped node per
// socket. Each node is seeded with itself and with the cluster's first node,
// so the first node acts as the introducer.
func (c *Cluster) AddNodes(count int) ([]*Node, error) {
	if count < 1 {
		return nil, fmt.Errorf("cannot add %d nodes", count)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	trs := make([]*transport.UDP, 0, count)
	for i := 0; i < count; i++ {
		tr, err := transport.ListenUDP(net.JoinHostPort(loopback, "0"), gossip.DefaultMaxDatagramSize)
		if err != nil {
			for _, t := range trs {
				t.Close()
			}
			return nil, fmt.Errorf("failed to bind node socket: %w", err)
		}
		trs = append(trs, tr)
	}

	introducer := gossip.Port(trs[0].Port())
	if len(c.nodes) > 0 {
		introducer = c.nodes[0].Port()
	}

	added := make([]*Node, 0, count)
	for i, tr := range trs {
		self := gossip.Port(tr.Port())
		cfg := c.config(self, introducer)
		cfg.HealthAddr = net.JoinHostPort(loopback, "0")

		n, err := node.NewWithTransport(cfg, tr, c.log)
		if err != nil {
			for _, t := range trs[i:] {
				t.Close()
			}
			return nil, fmt.Errorf("failed to create node %d: %w", self, err)
		}
		wrapped := &Node{Node: n}
		c.nodes = append(c.nodes, wrapped)
		added = append(added, wrapped)
	}
	return added, nil
}

func (c *Cluster) config(self, introducer gossip.Port) config.Config {
	cfg := config.Default()
	cfg.Host = loopback
	cfg.Port = self
	cfg.Seeds = []gossip.Port{self}
	if introducer != self {
		cfg.Seeds = append(cfg.Seeds, introducer)
	}
	cfg.GossipInterval = c.timing.GossipInterval
	cfg.ReceiveTimeout = c.timing.ReceiveTimeout
	cfg.SweepInterval = c.timing.SweepInterval
	cfg.LivenessWindow = c.timing.LivenessWindow
	return cfg
}

// StartCluster builds and starts count nodes.
func (c *Cluster) StartCluster(ctx context.Context, count int) error {
	nodes, err := c.AddNodes(count)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		if err := n.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Start starts a single node
func (n *Node) Start(ctx context.Context) error {
	if err := n.Node.Start(ctx); err != nil {
		return fmt.Errorf("failed to start node %d: %w", n.Port(), err)
	}
	n.running = true
	return nil
}

// Stop stops a single node
func (n *Node) Stop() {
	n.Node.Stop()
	n.running = false
}

// Nodes returns all nodes, stopped ones included.
func (c *Cluster) Nodes() []*Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Node(nil), c.nodes...)
}

// Running returns the nodes that have not been stopped.
func (c *Cluster) Running() []*Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*Node
	for _, n := range c.nodes {
		if n.running {
			out = append(out, n)
		}
	}
	return out
}

// Ports returns the sorted ports of the given nodes.
func Ports(nodes []*Node) []gossip.Port {
	ports := make([]gossip.Port, 0, len(nodes))
	for _, n := range nodes {
		ports = append(ports, n.Port())
	}
	slices.Sort(ports)
	return ports
}

// Converged reports whether every running node's view is exactly the set of
// running nodes.
func (c *Cluster) Converged() bool {
	running := c.Running()
	want := Ports(running)
	for _, n := range running {
		if !slices.Equal(n.Engine().Members(), want) {
			return false
		}
	}
	return true
}

// WaitForConvergence polls Converged until it holds or timeout passes.
func (c *Cluster) WaitForConvergence(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if c.Converged() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return fmt.Errorf("timeout waiting for %d nodes to converge", len(c.Running()))
			}
		}
	}
}

// Stop stops all nodes in the cluster
func (c *Cluster) Stop() {
	for _, n := range c.Nodes() {
		n.Stop()
	}
	c.mu.Lock()
	c.nodes = nil
	c.mu.Unlock()
}
