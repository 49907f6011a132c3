package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"gossipd/internal/config"
	"gossipd/internal/discovery"
	"gossipd/internal/gossip"
	"gossipd/internal/telemetry"
	"gossipd/internal/transport"
)

// Version is reported in the build info metric.
var Version = "dev"

const shutdownTimeout = 5 * time.Second

// Transport is a gossip transport the node owns and closes on Stop.
type Transport interface {
	gossip.Transport
	Close() error
}

// Node represents a single gossip member process.
type Node struct {
	cfg      config.Config
	instance string
	log      *zap.Logger
	started  time.Time

	tr       Transport
	engine   *gossip.Engine
	gossiper *gossip.Gossiper
	registry *prometheus.Registry
	metrics  *telemetry.Metrics
	health   *healthReporter

	mu          sync.Mutex
	running     bool
	grpcServer  *grpc.Server
	httpServer  *http.Server
	healthAddr  net.Addr
	metricsAddr net.Addr
	etcd        *clientv3.Client
	discovery   *discovery.Registry
	wg          sync.WaitGroup
}

// New binds the UDP socket for cfg.Port and builds a stopped node.
func New(cfg config.Config, log *zap.Logger) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	bind := net.JoinHostPort(cfg.Host, strconv.Itoa(int(cfg.Port)))
	tr, err := transport.ListenUDP(bind, cfg.MaxDatagramSize)
	if err != nil {
		return nil, err
	}
	n, err := NewWithTransport(cfg, tr, log)
	if err != nil {
		tr.Close()
		return nil, err
	}
	return n, nil
}

// NewWithTransport builds a stopped node on an already bound transport.
// cfg.Port must be the port tr receives on.
func NewWithTransport(cfg config.Config, tr Transport, log *zap.Logger) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	instance := uuid.NewString()
	log = log.With(zap.Uint16("self", uint16(cfg.Port)), zap.String("instance", instance))

	// One registry per node so several nodes can share a process.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.New(registry)
	metrics.SetBuildInfo(Version, instance)

	view := gossip.NewView(cfg.Seeds, cfg.Port,
		gossip.WithLivenessWindow(cfg.LivenessWindow),
		gossip.WithLogger(log.Named("view")),
	)
	engine := gossip.NewEngine(view, cfg.Fanout, metrics)
	gossiper := gossip.NewGossiper(engine, tr, gossip.Options{
		Host:            cfg.Host,
		GossipInterval:  cfg.GossipInterval,
		ReceiveTimeout:  cfg.ReceiveTimeout,
		SweepInterval:   cfg.SweepInterval,
		MaxDatagramSize: cfg.MaxDatagramSize,
		Log:             log.Named("gossip"),
		Metrics:         metrics,
	})

	n := &Node{
		cfg:      cfg,
		instance: instance,
		log:      log.Named("node"),
		tr:       tr,
		engine:   engine,
		gossiper: gossiper,
		registry: registry,
		metrics:  metrics,
		health:   newHealthReporter(cfg.Port),
	}
	n.health.update(engine.Members())
	engine.SetOnMembershipChanged(n.onMembershipChanged)
	return n, nil
}

// Port returns the node's gossip port.
func (n *Node) Port() gossip.Port { return n.cfg.Port }

// Instance returns the per-process instance ID.
func (n *Node) Instance() string { return n.instance }

// Engine returns the membership engine.
func (n *Node) Engine() *gossip.Engine { return n.engine }

// Registry returns the node's metrics registry.
func (n *Node) Registry() *prometheus.Registry { return n.registry }

// HealthAddr returns the bound gRPC health address, or nil when disabled or
// not started.
func (n *Node) HealthAddr() net.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.healthAddr
}

// MetricsAddr returns the bound HTTP address, or nil when disabled or not
// started.
func (n *Node) MetricsAddr() net.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.metricsAddr
}

// Start registers with etcd (if configured), opens the optional listeners
// and launches the gossip loops. Any failure is returned after undoing what
// was started.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running {
		return errors.New("node already started")
	}

	if err := n.startDiscovery(ctx); err != nil {
		n.stopLocked()
		return err
	}
	if err := n.startHealth(); err != nil {
		n.stopLocked()
		return err
	}
	if err := n.startHTTP(); err != nil {
		n.stopLocked()
		return err
	}

	n.started = time.Now()
	n.gossiper.Start(ctx)
	n.running = true
	n.log.Info("Node started",
		zap.Any("seeds", n.engine.Members()),
		zap.Stringer("health_addr", addrOrNone(n.healthAddr)),
		zap.Stringer("metrics_addr", addrOrNone(n.metricsAddr)))
	return nil
}

func (n *Node) startDiscovery(ctx context.Context) error {
	if len(n.cfg.EtcdEndpoints) == 0 {
		return nil
	}
	cli, err := discovery.NewClient(n.cfg.EtcdEndpoints)
	if err != nil {
		return fmt.Errorf("connect etcd: %w", err)
	}
	n.etcd = cli
	n.discovery = discovery.NewRegistry(cli, n.cfg.EtcdPrefix, n.cfg.EtcdTTL, n.log.Named("discovery"))

	seeds, err := n.discovery.Seeds(ctx)
	if err != nil {
		return err
	}
	if added := n.engine.AddSeeds(seeds); len(added) > 0 {
		n.log.Info("Seeds from etcd", zap.Any("ports", added))
	}
	return n.discovery.Register(ctx, n.cfg.Port, n.instance)
}

func (n *Node) startHealth() error {
	if n.cfg.HealthAddr == "" {
		return nil
	}
	lis, err := net.Listen("tcp", n.cfg.HealthAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", n.cfg.HealthAddr, err)
	}

	n.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(n.grpcServer, n.health.server)

	// Enable gRPC reflection for grpcurl
	reflection.Register(n.grpcServer)

	n.healthAddr = lis.Addr()
	srv := n.grpcServer
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := srv.Serve(lis); err != nil {
			n.log.Error("gRPC health server stopped", zap.Error(err))
		}
	}()
	return nil
}

func (n *Node) startHTTP() error {
	if n.cfg.MetricsAddr == "" {
		return nil
	}
	lis, err := net.Listen("tcp", n.cfg.MetricsAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", n.cfg.MetricsAddr, err)
	}

	n.httpServer = &http.Server{
		Handler:           n.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	n.metricsAddr = lis.Addr()
	srv := n.httpServer
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.log.Error("HTTP server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully stops the node: health goes NOT_SERVING, the loops stop,
// the etcd lease is revoked and the listeners and socket are closed.
func (n *Node) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopLocked()
}

func (n *Node) stopLocked() {
	n.health.shutdown()
	n.gossiper.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if n.discovery != nil {
		if err := n.discovery.Close(ctx); err != nil {
			n.log.Warn("Failed to revoke etcd lease", zap.Error(err))
		}
		n.discovery = nil
	}
	if n.etcd != nil {
		n.etcd.Close()
		n.etcd = nil
	}
	if n.grpcServer != nil {
		n.grpcServer.GracefulStop()
		n.grpcServer = nil
	}
	if n.httpServer != nil {
		if err := n.httpServer.Shutdown(ctx); err != nil {
			n.log.Warn("HTTP shutdown", zap.Error(err))
		}
		n.httpServer = nil
	}
	n.wg.Wait()

	if n.running {
		n.log.Info("Node stopped", zap.Duration("uptime", time.Since(n.started)))
	}
	n.running = false
	if err := n.tr.Close(); err != nil {
		n.log.Debug("Closing transport", zap.Error(err))
	}
}

// onMembershipChanged is called when membership changes.
func (n *Node) onMembershipChanged(ports []gossip.Port) {
	n.health.update(ports)
	n.log.Info("Membership changed", zap.Any("members", ports))
}

type noneAddr struct{}

func (noneAddr) String() string { return "disabled" }

func addrOrNone(a net.Addr) fmt.Stringer {
	if a == nil {
		return noneAddr{}
	}
	return a
}
