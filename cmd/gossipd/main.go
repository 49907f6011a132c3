// Command gossipd runs one member of a gossip heartbeat cluster.
//
//	gossipd [flags] <self-port> [peer-port...]
//
// The first port is this node's own; every listed port seeds the view.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"gossipd/internal/config"
	"gossipd/internal/logging"
	"gossipd/internal/node"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "gossipd:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg := config.Default()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return err
	}
	logFormat := os.Getenv("LOG_FORMAT")
	etcd := strings.Join(cfg.EtcdEndpoints, ",")

	fs := flag.NewFlagSet("gossipd", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: gossipd [flags] <self-port> [peer-port...]")
		fs.PrintDefaults()
	}
	fs.StringVar(&cfg.Host, "host", cfg.Host, "Host every peer listens on.")
	fs.DurationVar(&cfg.GossipInterval, "gossip-interval", cfg.GossipInterval, "Time between gossip rounds.")
	fs.DurationVar(&cfg.ReceiveTimeout, "receive-timeout", cfg.ReceiveTimeout, "Receive poll timeout.")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "Time between expiry sweeps.")
	fs.DurationVar(&cfg.LivenessWindow, "liveness-window", cfg.LivenessWindow, "Silence after which a peer is evicted.")
	fs.IntVar(&cfg.Fanout, "fanout", cfg.Fanout, "Peers contacted per gossip round.")
	fs.IntVar(&cfg.MaxDatagramSize, "max-datagram", cfg.MaxDatagramSize, "Largest datagram sent or received, in bytes.")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "HTTP address for /metrics and /members (empty disables).")
	fs.StringVar(&cfg.HealthAddr, "health-addr", cfg.HealthAddr, "gRPC health address (empty disables).")
	fs.StringVar(&etcd, "etcd", etcd, "Comma-separated etcd endpoints for seed discovery (empty disables).")
	fs.StringVar(&cfg.EtcdPrefix, "etcd-prefix", cfg.EtcdPrefix, "etcd key prefix for member registration.")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn or error.")
	fs.StringVar(&logFormat, "log-format", logFormat, "Log format: json or console.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg.EtcdEndpoints = config.ParseList(etcd)

	self, seeds, err := config.ParsePorts(fs.Args())
	if err != nil {
		fs.Usage()
		return err
	}
	cfg.Port, cfg.Seeds = self, seeds

	log, err := logging.New(cfg.LogLevel, logFormat)
	if err != nil {
		return err
	}
	defer log.Sync()

	n, err := node.New(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := n.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down", zap.Uint16("port", uint16(cfg.Port)))
	n.Stop()
	return nil
}
