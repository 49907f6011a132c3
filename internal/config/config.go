package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gossipd/internal/gossip"
)

// Config holds the node configuration.
type Config struct {
	// Host peers listen on. Every node of a cluster shares it.
	Host  string
	Port  gossip.Port
	Seeds []gossip.Port

	GossipInterval  time.Duration
	ReceiveTimeout  time.Duration
	SweepInterval   time.Duration
	LivenessWindow  time.Duration
	Fanout          int
	MaxDatagramSize int

	// Optional listeners; empty disables them.
	MetricsAddr string
	HealthAddr  string

	// Optional etcd seed registry; no endpoints disables it.
	EtcdEndpoints []string
	EtcdPrefix    string
	EtcdTTL       time.Duration

	LogLevel string
}

// Default returns a configuration with the protocol defaults and no ports.
func Default() Config {
	return Config{
		Host:            "localhost",
		GossipInterval:  gossip.DefaultGossipInterval,
		ReceiveTimeout:  gossip.DefaultReceiveTimeout,
		SweepInterval:   gossip.DefaultSweepInterval,
		LivenessWindow:  gossip.DefaultLivenessWindow,
		Fanout:          gossip.DefaultFanout,
		MaxDatagramSize: gossip.DefaultMaxDatagramSize,
		EtcdPrefix:      "/gossipd/members",
		EtcdTTL:         10 * time.Second,
		LogLevel:        "info",
	}
}

// ParsePorts parses the positional arguments "self [peer...]". The first
// port is the node's own; all of them, the first included, seed the view.
// Duplicates are collapsed, keeping first-seen order.
func ParsePorts(args []string) (self gossip.Port, seeds []gossip.Port, err error) {
	if len(args) == 0 {
		return 0, nil, errors.New("at least one port is required (the first is this node's own)")
	}

	seen := make(map[gossip.Port]bool, len(args))
	for _, arg := range args {
		p, err := ParsePort(arg)
		if err != nil {
			return 0, nil, err
		}
		if self == 0 {
			self = p
		}
		if !seen[p] {
			seen[p] = true
			seeds = append(seeds, p)
		}
	}
	return self, seeds, nil
}

// ParsePort parses a single port number in 1..65535.
func ParsePort(s string) (gossip.Port, error) {
	s = strings.TrimSpace(s)
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", s, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("invalid port %q: must be between 1 and 65535", s)
	}
	return gossip.Port(n), nil
}

// ParseList splits a comma-separated list, dropping empty items.
func ParseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the configuration for values the protocol cannot run with.
func (c *Config) Validate() error {
	if c.Port == 0 {
		return errors.New("port is required")
	}
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	for name, d := range map[string]time.Duration{
		"gossip interval": c.GossipInterval,
		"receive timeout": c.ReceiveTimeout,
		"sweep interval":  c.SweepInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	// Timestamps have one second resolution.
	if c.LivenessWindow < time.Second {
		return fmt.Errorf("liveness window must be at least 1s, got %s", c.LivenessWindow)
	}
	if c.Fanout < 1 {
		return fmt.Errorf("fanout must be at least 1, got %d", c.Fanout)
	}
	if c.MaxDatagramSize < 64 || c.MaxDatagramSize > 65507 {
		return fmt.Errorf("max datagram size must be between 64 and 65507 bytes, got %d", c.MaxDatagramSize)
	}
	if len(c.EtcdEndpoints) > 0 {
		if c.EtcdPrefix == "" {
			return errors.New("etcd prefix cannot be empty")
		}
		if c.EtcdTTL < time.Second {
			return fmt.Errorf("etcd ttl must be at least 1s, got %s", c.EtcdTTL)
		}
	}
	return nil
}

// ApplyEnv overlays GOSSIP_* variables read through lookup (os.LookupEnv in
// production). Unset variables leave the field alone.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("GOSSIP_HOST", &c.Host)
	str("GOSSIP_METRICS_ADDR", &c.MetricsAddr)
	str("GOSSIP_HEALTH_ADDR", &c.HealthAddr)
	str("GOSSIP_ETCD_PREFIX", &c.EtcdPrefix)
	str("LOG_LEVEL", &c.LogLevel)
	if v, ok := lookup("GOSSIP_ETCD_ENDPOINTS"); ok {
		c.EtcdEndpoints = ParseList(v)
	}

	for _, step := range []func() error{
		func() error { return dur("GOSSIP_INTERVAL", &c.GossipInterval) },
		func() error { return dur("GOSSIP_RECEIVE_TIMEOUT", &c.ReceiveTimeout) },
		func() error { return dur("GOSSIP_SWEEP_INTERVAL", &c.SweepInterval) },
		func() error { return dur("GOSSIP_LIVENESS_WINDOW", &c.LivenessWindow) },
		func() error { return dur("GOSSIP_ETCD_TTL", &c.EtcdTTL) },
		func() error { return num("GOSSIP_FANOUT", &c.Fanout) },
		func() error { return num("GOSSIP_MAX_DATAGRAM", &c.MaxDatagramSize) },
	} {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}
