package config

import (
	"reflect"
	"testing"
	"time"

	"gossipd/internal/gossip"
)

func TestParsePorts(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantSelf  gossip.Port
		wantSeeds []gossip.Port
		wantErr   bool
	}{
		{
			name:      "self only",
			args:      []string{"9001"},
			wantSelf:  9001,
			wantSeeds: []gossip.Port{9001},
		},
		{
			name:      "self and peers",
			args:      []string{"9001", "9002", "9003"},
			wantSelf:  9001,
			wantSeeds: []gossip.Port{9001, 9002, 9003},
		},
		{
			name:      "duplicates collapsed",
			args:      []string{"9001", "9002", "9001", "9002"},
			wantSelf:  9001,
			wantSeeds: []gossip.Port{9001, 9002},
		},
		{
			name:      "with spaces",
			args:      []string{" 9001", "9002 "},
			wantSelf:  9001,
			wantSeeds: []gossip.Port{9001, 9002},
		},
		{
			name:    "no arguments",
			args:    nil,
			wantErr: true,
		},
		{
			name:    "not a number",
			args:    []string{"9001", "abc"},
			wantErr: true,
		},
		{
			name:    "zero port",
			args:    []string{"0"},
			wantErr: true,
		},
		{
			name:    "out of range",
			args:    []string{"9001", "70000"},
			wantErr: true,
		},
		{
			name:    "negative",
			args:    []string{"-1"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			self, seeds, err := ParsePorts(tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParsePorts() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if self != tt.wantSelf {
				t.Errorf("ParsePorts() self = %d, want %d", self, tt.wantSelf)
			}
			if !reflect.DeepEqual(seeds, tt.wantSeeds) {
				t.Errorf("ParsePorts() seeds = %v, want %v", seeds, tt.wantSeeds)
			}
		})
	}
}

func TestParseList(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{"a, b ,,c", []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		if got := ParseList(tt.input); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseList(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Default()
		c.Port = 9001
		c.Seeds = []gossip.Port{9001}
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "missing port", mutate: func(c *Config) { c.Port = 0 }, wantErr: true},
		{name: "empty host", mutate: func(c *Config) { c.Host = "" }, wantErr: true},
		{name: "zero gossip interval", mutate: func(c *Config) { c.GossipInterval = 0 }, wantErr: true},
		{name: "negative sweep interval", mutate: func(c *Config) { c.SweepInterval = -time.Second }, wantErr: true},
		{name: "sub-second window", mutate: func(c *Config) { c.LivenessWindow = 500 * time.Millisecond }, wantErr: true},
		{name: "zero fanout", mutate: func(c *Config) { c.Fanout = 0 }, wantErr: true},
		{name: "tiny datagram", mutate: func(c *Config) { c.MaxDatagramSize = 10 }, wantErr: true},
		{name: "huge datagram", mutate: func(c *Config) { c.MaxDatagramSize = 70000 }, wantErr: true},
		{
			name: "etcd without prefix",
			mutate: func(c *Config) {
				c.EtcdEndpoints = []string{"127.0.0.1:2379"}
				c.EtcdPrefix = ""
			},
			wantErr: true,
		},
		{
			name:   "etcd enabled",
			mutate: func(c *Config) { c.EtcdEndpoints = []string{"127.0.0.1:2379"} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"GOSSIP_HOST":            "127.0.0.1",
		"GOSSIP_INTERVAL":        "500ms",
		"GOSSIP_LIVENESS_WINDOW": "3s",
		"GOSSIP_FANOUT":          "3",
		"GOSSIP_METRICS_ADDR":    ":9100",
		"GOSSIP_ETCD_ENDPOINTS":  "etcd-0:2379, etcd-1:2379",
		"LOG_LEVEL":              "debug",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	c := Default()
	if err := c.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}

	if c.Host != "127.0.0.1" {
		t.Errorf("Host = %q", c.Host)
	}
	if c.GossipInterval != 500*time.Millisecond {
		t.Errorf("GossipInterval = %s", c.GossipInterval)
	}
	if c.LivenessWindow != 3*time.Second {
		t.Errorf("LivenessWindow = %s", c.LivenessWindow)
	}
	if c.Fanout != 3 {
		t.Errorf("Fanout = %d", c.Fanout)
	}
	if c.MetricsAddr != ":9100" {
		t.Errorf("MetricsAddr = %q", c.MetricsAddr)
	}
	if want := []string{"etcd-0:2379", "etcd-1:2379"}; !reflect.DeepEqual(c.EtcdEndpoints, want) {
		t.Errorf("EtcdEndpoints = %v, want %v", c.EtcdEndpoints, want)
	}
	if c.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", c.LogLevel)
	}
	// Untouched.
	if c.SweepInterval != gossip.DefaultSweepInterval {
		t.Errorf("SweepInterval = %s", c.SweepInterval)
	}
}

func TestApplyEnv_Invalid(t *testing.T) {
	tests := map[string]string{
		"GOSSIP_INTERVAL": "soon",
		"GOSSIP_FANOUT":   "two",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			c := Default()
			err := c.ApplyEnv(func(k string) (string, bool) {
				if k == key {
					return val, true
				}
				return "", false
			})
			if err == nil {
				t.Errorf("ApplyEnv() with %s=%q: expected error", key, val)
			}
		})
	}
}
