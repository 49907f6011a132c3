package discovery

import (
	"testing"

	"gossipd/internal/gossip"
)

func TestKey(t *testing.T) {
	tests := []struct {
		prefix string
		port   gossip.Port
		want   string
	}{
		{"/gossipd/members", 9001, "/gossipd/members/9001"},
		{"/gossipd/members/", 9002, "/gossipd/members/9002"},
		{"members", 65535, "members/65535"},
	}
	for _, tt := range tests {
		if got := Key(tt.prefix, tt.port); got != tt.want {
			t.Errorf("Key(%q, %d) = %q, want %q", tt.prefix, tt.port, got, tt.want)
		}
	}
}

func TestParseKey(t *testing.T) {
	const prefix = "/gossipd/members"

	tests := []struct {
		name    string
		key     string
		want    gossip.Port
		wantErr bool
	}{
		{name: "valid", key: "/gossipd/members/9001", want: 9001},
		{name: "round trip", key: Key(prefix, 12345), want: 12345},
		{name: "other prefix", key: "/other/9001", wantErr: true},
		{name: "prefix only", key: "/gossipd/members/", wantErr: true},
		{name: "nested", key: "/gossipd/members/a/9001", wantErr: true},
		{name: "not a port", key: "/gossipd/members/abc", wantErr: true},
		{name: "zero", key: "/gossipd/members/0", wantErr: true},
		{name: "too large", key: "/gossipd/members/65536", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKey(prefix, tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseKey(%q) = %d, want %d", tt.key, got, tt.want)
			}
		})
	}

	// Trailing slash on the prefix is tolerated.
	if got, err := ParseKey(prefix+"/", "/gossipd/members/9003"); err != nil || got != 9003 {
		t.Errorf("ParseKey with trailing slash = %d, %v", got, err)
	}
}
