package node

import (
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"gossipd/internal/gossip"
)

// MembershipService is the health service name that tracks whether this
// node currently knows at least one live peer.
const MembershipService = "gossip.Membership"

// healthReporter maps membership onto the standard gRPC health service.
// The overall status ("") is SERVING while the process runs.
type healthReporter struct {
	self   gossip.Port
	server *health.Server
}

func newHealthReporter(self gossip.Port) *healthReporter {
	srv := health.NewServer()
	srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	srv.SetServingStatus(MembershipService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &healthReporter{self: self, server: srv}
}

func (h *healthReporter) update(members []gossip.Port) {
	h.server.SetServingStatus(MembershipService, membershipStatus(members, h.self))
}

// shutdown flips every service to NOT_SERVING; later updates are ignored.
func (h *healthReporter) shutdown() {
	h.server.Shutdown()
}

func membershipStatus(members []gossip.Port, self gossip.Port) healthpb.HealthCheckResponse_ServingStatus {
	for _, p := range members {
		if p != self {
			return healthpb.HealthCheckResponse_SERVING
		}
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
