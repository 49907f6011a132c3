// Package gossip implements a heartbeat-counter gossip membership protocol.
//
// Every node keeps a View: a map from peer port to Heartbeat (counter plus
// the last time the counter was seen to move). Nodes periodically send their
// whole view to a couple of random peers; receivers reconcile it into their
// own view with a higher-counter-wins rule and drop peers they have not
// heard about within the liveness window.
//
// A peer is either present or absent; there is no suspicion phase, and
// failure detection is purely local and time based. A full view must fit in
// one datagram.
package gossip
