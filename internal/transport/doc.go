// Package transport provides datagram transports for the gossip loops: a
// UDP socket for real nodes and an in-memory network for tests.
package transport
