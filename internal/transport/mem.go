package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"
)

// ErrUnreachable is returned by Endpoint.Send when nothing is listening on
// the destination port or the destination dropped the datagram.
var ErrUnreachable = errors.New("transport: destination unreachable")

// Network is an in-memory datagram network keyed by port. Hosts in
// addresses are ignored.
type Network struct {
	mu        sync.RWMutex
	endpoints map[int]*Endpoint
	queueLen  int
}

// NewNetwork creates a network whose endpoints buffer up to queueLen
// datagrams each. Datagrams beyond that are dropped, like a full socket
// buffer.
func NewNetwork(queueLen int) *Network {
	if queueLen <= 0 {
		queueLen = 64
	}
	return &Network{endpoints: make(map[int]*Endpoint), queueLen: queueLen}
}

// Listen attaches an endpoint at port.
func (n *Network) Listen(port int) (*Endpoint, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.endpoints[port]; exists {
		return nil, fmt.Errorf("transport: port %d already in use", port)
	}
	ep := &Endpoint{
		network: n,
		addr:    &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port},
		inbox:   make(chan datagram, n.queueLen),
		closed:  make(chan struct{}),
	}
	n.endpoints[port] = ep
	return ep, nil
}

type datagram struct {
	payload []byte
	from    net.Addr
}

// Endpoint is one port on a Network.
type Endpoint struct {
	network *Network
	addr    *net.UDPAddr
	inbox   chan datagram
	once    sync.Once
	closed  chan struct{}
}

// Addr returns the endpoint address.
func (e *Endpoint) Addr() *net.UDPAddr {
	return e.addr
}

// Send delivers payload to the endpoint listening on addr's port.
func (e *Endpoint) Send(addr string, payload []byte) error {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return err
	}

	e.network.mu.RLock()
	dst, ok := e.network.endpoints[port]
	e.network.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnreachable, addr)
	}

	d := datagram{payload: append([]byte(nil), payload...), from: e.addr}
	select {
	case <-dst.closed:
		return fmt.Errorf("%w: %s", ErrUnreachable, addr)
	case dst.inbox <- d:
		return nil
	default:
		return fmt.Errorf("%w: %s queue full", ErrUnreachable, addr)
	}
}

// Receive waits at most timeout for a datagram.
func (e *Endpoint) Receive(timeout time.Duration) ([]byte, net.Addr, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-e.closed:
		return nil, nil, net.ErrClosed
	case d := <-e.inbox:
		return d.payload, d.from, nil
	case <-timer.C:
		return nil, nil, fmt.Errorf("receive on %s: %w", e.addr, os.ErrDeadlineExceeded)
	}
}

// Close detaches the endpoint; its port can be reused.
func (e *Endpoint) Close() error {
	e.once.Do(func() {
		close(e.closed)
		e.network.mu.Lock()
		if e.network.endpoints[e.addr.Port] == e {
			delete(e.network.endpoints, e.addr.Port)
		}
		e.network.mu.Unlock()
	})
	return nil
}
