package transport

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// UDP is a datagram transport over a single bound socket. Gossip is sent
// from the listening socket so receivers see the sender's listening port as
// the source port.
type UDP struct {
	conn    *net.UDPConn
	bufSize int

	readMu sync.Mutex
	buf    []byte
}

// ListenUDP binds bind (host:port). bufSize is the receive buffer size;
// longer datagrams are truncated by the kernel and will fail to decode.
func ListenUDP(bind string, bufSize int) (*UDP, error) {
	addr, err := net.ResolveUDPAddr("udp", bind)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", bind, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", bind, err)
	}
	if bufSize <= 0 {
		bufSize = 1024
	}
	return &UDP{conn: conn, bufSize: bufSize, buf: make([]byte, bufSize)}, nil
}

// LocalAddr returns the bound address.
func (t *UDP) LocalAddr() *net.UDPAddr {
	return t.conn.LocalAddr().(*net.UDPAddr)
}

// Port returns the bound port.
func (t *UDP) Port() int {
	return t.LocalAddr().Port
}

// Send writes payload as one datagram to addr.
func (t *UDP) Send(addr string, payload []byte) error {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	_, err = t.conn.WriteToUDP(payload, raddr)
	return err
}

// Receive reads one datagram, waiting at most timeout. The returned slice
// is a copy owned by the caller.
func (t *UDP) Receive(timeout time.Duration) ([]byte, net.Addr, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, err
	}
	n, raddr, err := t.conn.ReadFromUDP(t.buf)
	if err != nil {
		return nil, nil, err
	}
	return append([]byte(nil), t.buf[:n]...), raddr, nil
}

// Close closes the socket.
func (t *UDP) Close() error {
	return t.conn.Close()
}
