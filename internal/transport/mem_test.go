package transport

import (
	"errors"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func portOf(addr net.Addr) (int, error) {
	_, p, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(p)
}

func TestNetwork_Delivery(t *testing.T) {
	n := NewNetwork(4)
	a, err := n.Listen(9001)
	require.NoError(t, err)
	b, err := n.Listen(9002)
	require.NoError(t, err)

	require.NoError(t, a.Send("localhost:9002", []byte("ping")))

	payload, from, err := b.Receive(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(payload))

	port, err := portOf(from)
	require.NoError(t, err)
	assert.Equal(t, 9001, port)
}

func TestNetwork_Unreachable(t *testing.T) {
	n := NewNetwork(1)
	a, err := n.Listen(9001)
	require.NoError(t, err)

	err = a.Send("localhost:9009", []byte("x"))
	assert.True(t, errors.Is(err, ErrUnreachable))

	// Queue of one: second datagram is dropped.
	b, err := n.Listen(9002)
	require.NoError(t, err)
	require.NoError(t, a.Send("localhost:9002", []byte("1")))
	assert.True(t, errors.Is(a.Send("localhost:9002", []byte("2")), ErrUnreachable))

	require.NoError(t, b.Close())
	assert.True(t, errors.Is(a.Send("localhost:9002", []byte("3")), ErrUnreachable))
}

func TestNetwork_DuplicatePort(t *testing.T) {
	n := NewNetwork(1)
	_, err := n.Listen(9001)
	require.NoError(t, err)
	_, err = n.Listen(9001)
	assert.Error(t, err)
}

func TestEndpoint_ReceiveTimeoutAndClose(t *testing.T) {
	n := NewNetwork(1)
	a, err := n.Listen(9001)
	require.NoError(t, err)

	_, _, err = a.Receive(10 * time.Millisecond)
	assert.True(t, errors.Is(err, os.ErrDeadlineExceeded))

	require.NoError(t, a.Close())
	_, _, err = a.Receive(time.Second)
	assert.True(t, errors.Is(err, net.ErrClosed))

	// Port is free again after close.
	_, err = n.Listen(9001)
	assert.NoError(t, err)
}
