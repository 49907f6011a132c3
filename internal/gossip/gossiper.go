package gossip

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"gossipd/internal/telemetry"
)

// Default loop timings.
const (
	DefaultGossipInterval = 2 * time.Second
	DefaultReceiveTimeout = 1 * time.Second
	DefaultSweepInterval  = 5 * time.Second
)

// Transport is the datagram capability the loops run on.
type Transport interface {
	// Send delivers payload to a host:port address. Delivery is best effort.
	Send(addr string, payload []byte) error
	// Receive blocks for at most timeout waiting for one datagram. A timeout
	// is reported as an error matching os.ErrDeadlineExceeded.
	Receive(timeout time.Duration) ([]byte, net.Addr, error)
}

// Options configures a Gossiper.
type Options struct {
	// Host peers listen on. Peer identity is the port alone.
	Host string

	GossipInterval  time.Duration
	ReceiveTimeout  time.Duration
	SweepInterval   time.Duration
	MaxDatagramSize int

	Log     *zap.Logger
	Metrics *telemetry.Metrics
}

func (o *Options) setDefaults() {
	if o.Host == "" {
		o.Host = "localhost"
	}
	if o.GossipInterval <= 0 {
		o.GossipInterval = DefaultGossipInterval
	}
	if o.ReceiveTimeout <= 0 {
		o.ReceiveTimeout = DefaultReceiveTimeout
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.MaxDatagramSize <= 0 {
		o.MaxDatagramSize = DefaultMaxDatagramSize
	}
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
}

// Gossiper runs the dissemination, reception and expiry loops against an
// Engine. The loops share nothing but the Engine.
type Gossiper struct {
	engine *Engine
	tr     Transport
	opts   Options
	log    *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewGossiper creates a stopped Gossiper.
func NewGossiper(engine *Engine, tr Transport, opts Options) *Gossiper {
	opts.setDefaults()
	return &Gossiper{
		engine: engine,
		tr:     tr,
		opts:   opts,
		log:    opts.Log,
	}
}

// Start launches the three loops. They run until ctx is cancelled or Stop
// is called. Calling Start on a running Gossiper is a no-op.
func (g *Gossiper) Start(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		return
	}
	ctx, g.cancel = context.WithCancel(ctx)

	g.wg.Add(3)

	// Dissemination loop
	go func() {
		defer g.wg.Done()
		g.tick(ctx, g.opts.GossipInterval, "gossip", g.GossipOnce)
	}()

	// Reception loop
	go func() {
		defer g.wg.Done()
		for ctx.Err() == nil {
			g.safely("receive", func() { g.ReceiveOnce(ctx) })
		}
	}()

	// Expiry loop
	go func() {
		defer g.wg.Done()
		g.tick(ctx, g.opts.SweepInterval, "sweep", func() { g.engine.SweepNow() })
	}()

	g.log.Info("Gossip loops started",
		zap.Duration("gossip_interval", g.opts.GossipInterval),
		zap.Duration("sweep_interval", g.opts.SweepInterval),
		zap.Duration("receive_timeout", g.opts.ReceiveTimeout))
}

// Stop cancels the loops and waits for them to return. The reception loop
// notices within one receive timeout.
func (g *Gossiper) Stop() {
	g.mu.Lock()
	cancel := g.cancel
	g.cancel = nil
	g.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	g.wg.Wait()
	g.log.Info("Gossip loops stopped")
}

func (g *Gossiper) tick(ctx context.Context, every time.Duration, name string, fn func()) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.safely(name, fn)
		}
	}
}

// safely runs one loop iteration. A panic is logged and the loop goes on;
// the view lock is released by the deferred unlocks before we get here.
func (g *Gossiper) safely(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("Loop iteration panicked", zap.String("loop", name), zap.Any("panic", r))
		}
	}()
	fn()
}

// GossipOnce sends the current view to up to fanout random peers.
// Send failures are logged and otherwise ignored: only the sweep decides
// that a peer is dead.
func (g *Gossiper) GossipOnce() {
	targets := g.engine.RandomPeers()
	if len(targets) == 0 {
		return
	}

	payload, err := Encode(MemListMessage(g.engine.Snapshot()), g.opts.MaxDatagramSize)
	if err != nil {
		g.opts.Metrics.MessageSent("too_large")
		g.log.Error("Cannot encode membership list", zap.Error(err))
		return
	}

	for _, p := range targets {
		addr := net.JoinHostPort(g.opts.Host, strconv.Itoa(int(p)))
		if err := g.tr.Send(addr, payload); err != nil {
			g.opts.Metrics.MessageSent("error")
			g.log.Debug("Send failed", zap.String("to", addr), zap.Error(err))
			continue
		}
		g.opts.Metrics.MessageSent("ok")
	}
}

// ReceiveOnce waits for one datagram and handles it.
func (g *Gossiper) ReceiveOnce(ctx context.Context) {
	payload, from, err := g.tr.Receive(g.opts.ReceiveTimeout)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrDeadlineExceeded):
			g.log.Debug("Receive timed out", zap.Error(err))
		case errors.Is(err, net.ErrClosed):
			// Closed under us during shutdown; back off so the loop does
			// not spin until ctx is cancelled.
			select {
			case <-ctx.Done():
			case <-time.After(g.opts.ReceiveTimeout):
			}
		default:
			g.log.Debug("Receive failed", zap.Error(err))
		}
		return
	}

	if err := g.HandleDatagram(payload, from); err != nil {
		g.opts.Metrics.DecodeError()
		g.log.Warn("Dropping datagram", zap.Stringer("from", from), zap.Error(err))
	}
}

// HandleDatagram decodes one payload and applies it. Errors are per
// message; the caller drops the datagram and carries on.
func (g *Gossiper) HandleDatagram(payload []byte, from net.Addr) error {
	msg, err := Decode(payload)
	if err != nil {
		return err
	}
	g.opts.Metrics.MessageReceived(msg.Kind.String())

	switch msg.Kind {
	case KindMemList:
		sender, err := SenderPort(from)
		if err != nil {
			return err
		}
		res := g.engine.MergeIncoming(msg.MemList, sender)
		if res.Changed() {
			g.log.Info("Membership changed",
				zap.Uint16("from", uint16(sender)),
				zap.Any("admitted", res.Admitted),
				zap.Any("evicted", res.Evicted),
				zap.Any("members", g.engine.Members()))
		}
	case KindData:
		g.log.Info(msg.Text, zap.Stringer("from", from))
	case KindError:
		g.log.Debug(msg.Text, zap.Stringer("from", from))
	}
	return nil
}

// SenderPort extracts the peer identity from a datagram source address.
func SenderPort(addr net.Addr) (Port, error) {
	if addr == nil {
		return 0, errors.New("gossip: datagram has no source address")
	}
	if ua, ok := addr.(*net.UDPAddr); ok {
		return toSenderPort(ua.Port)
	}
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0, fmt.Errorf("gossip: bad source address %q: %w", addr, err)
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("gossip: bad source port %q: %w", portStr, err)
	}
	return toSenderPort(p)
}

func toSenderPort(p int) (Port, error) {
	if p <= 0 || p > 0xFFFF {
		return 0, fmt.Errorf("gossip: source port %d out of range", p)
	}
	return Port(p), nil
}
