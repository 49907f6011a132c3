package gossip

import (
	"sync"

	"gossipd/internal/telemetry"
)

// Engine guards a View with a reader/writer lock. Readers (sampling,
// snapshots) run concurrently; merge and sweep are exclusive. No method
// blocks on I/O while holding the lock.
type Engine struct {
	mu      sync.RWMutex
	view    *View
	fanout  int
	metrics *telemetry.Metrics

	cbMu                sync.Mutex
	onMembershipChanged func([]Port)

	// seq orders membership changes; it is advanced under mu.
	seq       uint64
	deliverMu sync.Mutex
	delivered uint64
}

// NewEngine wraps view. A fanout of zero or less selects DefaultFanout.
func NewEngine(view *View, fanout int, metrics *telemetry.Metrics) *Engine {
	if fanout <= 0 {
		fanout = DefaultFanout
	}
	e := &Engine{
		view:    view,
		fanout:  fanout,
		metrics: metrics,
	}
	metrics.SetMembers(view.Len())
	return e
}

// SetOnMembershipChanged sets a callback invoked asynchronously with the
// sorted member ports whenever a peer joins or is evicted. Invocations never
// overlap, and an update older than one already delivered is dropped, so the
// last call always reflects the latest membership.
func (e *Engine) SetOnMembershipChanged(callback func([]Port)) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.onMembershipChanged = callback
}

// Self returns the local node's port.
func (e *Engine) Self() Port {
	return e.view.Self()
}

// RandomPeers returns up to fanout gossip targets.
func (e *Engine) RandomPeers() []Port {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.view.Random(e.fanout)
}

// MergeIncoming merges a remote snapshot received from sender.
func (e *Engine) MergeIncoming(remote Snapshot, sender Port) MergeResult {
	e.mu.Lock()
	res := e.view.Merge(remote, sender)
	n := e.view.Len()
	ports := e.view.Ports()
	e.seq++
	seq := e.seq
	e.mu.Unlock()

	e.metrics.ObserveMerge(len(res.Admitted), len(res.Rejected), len(res.Bumped), len(res.Evicted))
	e.metrics.SetMembers(n)
	if res.Changed() {
		e.notifyMembershipChanged(seq, ports)
	}
	return res
}

// AddSeeds adds peers learned outside gossip, such as from a registry.
func (e *Engine) AddSeeds(seeds []Port) []Port {
	e.mu.Lock()
	added := e.view.AddSeeds(seeds)
	n := e.view.Len()
	ports := e.view.Ports()
	e.seq++
	seq := e.seq
	e.mu.Unlock()

	e.metrics.SetMembers(n)
	if len(added) > 0 {
		e.notifyMembershipChanged(seq, ports)
	}
	return added
}

// SweepNow evicts stale peers and returns them.
func (e *Engine) SweepNow() []Port {
	e.mu.Lock()
	evicted := e.view.Sweep()
	n := e.view.Len()
	ports := e.view.Ports()
	e.seq++
	seq := e.seq
	e.mu.Unlock()

	e.metrics.ObserveSweep(len(evicted))
	e.metrics.SetMembers(n)
	if len(evicted) > 0 {
		e.notifyMembershipChanged(seq, ports)
	}
	return evicted
}

// Snapshot returns a copy of the current view.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.view.Snapshot()
}

// Members returns the sorted member ports, self included.
func (e *Engine) Members() []Port {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.view.Ports()
}

// Len returns the number of members, self included.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.view.Len()
}

func (e *Engine) notifyMembershipChanged(seq uint64, ports []Port) {
	go e.deliver(seq, ports) // Async so callers never block on it
}

// deliver runs the callback for change seq unless a later change has
// already been delivered.
func (e *Engine) deliver(seq uint64, ports []Port) {
	e.cbMu.Lock()
	cb := e.onMembershipChanged
	e.cbMu.Unlock()
	if cb == nil {
		return
	}

	e.deliverMu.Lock()
	defer e.deliverMu.Unlock()
	if seq <= e.delivered {
		return
	}
	e.delivered = seq
	cb(ports)
}
