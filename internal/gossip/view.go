package gossip

import (
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"gossipd/internal/clock"
)

const (
	// DefaultLivenessWindow is how long a peer may go without a heartbeat
	// before it is swept.
	DefaultLivenessWindow = 5 * time.Second

	// DefaultFanout is the number of peers each gossip round targets.
	DefaultFanout = 2
)

// Snapshot is a point-in-time copy of a view. It is what travels on the wire.
type Snapshot struct {
	Self    Port // 0 if the sender is not itself a member
	Members map[Port]Heartbeat
}

// Ports returns the snapshot's ports in ascending order.
func (s Snapshot) Ports() []Port {
	return sortedKeys(s.Members)
}

// MergeResult records the decisions made by a merge.
type MergeResult struct {
	Admitted []Port // unknown peers accepted as fresh joins
	Updated  []Port // known peers whose counter moved to a higher remote value
	Bumped   []Port // sender entries advanced by the self-heartbeat step
	Rejected []Port // unknown peers dropped as stale joins
	Evicted  []Port // peers removed by the trailing sweep
}

// Changed reports whether the set of members changed.
func (r MergeResult) Changed() bool {
	return len(r.Admitted) > 0 || len(r.Evicted) > 0
}

// View is the local membership list. It is not safe for concurrent use;
// Engine provides the locking.
type View struct {
	members map[Port]*Heartbeat
	self    Port
	window  time.Duration
	clock   clock.Clock
	rngMu   sync.Mutex
	rng     *rand.Rand
	log     *zap.Logger
}

// ViewOption configures a View.
type ViewOption func(*View)

// WithLivenessWindow overrides DefaultLivenessWindow.
func WithLivenessWindow(d time.Duration) ViewOption {
	return func(v *View) {
		if d > 0 {
			v.window = d
		}
	}
}

// WithClock sets the time source used for timestamps.
func WithClock(c clock.Clock) ViewOption {
	return func(v *View) {
		if c != nil {
			v.clock = c
		}
	}
}

// WithRand makes peer sampling use r instead of the auto-seeded global source.
func WithRand(r *rand.Rand) ViewOption {
	return func(v *View) {
		v.rng = r
	}
}

// WithLogger sets the logger for protocol decisions.
func WithLogger(l *zap.Logger) ViewOption {
	return func(v *View) {
		if l != nil {
			v.log = l
		}
	}
}

// NewView creates a view seeded with a fresh heartbeat for every seed port.
// self marks the local node's entry (0 for none); it is added if missing
// from seeds.
func NewView(seeds []Port, self Port, opts ...ViewOption) *View {
	v := &View{
		members: make(map[Port]*Heartbeat, len(seeds)+1),
		self:    self,
		window:  DefaultLivenessWindow,
		clock:   clock.System{},
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}

	v.AddSeeds(seeds)
	v.AddSeeds([]Port{self})
	return v
}

// AddSeeds gives every port not yet in the view a fresh heartbeat and returns
// the ports added. Port 0 is ignored.
func (v *View) AddSeeds(seeds []Port) []Port {
	now := v.now()
	var added []Port
	for _, p := range seeds {
		if p == 0 {
			continue
		}
		if _, exists := v.members[p]; !exists {
			v.members[p] = NewHeartbeat(now)
			added = append(added, p)
		}
	}
	return added
}

// Self returns the local node's port, or 0.
func (v *View) Self() Port {
	return v.self
}

// LivenessWindow returns the configured window.
func (v *View) LivenessWindow() time.Duration {
	return v.window
}

// Len returns the number of members, self included.
func (v *View) Len() int {
	return len(v.members)
}

// Get returns a copy of the record for p.
func (v *View) Get(p Port) (Heartbeat, bool) {
	hb, ok := v.members[p]
	if !ok {
		return Heartbeat{}, false
	}
	return *hb, true
}

// Ports returns all member ports in ascending order.
func (v *View) Ports() []Port {
	return sortedKeys(v.members)
}

// Snapshot returns a deep copy of the view.
func (v *View) Snapshot() Snapshot {
	members := make(map[Port]Heartbeat, len(v.members))
	for p, hb := range v.members {
		members[p] = *hb
	}
	return Snapshot{Self: v.self, Members: members}
}

// Merge reconciles a remote snapshot received from sender into the view.
//
// For a known peer the higher counter wins and the timestamp is refreshed.
// An unknown peer is admitted only if its remote timestamp is still inside
// the liveness window. Entries about the sender itself then get a
// self-heartbeat. A sweep always runs afterwards.
func (v *View) Merge(remote Snapshot, sender Port) MergeResult {
	var res MergeResult
	now := v.now()

	for _, p := range remote.Ports() {
		rhb := remote.Members[p]
		local, exists := v.members[p]
		if !exists {
			if v.fresh(rhb.LastSeen, now) {
				v.members[p] = &Heartbeat{Count: rhb.Count, LastSeen: min(rhb.LastSeen, now)}
				res.Admitted = append(res.Admitted, p)
				v.log.Info("New node", zap.Uint16("port", uint16(p)), zap.Uint16("from", uint16(sender)),
					zap.Uint64("count", rhb.Count))
			} else {
				res.Rejected = append(res.Rejected, p)
				v.log.Info("Tried to add expired node", zap.Uint16("port", uint16(p)),
					zap.Uint16("from", uint16(sender)), zap.Int64("age_s", now-rhb.LastSeen))
			}
			continue
		}

		if rhb.Count > local.Count {
			local.Count = rhb.Count
			local.Touch(now)
			res.Updated = append(res.Updated, p)
		}

		if v.bumpSender(p, sender, local, now) {
			res.Bumped = append(res.Bumped, p)
		}
	}

	res.Evicted = v.Sweep()
	return res
}

// bumpSender is the self-heartbeat-on-receipt step: when the entry being
// merged describes the node that sent the datagram, receiving it is proof
// the sender is alive, so its local counter advances.
func (v *View) bumpSender(p, sender Port, local *Heartbeat, now int64) bool {
	if sender == 0 || p != sender {
		return false
	}
	local.IncrementAndTouch(now)
	v.log.Debug("Self heartbeat", zap.Uint16("port", uint16(p)), zap.Uint64("count", local.Count))
	return true
}

// Sweep evicts every non-self member whose timestamp is older than the
// liveness window and returns the evicted ports in ascending order.
func (v *View) Sweep() []Port {
	now := v.now()
	var evicted []Port
	for _, p := range v.Ports() {
		if p == v.self {
			continue
		}
		hb := v.members[p]
		if v.expired(hb.LastSeen, now) {
			delete(v.members, p)
			evicted = append(evicted, p)
			v.log.Warn("Removing node", zap.Uint16("port", uint16(p)), zap.Stringer("heartbeat", hb))
		}
	}
	return evicted
}

// Random samples up to k distinct non-self ports without replacement.
func (v *View) Random(k int) []Port {
	if k <= 0 {
		return nil
	}
	candidates := make([]Port, 0, len(v.members))
	for _, p := range v.Ports() {
		if p != v.self {
			candidates = append(candidates, p)
		}
	}
	if k > len(candidates) {
		k = len(candidates)
	}
	// Partial Fisher-Yates over the sorted candidates.
	for i := 0; i < k; i++ {
		j := i + v.intN(len(candidates)-i)
		candidates[i], candidates[j] = candidates[j], candidates[i]
	}
	return candidates[:k]
}

func (v *View) intN(n int) int {
	if v.rng != nil {
		// Random runs under the engine's read lock, so readers share rng.
		v.rngMu.Lock()
		defer v.rngMu.Unlock()
		return v.rng.IntN(n)
	}
	return rand.IntN(n)
}

func (v *View) now() int64 {
	return clock.Unix(v.clock)
}

func (v *View) windowSeconds() int64 {
	return int64(v.window / time.Second)
}

// fresh reports whether a join announced at ts is recent enough to admit.
// Timestamps ahead of the local clock or before the epoch are never fresh.
func (v *View) fresh(ts, now int64) bool {
	if ts < 0 || ts > now {
		return false
	}
	return now-ts < v.windowSeconds()
}

// expired reports whether a record last seen at ts should be swept.
func (v *View) expired(ts, now int64) bool {
	return now-ts > v.windowSeconds()
}

func sortedKeys[V any](m map[Port]V) []Port {
	keys := make([]Port, 0, len(m))
	for p := range m {
		keys = append(keys, p)
	}
	slices.Sort(keys)
	return keys
}
