package gossip

import (
	"fmt"
	"math"
	"time"
)

// Port identifies a peer. Port 0 never names a peer.
type Port uint16

// Heartbeat is the liveness record kept for one peer.
type Heartbeat struct {
	Count    uint64
	LastSeen int64 // Unix seconds
}

// NewHeartbeat returns a record with a zero counter last seen at now.
func NewHeartbeat(now int64) *Heartbeat {
	return &Heartbeat{LastSeen: now}
}

// IncrementAndTouch bumps the counter and refreshes the timestamp.
func (h *Heartbeat) IncrementAndTouch(now int64) {
	h.Increment()
	h.Touch(now)
}

// Increment bumps the counter without touching the timestamp. The counter
// saturates at math.MaxUint64 instead of wrapping.
func (h *Heartbeat) Increment() {
	if h.Count < math.MaxUint64 {
		h.Count++
	}
}

// Touch refreshes the timestamp. It never moves LastSeen backwards.
func (h *Heartbeat) Touch(now int64) {
	if now > h.LastSeen {
		h.LastSeen = now
	}
}

// Age returns how long ago the record was last touched, relative to now.
func (h *Heartbeat) Age(now int64) time.Duration {
	return time.Duration(now-h.LastSeen) * time.Second
}

// String renders the record with a human readable timestamp.
func (h Heartbeat) String() string {
	return fmt.Sprintf("Heartbeat(%d, %s)", h.Count, time.Unix(h.LastSeen, 0).Format(time.RFC1123Z))
}
