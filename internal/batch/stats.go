package batch

import "sync/atomic"

// Stats tracks progress counters for a run. All methods are safe for
// concurrent use.
type Stats struct {
	received atomic.Uint64
	computed atomic.Uint64
	failed   atomic.Uint64
	sent     atomic.Uint64
	expected atomic.Int64
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	Expected int64  `json:"expected"` // -1 until the batch size is known
	Received uint64 `json:"received"` // Tasks parsed by ingress
	Computed uint64 `json:"computed"` // Results produced by workers
	Failed   uint64 `json:"failed"`   // Compute failures (workers lost)
	Sent     uint64 `json:"sent"`     // Results written by egress
}

// NewStats returns counters with an unknown batch size.
func NewStats() *Stats {
	s := &Stats{}
	s.expected.Store(-1)
	return s
}

func (s *Stats) SetExpected(n int) { s.expected.Store(int64(n)) }
func (s *Stats) AddReceived()      { s.received.Add(1) }
func (s *Stats) AddComputed()      { s.computed.Add(1) }
func (s *Stats) AddFailed()        { s.failed.Add(1) }
func (s *Stats) AddSent()          { s.sent.Add(1) }

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Expected: s.expected.Load(),
		Received: s.received.Load(),
		Computed: s.computed.Load(),
		Failed:   s.failed.Load(),
		Sent:     s.sent.Load(),
	}
}
