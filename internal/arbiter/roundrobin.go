// Package arbiter implements the one generic round-robin structure the
// design reuses in three places: per-shard request routing, start/finish
// event serialization, and delete-request serialization.
package arbiter

// RoundRobin picks the next of n candidates to service, rotating a priority
// pointer forward each time Next is called with a non-empty ready set — the
// same "lowest id wins a tie, then rotate" shape as the teacher's
// clusterLeaders tie-break (explicit role wins, then lowest NodeID).
type RoundRobin struct {
	n    int
	last int
}

// New returns a round-robin arbiter over n candidate slots, indices [0, n).
func New(n int) *RoundRobin {
	return &RoundRobin{n: n, last: -1}
}

// Next returns the index of the next ready candidate to service, scanning
// forward from just after the last winner and wrapping around. ready[i]
// must be true for i to be eligible. Returns (0, false) if nothing is ready.
func (r *RoundRobin) Next(ready []bool) (int, bool) {
	if len(ready) != r.n {
		panic("arbiter: ready slice width mismatch")
	}
	for step := 1; step <= r.n; step++ {
		i := (r.last + step) % r.n
		if ready[i] {
			r.last = i
			return i, true
		}
	}
	return 0, false
}

// Reset rewinds the arbiter to its initial priority ordering.
func (r *RoundRobin) Reset() {
	r.last = -1
}
