// Package config carries the compile-time widths the rest of the core is
// parameterized on. Every field is a fixed width for the lifetime of a
// Params value; nothing in this package resizes a table at runtime.
package config

import "math/bits"

// Params mirrors the reference design's compile-time constants. Widths that
// must stay powers of two are validated by Validate.
type Params struct {
	NumShards      int // NUM_SHARDS
	ShardSlots     int // slots per shard
	ObjsPerTr      int // OBJS_PER_TR
	Pool           int // POOL
	NumPuppets     int // NUM_PUPPETS
	NumHashes      int // NUM_HASHES, bound on linear probing
	NumComparators int // NUM_COMPARATORS, scheduler merge width per cycle
	TxDuration     int // TX_DURATION, puppet busy cycles

	MaxPendingTransactions int // MAX_PENDING_TRANSACTIONS, renamer in-flight admission limit
}

// Default matches the reference design's values: NUM_SHARDS=8,
// SHARD_SLOTS=128 so NUM_NAMES=1024, OBJS_PER_TR=8, POOL=8, NUM_PUPPETS=8,
// NUM_HASHES=8.
var Default = Params{
	NumShards:              8,
	ShardSlots:             128,
	ObjsPerTr:              8,
	Pool:                   8,
	NumPuppets:             8,
	NumHashes:              8,
	NumComparators:         2,
	TxDuration:             2000,
	MaxPendingTransactions: 64,
}

// NumNames returns NUM_SHARDS * SHARD_SLOTS, the renamed name space.
func (p Params) NumNames() int {
	return p.NumShards * p.ShardSlots
}

// MaxRefs returns the reference-counter saturation point, MAX_REFS = NumNames().
func (p Params) MaxRefs() int {
	return p.NumNames()
}

// LogShard returns log2(ShardSlots).
func (p Params) LogShard() int {
	return bits.Len(uint(p.ShardSlots) - 1)
}

// Rounds returns log2(Pool), the number of tournament merge rounds.
func (p Params) Rounds() int {
	return bits.Len(uint(p.Pool) - 1)
}

// Validate checks the power-of-two and sizing relationships §3 requires.
func (p Params) Validate() error {
	switch {
	case !isPow2(p.NumShards):
		return errNotPow2("NumShards")
	case !isPow2(p.ShardSlots):
		return errNotPow2("ShardSlots")
	case !isPow2(p.Pool):
		return errNotPow2("Pool")
	case p.NumHashes <= 0 || p.NumHashes > p.ShardSlots:
		return errRange("NumHashes")
	case p.ObjsPerTr <= 0:
		return errRange("ObjsPerTr")
	case p.NumPuppets <= 0:
		return errRange("NumPuppets")
	case p.NumComparators <= 0:
		return errRange("NumComparators")
	case p.TxDuration <= 0:
		return errRange("TxDuration")
	}
	return nil
}

func isPow2(n int) bool {
	return n > 0 && n&(n-1) == 0
}
