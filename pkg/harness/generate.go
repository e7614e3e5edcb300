// Package harness builds test workloads for the scheduler: either parsed
// from the CSV format of §6, or generated synthetically following the
// four seed patterns of §8 (S1-S4). There are no generators for the
// recycling/exhaustion scenarios S5 and S6.
//
// The four generators below follow original_source/main.cpp's single
// default-test loop (selecting a write-address pattern by `i % 4`),
// factored into one named function per branch for testability. They
// reproduce its conflict *pattern* — which transactions share a write
// band and therefore serialize — not its literal address values: this
// package uses a 128-wide address band per tid/read-write pair rather
// than main.cpp's 16-wide band, so addresses differ numerically while the
// contention structure they encode is the same.
package harness

import "github.com/example/puppetmaster/internal/common"

// Seed describes one generated InputTransaction in terms of its tid and
// its OBJS_PER_TR-sized read/write address sets.
type Seed struct {
	TID    uint64
	Reads  []common.ObjectAddress
	Writes []common.ObjectAddress
}

func reads(tid uint64, objSetSize int) []common.ObjectAddress {
	out := make([]common.ObjectAddress, objSetSize)
	for j := 0; j < objSetSize; j++ {
		out[j] = common.ObjectAddress(128*tid + uint64(2*j))
	}
	return out
}

// GenerateNonConflicting builds S1: n pairwise-disjoint transactions, each
// reading and writing its own private 128-aligned address band.
func GenerateNonConflicting(n, objSetSize int) []Seed {
	out := make([]Seed, n)
	for i := 0; i < n; i++ {
		tid := uint64(i)
		out[i] = Seed{
			TID:    tid,
			Reads:  reads(tid, objSetSize),
			Writes: writesFor(tid, objSetSize, func(tid uint64) uint64 { return tid }),
		}
	}
	return out
}

// GeneratePairConflicting builds S2: transactions at tid and tid^1 (even/odd
// pairs) share the same write band, so exactly one of each pair may run at
// a time.
func GeneratePairConflicting(n, objSetSize int) []Seed {
	out := make([]Seed, n)
	for i := 0; i < n; i++ {
		tid := uint64(i)
		out[i] = Seed{
			TID:    tid,
			Reads:  reads(tid, objSetSize),
			Writes: writesFor(tid, objSetSize, func(tid uint64) uint64 { return tid &^ 1 }),
		}
	}
	return out
}

// GenerateHalfConflicting builds S3: transactions with even tid share one
// write band, transactions with odd tid share another, so exactly two
// transactions (the lowest of each half) may run at a time.
func GenerateHalfConflicting(n, objSetSize int) []Seed {
	out := make([]Seed, n)
	for i := 0; i < n; i++ {
		tid := uint64(i)
		out[i] = Seed{
			TID:    tid,
			Reads:  reads(tid, objSetSize),
			Writes: writesFor(tid, objSetSize, func(tid uint64) uint64 { return tid & 1 }),
		}
	}
	return out
}

// GenerateAllConflicting builds S4: every transaction writes the same
// band, so the tournament admits exactly one at a time, strictly in tid
// order.
func GenerateAllConflicting(n, objSetSize int) []Seed {
	out := make([]Seed, n)
	for i := 0; i < n; i++ {
		tid := uint64(i)
		out[i] = Seed{
			TID:    tid,
			Reads:  reads(tid, objSetSize),
			Writes: writesFor(tid, objSetSize, func(uint64) uint64 { return 1 }),
		}
	}
	return out
}

func writesFor(tid uint64, objSetSize int, band func(uint64) uint64) []common.ObjectAddress {
	out := make([]common.ObjectAddress, objSetSize)
	b := band(tid)
	for j := 0; j < objSetSize; j++ {
		out[j] = common.ObjectAddress(128*b + uint64(2*j+1))
	}
	return out
}

// GenerateMixed picks among the four conflict patterns by i%4, following
// the shape of original_source/main.cpp's combined default-test loop
// (numTests batches of maxScheduledObjects transactions each, i%4
// selecting the write pattern) without reproducing its literal addresses
// — see the package comment.
func GenerateMixed(numTests, maxScheduledObjects, objSetSize int) []Seed {
	n := numTests * maxScheduledObjects
	out := make([]Seed, n)
	for i := 0; i < n; i++ {
		tid := uint64(i)
		var band uint64
		switch i % 4 {
		case 0:
			band = tid
		case 1:
			band = tid &^ 1
		case 2:
			band = tid & 1
		default:
			band = 1
		}
		out[i] = Seed{
			TID:    tid,
			Reads:  reads(tid, objSetSize),
			Writes: writesFor(0, objSetSize, func(uint64) uint64 { return band }),
		}
	}
	return out
}

// ToInputTransaction converts a Seed into the core's InputTransaction type.
func (s Seed) ToInputTransaction() common.InputTransaction {
	return common.InputTransaction{TID: s.TID, Reads: s.Reads, Writes: s.Writes}
}

// ToInputObjects lays the seed out as the submitter-facing §6 wire shape:
// one InputObject per address, reads first, then writes.
func (s Seed) ToInputObjects() []common.InputObject {
	out := make([]common.InputObject, 0, len(s.Reads)+len(s.Writes))
	for _, a := range s.Reads {
		out = append(out, common.InputObject{Valid: true, Write: false, Address: a})
	}
	for _, a := range s.Writes {
		out = append(out, common.InputObject{Valid: true, Write: true, Address: a})
	}
	return out
}
