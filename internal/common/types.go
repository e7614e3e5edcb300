// Package common holds the types shared by every stage of the pipeline —
// the renamer, the scheduler, the dispatcher and the puppets — the way the
// teacher's own common package holds the wire types every RPC handler
// exchanges.
package common

import "github.com/example/puppetmaster/internal/bitset"

// ObjectAddress is the wide address a submitter names an object by.
type ObjectAddress uint64

// ObjectName identifies a live rename-table entry: the shard that owns it
// and the slot key within that shard.
type ObjectName struct {
	Shard int
	Slot  int
}

// Bit returns the flat bit position this name occupies in a NUM_NAMES-wide
// scheduler bit-vector, given the shard width shardSlots.
func (n ObjectName) Bit(shardSlots int) int {
	return n.Shard*shardSlots + n.Slot
}

// InputObject is one address field as the submitter declares it: §6's
// {valid, write, address} triple.
type InputObject struct {
	Valid   bool
	Write   bool
	Address ObjectAddress
}

// InputTransaction is a submitted transaction before renaming: a tid plus
// the reads and writes extracted from its InputObject fields, regardless of
// their original ordering within the 16 slots (§6).
type InputTransaction struct {
	TID    uint64
	Reads  []ObjectAddress
	Writes []ObjectAddress
}

// FromObjects builds an InputTransaction from the raw 16-slot submitter
// shape, distinguishing reads from writes by the Write flag and ignoring
// invalid entries, exactly as §6 requires.
func FromObjects(tid uint64, objs []InputObject) InputTransaction {
	tr := InputTransaction{TID: tid}
	for _, o := range objs {
		if !o.Valid {
			continue
		}
		if o.Write {
			tr.Writes = append(tr.Writes, o.Address)
		} else {
			tr.Reads = append(tr.Reads, o.Address)
		}
	}
	return tr
}

// SchedulerTransaction is the {readSet, writeSet} pair the scheduler's
// tournament operates on.
type SchedulerTransaction struct {
	ReadSet  bitset.Set
	WriteSet bitset.Set
}

// Conflicts reports whether a and b conflict per §4.3's merge rule:
// (A.r & B.w) | (A.w & B.r) | (A.w & B.w) != 0.
func Conflicts(a, b SchedulerTransaction) bool {
	return bitset.Intersects(a.ReadSet, b.WriteSet) ||
		bitset.Intersects(a.WriteSet, b.ReadSet) ||
		bitset.Intersects(a.WriteSet, b.WriteSet)
}

// RenamedTransaction is a transaction after every object address has been
// bound to a name: the names needed to issue deletes, plus the bit-vector
// pair the scheduler consumes.
type RenamedTransaction struct {
	TID         uint64
	ReadNames   []ObjectName
	WriteNames  []ObjectName
	SchedulerTr SchedulerTransaction
}

// AllNames returns every name this transaction holds, reads and writes
// together — exactly the set the renamer must issue one Delete per, per
// §4.2's delete path.
func (rt RenamedTransaction) AllNames() []ObjectName {
	out := make([]ObjectName, 0, len(rt.ReadNames)+len(rt.WriteNames))
	out = append(out, rt.ReadNames...)
	out = append(out, rt.WriteNames...)
	return out
}

// EventStatus distinguishes a Started event from a Finished event.
type EventStatus int

const (
	Started EventStatus = iota
	Finished
	// Failed is an implementer's choice addition (§9's open question):
	// a transaction whose rename failed (hash exhaustion or counter
	// saturation) is reported explicitly instead of silently vanishing.
	Failed
)

func (s EventStatus) String() string {
	switch s {
	case Started:
		return "Started"
	case Finished:
		return "Finished"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Event is the Puppetmaster -> Host notification of §6.
type Event struct {
	TID       uint64
	Status    EventStatus
	Timestamp uint64
}
