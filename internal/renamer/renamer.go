// Package renamer fans rename/delete requests across the shards by address
// prefix and rejoins the per-object results into per-transaction responses,
// per §4.2. It is grounded on two teacher idioms: utils.TxnIndex's
// shard-selection-by-mask routing, and coordinator/db_sharding.go's
// account -> cluster table for the "route by prefix, let each partition
// work independently" shape.
package renamer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/example/puppetmaster/internal/bitset"
	"github.com/example/puppetmaster/internal/common"
	"github.com/example/puppetmaster/internal/config"
	"github.com/example/puppetmaster/internal/shard"
)

// ErrTransactionFailed is wrapped, together with the shard's error, into
// Result.Err when any object of a transaction could not be renamed.
var ErrTransactionFailed = errors.New("renamer: transaction rename failed")

// objectTag distinguishes which field of a RenamedTransaction an object's
// resulting name belongs in.
type objectTag int

const (
	tagRead objectTag = iota
	tagWrite
)

// Result is what Get() delivers: either a fully renamed transaction, or the
// tid plus the error that made it fail (Decision D4: failures are surfaced,
// not silently dropped).
type Result struct {
	TID       uint64
	RenamedTr common.RenamedTransaction
	Err       error
}

// Renamer routes InputTransactions to shards and reassembles responses.
type Renamer struct {
	params config.Params
	shards []*shard.Shard
	log    *slog.Logger

	// admit doubles as a back-pressure semaphore and a slot-identity
	// allocator: each token is an integer in [0, MaxPendingTransactions),
	// so every in-flight transaction has a stable numeric identity to
	// present to the per-shard round-robin arbiter as its requester.
	admit chan int
	out   chan Result
}

// New constructs a Renamer over numShards fresh shards sized per params.
func New(params config.Params, log *slog.Logger) *Renamer {
	if log == nil {
		log = slog.Default()
	}
	shards := make([]*shard.Shard, params.NumShards)
	for i := range shards {
		shards[i] = shard.New(i, params.ShardSlots, params.NumHashes, uint32(params.MaxRefs()), params.MaxPendingTransactions, log)
	}
	admit := make(chan int, params.MaxPendingTransactions)
	for i := 0; i < params.MaxPendingTransactions; i++ {
		admit <- i
	}
	return &Renamer{
		params: params,
		shards: shards,
		log:    log.With("component", "renamer"),
		admit:  admit,
		out:    make(chan Result, params.MaxPendingTransactions),
	}
}

// Reset clears every shard, as issued once at startup per §4.1.
func (r *Renamer) Reset() {
	for _, s := range r.shards {
		s.Reset()
	}
}

func (r *Renamer) shardFor(addr common.ObjectAddress) (idx int, base int) {
	logShard := r.params.LogShard()
	idx = int(addr>>uint(logShard)) & (r.params.NumShards - 1)
	base = int(addr) & (r.params.ShardSlots - 1)
	return idx, base
}

// Put admits tr for renaming. It blocks until an in-flight slot is free
// (§4.2's back-pressure), matching the teacher's blocking rpc.Dial-style
// admission rather than dropping work silently.
func (r *Renamer) Put(ctx context.Context, tr common.InputTransaction) error {
	var slot int
	select {
	case slot = <-r.admit:
	case <-ctx.Done():
		return ctx.Err()
	}
	go r.process(ctx, tr, slot)
	return nil
}

// Get blocks until the next rename result is ready.
func (r *Renamer) Get(ctx context.Context) (Result, error) {
	select {
	case res := <-r.out:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// TryGet is the non-blocking variant §9 recommends exposing for drivers
// that must not block.
func (r *Renamer) TryGet() (Result, bool) {
	select {
	case res := <-r.out:
		return res, true
	default:
		return Result{}, false
	}
}

type renameOutcome struct {
	tag  objectTag
	addr common.ObjectAddress
	name common.ObjectName
}

func (r *Renamer) process(ctx context.Context, tr common.InputTransaction, slot int) {
	defer func() { r.admit <- slot }()

	type job struct {
		tag  objectTag
		addr common.ObjectAddress
	}
	jobs := make([]job, 0, len(tr.Reads)+len(tr.Writes))
	for _, a := range tr.Reads {
		jobs = append(jobs, job{tagRead, a})
	}
	for _, a := range tr.Writes {
		jobs = append(jobs, job{tagWrite, a})
	}

	outcomes := make([]renameOutcome, len(jobs))
	succeeded := make([]bool, len(jobs))

	g, _ := errgroup.WithContext(ctx)
	for i, j := range jobs {
		i, j := i, j
		g.Go(func() error {
			shardIdx, base := r.shardFor(j.addr)
			slotKey, err := r.shards[shardIdx].Rename(slot, base, uint64(j.addr))
			if err != nil {
				return err
			}
			outcomes[i] = renameOutcome{tag: j.tag, addr: j.addr, name: common.ObjectName{Shard: shardIdx, Slot: slotKey}}
			succeeded[i] = true
			return nil
		})
	}
	err := g.Wait()

	if err != nil {
		// Decision D1: release every name that did succeed before
		// surfacing the failure, rather than leaking partial renames.
		for i, ok := range succeeded {
			if !ok {
				continue
			}
			r.shards[outcomes[i].name.Shard].Delete(outcomes[i].name.Slot)
		}
		r.log.Debug("transaction rename failed", "tid", tr.TID, "error", err)
		r.out <- Result{TID: tr.TID, Err: fmt.Errorf("%w: %w", ErrTransactionFailed, err)}
		return
	}

	numNames := r.params.NumNames()
	readSet := bitset.New(numNames)
	writeSet := bitset.New(numNames)
	renamed := common.RenamedTransaction{TID: tr.TID}
	for _, o := range outcomes {
		bit := o.name.Bit(r.params.ShardSlots)
		switch o.tag {
		case tagRead:
			readSet.Set(bit)
			renamed.ReadNames = append(renamed.ReadNames, o.name)
		case tagWrite:
			writeSet.Set(bit)
			renamed.WriteNames = append(renamed.WriteNames, o.name)
		}
	}
	renamed.SchedulerTr = common.SchedulerTransaction{ReadSet: readSet, WriteSet: writeSet}

	r.out <- Result{TID: tr.TID, RenamedTr: renamed}
}

// Delete issues one Delete per name in rt's read-set and write-set, to the
// owning shard, per §4.2's delete path.
func (r *Renamer) Delete(rt common.RenamedTransaction) {
	for _, n := range rt.AllNames() {
		r.shards[n.Shard].Delete(n.Slot)
	}
}
