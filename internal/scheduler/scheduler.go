// Package scheduler implements the tournament scheduler of §4.3: given a
// pool of transaction sets, merge them pairwise over log2(POOL) rounds into
// a single conflict-free set, biased toward lower indices so the
// always-present running-set at position 0 is never dropped.
//
// Each round's pairwise merges are bounded to NUM_COMPARATORS concurrent
// pairs via errgroup.Group.SetLimit — the same errgroup fan-out the renamer
// uses for its per-object rename fan-out, applied here to the merge step
// and, unlike the renamer's, capped.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/example/puppetmaster/internal/bitset"
	"github.com/example/puppetmaster/internal/common"
	"github.com/example/puppetmaster/internal/config"
)

// ErrBusy is returned by Put when a request is already in flight.
var ErrBusy = errors.New("scheduler: busy")

// TransactionSet is the scheduler-internal {readSet, writeSet, indices}
// triple of §3.
type TransactionSet struct {
	common.SchedulerTransaction
	Indices bitset.Set // POOL-wide: which pool positions this set represents
}

// Request is a fixed-length vector of POOL TransactionSets: position 0 is
// the running set, positions 1..POOL-1 are candidates.
type Request struct {
	Sets []TransactionSet
}

// Response is the TransactionSet at position 0 after all rounds.
type Response struct {
	Result TransactionSet
}

// merge implements §4.3's merge rule: conflicting sets keep A and drop B;
// non-conflicting sets union their read/write/indices bit-vectors.
func merge(a, b TransactionSet) TransactionSet {
	if common.Conflicts(a.SchedulerTransaction, b.SchedulerTransaction) {
		return a
	}
	return TransactionSet{
		SchedulerTransaction: common.SchedulerTransaction{
			ReadSet:  bitset.Or(a.ReadSet, b.ReadSet),
			WriteSet: bitset.Or(a.WriteSet, b.WriteSet),
		},
		Indices: bitset.Or(a.Indices, b.Indices),
	}
}

// Scheduler runs one tournament at a time: it is busy from Put until its
// Response has been delivered by Get or TryGet, and rejects a concurrent
// Put while busy.
type Scheduler struct {
	params config.Params
	log    *slog.Logger

	mu   sync.Mutex
	busy bool
	out  chan Response
}

// New returns a Scheduler parameterized by params.
func New(params config.Params, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		params: params,
		log:    log.With("component", "scheduler"),
		out:    make(chan Response, 1),
	}
}

// Put submits req for scheduling. It returns ErrBusy immediately rather
// than blocking if a prior request's Response has not been produced or has
// not yet been taken by Get/TryGet, matching §4.3 ("rejects a new request
// while busy").
func (s *Scheduler) Put(ctx context.Context, req Request) error {
	s.mu.Lock()
	if s.busy || len(s.out) > 0 {
		s.mu.Unlock()
		return ErrBusy
	}
	s.busy = true
	s.mu.Unlock()

	go s.run(ctx, req)
	return nil
}

// Get blocks until the next Response is ready.
func (s *Scheduler) Get(ctx context.Context) (Response, error) {
	select {
	case resp := <-s.out:
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// TryGet is the non-blocking variant.
func (s *Scheduler) TryGet() (Response, bool) {
	select {
	case resp := <-s.out:
		return resp, true
	default:
		return Response{}, false
	}
}

// Busy reports whether a tournament is currently in flight.
func (s *Scheduler) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

func (s *Scheduler) run(ctx context.Context, req Request) {
	resp := Response{Result: s.tournament(ctx, req.Sets)}
	s.out <- resp

	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// tournament runs ROUNDS = log2(len(working)) pairwise-merge rounds,
// collapsing position 2k and 2k+1 into position k each round.
func (s *Scheduler) tournament(ctx context.Context, sets []TransactionSet) TransactionSet {
	working := sets
	for round := 0; len(working) > 1; round++ {
		next := make([]TransactionSet, len(working)/2)
		g, _ := errgroup.WithContext(ctx)
		g.SetLimit(s.params.NumComparators)
		for k := 0; k < len(next); k++ {
			k := k
			g.Go(func() error {
				next[k] = merge(working[2*k], working[2*k+1])
				return nil
			})
		}
		_ = g.Wait()
		s.log.Debug("tournament round complete", "round", round, "active_sets", len(next))
		working = next
	}
	return working[0]
}
