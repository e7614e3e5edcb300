package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/example/puppetmaster/internal/bitset"
	"github.com/example/puppetmaster/internal/common"
	"github.com/example/puppetmaster/internal/config"
)

const numNames = 1024
const pool = 8

func setFor(indicesPos int, reads, writes []int) TransactionSet {
	r := bitset.New(numNames)
	w := bitset.New(numNames)
	for _, b := range reads {
		r.Set(b)
	}
	for _, b := range writes {
		w.Set(b)
	}
	idx := bitset.New(pool)
	idx.Set(indicesPos)
	return TransactionSet{
		SchedulerTransaction: common.SchedulerTransaction{ReadSet: r, WriteSet: w},
		Indices:              idx,
	}
}

func runTournament(t *testing.T, sets []TransactionSet) Response {
	t.Helper()
	p := config.Default
	s := New(p, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Put(ctx, Request{Sets: sets}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	resp, err := s.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	return resp
}

func TestAllDisjointEverybodyWins(t *testing.T) {
	sets := make([]TransactionSet, pool)
	sets[0] = setFor(0, nil, nil) // empty running set
	for i := 1; i < pool; i++ {
		sets[i] = setFor(i, []int{2 * i}, []int{2*i + 1})
	}
	resp := runTournament(t, sets)
	for i := 0; i < pool; i++ {
		if !resp.Result.Indices.Test(i) {
			t.Fatalf("expected candidate %d to win, indices=%+v", i, resp.Result.Indices)
		}
	}
}

func TestConflictingPairLowerIndexWins(t *testing.T) {
	sets := make([]TransactionSet, pool)
	sets[0] = setFor(0, nil, nil)
	// candidates 1 and 2 conflict (share write object 100); everything
	// else is disjoint.
	sets[1] = setFor(1, nil, []int{100})
	sets[2] = setFor(2, nil, []int{100})
	for i := 3; i < pool; i++ {
		sets[i] = setFor(i, []int{1000 + i}, []int{1010 + i})
	}
	resp := runTournament(t, sets)
	if !resp.Result.Indices.Test(1) {
		t.Fatalf("expected lower-index candidate 1 to win the conflicting pair")
	}
	if resp.Result.Indices.Test(2) {
		t.Fatalf("expected higher-index candidate 2 to lose the conflicting pair")
	}
}

func TestRunningSetNeverDropped(t *testing.T) {
	sets := make([]TransactionSet, pool)
	sets[0] = setFor(0, nil, []int{7}) // running set already holds object 7
	for i := 1; i < pool; i++ {
		sets[i] = setFor(i, []int{7}, nil) // every candidate reads the running write
	}
	resp := runTournament(t, sets)
	if !resp.Result.WriteSet.Test(7) {
		t.Fatalf("running set's write on object 7 must survive every merge")
	}
	for i := 1; i < pool; i++ {
		if resp.Result.Indices.Test(i) {
			t.Fatalf("candidate %d conflicts with the running set and must not win", i)
		}
	}
}

func TestAllConflictingOnlyOneWinnerPerTournament(t *testing.T) {
	sets := make([]TransactionSet, pool)
	sets[0] = setFor(0, nil, nil)
	for i := 1; i < pool; i++ {
		sets[i] = setFor(i, nil, []int{999}) // every candidate writes the same object
	}
	resp := runTournament(t, sets)
	winners := 0
	for i := 1; i < pool; i++ {
		if resp.Result.Indices.Test(i) {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner among all-conflicting candidates, got %d", winners)
	}
	if !resp.Result.Indices.Test(1) {
		t.Fatalf("lowest-index candidate should be the sole winner")
	}
}

func TestBusyRejectsConcurrentRequest(t *testing.T) {
	p := config.Default
	s := New(p, nil)
	sets := make([]TransactionSet, pool)
	for i := range sets {
		sets[i] = setFor(i, nil, nil)
	}

	ctx := context.Background()
	if err := s.Put(ctx, Request{Sets: sets}); err != nil {
		t.Fatalf("first Put should be accepted: %v", err)
	}
	if err := s.Put(ctx, Request{Sets: sets}); err != ErrBusy {
		t.Fatalf("expected ErrBusy for concurrent Put, got %v", err)
	}
}
