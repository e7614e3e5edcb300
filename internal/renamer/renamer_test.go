package renamer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/puppetmaster/internal/common"
	"github.com/example/puppetmaster/internal/config"
)

func testParams() config.Params {
	p := config.Default
	p.NumShards = 8
	p.ShardSlots = 128
	p.NumHashes = 8
	p.MaxPendingTransactions = 8
	return p
}

func mustGet(t *testing.T, r *Renamer) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := r.Get(ctx)
	if err != nil {
		t.Fatalf("Get timed out: %v", err)
	}
	return res
}

func TestRenameDisjointTransactionSucceeds(t *testing.T) {
	r := New(testParams(), nil)
	tr := common.InputTransaction{TID: 1, Reads: []common.ObjectAddress{0, 2, 4}, Writes: []common.ObjectAddress{1, 3}}

	if err := r.Put(context.Background(), tr); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	res := mustGet(t, r)
	if res.Err != nil {
		t.Fatalf("unexpected rename error: %v", res.Err)
	}
	if res.TID != 1 {
		t.Fatalf("expected tid 1, got %d", res.TID)
	}
	if len(res.RenamedTr.ReadNames) != 3 || len(res.RenamedTr.WriteNames) != 2 {
		t.Fatalf("unexpected name counts: %+v", res.RenamedTr)
	}
}

func TestSameAddressSameName(t *testing.T) {
	r := New(testParams(), nil)
	ctx := context.Background()

	_ = r.Put(ctx, common.InputTransaction{TID: 1, Reads: []common.ObjectAddress{42}})
	first := mustGet(t, r)

	_ = r.Put(ctx, common.InputTransaction{TID: 2, Reads: []common.ObjectAddress{42}})
	second := mustGet(t, r)

	if first.RenamedTr.ReadNames[0] != second.RenamedTr.ReadNames[0] {
		t.Fatalf("same address should rename to the same name while live")
	}
}

func TestDeleteFreesNameForDifferentBinding(t *testing.T) {
	r := New(testParams(), nil)
	ctx := context.Background()

	_ = r.Put(ctx, common.InputTransaction{TID: 1, Reads: []common.ObjectAddress{42}})
	first := mustGet(t, r)

	r.Delete(first.RenamedTr)

	_ = r.Put(ctx, common.InputTransaction{TID: 2, Reads: []common.ObjectAddress{43}})
	second := mustGet(t, r)
	if second.Err != nil {
		t.Fatalf("unexpected error after delete freed the slot: %v", second.Err)
	}
}

func TestFailureReleasesPartialNames(t *testing.T) {
	p := testParams()
	p.NumHashes = 2
	p.ShardSlots = 4
	r := New(p, nil)
	ctx := context.Background()

	// Addresses 0 and 1 both fall in shard 0 (ShardSlots=4, so shard index
	// comes from bits [2:4]); they occupy slots 0 and 1 with no collision.
	_ = r.Put(ctx, common.InputTransaction{TID: 1, Reads: []common.ObjectAddress{0, 1}})
	mustGet(t, r)

	// Address 32 collides at base 0 (same low two bits, same shard, since
	// the shard/slot derivation only looks at the low LOG_NAMES bits) and
	// exhausts NUM_HASHES=2 probing against the occupied slots 0 and 1.
	// Address 2 lands on the still-free slot 2 and would succeed alone.
	// The whole transaction must fail, and address 2's partial success
	// must be released.
	_ = r.Put(ctx, common.InputTransaction{TID: 2, Reads: []common.ObjectAddress{32}, Writes: []common.ObjectAddress{2}})
	res := mustGet(t, r)
	if res.Err == nil {
		t.Fatalf("expected rename failure from exhausted probing")
	}
	if !errors.Is(res.Err, ErrTransactionFailed) {
		t.Fatalf("expected ErrTransactionFailed, got %v", res.Err)
	}

	// address 2 should have been released: its slot is free again, and a
	// fresh transaction reusing it must succeed immediately.
	if got := r.shards[0].RefCount(2); got != 0 {
		t.Fatalf("expected address 2's slot to be released, refcount=%d", got)
	}
	_ = r.Put(ctx, common.InputTransaction{TID: 3, Writes: []common.ObjectAddress{2}})
	res3 := mustGet(t, r)
	if res3.Err != nil {
		t.Fatalf("expected released name to be reusable, got %v", res3.Err)
	}
}

func TestBackPressureAdmitsOnceSlotFree(t *testing.T) {
	p := testParams()
	p.MaxPendingTransactions = 1
	r := New(p, nil)

	// The first transaction takes the only slot; once its result has been
	// read, a second Put must be admitted within the timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := r.Put(context.Background(), common.InputTransaction{TID: 1, Reads: []common.ObjectAddress{1}}); err != nil {
		t.Fatalf("first Put should be admitted: %v", err)
	}
	// Drain it so this test doesn't race on goroutine completion timing.
	mustGet(t, r)

	if err := r.Put(ctx, common.InputTransaction{TID: 2, Reads: []common.ObjectAddress{1}}); err != nil {
		t.Fatalf("second Put should be admitted once the slot is free: %v", err)
	}
}
