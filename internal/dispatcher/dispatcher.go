// Package dispatcher implements the Puppetmaster top-level state machine of
// §4.5: it fills a buffer of renamed transactions, triggers scheduling
// rounds, assigns winners to idle puppets, and releases object names (by
// deleting them at start, not at finish — see §4.5's rationale) while
// emitting Started/Finished/Failed events.
//
// It is grounded on the teacher's server/main.go Node type: one struct
// aggregating every submodule (PaxosModule, TwoPCModule, RPC clients)
// behind a single constructor, generalized here to aggregate the renamer,
// the scheduler, the puppet pool, metrics and the event hub behind one
// Dispatcher and one Tick call instead of an RPC-driven event loop.
package dispatcher

import (
	"context"
	"log/slog"

	"github.com/example/puppetmaster/internal/arbiter"
	"github.com/example/puppetmaster/internal/bitset"
	"github.com/example/puppetmaster/internal/common"
	"github.com/example/puppetmaster/internal/config"
	"github.com/example/puppetmaster/internal/metrics"
	"github.com/example/puppetmaster/internal/puppet"
	"github.com/example/puppetmaster/internal/renamer"
	"github.com/example/puppetmaster/internal/scheduler"
)

// EventSink receives events as the dispatcher emits them — the hub, a
// logger, a test's recorder, or all three via a small fan-out slice.
type EventSink interface {
	Publish(common.Event)
}

// Dispatcher is the top-level scheduling state machine.
type Dispatcher struct {
	params config.Params
	log    *slog.Logger
	m      *metrics.Metrics
	sinks  []EventSink

	renamer   *renamer.Renamer
	scheduler *scheduler.Scheduler
	puppets   []*puppet.Puppet

	buffer       []common.RenamedTransaction
	bufferIndex  int
	pendingFlags bitset.Set

	sentToPuppet []common.RenamedTransaction
	prevBusy     []bool

	eventRR  *arbiter.RoundRobin
	deleteRR *arbiter.RoundRobin

	cycle uint64
}

// New builds a Dispatcher wired to its own Renamer and Scheduler.
func New(params config.Params, m *metrics.Metrics, log *slog.Logger, sinks ...EventSink) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "dispatcher")

	puppets := make([]*puppet.Puppet, params.NumPuppets)
	for i := range puppets {
		puppets[i] = puppet.New(params.TxDuration)
	}

	return &Dispatcher{
		params:       params,
		log:          log,
		m:            m,
		sinks:        sinks,
		renamer:      renamer.New(params, log),
		scheduler:    scheduler.New(params, log),
		puppets:      puppets,
		buffer:       make([]common.RenamedTransaction, params.Pool-1),
		pendingFlags: bitset.New(params.Pool - 1),
		sentToPuppet: make([]common.RenamedTransaction, params.NumPuppets),
		prevBusy:     make([]bool, params.NumPuppets),
		eventRR:      arbiter.New(params.NumPuppets),
		deleteRR:     arbiter.New(params.NumPuppets),
	}
}

// Enqueue is the submitter-facing entry point of §6: enqueueTransaction.
// It blocks per the renamer's back-pressure policy.
func (d *Dispatcher) Enqueue(ctx context.Context, tid uint64, objs []common.InputObject) error {
	return d.renamer.Put(ctx, common.FromObjects(tid, objs))
}

// Cycle returns the current free-running cycle counter.
func (d *Dispatcher) Cycle() uint64 { return d.cycle }

// Tick advances the state machine by one cycle, running every enabled
// action of §4.5 in priority order, and returns the events emitted this
// cycle.
func (d *Dispatcher) Tick(ctx context.Context) []common.Event {
	var events []common.Event

	events = append(events, d.intake()...)
	d.scheduleLaunch(ctx)
	d.scheduleReceive(ctx)
	d.dispatch()
	events = append(events, d.emitEvents()...)

	for _, ev := range events {
		d.publish(ev)
	}

	d.updatePrevBusy()
	d.cycle++
	return events
}

// intake is rule 1: admit one renamed response into the buffer if there is
// room and the renamer has one ready.
func (d *Dispatcher) intake() []common.Event {
	if d.bufferIndex >= d.params.Pool-1 {
		return nil
	}
	res, ok := d.renamer.TryGet()
	if !ok {
		return nil
	}
	if res.Err != nil {
		if d.m != nil {
			d.m.RenameFailuresTotal.Inc()
		}
		d.log.Debug("transaction failed to rename", "tid", res.TID, "error", res.Err)
		return []common.Event{{TID: res.TID, Status: common.Failed, Timestamp: d.cycle}}
	}
	d.buffer[d.bufferIndex] = res.RenamedTr
	d.bufferIndex++
	return nil
}

// scheduleLaunch is rule 2: once the buffer is full and every previous
// winner has been dispatched, submit the next tournament.
func (d *Dispatcher) scheduleLaunch(ctx context.Context) {
	if d.bufferIndex != d.params.Pool-1 || !d.pendingFlags.IsZero() {
		return
	}

	sets := make([]scheduler.TransactionSet, d.params.Pool)
	sets[0] = scheduler.TransactionSet{
		SchedulerTransaction: d.runningSet(),
		Indices:              bitset.New(d.params.Pool),
	}
	sets[0].Indices.Set(0)

	for i := 0; i < d.params.Pool-1; i++ {
		idx := bitset.New(d.params.Pool)
		idx.Set(i + 1)
		sets[i+1] = scheduler.TransactionSet{
			SchedulerTransaction: d.buffer[i].SchedulerTr,
			Indices:              idx,
		}
	}

	if err := d.scheduler.Put(ctx, scheduler.Request{Sets: sets}); err != nil {
		d.log.Debug("scheduler not ready for a new tournament", "error", err)
	}
}

// runningSet unions the SchedulerTr of every transaction currently sent to
// a busy puppet. Per §9's open question, this reads prevBusy, the busy
// snapshot taken at the end of the previous Tick (before the puppets were
// ticked), so new starts only affect the next scheduling request and a
// puppet that finished on the previous tick still counts as running.
func (d *Dispatcher) runningSet() common.SchedulerTransaction {
	union := common.SchedulerTransaction{
		ReadSet:  bitset.New(d.params.NumNames()),
		WriteSet: bitset.New(d.params.NumNames()),
	}
	for p, busy := range d.prevBusy {
		if !busy {
			continue
		}
		bitset.OrInto(union.ReadSet, d.sentToPuppet[p].SchedulerTr.ReadSet)
		bitset.OrInto(union.WriteSet, d.sentToPuppet[p].SchedulerTr.WriteSet)
	}
	return union
}

// scheduleReceive is rule 3: consume a scheduler response, dropping bit 0
// (the running-set position, always present) to get pendingFlags.
func (d *Dispatcher) scheduleReceive(ctx context.Context) {
	resp, ok := d.scheduler.TryGet()
	if !ok {
		return
	}
	next := bitset.New(d.params.Pool - 1)
	for i := 1; i < d.params.Pool; i++ {
		if resp.Result.Indices.Test(i) {
			next.Set(i - 1)
		}
	}
	d.pendingFlags = next
}

// dispatch is rule 4: assign every simultaneously-possible (idle puppet,
// pending candidate) pair this cycle, tie-breaking by lowest puppet index
// then lowest set bit, compacting the buffer's tail into each freed slot.
func (d *Dispatcher) dispatch() {
	for {
		p := d.lowestIdlePuppet()
		if p < 0 {
			return
		}
		b, ok := d.pendingFlags.LowestSet()
		if !ok {
			return
		}

		d.sentToPuppet[p] = d.buffer[b]
		d.pendingFlags.Clear(b)
		d.compactBuffer(b)
		d.puppets[p].Start(d.sentToPuppet[p].TID)
	}
}

// lowestIdlePuppet skips a puppet that went idle on the previous tick until
// emitEvents has reported its Finished edge.
func (d *Dispatcher) lowestIdlePuppet() int {
	for p, pp := range d.puppets {
		if pp.IsDone() && !d.prevBusy[p] {
			return p
		}
	}
	return -1
}

// compactBuffer moves the tail entry at bufferIndex-1 into freed slot b, so
// the live buffer entries stay packed in [0, bufferIndex).
func (d *Dispatcher) compactBuffer(b int) {
	last := d.bufferIndex - 1
	if b != last {
		d.buffer[b] = d.buffer[last]
		if d.pendingFlags.Test(last) {
			d.pendingFlags.Clear(last)
			d.pendingFlags.Set(b)
		}
	}
	d.bufferIndex--
}

// emitEvents is rule 5: compare busy[] to prevBusy[] and arbitrate the
// resulting Started/Finished transitions, issuing the owed Delete for each
// Started transaction as it is drained.
func (d *Dispatcher) emitEvents() []common.Event {
	starting := make([]bool, len(d.puppets))
	finishing := make([]bool, len(d.puppets))
	any := false
	for p, pp := range d.puppets {
		busy := !pp.IsDone()
		if busy && !d.prevBusy[p] {
			starting[p] = true
			any = true
		} else if !busy && d.prevBusy[p] {
			finishing[p] = true
			any = true
		}
	}
	if !any {
		return nil
	}

	ready := make([]bool, len(d.puppets))
	for p := range d.puppets {
		ready[p] = starting[p] || finishing[p]
	}

	var events []common.Event
	for {
		p, ok := d.eventRR.Next(ready)
		if !ok {
			break
		}
		ready[p] = false

		if starting[p] {
			events = append(events, common.Event{TID: d.sentToPuppet[p].TID, Status: common.Started, Timestamp: d.cycle})
		} else {
			events = append(events, common.Event{TID: d.sentToPuppet[p].TID, Status: common.Finished, Timestamp: d.cycle})
		}
	}

	deleteReady := make([]bool, len(d.puppets))
	copy(deleteReady, starting)
	for {
		p, ok := d.deleteRR.Next(deleteReady)
		if !ok {
			break
		}
		deleteReady[p] = false
		d.renamer.Delete(d.sentToPuppet[p])
	}

	return events
}

func (d *Dispatcher) publish(ev common.Event) {
	if d.m != nil {
		d.m.EventsTotal.WithLabelValues(ev.Status.String()).Inc()
	}
	for _, sink := range d.sinks {
		sink.Publish(ev)
	}
}

func (d *Dispatcher) updatePrevBusy() {
	busyCount := 0
	for p, pp := range d.puppets {
		busy := !pp.IsDone()
		d.prevBusy[p] = busy
		if busy {
			busyCount++
		}
		if busy {
			d.puppets[p].Tick()
		}
	}
	if d.m != nil {
		d.m.PuppetsBusy.Set(float64(busyCount))
		d.m.BufferDepth.Set(float64(d.bufferIndex))
	}
}
