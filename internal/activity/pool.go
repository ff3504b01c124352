package activity

import (
	"fmt"
	"sync"
	"time"

	"github.com/robn/zvdev/internal/poolhandle"
)

// Pool is the per-pool activity state machine (§4.E): a single writer
// lock serializing every mutation, with any number of readers (the
// status thread in internal/observer, CLI status rendering) taking the
// read lock to snapshot records. This is the "single-writer,
// multi-reader" model of §5.
type Pool struct {
	mu sync.RWMutex

	name   string
	ph     poolhandle.PoolHandle
	handle poolhandle.Handle

	records    map[Kind]*Record
	rebuilds   map[uint64]*RebuildRecord
	checkpoint CheckpointRecord

	notifyMu sync.Mutex
	notify   *sync.Cond
	missing  bool
}

// NewPool wraps an already-open pool handle with its activity state.
// The pool layer (ph/handle) is consulted for pool status on Start and
// to size to_examine from leaf capacities, and every state change is
// forwarded to it through Trigger.
func NewPool(ph poolhandle.PoolHandle, handle poolhandle.Handle) *Pool {
	p := &Pool{
		name:     handle.Name(),
		ph:       ph,
		handle:   handle,
		records:  make(map[Kind]*Record),
		rebuilds: make(map[uint64]*RebuildRecord),
	}
	p.notify = sync.NewCond(&p.notifyMu)
	return p
}

// Name returns the pool's name, as reported by its handle.
func (p *Pool) Name() string { return p.name }

// RefreshStats reloads cached state from the pool layer, reporting
// missing=true if the pool has disappeared (§4.F).
func (p *Pool) RefreshStats() (bool, error) {
	return p.ph.RefreshStats(p.handle)
}

// broadcast wakes every goroutine blocked in WaitForActivity, called
// after any mutation that might flip a predicate those waiters check.
func (p *Pool) broadcast() {
	p.notifyMu.Lock()
	p.notify.Broadcast()
	p.notifyMu.Unlock()
}

// MarkMissing records that the pool layer could no longer be refreshed
// (§4.F: "if the pool disappears between polls ... waiters on the main
// thread observe missing and break") and wakes every WaitForActivity
// call blocked on this pool so they return instead of hanging until
// their own deadline, which may be none at all.
func (p *Pool) MarkMissing() {
	p.notifyMu.Lock()
	p.missing = true
	p.notify.Broadcast()
	p.notifyMu.Unlock()
}

// IsMissing reports whether MarkMissing has been called on this pool.
func (p *Pool) IsMissing() bool {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()
	return p.missing
}

// WaitForActivity blocks until kind transitions out of a non-terminal
// state (SCANNING or SUSPENDED), or deadline passes. A zero deadline
// means wait forever. Uses a condition-variable predicate loop so
// spurious wakeups never cause an early return (§4.F).
func (p *Pool) WaitForActivity(kind Kind, deadline time.Time) error {
	var timer *time.Timer
	if !deadline.IsZero() {
		timer = time.AfterFunc(time.Until(deadline), p.broadcast)
		defer timer.Stop()
	}

	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()
	for {
		if p.missing {
			return nil
		}
		switch p.State(kind) {
		case StateScanning, StateSuspended:
		default:
			return nil
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return fmt.Errorf("%s: wait timed out", kind)
		}
		p.notify.Wait()
	}
}

func (p *Pool) recordLocked(kind Kind) *Record {
	r, ok := p.records[kind]
	if !ok {
		r = &Record{Kind: kind}
		p.records[kind] = r
	}
	return r
}

// StartParams carries START's optional arguments; only Trim consults
// Rate/Secure.
type StartParams struct {
	Rate   uint64
	Secure bool
}

// Start begins (or resumes, or no-ops on) the given activity kind,
// refusing if the pool is faulted or if kind conflicts with an already
// active mutually-exclusive kind (§4.E: scrub and error-scrub are
// mutually exclusive).
func (p *Pool) Start(kind Kind, params StartParams) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	tree, err := p.ph.GetConfig(p.handle)
	if err != nil {
		return fmt.Errorf("%s: refresh config: %w", kind, err)
	}
	if tree.Status == poolhandle.PoolStatusFaulted {
		return fmt.Errorf("%s: pool unavailable", kind)
	}

	if err := p.checkMutualExclusion(kind); err != nil {
		return err
	}

	toExamine, err := p.sumActiveLeafCapacity()
	if err != nil {
		return err
	}

	now := time.Now()
	r := p.recordLocked(kind)
	if err := r.apply(CmdStart, now, toExamine, params.Rate, params.Secure); err != nil {
		return err
	}
	r.SkippedCheckpointed = tree.CheckpointExists && (kind == Scrub || kind == ErrorScrub)
	defer p.broadcast()

	return p.ph.Trigger(p.handle, poolhandle.Trigger{
		Kind:    triggerKindFor(kind),
		Command: poolhandle.CommandStart,
		Params:  poolhandle.TriggerParams{Rate: params.Rate, Secure: params.Secure},
	})
}

func (p *Pool) checkMutualExclusion(kind Kind) error {
	var other Kind
	switch kind {
	case Scrub:
		other = ErrorScrub
	case ErrorScrub:
		other = Scrub
	default:
		return nil
	}
	if r, ok := p.records[other]; ok && r.State == StateScanning {
		return fmt.Errorf("%s: %s is already active on this pool", kind, other)
	}
	return nil
}

func (p *Pool) sumActiveLeafCapacity() (uint64, error) {
	var total uint64
	err := p.ph.ForEachLeafVdev(p.handle, func(v *poolhandle.Vdev) error {
		if v.State == poolhandle.VdevStateOnline || v.State == poolhandle.VdevStateDegraded {
			total += v.CapacityBytes
		}
		return nil
	})
	return total, err
}

func triggerKindFor(kind Kind) poolhandle.TriggerKind {
	switch kind {
	case Scrub:
		return poolhandle.TriggerScrub
	case ErrorScrub:
		return poolhandle.TriggerErrorScrub
	case Resilver:
		return poolhandle.TriggerResilver
	case Initialize:
		return poolhandle.TriggerInitialize
	case Trim:
		return poolhandle.TriggerTrim
	case Removal:
		return poolhandle.TriggerRemoval
	case RaidzExpand:
		return poolhandle.TriggerRaidzExpand
	default:
		return ""
	}
}

// Pause suspends a SCANNING activity of any kind; it does not check the
// kind itself. cmd/zvdevctl only issues it for scrub, error-scrub,
// initialize, and trim.
func (p *Pool) Pause(kind Kind) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.recordLocked(kind)
	if err := r.apply(CmdPause, time.Now(), 0, 0, false); err != nil {
		return err
	}
	defer p.broadcast()
	return p.ph.Trigger(p.handle, poolhandle.Trigger{Kind: triggerKindFor(kind), Command: poolhandle.CommandPause})
}

// Cancel cancels an active (or suspended) activity. Idempotent calls
// while already CANCELED succeed trivially via apply's state check; a
// CANCEL while NONE is an error (§5: "a CANCEL while NONE returns a
// 'not active' error, never changes state").
func (p *Pool) Cancel(kind Kind) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.recordLocked(kind)
	if err := r.apply(CmdCancel, time.Now(), 0, 0, false); err != nil {
		return err
	}
	defer p.broadcast()
	return p.ph.Trigger(p.handle, poolhandle.Trigger{Kind: triggerKindFor(kind), Command: poolhandle.CommandCancel})
}

// AdvanceForTesting applies a progress delta to a SCANNING record's
// counters and, once examined reaches to_examine, finishes it. Real
// progress comes from the pool layer's scan callbacks; this exists so
// internal/observer and cmd/zvdevctl's mock mode can drive the state
// machine without a real scanner.
func (p *Pool) AdvanceForTesting(kind Kind, examinedDelta, issuedDelta, repairedDelta uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.records[kind]
	if !ok || r.State != StateScanning {
		return
	}
	r.Examined += examinedDelta
	r.PassExamined += examinedDelta
	r.Issued += issuedDelta
	r.PassIssued += issuedDelta
	r.Repaired += repairedDelta
	if r.Examined >= r.ToExamine {
		r.finish(time.Now())
	}
	p.broadcast()
}

// Snapshot returns a copy of kind's current record, safe to read
// without holding any lock.
func (p *Pool) Snapshot(kind Kind) Record {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.records[kind]
	if !ok {
		return Record{Kind: kind}
	}
	return *r
}

// State returns just kind's current state, the common case for wait
// predicates.
func (p *Pool) State(kind Kind) State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if r, ok := p.records[kind]; ok {
		return r.State
	}
	return StateNone
}

// EffectiveResilverState reports rebuild if any top-level rebuild is
// ACTIVE and the legacy resilver is not (§4.E: "a pool-level resilver
// status reports rebuild if any top-level is ACTIVE and the legacy
// resilver is not").
func (p *Pool) EffectiveResilverState() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if r, ok := p.records[Resilver]; ok && r.State == StateScanning {
		return StateScanning
	}
	for _, rr := range p.rebuilds {
		if rr.State == RebuildActive {
			return StateScanning
		}
	}
	if r, ok := p.records[Resilver]; ok {
		return r.State
	}
	return StateNone
}

// StartRebuild begins sequential-reconstruction rebuild on the named
// top-level vdev.
func (p *Pool) StartRebuild(topLevelGUID uint64, toRebuild uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	rr, ok := p.rebuilds[topLevelGUID]
	if !ok {
		rr = &RebuildRecord{TopLevelGUID: topLevelGUID}
		p.rebuilds[topLevelGUID] = rr
	}
	if rr.State == RebuildActive {
		return nil
	}
	now := time.Now()
	*rr = RebuildRecord{TopLevelGUID: topLevelGUID, State: RebuildActive, ToRebuild: toRebuild, StartTime: now, PassStart: now}
	return p.ph.Trigger(p.handle, poolhandle.Trigger{Kind: poolhandle.TriggerRebuild, Command: poolhandle.CommandStart})
}

// CancelRebuild cancels an in-progress rebuild on the named top-level.
func (p *Pool) CancelRebuild(topLevelGUID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	rr, ok := p.rebuilds[topLevelGUID]
	if !ok || rr.State != RebuildActive {
		return fmt.Errorf("rebuild: not active on vdev %d", topLevelGUID)
	}
	rr.State = RebuildCanceled
	rr.EndTime = time.Now()
	return p.ph.Trigger(p.handle, poolhandle.Trigger{Kind: poolhandle.TriggerRebuild, Command: poolhandle.CommandCancel})
}

// RebuildSnapshot returns a copy of topLevelGUID's rebuild record.
func (p *Pool) RebuildSnapshot(topLevelGUID uint64) RebuildRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if rr, ok := p.rebuilds[topLevelGUID]; ok {
		return *rr
	}
	return RebuildRecord{TopLevelGUID: topLevelGUID}
}

// AllRebuilds returns a snapshot of every top-level's rebuild record,
// used by the §4.F bytes-remaining traversal and by "recommend a scrub
// after sequential rebuild completes" (REBUILD_SCRUB) reporting.
func (p *Pool) AllRebuilds() []*RebuildRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*RebuildRecord, 0, len(p.rebuilds))
	for _, rr := range p.rebuilds {
		cp := *rr
		out = append(out, &cp)
	}
	return out
}

// RecommendScrub reports whether any top-level's sequential rebuild
// record is COMPLETE (§4.E: REBUILD_SCRUB). Calling it does not clear
// the recommendation.
func (p *Pool) RecommendScrub() bool {
	for _, rr := range p.AllRebuilds() {
		if rr.State == RebuildComplete {
			return true
		}
	}
	return false
}

// Checkpoint returns a copy of the pool's checkpoint record.
func (p *Pool) Checkpoint() CheckpointRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.checkpoint
}

// CreateCheckpoint transitions NONE -> EXISTS.
func (p *Pool) CreateCheckpoint() error {
	p.mu.Lock()
	if p.checkpoint.State != CheckpointNone {
		p.mu.Unlock()
		return fmt.Errorf("checkpoint: already exists")
	}
	p.checkpoint = CheckpointRecord{State: CheckpointExists, StartTime: time.Now()}
	p.mu.Unlock()
	p.broadcast()
	return nil
}

// DiscardCheckpoint transitions EXISTS -> DISCARDING -> NONE, triggering
// the pool layer's checkpoint space-map discard. Waiters parked in
// WaitForCheckpointDiscard are woken on both the DISCARDING entry and
// the eventual NONE exit.
func (p *Pool) DiscardCheckpoint() error {
	p.mu.Lock()
	if p.checkpoint.State != CheckpointExists {
		p.mu.Unlock()
		return fmt.Errorf("checkpoint: no checkpoint to discard")
	}
	p.checkpoint.State = CheckpointDiscarding
	p.mu.Unlock()
	p.broadcast()

	if err := p.ph.Trigger(p.handle, poolhandle.Trigger{Kind: poolhandle.TriggerCheckpoint, Command: poolhandle.CommandDiscard}); err != nil {
		return err
	}

	p.mu.Lock()
	p.checkpoint = CheckpointRecord{State: CheckpointNone}
	p.mu.Unlock()
	p.broadcast()
	return nil
}

// WaitForCheckpointDiscard blocks until the checkpoint record leaves
// DISCARDING (including the trivial case of never having entered it),
// or deadline passes. A zero deadline waits forever. This is the
// checkpoint-discard counterpart of WaitForActivity, giving `wait -t
// discard` and `checkpoint -w` something real to block on (§4.E, §6.1).
func (p *Pool) WaitForCheckpointDiscard(deadline time.Time) error {
	var timer *time.Timer
	if !deadline.IsZero() {
		timer = time.AfterFunc(time.Until(deadline), p.broadcast)
		defer timer.Stop()
	}

	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()
	for {
		if p.missing {
			return nil
		}
		if p.Checkpoint().State != CheckpointDiscarding {
			return nil
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return fmt.Errorf("checkpoint discard: wait timed out")
		}
		p.notify.Wait()
	}
}
