// Package activity implements the pool-wide activity state machine
// (§4.E): scrub, error-scrub, resilver, rebuild, initialize, trim,
// removal, raidz-expand, and checkpoint-discard, each a small state
// machine over a Record, all mutations serialized by a single
// per-pool writer lock and safely readable by any number of observers.
package activity

import (
	"fmt"
	"time"
)

// Kind names one of the "scanning-style" activities: everything in §4.E
// except rebuild (per-top-level, its own record shape) and checkpoint
// (its own NONE/EXISTS/DISCARDING lifecycle).
type Kind int

const (
	Scrub Kind = iota
	ErrorScrub
	Resilver
	Initialize
	Trim
	Removal
	RaidzExpand
)

func (k Kind) String() string {
	switch k {
	case Scrub:
		return "scrub"
	case ErrorScrub:
		return "error_scrub"
	case Resilver:
		return "resilver"
	case Initialize:
		return "initialize"
	case Trim:
		return "trim"
	case Removal:
		return "removal"
	case RaidzExpand:
		return "raidz_expand"
	default:
		return "unknown"
	}
}

// State is a scanning-style activity's position in its state machine.
type State int

const (
	StateNone State = iota
	StateScanning
	StateSuspended // entered via CmdPause; not restricted by kind
	StateFinished
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StateScanning:
		return "SCANNING"
	case StateSuspended:
		return "SUSPENDED"
	case StateFinished:
		return "FINISHED"
	case StateCanceled:
		return "CANCELED"
	default:
		return "UNKNOWN"
	}
}

// Command is the verb a caller applies to an activity.
type Command int

const (
	CmdStart Command = iota
	CmdPause
	CmdResume
	CmdCancel
)

// Record is one activity kind's state for one pool (§3 "Activity
// record"). A Record is only ever mutated by Pool, which holds the
// pool-wide writer lock; readers (internal/observer) get copies via
// Pool.Snapshot, never a pointer into live state.
type Record struct {
	Kind  Kind
	State State

	StartTime time.Time
	EndTime   time.Time
	PauseTime time.Time

	Examined   uint64
	ToExamine  uint64
	Issued     uint64
	Repaired   uint64
	ErrorCount uint64

	PassExamined uint64
	PassIssued   uint64
	PassStart    time.Time
	PausedTotal  time.Duration

	// Trim-only.
	TrimRate   uint64
	TrimSecure bool

	// RaidzExpand-only.
	ExpandingVdevGUID uint64
	Reflowed          uint64
	ToReflow          uint64
	WaitingResilver   bool

	// Set on the scrub record when a checkpoint exists at scan time
	// (§4.E: "skipped blocks referenced by the checkpoint" warning).
	SkippedCheckpointed bool
}

// Describe renders a short human-readable summary of the record,
// supplemented beyond the distillation for the CLI's status/wait
// rendering (mirrors the verbosity Metrics.Snapshot affords for I/O
// stats).
func (r *Record) Describe() string {
	switch r.State {
	case StateNone:
		return fmt.Sprintf("%s: none requested", r.Kind)
	case StateSuspended:
		return fmt.Sprintf("%s: suspended at %s", r.Kind, formatBytes(r.Examined))
	case StateFinished:
		return fmt.Sprintf("%s: finished, %s examined, %d repaired", r.Kind, formatBytes(r.Examined), r.Repaired)
	case StateCanceled:
		return fmt.Sprintf("%s: canceled after %s", r.Kind, formatBytes(r.Examined))
	default:
		eta := r.ETA(time.Now())
		if eta == "" {
			return fmt.Sprintf("%s: in progress, %s / %s", r.Kind, formatBytes(r.Examined), formatBytes(r.ToExamine))
		}
		return fmt.Sprintf("%s: in progress, %s / %s, %s", r.Kind, formatBytes(r.Examined), formatBytes(r.ToExamine), eta)
	}
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// resetPass clears the per-pass counters and restarts pass timing, done
// on START and on RESUME from SUSPENDED (§4.E: "Pass counters reset on
// PAUSE→RESUME and on start").
func (r *Record) resetPass(now time.Time) {
	r.PassExamined = 0
	r.PassIssued = 0
	r.PassStart = now
	r.PausedTotal = 0
}

// apply runs one command against the record's state machine, one
// transition graph shared by every kind. toExamine (and rate/secure) seed
// the record on a fresh START; they are ignored otherwise.
func (r *Record) apply(cmd Command, now time.Time, toExamine uint64, rate uint64, secure bool) error {
	switch cmd {
	case CmdStart:
		switch r.State {
		case StateNone, StateFinished, StateCanceled:
			*r = Record{Kind: r.Kind, State: StateScanning, StartTime: now, ToExamine: toExamine, TrimRate: rate, TrimSecure: secure}
			r.resetPass(now)
			return nil
		case StateSuspended:
			r.State = StateScanning
			r.resetPass(now)
			return nil
		case StateScanning:
			return nil // no-op success, per §4.E policy
		}
	case CmdPause:
		if r.State != StateScanning {
			return fmt.Errorf("%s: cannot pause from %s", r.Kind, r.State)
		}
		r.State = StateSuspended
		r.PauseTime = now
		return nil
	case CmdResume:
		if r.State != StateSuspended {
			return fmt.Errorf("%s: cannot resume from %s", r.Kind, r.State)
		}
		r.State = StateScanning
		r.PausedTotal += now.Sub(r.PauseTime)
		r.resetPass(now)
		return nil
	case CmdCancel:
		if r.State == StateNone {
			return fmt.Errorf("%s: not active", r.Kind)
		}
		r.State = StateCanceled
		r.EndTime = now
		return nil
	}
	return fmt.Errorf("%s: unsupported command", r.Kind)
}

// finish transitions a SCANNING record to FINISHED, called by whatever
// drives the underlying work (the mock pool layer in tests/demos; a
// real pool layer's scan-complete callback in production) once
// examined reaches to_examine.
func (r *Record) finish(now time.Time) {
	r.State = StateFinished
	r.EndTime = now
}

// RebuildState is a per-top-level-vdev rebuild's state.
type RebuildState int

const (
	RebuildNone RebuildState = iota
	RebuildActive
	RebuildComplete
	RebuildCanceled
)

func (s RebuildState) String() string {
	switch s {
	case RebuildActive:
		return "ACTIVE"
	case RebuildComplete:
		return "COMPLETE"
	case RebuildCanceled:
		return "CANCELED"
	default:
		return "NONE"
	}
}

// RebuildRecord tracks sequential-reconstruction rebuild progress for
// one top-level vdev (§3).
type RebuildRecord struct {
	TopLevelGUID uint64
	State        RebuildState

	Scanned  uint64
	Issued   uint64
	Rebuilt  uint64
	ToRebuild uint64

	PassBytes uint64
	PassStart time.Time

	StartTime time.Time
	EndTime   time.Time
}

// CheckpointState is a pool checkpoint's lifecycle position (§3).
type CheckpointState int

const (
	CheckpointNone CheckpointState = iota
	CheckpointExists
	CheckpointDiscarding
)

func (s CheckpointState) String() string {
	switch s {
	case CheckpointExists:
		return "EXISTS"
	case CheckpointDiscarding:
		return "DISCARDING"
	default:
		return "NONE"
	}
}

// CheckpointRecord is the pool's single checkpoint, if any.
type CheckpointRecord struct {
	State     CheckpointState
	StartTime time.Time
	SpaceUsed uint64
}
