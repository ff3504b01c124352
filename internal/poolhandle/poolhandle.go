// Package poolhandle defines the interface the core imports from the
// opaque on-disk pool layer (§6.2). The core never parses on-disk
// structures; everything here is something a real pool implementation
// would back with its own topology and label code. internal/activity,
// internal/lifecycle, and internal/observer depend only on this
// interface, never on a concrete pool implementation.
package poolhandle

import "time"

// VdevType mirrors the vocabulary a pool layer reports for a node in its
// configuration tree.
type VdevType string

const (
	VdevRoot     VdevType = "root"
	VdevMirror   VdevType = "mirror"
	VdevRaidz    VdevType = "raidz"
	VdevReplacing VdevType = "replacing"
	VdevSpare    VdevType = "spare"
	VdevL2cache  VdevType = "l2cache"
	VdevLog      VdevType = "log"
	VdevDisk     VdevType = "disk"
	VdevFile     VdevType = "file"
	VdevHole     VdevType = "hole"
	VdevMissing  VdevType = "missing"
)

// VdevState is the per-vdev health state reported by the pool layer.
type VdevState int

const (
	VdevStateUnknown VdevState = iota
	VdevStateOnline
	VdevStateOffline
	VdevStateRemoved
	VdevStateFaulted
	VdevStateDegraded
	VdevStateCantOpen
)

func (s VdevState) String() string {
	switch s {
	case VdevStateOnline:
		return "ONLINE"
	case VdevStateOffline:
		return "OFFLINE"
	case VdevStateRemoved:
		return "REMOVED"
	case VdevStateFaulted:
		return "FAULTED"
	case VdevStateDegraded:
		return "DEGRADED"
	case VdevStateCantOpen:
		return "CANT_OPEN"
	default:
		return "UNKNOWN"
	}
}

// PoolStatus summarizes overall pool health, named after the reference
// library's status vocabulary rather than invented fresh.
type PoolStatus int

const (
	PoolStatusOk PoolStatus = iota
	PoolStatusDegraded
	PoolStatusFaulted
	PoolStatusUnavail
	PoolStatusResilvering
	PoolStatusRemovedDev
)

func (s PoolStatus) String() string {
	switch s {
	case PoolStatusOk:
		return "ONLINE"
	case PoolStatusDegraded:
		return "DEGRADED"
	case PoolStatusFaulted:
		return "FAULTED"
	case PoolStatusUnavail:
		return "UNAVAIL"
	case PoolStatusResilvering:
		return "RESILVERING"
	case PoolStatusRemovedDev:
		return "REMOVED_DEV"
	default:
		return "UNKNOWN"
	}
}

// Vdev is one node of the pool's configuration tree.
type Vdev struct {
	GUID     uint64
	Type     VdevType
	Path     string
	State    VdevState
	Children []*Vdev

	// CapacityBytes is meaningful only on leaves; internal/activity sums
	// it across ACTIVE leaves to size to_examine at activity start.
	CapacityBytes uint64

	// TopLevelIndex is this vdev's position among the pool's top-level
	// vdevs, meaningful only when this node is itself top-level.
	TopLevelIndex int
}

// IsLeaf reports whether v has no children, i.e. it is a real block
// device rather than a mirror/raidz/replacing grouping.
func (v *Vdev) IsLeaf() bool { return len(v.Children) == 0 }

// ConfigTree is the root of a pool's vdev topology, as returned by
// GetConfig.
type ConfigTree struct {
	PoolName string
	Status   PoolStatus
	Root     *Vdev

	// CheckpointExists records whether a pool-wide checkpoint is present,
	// consulted by the activity state machine's scrub-skips-checkpointed-
	// blocks diagnostic (§4.E).
	CheckpointExists bool
}

// TriggerKind names the class of activity a Trigger call starts or
// controls.
type TriggerKind string

const (
	TriggerScrub        TriggerKind = "scrub"
	TriggerErrorScrub    TriggerKind = "error_scrub"
	TriggerResilver      TriggerKind = "resilver"
	TriggerRebuild       TriggerKind = "rebuild"
	TriggerInitialize     TriggerKind = "initialize"
	TriggerTrim          TriggerKind = "trim"
	TriggerRemoval        TriggerKind = "removal"
	TriggerRaidzExpand   TriggerKind = "raidz_expand"
	TriggerCheckpoint    TriggerKind = "checkpoint"
)

// TriggerCommand is the verb applied to a TriggerKind.
type TriggerCommand string

const (
	CommandStart   TriggerCommand = "start"
	CommandPause   TriggerCommand = "pause"
	CommandResume  TriggerCommand = "resume"
	CommandCancel  TriggerCommand = "cancel"
	CommandSuspend TriggerCommand = "suspend"
	CommandUninit  TriggerCommand = "uninit"
	CommandDiscard TriggerCommand = "discard"
	CommandStop    TriggerCommand = "stop"
)

// TriggerParams carries the command's optional arguments; only the
// fields relevant to the kind/command pair are consulted.
type TriggerParams struct {
	Vdev   *Vdev
	Rate   uint64
	Secure bool
}

// Trigger is the activity-control entry point the pool layer exposes
// (§6.2); internal/activity's state machine calls through this to ask
// the pool layer to actually start or stop work.
type Trigger struct {
	Kind    TriggerKind
	Command TriggerCommand
	Params  TriggerParams
}

// PoolHandle is the imported interface: everything the core needs from
// the opaque pool layer. The core never parses on-disk structures; a
// real implementation backs this with label I/O and the on-disk
// configuration nvlist, entirely out of this module's scope.
type PoolHandle interface {
	Open(name string) (Handle, error)
	Close(h Handle) error

	// RefreshStats reloads the handle's cached configuration and
	// activity records. missing is true if the pool has disappeared
	// since the last refresh (§4.F: "pool disappears between polls").
	RefreshStats(h Handle) (missing bool, err error)

	GetConfig(h Handle) (*ConfigTree, error)

	ForEachVdev(h Handle, fn func(*Vdev) error) error
	ForEachLeafVdev(h Handle, fn func(*Vdev) error) error

	Trigger(h Handle, t Trigger) error
}

// Handle is an opaque reference to an open pool, returned by Open and
// threaded through every other call. Concrete pool layers define their
// own underlying type; the core only ever compares or passes it along.
type Handle interface {
	Name() string
}

// RefreshError wraps a refresh failure with the pool name and the
// timestamp it occurred.
type RefreshError struct {
	Pool string
	When time.Time
	Err  error
}

func (e *RefreshError) Error() string {
	return "refresh " + e.Pool + ": " + e.Err.Error()
}

func (e *RefreshError) Unwrap() error { return e.Err }
