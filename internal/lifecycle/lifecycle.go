// Package lifecycle implements the device lifecycle operations (§4.G):
// attach, replace, detach, remove, online, offline, clear_errors, and
// label_wipe, each validated against the pool's current topology via
// internal/poolhandle and, where the operation schedules follow-on
// work, driving internal/activity's state machine.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/robn/zvdev/internal/activity"
	"github.com/robn/zvdev/internal/poolhandle"
)

// Result is the small outcome enum every lifecycle operation returns;
// per §4.G none of these operations throw.
type Result int

const (
	ResultOK Result = iota
	ResultInvalidVdev
	ResultBusy
	ResultNotFound
	ResultRequiresForce
	ResultPoolUnavailable
	ResultNotSupported
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultInvalidVdev:
		return "invalid vdev"
	case ResultBusy:
		return "busy"
	case ResultNotFound:
		return "not found"
	case ResultRequiresForce:
		return "requires force"
	case ResultPoolUnavailable:
		return "pool unavailable"
	case ResultNotSupported:
		return "not supported"
	default:
		return "unknown"
	}
}

// findVdev returns the vdev with the given GUID and the VdevType of its
// nearest top-level ancestor (itself, if it is already top-level),
// needed by attach/replace to decide whether they're extending a mirror
// or expanding a raidz group.
func findVdev(root *poolhandle.Vdev, guid uint64) (found *poolhandle.Vdev, topLevelType poolhandle.VdevType, ok bool) {
	var walk func(v *poolhandle.Vdev, tl poolhandle.VdevType, isTopLevel bool) bool
	walk = func(v *poolhandle.Vdev, tl poolhandle.VdevType, isTopLevel bool) bool {
		if v == nil {
			return false
		}
		if isTopLevel {
			tl = v.Type
		}
		if v.GUID == guid {
			found, topLevelType, ok = v, tl, true
			return true
		}
		for _, c := range v.Children {
			if walk(c, tl, false) {
				return true
			}
		}
		return false
	}
	// root's direct children are the pool's top-level vdevs.
	if root != nil {
		for _, c := range root.Children {
			if walk(c, c.Type, true) {
				return
			}
		}
	}
	return nil, "", false
}

func poolAvailable(tree *poolhandle.ConfigTree) bool {
	return tree.Status != poolhandle.PoolStatusFaulted && tree.Status != poolhandle.PoolStatusUnavail
}

// AttachOptions carries attach/replace's `-f`/`-s`/`-o ashift=`/`-w` flags.
type AttachOptions struct {
	Force             bool
	SequentialRebuild bool
	Ashift            uint32
	Wait              bool
}

// Attach extends a mirror leg or expands a raidz top-level with
// newDevicePath, per §4.G.attach. existingVdevGUID must name a vdev in a
// mirror or raidz top-level (or that top-level itself), or a leaf of any
// other top-level, which is attached to as a mirror leg.
func Attach(ph poolhandle.PoolHandle, h poolhandle.Handle, act *activity.Pool, existingVdevGUID uint64, newDevicePath string, opts AttachOptions) (Result, error) {
	tree, err := ph.GetConfig(h)
	if err != nil {
		return ResultPoolUnavailable, err
	}
	if !poolAvailable(tree) {
		return ResultPoolUnavailable, fmt.Errorf("pool unavailable")
	}

	existing, topType, ok := findVdev(tree.Root, existingVdevGUID)
	if !ok {
		return ResultNotFound, fmt.Errorf("vdev %d not found", existingVdevGUID)
	}
	if topType != poolhandle.VdevMirror && topType != poolhandle.VdevRaidz && !existing.IsLeaf() {
		return ResultInvalidVdev, fmt.Errorf("vdev %d is neither a mirror leg nor a raidz member", existingVdevGUID)
	}

	if err := ph.Trigger(h, poolhandle.Trigger{
		Kind:    attachTriggerKind(topType),
		Command: poolhandle.CommandStart,
		Params:  poolhandle.TriggerParams{Vdev: existing},
	}); err != nil {
		return ResultBusy, err
	}

	switch topType {
	case poolhandle.VdevRaidz:
		if err := act.Start(activity.RaidzExpand, activity.StartParams{}); err != nil {
			return ResultBusy, err
		}
		if opts.Wait {
			if err := act.WaitForActivity(activity.RaidzExpand, time.Time{}); err != nil {
				return ResultBusy, err
			}
		}
	default: // mirror: new leg's DTL is [0, now], so a resilver is scheduled
		if err := act.Start(activity.Resilver, activity.StartParams{}); err != nil {
			return ResultBusy, err
		}
		if opts.Wait {
			if err := act.WaitForActivity(activity.Resilver, time.Time{}); err != nil {
				return ResultBusy, err
			}
		}
	}
	return ResultOK, nil
}

func attachTriggerKind(topType poolhandle.VdevType) poolhandle.TriggerKind {
	if topType == poolhandle.VdevRaidz {
		return poolhandle.TriggerRaidzExpand
	}
	return poolhandle.TriggerResilver
}

// Replace is an atomic attach-and-mark-old-for-removal (§4.G.replace);
// it shares attach's wait rules.
func Replace(ph poolhandle.PoolHandle, h poolhandle.Handle, act *activity.Pool, oldVdevGUID uint64, newDevicePath string, opts AttachOptions) (Result, error) {
	tree, err := ph.GetConfig(h)
	if err != nil {
		return ResultPoolUnavailable, err
	}
	old, topType, ok := findVdev(tree.Root, oldVdevGUID)
	if !ok {
		return ResultNotFound, fmt.Errorf("vdev %d not found", oldVdevGUID)
	}
	if !old.IsLeaf() {
		return ResultInvalidVdev, fmt.Errorf("vdev %d is not a leaf", oldVdevGUID)
	}

	res, err := Attach(ph, h, act, oldVdevGUID, newDevicePath, opts)
	if res != ResultOK {
		return res, err
	}

	if err := ph.Trigger(h, poolhandle.Trigger{Kind: attachTriggerKind(topType), Command: poolhandle.CommandStart, Params: poolhandle.TriggerParams{Vdev: old}}); err != nil {
		return ResultBusy, err
	}
	return ResultOK, nil
}

// Detach removes a mirror leg, valid only when it is not the last
// healthy one (§4.G.detach).
func Detach(ph poolhandle.PoolHandle, h poolhandle.Handle, vdevGUID uint64) (Result, error) {
	tree, err := ph.GetConfig(h)
	if err != nil {
		return ResultPoolUnavailable, err
	}
	target, topType, ok := findVdev(tree.Root, vdevGUID)
	if !ok {
		return ResultNotFound, fmt.Errorf("vdev %d not found", vdevGUID)
	}
	if topType != poolhandle.VdevMirror {
		return ResultInvalidVdev, fmt.Errorf("vdev %d is not a mirror leg", vdevGUID)
	}

	mirror, _, _ := findVdev(tree.Root, parentTopLevelGUID(tree.Root, vdevGUID))
	healthy := 0
	if mirror != nil {
		for _, c := range mirror.Children {
			if c.State == poolhandle.VdevStateOnline {
				healthy++
			}
		}
	}
	if healthy <= 1 && target.State == poolhandle.VdevStateOnline {
		return ResultBusy, fmt.Errorf("cannot detach the last healthy mirror leg")
	}

	if err := ph.Trigger(h, poolhandle.Trigger{Kind: poolhandle.TriggerResilver, Command: poolhandle.CommandStop, Params: poolhandle.TriggerParams{Vdev: target}}); err != nil {
		return ResultBusy, err
	}
	return ResultOK, nil
}

// parentTopLevelGUID finds the GUID of guid's top-level ancestor.
func parentTopLevelGUID(root *poolhandle.Vdev, guid uint64) uint64 {
	_, topType, ok := findVdev(root, guid)
	_ = topType
	if !ok {
		return 0
	}
	for _, c := range root.Children {
		if containsGUID(c, guid) {
			return c.GUID
		}
	}
	return 0
}

func containsGUID(v *poolhandle.Vdev, guid uint64) bool {
	if v == nil {
		return false
	}
	if v.GUID == guid {
		return true
	}
	for _, c := range v.Children {
		if containsGUID(c, guid) {
			return true
		}
	}
	return false
}

// RemoveOptions carries remove's `-n`/`-p`/`-s`/`-w` flags.
type RemoveOptions struct {
	NoopEstimate    bool
	ParsableOutput  bool
	Stop            bool
	Wait            bool
}

// Remove starts (or, with NoopEstimate, only validates, or stops) removal of a top-level
// removable device (§4.G.remove). Only indirect-compatible top-level
// classes (plain disk/file, not raidz) are removable.
func Remove(ph poolhandle.PoolHandle, h poolhandle.Handle, act *activity.Pool, vdevGUID uint64, opts RemoveOptions) (Result, error) {
	tree, err := ph.GetConfig(h)
	if err != nil {
		return ResultPoolUnavailable, err
	}
	target, topType, ok := findVdev(tree.Root, vdevGUID)
	if !ok {
		return ResultNotFound, fmt.Errorf("vdev %d not found", vdevGUID)
	}
	if topType == poolhandle.VdevRaidz {
		return ResultNotSupported, fmt.Errorf("raidz top-levels are not indirect-compatible")
	}

	if opts.Stop {
		if err := act.Cancel(activity.Removal); err != nil {
			return ResultBusy, err
		}
		return ResultOK, nil
	}
	if opts.NoopEstimate {
		// Returns without removing; no memory estimate for the indirect
		// mapping is computed or reported.
		return ResultOK, nil
	}

	if err := ph.Trigger(h, poolhandle.Trigger{Kind: poolhandle.TriggerRemoval, Command: poolhandle.CommandStart, Params: poolhandle.TriggerParams{Vdev: target}}); err != nil {
		return ResultBusy, err
	}
	if err := act.Start(activity.Removal, activity.StartParams{}); err != nil {
		return ResultBusy, err
	}
	if opts.Wait {
		if err := act.WaitForActivity(activity.Removal, time.Time{}); err != nil {
			return ResultBusy, err
		}
	}
	return ResultOK, nil
}

// OnlineOptions carries online's `--power`/`-e` flags.
type OnlineOptions struct {
	Expand  bool
	PowerOn bool
}

// SlotPower lets a real enclosure backend power a drive slot; the mock
// wiring used by tests and cmd/zvdevctl implements this trivially.
type SlotPower interface {
	PowerOn(vdevPath string) error
	WaitForPath(ctx context.Context, vdevPath string) error
}

// Online brings a device online, optionally power-cycling its
// enclosure slot first and waiting for the block device node to
// reappear (§4.G.online).
func Online(ph poolhandle.PoolHandle, h poolhandle.Handle, power SlotPower, vdevGUID uint64, opts OnlineOptions) (Result, error) {
	tree, err := ph.GetConfig(h)
	if err != nil {
		return ResultPoolUnavailable, err
	}
	target, _, ok := findVdev(tree.Root, vdevGUID)
	if !ok {
		return ResultNotFound, fmt.Errorf("vdev %d not found", vdevGUID)
	}

	if opts.PowerOn && power != nil {
		if err := power.PowerOn(target.Path); err != nil {
			return ResultBusy, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := power.WaitForPath(ctx, target.Path); err != nil {
			return ResultBusy, err
		}
	}

	if err := ph.Trigger(h, poolhandle.Trigger{Kind: poolhandle.TriggerResilver, Command: poolhandle.CommandStart, Params: poolhandle.TriggerParams{Vdev: target}}); err != nil {
		return ResultBusy, err
	}
	return ResultOK, nil
}

// OfflineOptions carries offline's `-f`/`-t` flags.
type OfflineOptions struct {
	Force     bool
	Temporary bool
}

// Offline takes a device offline (§4.G.offline).
func Offline(ph poolhandle.PoolHandle, h poolhandle.Handle, vdevGUID uint64, opts OfflineOptions) (Result, error) {
	tree, err := ph.GetConfig(h)
	if err != nil {
		return ResultPoolUnavailable, err
	}
	target, _, ok := findVdev(tree.Root, vdevGUID)
	if !ok {
		return ResultNotFound, fmt.Errorf("vdev %d not found", vdevGUID)
	}
	if target.State != poolhandle.VdevStateOnline && !opts.Force {
		return ResultRequiresForce, fmt.Errorf("vdev %d is not online", vdevGUID)
	}
	if err := ph.Trigger(h, poolhandle.Trigger{Kind: poolhandle.TriggerResilver, Command: poolhandle.CommandStop, Params: poolhandle.TriggerParams{Vdev: target}}); err != nil {
		return ResultBusy, err
	}
	return ResultOK, nil
}

// RewindPolicy is the ordered "how hard should we try to roll back the
// pool's uberblock" policy, composable with ExtremeRewind (§4.G).
type RewindPolicy int

const (
	NoRewind RewindPolicy = iota
	TryRewind
	DoRewind
)

// ExtremeRewindFlag is a bit-flag composable with TryRewind or DoRewind.
const ExtremeRewindFlag = 1 << 30

// ClearOptions carries clear_errors' `-n`/`-F`/`-X`/`--power` flags.
type ClearOptions struct {
	DryRewind     bool // -n
	FullRewind    bool // -F
	ExtremeRewind bool // -X
	PowerOn       bool
}

// policy resolves the composed RewindPolicy|ExtremeRewindFlag value,
// enforcing "-n/-X require -F" (§4.G.clear_errors).
func (o ClearOptions) policy() (int, error) {
	if (o.DryRewind || o.ExtremeRewind) && !o.FullRewind {
		return 0, fmt.Errorf("-n/-X require -F")
	}
	p := int(NoRewind)
	if o.FullRewind {
		p = int(DoRewind)
	} else if o.DryRewind {
		p = int(TryRewind)
	}
	if o.ExtremeRewind {
		p |= ExtremeRewindFlag
	}
	return p, nil
}

// ClearErrors clears persistent error state on the given devices (or
// the whole pool if devices is empty) (§4.G.clear_errors). The rewind
// flags are validated (-n/-X require -F), but the resolved policy is not
// passed to the pool layer. Devices are probed concurrently via
// errgroup, the same fan-out pattern used for for_each_leaf_vdev.
func ClearErrors(ph poolhandle.PoolHandle, h poolhandle.Handle, devices []uint64, opts ClearOptions) (Result, error) {
	if _, err := opts.policy(); err != nil {
		return ResultInvalidVdev, err
	}

	tree, err := ph.GetConfig(h)
	if err != nil {
		return ResultPoolUnavailable, err
	}

	targets := devices
	if len(targets) == 0 {
		err := ph.ForEachLeafVdev(h, func(v *poolhandle.Vdev) error {
			targets = append(targets, v.GUID)
			return nil
		})
		if err != nil {
			return ResultPoolUnavailable, err
		}
	}

	var g errgroup.Group
	for _, guid := range targets {
		guid := guid
		g.Go(func() error {
			target, _, ok := findVdev(tree.Root, guid)
			if !ok {
				return fmt.Errorf("vdev %d not found", guid)
			}
			return ph.Trigger(h, poolhandle.Trigger{Kind: poolhandle.TriggerResilver, Command: poolhandle.CommandStart, Params: poolhandle.TriggerParams{Vdev: target}})
		})
	}
	if err := g.Wait(); err != nil {
		return ResultNotFound, err
	}
	return ResultOK, nil
}

// LabelWipeOptions carries labelclear's `-f` flag.
type LabelWipeOptions struct {
	Force bool
}

// LabelWipe erases a device's ZFS labels outside of any pool context
// (§4.G.label_wipe). A device in no pool never requires force. A member
// of an OK, DEGRADED or RESILVERING pool, or of an UNAVAIL pool (treated
// as exported or potentially active), is refused unless force is set;
// members of a pool in any other status need no force.
func LabelWipe(poolStatus poolhandle.PoolStatus, belongsToPool bool, opts LabelWipeOptions) (Result, error) {
	if !belongsToPool {
		return ResultOK, nil
	}
	switch poolStatus {
	case poolhandle.PoolStatusOk, poolhandle.PoolStatusDegraded, poolhandle.PoolStatusResilvering:
		if !opts.Force {
			return ResultRequiresForce, fmt.Errorf("vdev belongs to an active pool")
		}
	case poolhandle.PoolStatusUnavail:
		if !opts.Force {
			return ResultRequiresForce, fmt.Errorf("vdev belongs to an exported or potentially-active pool")
		}
	}
	return ResultOK, nil
}
