package zvdev

import (
	"sync/atomic"

	"github.com/robn/zvdev/internal/constants"
)

// Tunables holds the process-wide configuration knobs described in §6.4.
// Every field is an atomic so the I/O engine's hot paths (submit,
// checksum-verify) can read the current value without taking a lock, while
// administrative code (or a config file load, see config.go) can update
// them at runtime.
type Tunables struct {
	// verifyCount is VDEV_DIRECT_WR_VERIFY_CNT: every N-th write is
	// re-hashed before commit. Must be >= 1; N=1 verifies every write.
	verifyCount atomic.Uint64

	// maxSegs is vdev_disk_max_segs: clamps the per-sub-batch segment
	// count. 0 means "use the driver's ideal" (constants.DefaultMaxSegs).
	maxSegs atomic.Uint32

	// openTimeoutMs is zfs_vdev_open_timeout_ms: bound for the device
	// open retry loop (doubled on reopen after a suspected resize).
	openTimeoutMs atomic.Uint32

	// failfastMask is zfs_vdev_failfast_mask, a 3-bit mask: bit0 device,
	// bit1 transport, bit2 driver.
	failfastMask atomic.Uint32
}

// FailfastMask bit positions (§6.4).
const (
	FailfastDevice    uint32 = 1 << 0
	FailfastTransport uint32 = 1 << 1
	FailfastDriver    uint32 = 1 << 2
)

// DefaultTunables returns the tunable set initialized to the documented
// defaults.
func DefaultTunables() *Tunables {
	t := &Tunables{}
	t.verifyCount.Store(constants.DefaultVerifyCount)
	t.maxSegs.Store(0)
	t.openTimeoutMs.Store(constants.DefaultOpenTimeoutMs)
	t.failfastMask.Store(constants.DefaultFailfastMask)
	return t
}

// global is the process-wide tunable set consulted by code that doesn't
// have an explicit Tunables reference threaded through (mirrors the
// teacher's use of package-level defaults for things that are genuinely
// process scoped, like logging.Default()).
var global = DefaultTunables()

// Global returns the process-wide Tunables instance.
func Global() *Tunables { return global }

// VerifyCount returns VDEV_DIRECT_WR_VERIFY_CNT.
func (t *Tunables) VerifyCount() uint64 { return t.verifyCount.Load() }

// SetVerifyCount sets VDEV_DIRECT_WR_VERIFY_CNT. Values below 1 are
// clamped to 1, matching the spec's "must be ≥ 1" invariant.
func (t *Tunables) SetVerifyCount(n uint64) {
	if n < 1 {
		n = 1
	}
	t.verifyCount.Store(n)
}

// MaxSegs returns vdev_disk_max_segs, or constants.DefaultMaxSegs if unset.
func (t *Tunables) MaxSegs() uint32 {
	if v := t.maxSegs.Load(); v != 0 {
		if v < constants.MinMaxSegs {
			return constants.MinMaxSegs
		}
		return v
	}
	return constants.DefaultMaxSegs
}

// SetMaxSegs sets vdev_disk_max_segs. 0 resets to "driver's ideal".
func (t *Tunables) SetMaxSegs(n uint32) { t.maxSegs.Store(n) }

// OpenTimeoutMs returns zfs_vdev_open_timeout_ms.
func (t *Tunables) OpenTimeoutMs() uint32 { return t.openTimeoutMs.Load() }

// SetOpenTimeoutMs sets zfs_vdev_open_timeout_ms.
func (t *Tunables) SetOpenTimeoutMs(ms uint32) { t.openTimeoutMs.Store(ms) }

// FailfastMask returns zfs_vdev_failfast_mask.
func (t *Tunables) FailfastMask() uint32 { return t.failfastMask.Load() }

// SetFailfastMask sets zfs_vdev_failfast_mask.
func (t *Tunables) SetFailfastMask(mask uint32) { t.failfastMask.Store(mask & 0x7) }
