package zvdev

import (
	"time"

	"github.com/robn/zvdev/internal/queue"
	"github.com/robn/zvdev/internal/vbio"
)

// ZioKind is the operation a Zio performs against a leaf device.
type ZioKind int

const (
	ZioRead ZioKind = iota
	ZioWrite
	ZioFlush
	ZioTrim
)

func (k ZioKind) String() string {
	switch k {
	case ZioRead:
		return "READ"
	case ZioWrite:
		return "WRITE"
	case ZioFlush:
		return "FLUSH"
	case ZioTrim:
		return "TRIM"
	default:
		return "UNKNOWN"
	}
}

// ZioFlag is a bitmask of per-request behavior modifiers (§3).
type ZioFlag uint32

const (
	// ZioRetry marks a failure as retry-safe unless the configured
	// failfast mask covers its class (see retrySafe). The completion path
	// does not retry: every failure is returned to the issuer.
	ZioRetry ZioFlag = 1 << iota

	// ZioTryHard makes retrySafe report true regardless of the failfast
	// mask.
	ZioTryHard

	// ZioTrimSecure requests a secure-erase TRIM rather than a plain
	// discard, when the device advertises secure-trim support.
	ZioTrimSecure
)

func (f ZioFlag) Has(bit ZioFlag) bool { return f&bit != 0 }

// ZioCompletion is invoked exactly once when a Zio finishes, successfully
// or not. It runs on the completion dispatcher's goroutine for the queue
// the zio was issued on; it must not block.
type ZioCompletion func(*Zio)

// Zio is a single logical I/O request against a leaf Device (§3). It is
// owned by the issuer until enqueued, then by the driver until
// completion, then returned to the issuer via Completion. A Zio must
// never outlive its Buffer: the driver does not retain buffer references
// past the call to Completion.
type Zio struct {
	Kind ZioKind

	// Offset and Size are device-relative byte positions. Both must be
	// aligned to the device's logical block size for READ/WRITE/TRIM;
	// FLUSH carries no payload and both are ignored.
	Offset int64
	Size   int64

	// Buffer is the source (write) or destination (read) ABD. Nil for
	// FLUSH and for TRIM, which carry no payload.
	Buffer *ABD

	Flags ZioFlag

	// Device is the target leaf device this zio is issued against.
	Device *Device

	// Completion is called once, exactly once, when the zio retires.
	Completion ZioCompletion

	// Err holds the terminal error, if any, once the zio has completed.
	Err error

	// DelayTarget is carried on the zio but not read by the driver: the
	// completion callback always runs as soon as the driver reports done.
	DelayTarget time.Time

	// contentHash holds the §4.D pre-write hash, set by the checksum-verify
	// gate at issue time and consulted again just before submission.
	contentHash [32]byte
	hashValid   bool
}

// NewReadZio builds a READ request into dst, starting at offset.
func NewReadZio(dev *Device, offset int64, dst *ABD, cb ZioCompletion) *Zio {
	return &Zio{Kind: ZioRead, Device: dev, Offset: offset, Size: int64(dst.Size()), Buffer: dst, Completion: cb}
}

// NewWriteZio builds a WRITE request from src, starting at offset.
func NewWriteZio(dev *Device, offset int64, src *ABD, cb ZioCompletion) *Zio {
	return &Zio{Kind: ZioWrite, Device: dev, Offset: offset, Size: int64(src.Size()), Buffer: src, Completion: cb}
}

// NewFlushZio builds a no-payload cache-flush request.
func NewFlushZio(dev *Device, cb ZioCompletion) *Zio {
	return &Zio{Kind: ZioFlush, Device: dev, Completion: cb}
}

// NewTrimZio builds a TRIM/discard request over [offset, offset+size).
// Set ZioTrimSecure in flags to request secure-erase semantics.
func NewTrimZio(dev *Device, offset, size int64, flags ZioFlag, cb ZioCompletion) *Zio {
	return &Zio{Kind: ZioTrim, Device: dev, Offset: offset, Size: size, Flags: flags, Completion: cb}
}

// complete finalizes the zio with the given error and invokes the
// completion callback. Called by the completion dispatcher (§4.C) once
// per zio.
func (z *Zio) complete(err error) {
	z.Err = err
	if z.Completion != nil {
		z.Completion(z)
	}
}

// retrySafe reports whether the driver is permitted to retry this zio
// internally, per ZioRetry/ZioTryHard and the process-wide failfast mask
// for the given error classification.
func (z *Zio) retrySafe(failfastMask uint32, class uint32) bool {
	if z.Flags.Has(ZioTryHard) {
		return true
	}
	if z.Flags.Has(ZioRetry) {
		return failfastMask&class == 0
	}
	return false
}

// The methods below satisfy internal/queue.Request so the completion
// dispatcher can submit and retire a Zio without importing this package.

// RequestKind maps a Zio's Kind to the dispatcher's request kind.
func (z *Zio) RequestKind() queue.RequestKind {
	switch z.Kind {
	case ZioRead:
		return queue.KindRead
	case ZioWrite:
		return queue.KindWrite
	case ZioFlush:
		return queue.KindFlush
	default:
		return queue.KindTrim
	}
}

func (z *Zio) DeviceOffset() int64 { return z.Offset }
func (z *Zio) RequestSize() int64  { return z.Size }
func (z *Zio) TrimSecure() bool    { return z.Flags.Has(ZioTrimSecure) }

// Pages converts the zio's ABD into the dispatcher's page-list
// representation. Returns nil for FLUSH and TRIM, which carry no payload.
func (z *Zio) Pages() []vbio.PageRef {
	if z.Buffer == nil {
		return nil
	}
	pages := z.Buffer.Pages()
	out := make([]vbio.PageRef, len(pages))
	for i, p := range pages {
		out[i] = vbio.PageRef{Data: p.Data, Offset: p.Offset, Length: p.Length}
	}
	return out
}

// ContentHash returns the §4.D issue-time content hash, if one has been
// captured yet.
func (z *Zio) ContentHash() ([32]byte, bool) { return z.contentHash, z.hashValid }

// SetContentHash records the issue-time content hash.
func (z *Zio) SetContentHash(h [32]byte) {
	z.contentHash = h
	z.hashValid = true
}

// Complete is the dispatcher-facing name for the completion path; it
// mirrors complete so the method satisfies queue.Request from outside the
// package. A dispatcher-raised verify-failed sentinel is rewrapped into
// the root package's own error kind before the issuer ever sees it.
func (z *Zio) Complete(err error) {
	if queue.IsVerifyFailed(err) {
		err = NewDeviceError("SUBMIT", 0, ErrKindVerifyFailed, "checksum verify failed")
	}
	z.complete(err)
}
