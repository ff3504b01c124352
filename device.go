// Package zvdev provides the leaf vdev I/O engine: async block I/O against
// a local device, a page-list builder, a completion dispatcher, and a
// write-path checksum-verify gate.
package zvdev

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/robn/zvdev/backend"
	"github.com/robn/zvdev/internal/constants"
	"github.com/robn/zvdev/internal/geometry"
	"github.com/robn/zvdev/internal/interfaces"
	"github.com/robn/zvdev/internal/logging"
	"github.com/robn/zvdev/internal/queue"
	"github.com/robn/zvdev/internal/verify"
)

// DeviceState is a leaf device's position in the CLOSED -> OPENING -> OPEN
// -> CLOSING -> CLOSED lifecycle (§4.A).
type DeviceState int32

const (
	StateClosed DeviceState = iota
	StateOpening
	StateOpen
	StateClosing
)

func (s DeviceState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpening:
		return "OPENING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// MaxQueues bounds the number of queue workers a device will spawn,
// regardless of how many CPUs or how large NumQueues is requested
// (min(MAX_THREADS, driver_max_queues) from §4.A).
const MaxQueues = 32

// DeviceParams configures Open.
type DeviceParams struct {
	// NumQueues is the number of completion-dispatcher queues to spawn.
	// 0 means runtime.NumCPU(), clamped to MaxQueues.
	NumQueues int

	// QueueDepth is the io_uring submission queue depth per queue.
	QueueDepth int

	// Pool and VdevPath label events raised against this device (§6.3).
	Pool     string
	VdevPath string

	Tunables *Tunables
	Logger   *logging.Logger
	Observer Observer
	Events   *EventRing
}

func (p *DeviceParams) setDefaults(path string) {
	if p.NumQueues <= 0 {
		p.NumQueues = runtime.NumCPU()
	}
	if p.NumQueues > MaxQueues {
		p.NumQueues = MaxQueues
	}
	if p.QueueDepth <= 0 {
		p.QueueDepth = constants.DefaultQueueDepth
	}
	if p.Tunables == nil {
		p.Tunables = Global()
	}
	if p.VdevPath == "" {
		p.VdevPath = path
	}
}

// Device is an open leaf vdev: a local block special file plus the
// completion-dispatcher queues that submit I/O against it (§3, §4.A).
type Device struct {
	Path string

	mu    sync.RWMutex // guards state and file/geometry across reopen
	state DeviceState
	file  interfaces.RawFile
	geom  geometry.Info

	flushSupported atomicBool

	params     DeviceParams
	ctx        context.Context
	cancel     context.CancelFunc
	queues     []*queue.Runner
	logger     *logging.Logger
	observer   Observer
	events     *EventRing
	verifyGate *verify.Gate
}

// atomicBool is a tiny bool wrapper kept local to device.go; the root
// package otherwise expresses its atomics inline (see Tunables) but a
// single flag doesn't warrant importing atomic.Bool machinery twice.
type atomicBool struct {
	mu sync.Mutex
	v  bool
}

func (b *atomicBool) Load() bool   { b.mu.Lock(); defer b.mu.Unlock(); return b.v }
func (b *atomicBool) Store(v bool) { b.mu.Lock(); defer b.mu.Unlock(); b.v = v }

// Open opens path as a direct-I/O leaf device, probes its geometry, and
// spawns its completion-dispatcher queues (§4.A open contract).
func Open(path string, params DeviceParams) (*Device, error) {
	if len(path) == 0 || path[0] != '/' {
		return nil, NewError("OPEN", ErrKindBadLabel, fmt.Sprintf("path %q is not absolute", path))
	}

	f, err := openBackend(path)
	if err != nil {
		return nil, WrapError("OPEN", err)
	}

	dev, err := openWithFile(path, f, params)
	if err != nil {
		f.Close()
		return nil, err
	}
	return dev, nil
}

// openWithFile builds a Device around an already-open backend, used by
// Open and directly by tests that want to drive backend.Memory without a
// real filesystem path.
func openWithFile(path string, f interfaces.RawFile, params DeviceParams) (*Device, error) {
	params.setDefaults(path)

	geom, err := geometry.Probe(f.Fd(), f.Size())
	if err != nil {
		return nil, NewDeviceError("OPEN", 0, ErrKindBadLabel, err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	dev := &Device{
		Path:       path,
		state:      StateOpening,
		file:       f,
		geom:       geom,
		params:     params,
		ctx:        ctx,
		cancel:     cancel,
		logger:     params.Logger,
		observer:   params.Observer,
		events:     params.Events,
		verifyGate: verify.NewGate(),
	}
	dev.flushSupported.Store(geom.FlushSupported)

	if err := dev.spawnQueues(); err != nil {
		cancel()
		return nil, err
	}

	dev.mu.Lock()
	dev.state = StateOpen
	dev.mu.Unlock()

	return dev, nil
}

// OpenWithFile exposes openWithFile for package-external callers that
// already hold an open RawFile (e.g. a backend.Memory).
func OpenWithFile(path string, f interfaces.RawFile, params DeviceParams) (*Device, error) {
	return openWithFile(path, f, params)
}

func openBackend(path string) (interfaces.RawFile, error) {
	return openFileBackend(path)
}

// openFileBackend is the single place Open and Reopen go to acquire a real
// backend.File. It's a package-level var, not a plain func, so tests can
// point Reopen's retry path at a stub that fakes ENOENT/ENXIO/ERESTARTSYS
// without a real block device.
var openFileBackend = func(path string) (interfaces.RawFile, error) {
	return backend.OpenFile(path)
}

func verify256(buf []byte) [32]byte { return verify.Hash(buf) }

func (d *Device) spawnQueues() error {
	depth := d.params.QueueDepth
	spawned := make([]*queue.Runner, 0, d.params.NumQueues)

	for i := 0; i < d.params.NumQueues; i++ {
		r, err := queue.NewRunner(d.ctx, queue.Config{
			DevID:            0,
			QueueID:          uint16(i),
			Depth:            depth,
			Fd:               d.file.Fd(),
			LogicalBlockSize: d.geom.LogicalBlockSize,
			Logger:           loggerAdapter{d.logger},
			Observer:         d.observer,
			Tunables:         d.params.Tunables,
			VerifySink:       d,
			VerifyGate:       d.verifyGate,
		})
		if err != nil {
			for _, s := range spawned {
				s.Close()
			}
			return WrapError("OPEN", err)
		}
		if err := r.Start(); err != nil {
			r.Close()
			for _, s := range spawned {
				s.Close()
			}
			return WrapError("OPEN", err)
		}
		spawned = append(spawned, r)
	}

	d.queues = spawned
	return nil
}

// loggerAdapter lets a possibly-nil *logging.Logger satisfy
// interfaces.Logger without every call site checking for nil.
type loggerAdapter struct{ l *logging.Logger }

func (a loggerAdapter) Printf(format string, args ...interface{}) {
	if a.l != nil {
		a.l.Printf(format, args...)
	}
}

func (a loggerAdapter) Debugf(format string, args ...interface{}) {
	if a.l != nil {
		a.l.Debugf(format, args...)
	}
}

// OnVerifyMismatch implements queue.VerifySink, translating a sampled
// checksum mismatch into a DIO_VERIFY event (§4.D, §6.3).
func (d *Device) OnVerifyMismatch(offset, size int64, expected, computed [32]byte) {
	if d.events == nil {
		return
	}
	d.events.PushDioVerify(d.params.Pool, d.params.VdevPath, offset, size, expected, computed, time.Now())
}

// State returns the device's current lifecycle state.
func (d *Device) State() DeviceState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Geometry returns the device's probed capacity and capability flags.
func (d *Device) Geometry() geometry.Info {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.geom
}

// Submit places zio onto one of the device's queues, chosen at random
// among its workers (§4.A submit contract). The call does not block for
// the I/O to complete; zio.Completion fires asynchronously.
func (d *Device) Submit(zio *Zio) error {
	d.mu.RLock()
	state := d.state
	d.mu.RUnlock()

	if state != StateOpen {
		return NewDeviceError("SUBMIT", 0, ErrKindNotPresent, "device not open")
	}

	if zio.Offset+zio.Size > d.geom.CapacityBytes && zio.Kind != ZioFlush {
		return NewDeviceError("SUBMIT", 0, ErrKindInvariant, "zio extends past device capacity")
	}

	switch zio.Kind {
	case ZioFlush:
		return d.submitFlush(zio)
	case ZioWrite:
		d.captureWriteHash(zio)
		return d.enqueue(zio)
	default:
		return d.enqueue(zio)
	}
}

// captureWriteHash computes the §4.D issue-time content hash and attaches
// it to the zio, ahead of the sampled re-verify done by the dispatcher.
func (d *Device) captureWriteHash(zio *Zio) {
	if zio.Buffer == nil {
		return
	}
	zio.SetContentHash(verify256(zio.Buffer.Flatten()))
}

// submitFlush short-circuits to success once the device has reported
// EOPNOTSUPP for a flush, per §4.A.
func (d *Device) submitFlush(zio *Zio) error {
	if !d.flushSupported.Load() {
		zio.complete(nil)
		return nil
	}

	orig := zio.Completion
	zio.Completion = func(z *Zio) {
		if z.Err != nil && isUnsupported(z.Err) {
			d.flushSupported.Store(false)
			z.Err = nil
		}
		if orig != nil {
			orig(z)
		}
	}
	return d.enqueue(zio)
}

func (d *Device) enqueue(zio *Zio) error {
	d.mu.RLock()
	queues := d.queues
	d.mu.RUnlock()

	if len(queues) == 0 {
		return NewDeviceError("SUBMIT", 0, ErrKindNotPresent, "device has no queues")
	}

	q := queues[rand.Intn(len(queues))]
	if err := q.Submit(zio); err != nil {
		return WrapError("SUBMIT", err)
	}
	return nil
}

func isUnsupported(err error) bool {
	return IsCode(err, ErrKindUnsupportedOperation) || errIsErrno(err, syscall.EOPNOTSUPP)
}

func errIsErrno(err error, errno syscall.Errno) bool {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if e, ok := err.(syscall.Errno); ok {
			return e == errno
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Close transitions the device through CLOSING back to CLOSED, stopping
// every queue worker and releasing the backend file.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.state == StateClosed || d.state == StateClosing {
		d.mu.Unlock()
		return nil
	}
	d.state = StateClosing
	queues := d.queues
	f := d.file
	d.mu.Unlock()

	d.cancel()
	for _, q := range queues {
		q.Close()
	}

	var err error
	if f != nil {
		err = f.Close()
	}

	d.mu.Lock()
	d.state = StateClosed
	d.queues = nil
	d.file = nil
	d.mu.Unlock()

	return err
}

// Reopen closes and reopens the device in place, holding the writer lock
// across the gap so concurrent Submit calls see a single "device
// temporarily unavailable" window. If resized is true, the open timeout is
// doubled before retrying, matching the "partition table may have been
// resized" reopen path; a retry attempt that fails with ERESTARTSYS
// separately extends the retry deadline by 10x the base timeout.
func (d *Device) Reopen(resized bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file != nil {
		d.file.Close()
	}
	for _, q := range d.queues {
		q.Close()
	}
	d.cancel()
	d.state = StateOpening

	timeoutMs := d.params.Tunables.OpenTimeoutMs()
	if resized {
		timeoutMs *= 2
	}
	baseTimeout := time.Duration(timeoutMs) * time.Millisecond
	deadline := time.Now().Add(baseTimeout)

	f, err := retryOpen(d.Path, deadline, baseTimeout)
	if err != nil {
		d.state = StateClosed
		return WrapError("OPEN", err)
	}

	geom, err := geometry.Probe(f.Fd(), f.Size())
	if err != nil {
		f.Close()
		d.state = StateClosed
		return NewDeviceError("OPEN", 0, ErrKindBadLabel, err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.file = f
	d.geom = geom
	d.ctx = ctx
	d.cancel = cancel
	d.flushSupported.Store(geom.FlushSupported)

	if err := d.spawnQueues(); err != nil {
		cancel()
		d.state = StateClosed
		return err
	}

	d.state = StateOpen
	return nil
}

// retryOpen retries opening path with a bounded exponential backoff until
// the deadline elapses. ENOENT is retried (device node not yet back);
// ENXIO is fatal; ERESTARTSYS extends the deadline by 10x the base open
// timeout, since it means the attempt was interrupted rather than refused;
// any other error is retried too, consistent with the backoff schedule
// applying across the whole open attempt.
func retryOpen(path string, deadline time.Time, baseTimeout time.Duration) (interfaces.RawFile, error) {
	delay := constants.OpenRetryBaseDelay
	for {
		f, err := openFileBackend(path)
		if err == nil {
			return f, nil
		}
		if errIsErrno(err, syscall.ENXIO) {
			return nil, err
		}
		if errIsErrno(err, syscall.ERESTARTSYS) {
			extended := time.Now().Add(baseTimeout * constants.RestartSysExtensionFactor)
			if extended.After(deadline) {
				deadline = extended
			}
		}
		if time.Now().After(deadline) {
			return nil, NewError("OPEN", ErrKindTimeout, "device did not reappear before open timeout")
		}
		time.Sleep(delay)
		delay *= 2
		if delay > constants.OpenRetryMaxDelay {
			delay = constants.OpenRetryMaxDelay
		}
	}
}
