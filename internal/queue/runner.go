// Package queue implements the per-queue completion dispatcher (§4.C):
// a dedicated worker that submits page-list batches to io_uring and
// retires the owning zio once every sub-batch has completed.
package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robn/zvdev/internal/interfaces"
	"github.com/robn/zvdev/internal/uring"
	"github.com/robn/zvdev/internal/vbio"
	"github.com/robn/zvdev/internal/verify"
)

// RequestKind mirrors the root package's ZioKind without creating an
// import cycle (the root package imports this one, not the reverse).
type RequestKind int

const (
	KindRead RequestKind = iota
	KindWrite
	KindFlush
	KindTrim
)

// Request is the subset of a zio the dispatcher needs to submit and
// retire it. The root package's *Zio implements this interface.
type Request interface {
	RequestKind() RequestKind
	DeviceOffset() int64
	RequestSize() int64
	Pages() []vbio.PageRef
	TrimSecure() bool
	ContentHash() ([32]byte, bool)
	SetContentHash([32]byte)
	Complete(err error)
}

// Tunables is the subset of process-wide tunables the dispatcher consults
// on each submission.
type Tunables interface {
	MaxSegs() uint32
	VerifyCount() uint64
	FailfastMask() uint32
}

// VerifySink receives checksum-verify mismatch notifications (§4.D, §6.3).
type VerifySink interface {
	OnVerifyMismatch(offset, size int64, expected, computed [32]byte)
}

// Config configures a new Runner.
type Config struct {
	DevID            uint32
	QueueID          uint16
	Depth            int
	Fd               int
	LogicalBlockSize int
	Logger           interfaces.Logger
	Observer         interfaces.Observer
	Tunables         Tunables
	VerifySink       VerifySink

	// VerifyGate is the device-wide checksum-verify sampling counter
	// (§3: "a global integer N... the issuer increments a per-device
	// counter"). It must be shared across every queue on the same
	// device so the 1-in-N decision is taken once per device rather
	// than once per queue; callers that spawn multiple Runners against
	// one device must pass the same Gate to each. If nil, a Gate
	// private to this Runner is created, which is only correct for a
	// single-queue device.
	VerifyGate *verify.Gate
}

type inflightOp struct {
	vb       *vbio.Vbio
	req      Request
	isRead   bool
	bufIndex int // index into vb.SubBatches for this userData, -1 for flush/trim
	start    time.Time
	size     int64
}

// Runner drains completions for one queue and dispatches them back to
// their owning zio's completion callback.
type Runner struct {
	devID            uint32
	queueID          uint16
	depth            int
	fd               int
	logicalBlockSize int
	ring             uring.Ring
	logger           interfaces.Logger
	observer         interfaces.Observer
	tunables         Tunables
	verifySink       VerifySink
	verifyGate       *verify.Gate

	ctx    context.Context
	cancel context.CancelFunc

	nextUserData atomic.Uint64
	mu           sync.Mutex
	inflight     map[uint64]*inflightOp
}

// NewRunner creates a queue runner bound to an already-open device fd.
// Unlike a per-device character device, every queue shares the same fd;
// the queue is purely a concurrency partition over io_uring rings.
func NewRunner(ctx context.Context, cfg Config) (*Runner, error) {
	ring, err := uring.NewRing(uring.Config{Entries: uint32(cfg.Depth)})
	if err != nil {
		return nil, fmt.Errorf("create io_uring for queue %d: %w", cfg.QueueID, err)
	}

	verifyGate := cfg.VerifyGate
	if verifyGate == nil {
		verifyGate = verify.NewGate()
	}

	ctx, cancel := context.WithCancel(ctx)
	return &Runner{
		devID:            cfg.DevID,
		queueID:          cfg.QueueID,
		depth:            cfg.Depth,
		fd:               cfg.Fd,
		logicalBlockSize: cfg.LogicalBlockSize,
		ring:             ring,
		logger:           cfg.Logger,
		observer:         cfg.Observer,
		tunables:         cfg.Tunables,
		verifySink:       cfg.VerifySink,
		verifyGate:       verifyGate,
		ctx:              ctx,
		cancel:           cancel,
		inflight:         make(map[uint64]*inflightOp),
	}, nil
}

// Start launches the completion dispatch loop.
func (r *Runner) Start() error {
	go r.dispatchLoop()
	return nil
}

// Stop cancels the dispatch loop without releasing the ring.
func (r *Runner) Stop() error {
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}

// Close stops the runner and releases the io_uring ring.
func (r *Runner) Close() error {
	_ = r.Stop()
	if r.ring != nil {
		return r.ring.Close()
	}
	return nil
}

// Submit splits req into a page-list batch and queues every sub-batch's
// SQE, then flushes them with a single io_uring_enter (§4.A, §4.B).
func (r *Runner) Submit(req Request) error {
	switch req.RequestKind() {
	case KindFlush:
		return r.submitFlush(req)
	case KindTrim:
		return r.submitTrim(req)
	default:
		return r.submitReadWrite(req)
	}
}

func (r *Runner) submitFlush(req Request) error {
	ud := r.nextUserData.Add(1)
	r.mu.Lock()
	r.inflight[ud] = &inflightOp{req: req, bufIndex: -1, start: time.Now()}
	r.mu.Unlock()

	if err := r.ring.PrepareFsync(r.fd, ud); err != nil {
		r.mu.Lock()
		delete(r.inflight, ud)
		r.mu.Unlock()
		return err
	}
	_, err := r.ring.Flush()
	return err
}

func (r *Runner) submitTrim(req Request) error {
	ud := r.nextUserData.Add(1)
	r.mu.Lock()
	r.inflight[ud] = &inflightOp{req: req, bufIndex: -1, start: time.Now(), size: req.RequestSize()}
	r.mu.Unlock()

	err := r.ring.PrepareDiscard(r.fd, uint64(req.DeviceOffset()), uint64(req.RequestSize()), req.TrimSecure(), ud)
	if err != nil {
		r.mu.Lock()
		delete(r.inflight, ud)
		r.mu.Unlock()
		return err
	}
	_, err = r.ring.Flush()
	return err
}

func (r *Runner) submitReadWrite(req Request) error {
	isWrite := req.RequestKind() == KindWrite
	maxSegs := int(r.tunables.MaxSegs())

	vb, err := vbio.Build(req.Pages(), req.DeviceOffset(), req.RequestSize(), r.logicalBlockSize, maxSegs, isWrite)
	if err != nil {
		return err
	}

	if isWrite && r.verifyGate.ShouldVerify(r.tunables.VerifyCount()) {
		buf, pooled := flattenSubBatches(vb)
		hash, ok := req.ContentHash()
		if !ok {
			hash = verify.Hash(buf)
			req.SetContentHash(hash)
		}
		outcome := verify.Verify(hash, buf)
		if pooled {
			PutBuffer(buf)
		}
		if !outcome.Match {
			if r.verifySink != nil {
				r.verifySink.OnVerifyMismatch(req.DeviceOffset(), req.RequestSize(), outcome.Expected, outcome.Computed)
			}
			req.Complete(errVerifyFailed{})
			return nil
		}
	}

	for i, sb := range vb.SubBatches {
		ud := r.nextUserData.Add(1)
		r.mu.Lock()
		r.inflight[ud] = &inflightOp{vb: vb, req: req, isRead: !isWrite, bufIndex: i, start: time.Now(), size: int64(len(sb.Buf))}
		r.mu.Unlock()

		var perr error
		if isWrite {
			perr = r.ring.PrepareWrite(r.fd, sb.Buf, sb.StartSector*512, ud)
		} else {
			perr = r.ring.PrepareRead(r.fd, sb.Buf, sb.StartSector*512, ud)
		}
		if perr != nil {
			r.mu.Lock()
			delete(r.inflight, ud)
			r.mu.Unlock()
			return perr
		}
	}

	vb.ReleaseProtecting()

	_, err = r.ring.Flush()
	return err
}

// flattenSubBatches concatenates a write vbio's sub-batch buffers into one
// contiguous buffer for hashing. Verify sampling is rare enough that this
// copy only matters on the sampled path, but buffers above 128KB still come
// from the pool rather than a fresh allocation.
func flattenSubBatches(vb *vbio.Vbio) (buf []byte, pooled bool) {
	total := 0
	for _, sb := range vb.SubBatches {
		total += len(sb.Buf)
	}

	if total > size128k {
		buf = GetBuffer(uint32(total))
		pooled = true
	} else {
		buf = make([]byte, total)
	}

	n := 0
	for _, sb := range vb.SubBatches {
		n += copy(buf[n:], sb.Buf)
	}
	return buf, pooled
}

func (r *Runner) dispatchLoop() {
	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		results, err := r.ring.WaitCompletion()
		if err != nil {
			if r.logger != nil {
				r.logger.Printf("queue %d: wait completion: %v", r.queueID, err)
			}
			return
		}

		for _, res := range results {
			r.handleCompletion(res)
		}
	}
}

func (r *Runner) handleCompletion(res uring.Result) {
	ud := res.UserData()

	r.mu.Lock()
	op, ok := r.inflight[ud]
	if ok {
		delete(r.inflight, ud)
	}
	r.mu.Unlock()

	if !ok {
		if r.logger != nil {
			r.logger.Printf("queue %d: completion for unknown user_data %d", r.queueID, ud)
		}
		return
	}

	opErr := res.Error()

	r.observeOp(op, opErr)

	if op.bufIndex < 0 {
		// flush or trim: single-shot, no vbio involved
		op.req.Complete(opErr)
		return
	}

	done := op.vb.CompleteSubBatch(opErr)
	if !done {
		return
	}

	if op.isRead {
		op.vb.CopyBounceToDest(op.req.Pages())
	}

	op.req.Complete(op.vb.Err())
}

func (r *Runner) observeOp(op *inflightOp, err error) {
	if r.observer == nil {
		return
	}
	latency := uint64(time.Since(op.start).Nanoseconds())
	success := err == nil
	switch {
	case op.bufIndex < 0 && op.size == 0:
		r.observer.ObserveFlush(latency, success)
	case op.bufIndex < 0:
		r.observer.ObserveDiscard(uint64(op.size), latency, success)
	case op.isRead:
		r.observer.ObserveRead(uint64(op.size), latency, success)
	default:
		r.observer.ObserveWrite(uint64(op.size), latency, success)
	}
}

// errVerifyFailed is a lightweight local error so this package doesn't
// need to import the root package's error-kind machinery; the root
// package recognizes it in Zio.Complete and translates it to its own
// verify-failed error kind.
type errVerifyFailed struct{}

func (errVerifyFailed) Error() string { return "checksum verify failed" }

// IsVerifyFailed reports whether err is the sentinel this package raises
// on a checksum-verify mismatch.
func IsVerifyFailed(err error) bool {
	_, ok := err.(errVerifyFailed)
	return ok
}
