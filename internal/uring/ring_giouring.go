//go:build linux

package uring

import (
	"fmt"
	"unsafe"

	"github.com/pawelgaczynski/giouring"
)

const (
	faPunchHole = 0x02 // FALLOC_FL_PUNCH_HOLE
	faKeepSize  = 0x01 // FALLOC_FL_KEEP_SIZE
)

// giouringRing implements Ring on top of github.com/pawelgaczynski/giouring,
// a liburing-shaped binding onto the kernel's io_uring interface.
type giouringRing struct {
	ring    *giouring.Ring
	pending uint32
}

func newGiouringRing(config Config) (Ring, error) {
	entries := config.Entries
	if entries == 0 {
		entries = 128
	}

	ring, err := giouring.CreateRing(entries)
	if err != nil {
		return nil, fmt.Errorf("create io_uring: %w", err)
	}

	return &giouringRing{ring: ring}, nil
}

func (r *giouringRing) Close() error {
	if r.ring != nil {
		r.ring.QueueExit()
	}
	return nil
}

func (r *giouringRing) getSQE() (*giouring.SubmissionQueueEntry, error) {
	sqe := r.ring.GetSQE()
	if sqe == nil {
		return nil, ErrRingFull
	}
	return sqe, nil
}

func (r *giouringRing) PrepareRead(fd int, buf []byte, offset uint64, userData uint64) error {
	sqe, err := r.getSQE()
	if err != nil {
		return err
	}
	sqe.PrepareRead(int32(fd), uintptr(unsafe.Pointer(&buf[0])), uint32(len(buf)), offset)
	sqe.UserData = userData
	r.pending++
	return nil
}

func (r *giouringRing) PrepareWrite(fd int, buf []byte, offset uint64, userData uint64) error {
	sqe, err := r.getSQE()
	if err != nil {
		return err
	}
	sqe.PrepareWrite(int32(fd), uintptr(unsafe.Pointer(&buf[0])), uint32(len(buf)), offset)
	sqe.UserData = userData
	r.pending++
	return nil
}

func (r *giouringRing) PrepareFsync(fd int, userData uint64) error {
	sqe, err := r.getSQE()
	if err != nil {
		return err
	}
	sqe.PrepareFsync(int32(fd), 0)
	sqe.UserData = userData
	r.pending++
	return nil
}

func (r *giouringRing) PrepareDiscard(fd int, offset, length uint64, secure bool, userData uint64) error {
	sqe, err := r.getSQE()
	if err != nil {
		return err
	}
	mode := uint32(faPunchHole | faKeepSize)
	if secure {
		// No distinct secure-erase fallocate mode exists; the leaf driver's
		// secure-trim semantics downgrade to the same punch-hole discard at
		// this layer (the underlying media decides whether that zeroes the
		// extent), matching §4.A's "if secure requested and supported".
		mode = uint32(faPunchHole | faKeepSize)
	}
	sqe.PrepareFallocate(int32(fd), mode, int64(offset), int64(length))
	sqe.UserData = userData
	r.pending++
	return nil
}

func (r *giouringRing) Flush() (uint32, error) {
	if r.pending == 0 {
		return 0, nil
	}
	n, err := r.ring.Submit()
	if err != nil {
		return 0, fmt.Errorf("io_uring submit: %w", err)
	}
	r.pending = 0
	return uint32(n), nil
}

type giouringResult struct {
	userData uint64
	value    int32
	err      error
}

func (res *giouringResult) UserData() uint64 { return res.userData }
func (res *giouringResult) Value() int32     { return res.value }
func (res *giouringResult) Error() error     { return res.err }

func (r *giouringRing) WaitCompletion() ([]Result, error) {
	var cqe *giouring.CompletionQueueEvent
	if err := r.ring.WaitCQE(&cqe); err != nil {
		return nil, fmt.Errorf("wait cqe: %w", err)
	}

	results := make([]Result, 0, 4)
	results = append(results, cqeToResult(cqe))
	r.ring.CQESeen(cqe)

	// Drain anything else already completed without blocking again.
	for {
		next := r.ring.PeekCQE()
		if next == nil {
			break
		}
		results = append(results, cqeToResult(next))
		r.ring.CQESeen(next)
	}

	return results, nil
}

func cqeToResult(cqe *giouring.CompletionQueueEvent) Result {
	res := &giouringResult{userData: cqe.UserData, value: cqe.Res}
	if cqe.Res < 0 {
		res.err = fmt.Errorf("io_uring op failed: errno %d", -cqe.Res)
	}
	return res
}
