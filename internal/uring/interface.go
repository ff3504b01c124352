// Package uring wraps io_uring submission for the leaf device driver: plain
// READ, WRITE, FSYNC and discard-via-FALLOCATE operations against a real
// block device file descriptor, batched per queue worker.
package uring

import "errors"

// ErrRingFull is returned when the submission queue has no free SQE slots.
// The completion dispatcher drains completions before this should occur in
// normal operation, since queue depth bounds in-flight submissions.
var ErrRingFull = errors.New("submission queue full")

// Op identifies the kind of operation an SQE was prepared for, carried
// alongside the Result so a completion can be routed without re-deriving
// it from the opcode.
type Op int

const (
	OpRead Op = iota
	OpWrite
	OpFsync
	OpDiscard
)

// Ring is the subset of io_uring operations the queue worker needs: queue
// a batch of READ/WRITE/FSYNC/discard SQEs without a syscall per request,
// flush them with one io_uring_enter, then block for completions.
type Ring interface {
	Close() error

	// PrepareRead queues a READ SQE without submitting it.
	PrepareRead(fd int, buf []byte, offset uint64, userData uint64) error

	// PrepareWrite queues a WRITE SQE without submitting it.
	PrepareWrite(fd int, buf []byte, offset uint64, userData uint64) error

	// PrepareFsync queues an FSYNC SQE (no payload) without submitting it.
	PrepareFsync(fd int, userData uint64) error

	// PrepareDiscard queues a discard, implemented as FALLOCATE with
	// PUNCH_HOLE|KEEP_SIZE, without submitting it. fallocate has no
	// secure-erase mode, so secure=true uses the same mode.
	PrepareDiscard(fd int, offset, length uint64, secure bool, userData uint64) error

	// Flush submits all prepared SQEs with a single io_uring_enter call
	// and returns the number submitted.
	Flush() (uint32, error)

	// WaitCompletion blocks for at least one completion and returns every
	// completion currently available.
	WaitCompletion() ([]Result, error)
}

// Result is a single completion queue entry, translated to plain fields.
type Result interface {
	UserData() uint64
	// Value is the raw io_uring result: bytes transferred on success, a
	// negative errno on failure.
	Value() int32
	Error() error
}

// Config configures a new Ring.
type Config struct {
	// Entries is the submission/completion queue depth.
	Entries uint32
}

// NewRing creates a new Ring backed by the host's io_uring implementation.
func NewRing(config Config) (Ring, error) {
	return newGiouringRing(config)
}
