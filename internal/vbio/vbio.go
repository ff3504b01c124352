// Package vbio builds the page-list scatter/gather batches ("virtual
// BIOs") that the completion dispatcher submits to io_uring (§4.B).
package vbio

import (
	"fmt"
	"sync/atomic"
)

// PageRef is a single scatter/gather segment: a byte range within an
// in-memory page-sized allocation. It mirrors the root package's Page
// type field-for-field so callers can convert without an import cycle
// (the root package owns ABD and imports this package, not vice versa).
type PageRef struct {
	Data   []byte
	Offset int
	Length int
}

func (p PageRef) bytes() []byte { return p.Data[p.Offset : p.Offset+p.Length] }

// SubBatch is one driver-facing request: a contiguous run of sectors
// backed by a single buffer, submitted as one io_uring SQE.
type SubBatch struct {
	StartSector uint64
	SectorLen   uint32
	Buf         []byte
}

// Vbio is the page-list batch for a single zio (§3, §4.B). Submit splits
// it into SubBatches bounded by MaxSegs pages each; Complete tracks
// first-error-wins semantics across all sub-batch completions.
type Vbio struct {
	LogicalBlockSize int
	MaxSegs          int

	SubBatches []*SubBatch

	// Bounce is non-nil when the source buffer failed the alignment gate
	// and a contiguous bounce buffer was substituted.
	Bounce []byte
	IsRead bool

	refCount atomic.Int32
	errOnce  atomic.Bool
	err      error
}

// AlignmentGate walks a page list and reports whether every page but the
// last has a logical-block-size-aligned length, so concatenating the
// segments in order never introduces an unaligned boundary partway
// through the run (§4.B). A single-page list always passes.
func AlignmentGate(pages []PageRef, logicalBlockSize int) bool {
	for i := 0; i < len(pages)-1; i++ {
		if pages[i].Length%logicalBlockSize != 0 {
			return false
		}
	}
	return true
}

// Build constructs a Vbio for a zio of size S starting at device byte
// offset, from the page list pages. If the alignment gate fails, a
// contiguous bounce buffer is allocated, the source is copied in for
// writes, and the bounce buffer's single page is used instead — which
// must pass the gate, or Build returns an invariant error.
func Build(pages []PageRef, offset int64, size int64, logicalBlockSize, maxSegs int, isWrite bool) (*Vbio, error) {
	if maxSegs < 4 {
		maxSegs = 4
	}

	usePages := pages
	var bounce []byte
	if !AlignmentGate(pages, logicalBlockSize) {
		bounce = make([]byte, size)
		if isWrite {
			n := int64(0)
			for _, p := range pages {
				if n >= size {
					break
				}
				b := p.bytes()
				c := copy(bounce[n:], b)
				n += int64(c)
			}
		}
		usePages = []PageRef{{Data: bounce, Offset: 0, Length: len(bounce)}}
		if !AlignmentGate(usePages, logicalBlockSize) {
			return nil, fmt.Errorf("zvdev: vbio alignment gate failed after bounce buffer substitution")
		}
	}

	v := &Vbio{
		LogicalBlockSize: logicalBlockSize,
		MaxSegs:          maxSegs,
		Bounce:           bounce,
		IsRead:           !isWrite,
	}

	nbatches := (len(usePages) + maxSegs - 1) / maxSegs
	if nbatches == 0 {
		nbatches = 1
	}

	curOffset := offset
	idx := 0
	for b := 0; b < nbatches; b++ {
		segCount := maxSegs
		if idx+segCount > len(usePages) {
			segCount = len(usePages) - idx
		}
		batchLen := 0
		for _, p := range usePages[idx : idx+segCount] {
			batchLen += p.Length
		}

		buf := make([]byte, 0, batchLen)
		for _, p := range usePages[idx : idx+segCount] {
			buf = append(buf, p.bytes()...)
		}

		v.SubBatches = append(v.SubBatches, &SubBatch{
			StartSector: uint64(curOffset) / 512,
			SectorLen:   uint32(batchLen / 512),
			Buf:         buf,
		})

		curOffset += int64(batchLen)
		idx += segCount
	}

	// ref count: one per sub-batch plus one protecting the vbio until
	// submission completes (§4.B Submit).
	v.refCount.Store(int32(len(v.SubBatches) + 1))

	return v, nil
}

// ReleaseProtecting drops the protecting reference taken at Build time,
// once every sub-batch has been handed to the driver.
func (v *Vbio) ReleaseProtecting() bool {
	return v.refCount.Add(-1) == 0
}

// CompleteSubBatch records a sub-batch's outcome. The first non-nil error
// observed across all sub-batches wins; later errors are discarded. It
// returns true when the ref count reaches zero, meaning the whole vbio
// may be retired.
func (v *Vbio) CompleteSubBatch(err error) bool {
	if err != nil && v.errOnce.CompareAndSwap(false, true) {
		v.err = err
	}
	return v.refCount.Add(-1) == 0
}

// Err returns the first error recorded across all sub-batches, if any.
func (v *Vbio) Err() error { return v.err }

// CopyBounceToDest copies a completed read's bounce buffer back into dst,
// the reverse of the write-side copy performed in Build.
func (v *Vbio) CopyBounceToDest(dst []PageRef) {
	if v.Bounce == nil {
		return
	}
	n := 0
	for _, p := range dst {
		if n >= len(v.Bounce) {
			break
		}
		b := p.bytes()
		c := copy(b, v.Bounce[n:])
		n += c
	}
}
