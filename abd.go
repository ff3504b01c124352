package zvdev

// Page is a single page reference inside an ABD's scatter/gather list,
// the Go-native stand-in for the "compound head + offset within
// head-covered region" arithmetic described in §9: a page handle, the
// byte offset into it the segment starts at, and the usable length from
// there.
type Page struct {
	Data   []byte // the underlying page-sized (or smaller) allocation
	Offset int    // byte offset within Data where this segment begins
	Length int    // usable length of this segment, starting at Offset
}

// Bytes returns the slice this page segment actually covers.
func (p Page) Bytes() []byte {
	return p.Data[p.Offset : p.Offset+p.Length]
}

// ABD ("arc buffer data") is an opaque handle to a buffer that is either a
// single contiguous region or a scatter/gather list of pages, iterated by
// offset/length (§3, GLOSSARY). A zio holds exactly one ABD and the driver
// must never retain references into it after the zio's completion
// callback returns.
type ABD struct {
	pages []Page
	size  int
}

// NewContiguousABD wraps a single contiguous buffer as a one-page ABD.
func NewContiguousABD(buf []byte) *ABD {
	return &ABD{pages: []Page{{Data: buf, Offset: 0, Length: len(buf)}}, size: len(buf)}
}

// NewScatterABD builds an ABD from an explicit page list, e.g. one sourced
// from a compound-page buffer with non-zero interior offsets.
func NewScatterABD(pages []Page) *ABD {
	size := 0
	for _, p := range pages {
		size += p.Length
	}
	return &ABD{pages: append([]Page(nil), pages...), size: size}
}

// Size returns the total byte length covered by the ABD.
func (a *ABD) Size() int { return a.size }

// Pages returns the ABD's page list in order. Callers must not mutate the
// returned slice's backing array.
func (a *ABD) Pages() []Page { return a.pages }

// IsContiguous reports whether the ABD is backed by a single page, i.e.
// can be treated as one flat []byte without copying.
func (a *ABD) IsContiguous() bool { return len(a.pages) == 1 }

// ContiguousBytes returns the flat backing slice for a single-page ABD.
// Callers must check IsContiguous first; calling this on a scattered ABD
// panics, mirroring the "never guess, never silently truncate" posture
// applied elsewhere in the engine.
func (a *ABD) ContiguousBytes() []byte {
	if !a.IsContiguous() {
		panic("zvdev: ContiguousBytes called on a scattered ABD")
	}
	return a.pages[0].Bytes()
}

// CopyTo copies min(a.Size(), len(dst)) bytes into dst, walking the page
// list in order. Used by the bounce-buffer path and by read completion to
// fan data back out to a scattered destination.
func (a *ABD) CopyTo(dst []byte) int {
	n := 0
	for _, p := range a.pages {
		if n >= len(dst) {
			break
		}
		b := p.Bytes()
		c := copy(dst[n:], b)
		n += c
		if c < len(b) {
			break
		}
	}
	return n
}

// CopyFrom copies min(a.Size(), len(src)) bytes from src into the ABD's
// page list in order, the write-side counterpart to CopyTo.
func (a *ABD) CopyFrom(src []byte) int {
	n := 0
	for _, p := range a.pages {
		if n >= len(src) {
			break
		}
		b := p.Bytes()
		c := copy(b, src[n:])
		n += c
		if c < len(b) {
			break
		}
	}
	return n
}

// Flatten materializes the ABD into a single contiguous buffer, used by
// the checksum-verify gate (which must hash a stable view) and by the
// bounce-buffer fallback.
func (a *ABD) Flatten() []byte {
	if a.IsContiguous() {
		return a.ContiguousBytes()
	}
	buf := make([]byte, a.size)
	a.CopyTo(buf)
	return buf
}
