package zvdev

import (
	"sync"
	"time"
)

// EventClass identifies the ereport class of an Event, mirroring the
// "ereport.fs.zfs.*" taxonomy named in §6.3.
type EventClass string

const (
	EventClassDioVerify EventClass = "ereport.fs.zfs.dio_verify"
	EventClassIoError   EventClass = "ereport.fs.zfs.io"
)

// Event is a single record on the event ring (§6.3). Not every field
// applies to every class: DIO_VERIFY events populate ExpectedHash,
// ComputedHash, Offset, Size; generic I/O error events populate
// VdevState and AuxCode instead.
type Event struct {
	TimestampSec  int64
	TimestampNsec int64
	Class         EventClass
	Pool          string
	VdevPath      string
	Offset        int64
	Size          int64
	ExpectedHash  [32]byte
	ComputedHash  [32]byte
	Error         int32

	VdevState VdevState
	AuxCode   string
}

// EventRing is the unbounded in-memory event queue described in §6.3:
// consumers read events in timestamp (i.e. enqueue) order, and may Clear
// it to empty the ring and learn how many records were discarded.
type EventRing struct {
	mu     sync.Mutex
	events []Event
}

// NewEventRing returns an empty event ring.
func NewEventRing() *EventRing {
	return &EventRing{}
}

// Push appends an event to the ring.
func (r *EventRing) Push(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// PushDioVerify records a §4.D checksum-verify mismatch.
func (r *EventRing) PushDioVerify(pool, vdevPath string, offset, size int64, expected, computed [32]byte, when time.Time) {
	r.Push(Event{
		TimestampSec:  when.Unix(),
		TimestampNsec: int64(when.Nanosecond()),
		Class:         EventClassDioVerify,
		Pool:          pool,
		VdevPath:      vdevPath,
		Offset:        offset,
		Size:          size,
		ExpectedHash:  expected,
		ComputedHash:  computed,
		Error:         0,
	})
}

// PushIoError records a generic I/O error event.
func (r *EventRing) PushIoError(pool, vdevPath string, state VdevState, auxCode string, when time.Time) {
	r.Push(Event{
		TimestampSec:  when.Unix(),
		TimestampNsec: int64(when.Nanosecond()),
		Class:         EventClassIoError,
		Pool:          pool,
		VdevPath:      vdevPath,
		VdevState:     state,
		AuxCode:       auxCode,
	})
}

// Snapshot returns a copy of the ring's current contents in enqueue order.
func (r *EventRing) Snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Clear empties the ring and returns the number of records discarded.
func (r *EventRing) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.events)
	r.events = nil
	return n
}

// VdevState is the externally-visible health state of a vdev, attached to
// generic I/O error events (§6.3) and consulted by lifecycle operations
// (§4.G).
type VdevState int

const (
	VdevStateUnknown VdevState = iota
	VdevStateOnline
	VdevStateDegraded
	VdevStateFaulted
	VdevStateOffline
	VdevStateRemoved
	VdevStateCantOpen
)

func (s VdevState) String() string {
	switch s {
	case VdevStateOnline:
		return "ONLINE"
	case VdevStateDegraded:
		return "DEGRADED"
	case VdevStateFaulted:
		return "FAULTED"
	case VdevStateOffline:
		return "OFFLINE"
	case VdevStateRemoved:
		return "REMOVED"
	case VdevStateCantOpen:
		return "UNAVAIL"
	default:
		return "UNKNOWN"
	}
}
