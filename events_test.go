package zvdev

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventRingPushAndSnapshotOrder(t *testing.T) {
	r := NewEventRing()
	now := time.Unix(1000, 0)

	r.PushDioVerify("tank", "/dev/sda1", 4096, 512, [32]byte{1}, [32]byte{2}, now)
	r.PushIoError("tank", "/dev/sdb1", VdevStateDegraded, "ENXIO", now.Add(time.Second))

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, EventClassDioVerify, snap[0].Class)
	assert.Equal(t, "tank", snap[0].Pool)
	assert.Equal(t, int64(4096), snap[0].Offset)
	assert.Equal(t, EventClassIoError, snap[1].Class)
	assert.Equal(t, VdevStateDegraded, snap[1].VdevState)
}

func TestEventRingClearReturnsCount(t *testing.T) {
	r := NewEventRing()
	r.Push(Event{Class: EventClassIoError})
	r.Push(Event{Class: EventClassIoError})

	n := r.Clear()
	assert.Equal(t, 2, n)
	assert.Empty(t, r.Snapshot())

	assert.Equal(t, 0, r.Clear())
}

func TestEventRingSnapshotIsCopy(t *testing.T) {
	r := NewEventRing()
	r.Push(Event{Pool: "tank"})

	snap := r.Snapshot()
	snap[0].Pool = "mutated"

	assert.Equal(t, "tank", r.Snapshot()[0].Pool)
}

func TestVdevStateString(t *testing.T) {
	assert.Equal(t, "ONLINE", VdevStateOnline.String())
	assert.Equal(t, "FAULTED", VdevStateFaulted.String())
	assert.Equal(t, "UNKNOWN", VdevState(99).String())
}
