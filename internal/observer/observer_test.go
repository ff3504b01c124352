package observer

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robn/zvdev/internal/activity"
	"github.com/robn/zvdev/internal/poolhandle"
)

func newTestPool(t *testing.T) (*activity.Pool, *poolhandle.Mock) {
	t.Helper()
	m := poolhandle.NewMock()
	leaf := &poolhandle.Vdev{GUID: 1, Type: poolhandle.VdevDisk, Path: "/dev/sda", State: poolhandle.VdevStateOnline, CapacityBytes: 1 << 20}
	root := &poolhandle.Vdev{GUID: 0, Type: poolhandle.VdevRoot, Children: []*poolhandle.Vdev{leaf}}
	m.AddPool("tank", &poolhandle.ConfigTree{Status: poolhandle.PoolStatusOk, Root: root})

	h, err := m.Open("tank")
	require.NoError(t, err)
	return activity.NewPool(m, h), m
}

func TestWaitReturnsOnceActivityFinishes(t *testing.T) {
	p, _ := newTestPool(t)
	require.NoError(t, p.Start(activity.Scrub, activity.StartParams{}))

	var wg sync.WaitGroup
	var code int
	wg.Add(1)
	go func() {
		defer wg.Done()
		code = Wait(p, []activity.Kind{activity.Scrub}, 0, Presentation{}, nil, time.Time{})
	}()

	time.Sleep(20 * time.Millisecond)
	p.AdvanceForTesting(activity.Scrub, 1<<20, 1<<20, 0)

	wg.Wait()
	require.Equal(t, 0, code)
}

func TestWaitTimesOut(t *testing.T) {
	p, _ := newTestPool(t)
	require.NoError(t, p.Start(activity.Scrub, activity.StartParams{}))

	code := Wait(p, []activity.Kind{activity.Scrub}, 0, Presentation{}, nil, time.Now().Add(10*time.Millisecond))
	require.Equal(t, 1, code)
}

func TestWaitReturnsImmediatelyWhenAlreadyTerminal(t *testing.T) {
	p, _ := newTestPool(t)
	code := Wait(p, []activity.Kind{activity.Trim}, 0, Presentation{}, nil, time.Time{})
	require.Equal(t, 0, code)
}

func TestStatusThreadPrintsRows(t *testing.T) {
	p, _ := newTestPool(t)
	require.NoError(t, p.Start(activity.Trim, activity.StartParams{}))

	var buf bytes.Buffer
	go func() {
		Wait(p, []activity.Kind{activity.Trim}, 5*time.Millisecond, Presentation{ParsableExact: true}, &buf, time.Time{})
	}()

	time.Sleep(30 * time.Millisecond)
	p.AdvanceForTesting(activity.Trim, 1<<20, 1<<20, 0)
	time.Sleep(20 * time.Millisecond)

	require.NotEmpty(t, buf.String())
}

func TestStatusThreadExitsWhenPoolMissing(t *testing.T) {
	p, m := newTestPool(t)
	require.NoError(t, p.Start(activity.Trim, activity.StartParams{}))
	m.SetMissing("tank", true)

	start := time.Now()
	code := Wait(p, []activity.Kind{activity.Trim}, 5*time.Millisecond, Presentation{}, &bytes.Buffer{}, time.Now().Add(50*time.Millisecond))
	elapsed := time.Since(start)

	// The status thread detects the missing pool on its first poll and
	// marks the pool missing, which wakes the blocked waiter immediately
	// instead of leaving it to sit out the full wait deadline.
	require.Equal(t, 0, code)
	require.Less(t, elapsed, 40*time.Millisecond)
	require.True(t, p.IsMissing())
}
