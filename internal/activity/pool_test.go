package activity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robn/zvdev/internal/poolhandle"
)

func newTestPool(t *testing.T) (*Pool, *poolhandle.Mock) {
	t.Helper()
	m := poolhandle.NewMock()
	leaf := &poolhandle.Vdev{GUID: 1, Type: poolhandle.VdevDisk, Path: "/dev/sda", State: poolhandle.VdevStateOnline, CapacityBytes: 1 << 20}
	root := &poolhandle.Vdev{GUID: 0, Type: poolhandle.VdevRoot, Children: []*poolhandle.Vdev{leaf}}
	m.AddPool("tank", &poolhandle.ConfigTree{Status: poolhandle.PoolStatusOk, Root: root})

	h, err := m.Open("tank")
	require.NoError(t, err)
	return NewPool(m, h), m
}

func TestStartTransitionsToScanning(t *testing.T) {
	p, _ := newTestPool(t)
	require.NoError(t, p.Start(Scrub, StartParams{}))
	require.Equal(t, StateScanning, p.State(Scrub))

	r := p.Snapshot(Scrub)
	require.Equal(t, uint64(1<<20), r.ToExamine)
}

func TestStartWhileScanningIsNoop(t *testing.T) {
	p, _ := newTestPool(t)
	require.NoError(t, p.Start(Scrub, StartParams{}))
	require.NoError(t, p.Start(Scrub, StartParams{}))
	require.Equal(t, StateScanning, p.State(Scrub))
}

func TestScrubAndErrorScrubMutuallyExclusive(t *testing.T) {
	p, _ := newTestPool(t)
	require.NoError(t, p.Start(Scrub, StartParams{}))
	err := p.Start(ErrorScrub, StartParams{})
	require.Error(t, err)
}

func TestCancelWhileNoneIsError(t *testing.T) {
	p, _ := newTestPool(t)
	err := p.Cancel(Trim)
	require.Error(t, err)
}

func TestPauseResumeResetsPassCounters(t *testing.T) {
	p, _ := newTestPool(t)
	require.NoError(t, p.Start(Initialize, StartParams{}))
	p.AdvanceForTesting(Initialize, 100, 100, 0)

	require.NoError(t, p.Pause(Initialize))
	require.Equal(t, StateSuspended, p.State(Initialize))

	require.NoError(t, p.Start(Initialize, StartParams{}))
	r := p.Snapshot(Initialize)
	require.Equal(t, uint64(0), r.PassExamined)
	require.Equal(t, StateScanning, r.State)
}

func TestFaultedPoolRefusesStart(t *testing.T) {
	m := poolhandle.NewMock()
	root := &poolhandle.Vdev{GUID: 0, Type: poolhandle.VdevRoot}
	m.AddPool("tank", &poolhandle.ConfigTree{Status: poolhandle.PoolStatusFaulted, Root: root})
	h, err := m.Open("tank")
	require.NoError(t, err)
	p := NewPool(m, h)

	err = p.Start(Scrub, StartParams{})
	require.Error(t, err)
}

func TestAdvanceFinishesAtToExamine(t *testing.T) {
	p, _ := newTestPool(t)
	require.NoError(t, p.Start(Trim, StartParams{Rate: 0}))
	p.AdvanceForTesting(Trim, 1<<20, 1<<20, 0)
	require.Equal(t, StateFinished, p.State(Trim))
}

func TestRebuildLifecycle(t *testing.T) {
	p, _ := newTestPool(t)
	require.NoError(t, p.StartRebuild(42, 1<<20))
	rr := p.RebuildSnapshot(42)
	require.Equal(t, RebuildActive, rr.State)

	require.NoError(t, p.CancelRebuild(42))
	rr = p.RebuildSnapshot(42)
	require.Equal(t, RebuildCanceled, rr.State)
}

func TestCheckpointLifecycle(t *testing.T) {
	p, _ := newTestPool(t)
	require.NoError(t, p.CreateCheckpoint())
	require.Equal(t, CheckpointExists, p.Checkpoint().State)

	require.NoError(t, p.DiscardCheckpoint())
	require.Equal(t, CheckpointNone, p.Checkpoint().State)

	err := p.DiscardCheckpoint()
	require.Error(t, err)
}

func TestWaitForCheckpointDiscardReturnsImmediatelyWhenNotDiscarding(t *testing.T) {
	p, _ := newTestPool(t)
	require.NoError(t, p.WaitForCheckpointDiscard(time.Time{}))

	require.NoError(t, p.CreateCheckpoint())
	require.NoError(t, p.WaitForCheckpointDiscard(time.Time{}))
}

func TestWaitForCheckpointDiscardTimesOut(t *testing.T) {
	p, _ := newTestPool(t)
	require.NoError(t, p.CreateCheckpoint())

	p.mu.Lock()
	p.checkpoint.State = CheckpointDiscarding
	p.mu.Unlock()

	err := p.WaitForCheckpointDiscard(time.Now().Add(10 * time.Millisecond))
	require.Error(t, err)
}

func TestWaitForCheckpointDiscardWakesOnMarkMissing(t *testing.T) {
	p, _ := newTestPool(t)
	require.NoError(t, p.CreateCheckpoint())

	p.mu.Lock()
	p.checkpoint.State = CheckpointDiscarding
	p.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- p.WaitForCheckpointDiscard(time.Time{}) }()

	time.Sleep(10 * time.Millisecond)
	p.MarkMissing()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitForCheckpointDiscard did not wake on MarkMissing")
	}
}

func TestWaitForActivityWakesOnMarkMissing(t *testing.T) {
	p, _ := newTestPool(t)
	require.NoError(t, p.Start(Scrub, StartParams{}))

	done := make(chan error, 1)
	go func() { done <- p.WaitForActivity(Scrub, time.Time{}) }()

	time.Sleep(10 * time.Millisecond)
	p.MarkMissing()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitForActivity did not wake on MarkMissing")
	}
}

func TestETAGatedByIssueRateAndProgress(t *testing.T) {
	r := &Record{Kind: Scrub, ToExamine: 1 << 30}
	require.Equal(t, "", r.ETA(time.Now()))
}
