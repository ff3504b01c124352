package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robn/zvdev/internal/activity"
	"github.com/robn/zvdev/internal/poolhandle"
)

func mirrorPool(t *testing.T) (poolhandle.PoolHandle, poolhandle.Handle, *activity.Pool) {
	t.Helper()
	leaf1 := &poolhandle.Vdev{GUID: 1, Type: poolhandle.VdevDisk, Path: "/dev/sda", State: poolhandle.VdevStateOnline, CapacityBytes: 1 << 20}
	leaf2 := &poolhandle.Vdev{GUID: 2, Type: poolhandle.VdevDisk, Path: "/dev/sdb", State: poolhandle.VdevStateOnline, CapacityBytes: 1 << 20}
	mirror := &poolhandle.Vdev{GUID: 10, Type: poolhandle.VdevMirror, Children: []*poolhandle.Vdev{leaf1, leaf2}}
	root := &poolhandle.Vdev{GUID: 0, Type: poolhandle.VdevRoot, Children: []*poolhandle.Vdev{mirror}}

	m := poolhandle.NewMock()
	m.AddPool("tank", &poolhandle.ConfigTree{Status: poolhandle.PoolStatusOk, Root: root})
	h, err := m.Open("tank")
	require.NoError(t, err)
	return m, h, activity.NewPool(m, h)
}

func TestAttachToMirrorStartsResilver(t *testing.T) {
	ph, h, act := mirrorPool(t)
	res, err := Attach(ph, h, act, 1, "/dev/sdc", AttachOptions{})
	require.NoError(t, err)
	require.Equal(t, ResultOK, res)
	require.Equal(t, activity.StateScanning, act.State(activity.Resilver))
}

func TestAttachUnknownVdevNotFound(t *testing.T) {
	ph, h, act := mirrorPool(t)
	res, err := Attach(ph, h, act, 999, "/dev/sdc", AttachOptions{})
	require.Error(t, err)
	require.Equal(t, ResultNotFound, res)
}

func TestDetachRefusesLastHealthyLeg(t *testing.T) {
	ph, h, _ := mirrorPool(t)
	mock := ph.(*poolhandle.Mock)
	mock.SetVdevState("tank", 2, poolhandle.VdevStateFaulted)

	res, err := Detach(ph, h, 1)
	require.Error(t, err)
	require.Equal(t, ResultBusy, res)
}

func TestDetachSucceedsWithTwoHealthyLegs(t *testing.T) {
	ph, h, _ := mirrorPool(t)
	res, err := Detach(ph, h, 1)
	require.NoError(t, err)
	require.Equal(t, ResultOK, res)
}

func TestRemoveRefusesRaidz(t *testing.T) {
	leaf := &poolhandle.Vdev{GUID: 1, Type: poolhandle.VdevDisk, State: poolhandle.VdevStateOnline}
	raidz := &poolhandle.Vdev{GUID: 10, Type: poolhandle.VdevRaidz, Children: []*poolhandle.Vdev{leaf}}
	root := &poolhandle.Vdev{GUID: 0, Type: poolhandle.VdevRoot, Children: []*poolhandle.Vdev{raidz}}
	m := poolhandle.NewMock()
	m.AddPool("tank", &poolhandle.ConfigTree{Status: poolhandle.PoolStatusOk, Root: root})
	h, err := m.Open("tank")
	require.NoError(t, err)
	act := activity.NewPool(m, h)

	res, err := Remove(m, h, act, 10, RemoveOptions{})
	require.Error(t, err)
	require.Equal(t, ResultNotSupported, res)
}

func TestRemoveStopCancelsActivity(t *testing.T) {
	ph, h, act := mirrorPool(t)
	res, err := Remove(ph, h, act, 1, RemoveOptions{})
	require.NoError(t, err)
	require.Equal(t, ResultOK, res)

	res, err = Remove(ph, h, act, 1, RemoveOptions{Stop: true})
	require.NoError(t, err)
	require.Equal(t, ResultOK, res)
	require.Equal(t, activity.StateCanceled, act.State(activity.Removal))
}

type fakeSlotPower struct{ powered string }

func (f *fakeSlotPower) PowerOn(path string) error { f.powered = path; return nil }
func (f *fakeSlotPower) WaitForPath(ctx context.Context, path string) error { return nil }

func TestOnlinePowersSlotWhenRequested(t *testing.T) {
	ph, h, _ := mirrorPool(t)
	power := &fakeSlotPower{}
	res, err := Online(ph, h, power, 1, OnlineOptions{PowerOn: true})
	require.NoError(t, err)
	require.Equal(t, ResultOK, res)
	require.Equal(t, "/dev/sda", power.powered)
}

func TestOfflineRequiresForceWhenAlreadyOffline(t *testing.T) {
	ph, h, _ := mirrorPool(t)
	mock := ph.(*poolhandle.Mock)
	mock.SetVdevState("tank", 1, poolhandle.VdevStateOffline)

	res, err := Offline(ph, h, 1, OfflineOptions{})
	require.Error(t, err)
	require.Equal(t, ResultRequiresForce, res)

	res, err = Offline(ph, h, 1, OfflineOptions{Force: true})
	require.NoError(t, err)
	require.Equal(t, ResultOK, res)
}

func TestClearErrorsRequiresForceForDryOrExtremeRewind(t *testing.T) {
	ph, h, _ := mirrorPool(t)
	_, err := (ClearOptions{DryRewind: true}).policy()
	require.Error(t, err)

	res, err := ClearErrors(ph, h, nil, ClearOptions{DryRewind: true})
	require.Error(t, err)
	require.Equal(t, ResultInvalidVdev, res)
}

func TestClearErrorsAllLeavesWhenNoneSpecified(t *testing.T) {
	ph, h, _ := mirrorPool(t)
	res, err := ClearErrors(ph, h, nil, ClearOptions{FullRewind: true})
	require.NoError(t, err)
	require.Equal(t, ResultOK, res)
}

func TestLabelWipeRefusesActivePoolWithoutForce(t *testing.T) {
	res, err := LabelWipe(poolhandle.PoolStatusOk, true, LabelWipeOptions{})
	require.Error(t, err)
	require.Equal(t, ResultRequiresForce, res)

	res, err = LabelWipe(poolhandle.PoolStatusOk, true, LabelWipeOptions{Force: true})
	require.NoError(t, err)
	require.Equal(t, ResultOK, res)
}

func TestLabelWipeNeverRequiresForceOutsideAnyPool(t *testing.T) {
	res, err := LabelWipe(poolhandle.PoolStatusOk, false, LabelWipeOptions{})
	require.NoError(t, err)
	require.Equal(t, ResultOK, res)
}
