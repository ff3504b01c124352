package poolhandle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleTree() *ConfigTree {
	leaf1 := &Vdev{GUID: 1, Type: VdevDisk, Path: "/dev/sda", State: VdevStateOnline, CapacityBytes: 1 << 30}
	leaf2 := &Vdev{GUID: 2, Type: VdevDisk, Path: "/dev/sdb", State: VdevStateOnline, CapacityBytes: 1 << 30}
	mirror := &Vdev{GUID: 10, Type: VdevMirror, Children: []*Vdev{leaf1, leaf2}, TopLevelIndex: 0}
	root := &Vdev{GUID: 0, Type: VdevRoot, Children: []*Vdev{mirror}}
	return &ConfigTree{Status: PoolStatusOk, Root: root}
}

func TestMockOpenGetConfig(t *testing.T) {
	m := NewMock()
	m.AddPool("tank", sampleTree())

	h, err := m.Open("tank")
	require.NoError(t, err)
	require.Equal(t, "tank", h.Name())

	tree, err := m.GetConfig(h)
	require.NoError(t, err)
	require.Equal(t, PoolStatusOk, tree.Status)
}

func TestMockOpenUnknownPool(t *testing.T) {
	m := NewMock()
	_, err := m.Open("nonexistent")
	require.Error(t, err)
}

func TestMockForEachLeafVdev(t *testing.T) {
	m := NewMock()
	m.AddPool("tank", sampleTree())
	h, err := m.Open("tank")
	require.NoError(t, err)

	var paths []string
	err = m.ForEachLeafVdev(h, func(v *Vdev) error {
		paths = append(paths, v.Path)
		return nil
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"/dev/sda", "/dev/sdb"}, paths)
}

func TestMockRefreshStatsMissing(t *testing.T) {
	m := NewMock()
	m.AddPool("tank", sampleTree())
	h, err := m.Open("tank")
	require.NoError(t, err)

	missing, err := m.RefreshStats(h)
	require.NoError(t, err)
	require.False(t, missing)

	m.SetMissing("tank", true)
	missing, err = m.RefreshStats(h)
	require.NoError(t, err)
	require.True(t, missing)

	_, err = m.GetConfig(h)
	require.Error(t, err)
}

func TestMockSetVdevState(t *testing.T) {
	m := NewMock()
	m.AddPool("tank", sampleTree())
	ok := m.SetVdevState("tank", 1, VdevStateFaulted)
	require.True(t, ok)

	h, err := m.Open("tank")
	require.NoError(t, err)
	tree, err := m.GetConfig(h)
	require.NoError(t, err)
	require.Equal(t, VdevStateFaulted, tree.Root.Children[0].Children[0].State)
}

func TestMockTriggerRecordsHistory(t *testing.T) {
	m := NewMock()
	m.AddPool("tank", sampleTree())
	h, err := m.Open("tank")
	require.NoError(t, err)

	require.NoError(t, m.Trigger(h, Trigger{Kind: TriggerScrub, Command: CommandStart}))
	triggers := m.Triggers("tank")
	require.Len(t, triggers, 1)
	require.Equal(t, TriggerScrub, triggers[0].Kind)
	require.Equal(t, CommandStart, triggers[0].Command)
}
