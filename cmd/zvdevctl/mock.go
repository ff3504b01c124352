package main

import (
	"context"

	"github.com/robn/zvdev/internal/poolhandle"
)

// demoPool builds the canned two-leg mirror topology zvdevctl operates
// against in -mock mode, standing in for a real pool-handle backend the
// way the teacher's cmd/ublk-mem ships against its in-memory backend.
func demoPool(m *poolhandle.Mock, name string) {
	leaf1 := &poolhandle.Vdev{GUID: 1, Type: poolhandle.VdevDisk, Path: "/dev/sda", State: poolhandle.VdevStateOnline, CapacityBytes: 1 << 30}
	leaf2 := &poolhandle.Vdev{GUID: 2, Type: poolhandle.VdevDisk, Path: "/dev/sdb", State: poolhandle.VdevStateOnline, CapacityBytes: 1 << 30}
	mirror := &poolhandle.Vdev{GUID: 10, Type: poolhandle.VdevMirror, Children: []*poolhandle.Vdev{leaf1, leaf2}}
	root := &poolhandle.Vdev{GUID: 0, Type: poolhandle.VdevRoot, Children: []*poolhandle.Vdev{mirror}}
	m.AddPool(name, &poolhandle.ConfigTree{PoolName: name, Status: poolhandle.PoolStatusOk, Root: root})
}

// noopSlotPower implements lifecycle.SlotPower for -mock mode, where
// there's no real enclosure to power-cycle.
type noopSlotPower struct{}

func (noopSlotPower) PowerOn(vdevPath string) error                       { return nil }
func (noopSlotPower) WaitForPath(ctx context.Context, vdevPath string) error { return nil }
