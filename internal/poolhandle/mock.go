package poolhandle

import (
	"fmt"
	"sync"
)

// Mock is an in-memory PoolHandle used by tests and by cmd/zvdevctl's
// -mock demo mode, the same role the teacher's MockBackend plays for the
// byte-slice I/O path.
type Mock struct {
	mu    sync.Mutex
	pools map[string]*mockPool
}

// NewMock returns an empty mock pool layer; call AddPool to seed it.
func NewMock() *Mock {
	return &Mock{pools: make(map[string]*mockPool)}
}

type mockPool struct {
	tree    *ConfigTree
	missing bool
	opened  bool
	refresh int

	triggers []Trigger // history, inspected by tests
}

// mockHandle is the Handle Mock hands back from Open.
type mockHandle struct{ name string }

func (h *mockHandle) Name() string { return h.name }

// AddPool seeds the mock with a named pool and its configuration tree.
// Per-leaf byte capacity comes from each leaf Vdev's CapacityBytes in
// tree.
func (m *Mock) AddPool(name string, tree *ConfigTree) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tree.PoolName = name
	m.pools[name] = &mockPool{tree: tree}
}

// SetMissing marks name as having disappeared, so the next RefreshStats
// reports missing=true (§4.F: "pool disappears between polls").
func (m *Mock) SetMissing(name string, missing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[name]; ok {
		p.missing = missing
	}
}

// SetVdevState mutates the state of the vdev with the given GUID,
// letting tests simulate faults, offlines, or removals mid-test.
func (m *Mock) SetVdevState(name string, guid uint64, state VdevState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[name]
	if !ok {
		return false
	}
	var found bool
	var walk func(*Vdev)
	walk = func(v *Vdev) {
		if v == nil {
			return
		}
		if v.GUID == guid {
			v.State = state
			found = true
		}
		for _, c := range v.Children {
			walk(c)
		}
	}
	walk(p.tree.Root)
	return found
}

// Triggers returns the history of Trigger calls made against name, for
// assertions in internal/activity and internal/lifecycle tests.
func (m *Mock) Triggers(name string) []Trigger {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[name]
	if !ok {
		return nil
	}
	out := make([]Trigger, len(p.triggers))
	copy(out, p.triggers)
	return out
}

func (m *Mock) Open(name string) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[name]
	if !ok {
		return nil, fmt.Errorf("mock pool: no such pool %q", name)
	}
	p.opened = true
	return &mockHandle{name: name}, nil
}

func (m *Mock) Close(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[h.Name()]; ok {
		p.opened = false
	}
	return nil
}

func (m *Mock) RefreshStats(h Handle) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[h.Name()]
	if !ok {
		return true, nil
	}
	p.refresh++
	return p.missing, nil
}

func (m *Mock) GetConfig(h Handle) (*ConfigTree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[h.Name()]
	if !ok {
		return nil, fmt.Errorf("mock pool: no such pool %q", h.Name())
	}
	if p.missing {
		return nil, fmt.Errorf("mock pool: %q is missing", h.Name())
	}
	return p.tree, nil
}

func (m *Mock) ForEachVdev(h Handle, fn func(*Vdev) error) error {
	m.mu.Lock()
	p, ok := m.pools[h.Name()]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("mock pool: no such pool %q", h.Name())
	}
	var walk func(*Vdev) error
	walk = func(v *Vdev) error {
		if v == nil {
			return nil
		}
		if err := fn(v); err != nil {
			return err
		}
		for _, c := range v.Children {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(p.tree.Root)
}

func (m *Mock) ForEachLeafVdev(h Handle, fn func(*Vdev) error) error {
	return m.ForEachVdev(h, func(v *Vdev) error {
		if !v.IsLeaf() {
			return nil
		}
		return fn(v)
	})
}

func (m *Mock) Trigger(h Handle, t Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[h.Name()]
	if !ok {
		return fmt.Errorf("mock pool: no such pool %q", h.Name())
	}
	p.triggers = append(p.triggers, t)
	return nil
}

var _ PoolHandle = (*Mock)(nil)
