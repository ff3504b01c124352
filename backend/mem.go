// Package backend provides leaf-device file implementations that stand in
// for a real block device: a memfd-backed RAM disk for tests and
// development, and a direct-I/O file for production use.
package backend

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Memory is a memfd-backed RAM disk. It exposes a real file descriptor, so
// it can be driven through the same io_uring submission path as a real
// block device, while keeping all data in page cache for fast,
// hardware-independent tests.
type Memory struct {
	fd   int
	size int64
}

// NewMemory creates a memfd-backed RAM disk of the given size.
func NewMemory(size int64) (*Memory, error) {
	fd, err := unix.MemfdCreate("zvdev-mem", 0)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ftruncate: %w", err)
	}
	return &Memory{fd: fd, size: size}, nil
}

// Fd returns the underlying file descriptor.
func (m *Memory) Fd() int { return m.fd }

// Size returns the device's logical size in bytes.
func (m *Memory) Size() int64 { return m.size }

// Close releases the memfd.
func (m *Memory) Close() error {
	if m.fd < 0 {
		return nil
	}
	err := unix.Close(m.fd)
	m.fd = -1
	return err
}
