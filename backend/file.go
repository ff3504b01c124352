package backend

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// File opens a real block device or regular file node in O_DIRECT mode,
// the production counterpart to Memory. §4.A requires unbuffered mode be
// forced at open time so writes are observable to the checksum-verify
// gate without page-cache interference.
type File struct {
	f    *os.File
	size int64
}

// OpenFile opens path for direct, read-write access and probes its size
// via a seek-to-end (regular files) or BLKGETSIZE64 (block devices,
// handled by the geometry package once full probing runs).
func OpenFile(path string) (*File, error) {
	if len(path) == 0 || path[0] != '/' {
		return nil, fmt.Errorf("zvdev: path %q is not absolute", path)
	}

	flags := os.O_RDWR | unix.O_DIRECT
	f, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	size, err := f.Seek(0, os.SEEK_END)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("seek %s: %w", path, err)
	}
	if _, err := f.Seek(0, os.SEEK_SET); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek %s: %w", path, err)
	}

	return &File{f: f, size: size}, nil
}

func (d *File) Fd() int      { return int(d.f.Fd()) }
func (d *File) Size() int64  { return d.size }
func (d *File) Close() error { return d.f.Close() }
