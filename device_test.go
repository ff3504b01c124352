package zvdev

import (
	"context"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robn/zvdev/backend"
	"github.com/robn/zvdev/internal/interfaces"
)

func newTestDevice(t *testing.T, size int64) *Device {
	t.Helper()
	f, err := backend.NewMemory(size)
	require.NoError(t, err)

	dev, err := OpenWithFile("/dev/zvdev-test", f, DeviceParams{
		NumQueues:  2,
		QueueDepth: 16,
		Pool:       "testpool",
		Events:     NewEventRing(),
	})
	if err != nil {
		f.Close()
		t.Skipf("io_uring unavailable in this environment: %v", err)
	}
	t.Cleanup(func() { dev.Close() })
	return dev
}

func waitZio(t *testing.T, fn func(ZioCompletion) *Zio, dev *Device) *Zio {
	t.Helper()
	done := make(chan struct{})
	var zio *Zio
	zio = fn(func(z *Zio) { close(done) })
	require.NoError(t, dev.Submit(zio))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("zio did not complete in time")
	}
	return zio
}

func TestDeviceOpenRejectsRelativePath(t *testing.T) {
	_, err := Open("relative/path", DeviceParams{})
	require.Error(t, err)
	require.True(t, IsCode(err, ErrKindBadLabel))
}

func TestDeviceOpenProbesGeometry(t *testing.T) {
	dev := newTestDevice(t, 4<<20)
	geom := dev.Geometry()
	require.Equal(t, int64(4<<20), geom.CapacityBytes)
	require.Equal(t, StateOpen, dev.State())
}

func TestDeviceWriteThenRead(t *testing.T) {
	dev := newTestDevice(t, 1<<20)

	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = byte(i)
	}
	src := NewContiguousABD(payload)

	writeZio := waitZio(t, func(cb ZioCompletion) *Zio {
		return NewWriteZio(dev, 0, src, cb)
	}, dev)
	require.NoError(t, writeZio.Err)

	dst := NewContiguousABD(make([]byte, 512))
	readZio := waitZio(t, func(cb ZioCompletion) *Zio {
		return NewReadZio(dev, 0, dst, cb)
	}, dev)
	require.NoError(t, readZio.Err)
	require.Equal(t, payload, dst.ContiguousBytes())
}

func TestDeviceFlush(t *testing.T) {
	dev := newTestDevice(t, 1<<20)
	zio := waitZio(t, func(cb ZioCompletion) *Zio {
		return NewFlushZio(dev, cb)
	}, dev)
	require.NoError(t, zio.Err)
}

func TestDeviceTrim(t *testing.T) {
	dev := newTestDevice(t, 1<<20)
	zio := waitZio(t, func(cb ZioCompletion) *Zio {
		return NewTrimZio(dev, 0, 4096, 0, cb)
	}, dev)
	require.NoError(t, zio.Err)
}

func TestDeviceSubmitRejectsZioPastCapacity(t *testing.T) {
	dev := newTestDevice(t, 4096)
	dst := NewContiguousABD(make([]byte, 512))
	zio := NewReadZio(dev, 8192, dst, nil)
	err := dev.Submit(zio)
	require.Error(t, err)
	require.True(t, IsCode(err, ErrKindInvariant))
}

func TestDeviceSubmitAfterCloseFails(t *testing.T) {
	dev := newTestDevice(t, 4096)
	require.NoError(t, dev.Close())

	dst := NewContiguousABD(make([]byte, 512))
	zio := NewReadZio(dev, 0, dst, nil)
	err := dev.Submit(zio)
	require.Error(t, err)
	require.True(t, IsCode(err, ErrKindNotPresent))
}

func TestDeviceConcurrentSubmitAcrossQueues(t *testing.T) {
	dev := newTestDevice(t, 4<<20)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			buf := make([]byte, 512)
			buf[0] = byte(i)
			src := NewContiguousABD(buf)

			done := make(chan error, 1)
			zio := NewWriteZio(dev, int64(i)*512, src, func(z *Zio) { done <- z.Err })
			if err := dev.Submit(zio); err != nil {
				errs <- err
				return
			}
			select {
			case err := <-done:
				errs <- err
			case <-time.After(5 * time.Second):
				errs <- context.DeadlineExceeded
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestRetryOpenRetriesENOENTUntilDeadline(t *testing.T) {
	orig := openFileBackend
	defer func() { openFileBackend = orig }()

	calls := 0
	openFileBackend = func(path string) (interfaces.RawFile, error) {
		calls++
		return nil, syscall.ENOENT
	}

	base := 30 * time.Millisecond
	deadline := time.Now().Add(base)
	_, err := retryOpen("/dev/zvdev-test-missing", deadline, base)
	require.Error(t, err)
	require.True(t, IsCode(err, ErrKindTimeout))
	require.Greater(t, calls, 1)
}

func TestRetryOpenENXIOIsFatal(t *testing.T) {
	orig := openFileBackend
	defer func() { openFileBackend = orig }()

	calls := 0
	openFileBackend = func(path string) (interfaces.RawFile, error) {
		calls++
		return nil, syscall.ENXIO
	}

	base := time.Second
	deadline := time.Now().Add(base)
	_, err := retryOpen("/dev/zvdev-test-gone", deadline, base)
	require.Error(t, err)
	require.True(t, errIsErrno(err, syscall.ENXIO))
	require.Equal(t, 1, calls)
}

func TestRetryOpenERESTARTSYSExtendsDeadline(t *testing.T) {
	orig := openFileBackend
	defer func() { openFileBackend = orig }()

	f, err := backend.NewMemory(4096)
	require.NoError(t, err)

	calls := 0
	openFileBackend = func(path string) (interfaces.RawFile, error) {
		calls++
		if calls < 3 {
			return nil, syscall.ERESTARTSYS
		}
		return f, nil
	}

	// A deadline that would already be blown by the time the base backoff
	// schedule reaches its third attempt, if ERESTARTSYS didn't push it out.
	base := 15 * time.Millisecond
	deadline := time.Now().Add(base)
	got, err := retryOpen("/dev/zvdev-test-restart", deadline, base)
	require.NoError(t, err)
	require.Same(t, f, got)
	require.GreaterOrEqual(t, calls, 3)
}

func TestReopenDoublesTimeoutOnResize(t *testing.T) {
	dev := newTestDevice(t, 4<<20)
	dev.params.Tunables = DefaultTunables()
	dev.params.Tunables.SetOpenTimeoutMs(20)

	orig := openFileBackend
	defer func() { openFileBackend = orig }()

	var deadlines []time.Time
	openFileBackend = func(path string) (interfaces.RawFile, error) {
		deadlines = append(deadlines, time.Now())
		return nil, syscall.ENOENT
	}

	start := time.Now()
	err := dev.Reopen(true)
	elapsed := time.Since(start)
	require.Error(t, err)
	require.True(t, IsCode(err, ErrKindTimeout))
	// base timeout is 20ms; resized doubles it to 40ms, not the 10x
	// ERESTARTSYS extension factor (200ms).
	require.Less(t, elapsed, 150*time.Millisecond)
	require.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
}
