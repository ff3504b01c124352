package activity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robn/zvdev/internal/poolhandle"
)

func newTrimTestPool(t *testing.T) *Pool {
	t.Helper()
	m := poolhandle.NewMock()
	leaf := &poolhandle.Vdev{GUID: 1, Type: poolhandle.VdevDisk, Path: "/dev/sda", State: poolhandle.VdevStateOnline, CapacityBytes: 4096}
	root := &poolhandle.Vdev{GUID: 0, Type: poolhandle.VdevRoot, Children: []*poolhandle.Vdev{leaf}}
	m.AddPool("tank", &poolhandle.ConfigTree{Status: poolhandle.PoolStatusOk, Root: root})
	h, err := m.Open("tank")
	require.NoError(t, err)
	return NewPool(m, h)
}

func TestIssueTrimChunksUnthrottledFinishes(t *testing.T) {
	p := newTrimTestPool(t)
	require.NoError(t, p.Start(Trim, StartParams{}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, IssueTrimChunks(ctx, p, 1024, 0))
	require.Equal(t, StateFinished, p.State(Trim))
}

func TestIssueTrimChunksNoopWhenNotScanning(t *testing.T) {
	p := newTrimTestPool(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, IssueTrimChunks(ctx, p, 1024, 1024))
	require.Equal(t, StateNone, p.State(Trim))
}

func TestTrimIssuerUnthrottledReturnsImmediately(t *testing.T) {
	issuer := NewTrimIssuer(0)
	require.NoError(t, issuer.WaitChunk(context.Background(), 1<<30))
}

func TestTrimIssuerThrottlesLargeChunk(t *testing.T) {
	issuer := NewTrimIssuer(1024)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := issuer.WaitChunk(ctx, 1<<20)
	require.Error(t, err)
}
