package zvdev

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContiguousABD(t *testing.T) {
	buf := []byte("hello world")
	a := NewContiguousABD(buf)

	assert.True(t, a.IsContiguous())
	assert.Equal(t, len(buf), a.Size())
	assert.Equal(t, buf, a.ContiguousBytes())
	assert.Equal(t, buf, a.Flatten())
}

func TestScatterABD(t *testing.T) {
	p1 := make([]byte, 16)
	p2 := make([]byte, 16)
	copy(p1, bytes.Repeat([]byte{0xAA}, 16))
	copy(p2, bytes.Repeat([]byte{0xBB}, 16))

	a := NewScatterABD([]Page{
		{Data: p1, Offset: 4, Length: 8},
		{Data: p2, Offset: 0, Length: 16},
	})

	require.False(t, a.IsContiguous())
	assert.Equal(t, 24, a.Size())
	assert.Panics(t, func() { a.ContiguousBytes() })

	flat := a.Flatten()
	assert.Len(t, flat, 24)
	assert.Equal(t, bytes.Repeat([]byte{0xAA}, 8), flat[:8])
	assert.Equal(t, bytes.Repeat([]byte{0xBB}, 16), flat[8:])
}

func TestABDCopyToPartialDestination(t *testing.T) {
	a := NewScatterABD([]Page{
		{Data: []byte("abcd"), Offset: 0, Length: 4},
		{Data: []byte("efgh"), Offset: 0, Length: 4},
	})

	dst := make([]byte, 6)
	n := a.CopyTo(dst)

	assert.Equal(t, 6, n)
	assert.Equal(t, "abcdef", string(dst))
}

func TestABDCopyFromRoundTrip(t *testing.T) {
	dest := make([]byte, 20)
	a := NewScatterABD([]Page{
		{Data: dest[0:10], Offset: 0, Length: 10},
		{Data: dest[10:20], Offset: 0, Length: 10},
	})

	src := bytes.Repeat([]byte{0x42}, 20)
	n := a.CopyFrom(src)

	assert.Equal(t, 20, n)
	assert.Equal(t, src, a.Flatten())
}

func TestPageBytes(t *testing.T) {
	p := Page{Data: []byte("0123456789"), Offset: 2, Length: 5}
	assert.Equal(t, "23456", string(p.Bytes()))
}
