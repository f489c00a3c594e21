package codebuf

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestBuf(t *testing.T) *CodeBuffer {
	t.Helper()
	buf, err := New(8192)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, buf.Close()) })
	return buf
}

func TestOffsetNonDecreasingAcrossEmits(t *testing.T) {
	buf := newTestBuf(t)
	prev := buf.Offset()
	buf.EmitU8(1)
	require.GreaterOrEqual(t, buf.Offset(), prev)
	prev = buf.Offset()
	buf.EmitU32(0xdeadbeef)
	require.GreaterOrEqual(t, buf.Offset(), prev)
	prev = buf.Offset()
	buf.EmitBytes([]byte{1, 2, 3, 4, 5})
	require.GreaterOrEqual(t, buf.Offset(), prev)
}

func TestPatchU32DoesNotMoveOffset(t *testing.T) {
	buf := newTestBuf(t)
	buf.EmitU32(0)
	off := buf.Offset()
	buf.PatchU32(0, 0x12345678)
	require.Equal(t, off, buf.Offset())
	require.Equal(t, uint32(0x12345678), buf.ReadU32(0))
}

func TestRemainingShrinksAsOffsetGrows(t *testing.T) {
	buf := newTestBuf(t)
	cap0 := buf.Remaining()
	buf.EmitU64(0)
	require.Equal(t, cap0-8, buf.Remaining())
}

func TestCapacityIsPageRounded(t *testing.T) {
	buf := newTestBuf(t)
	require.GreaterOrEqual(t, buf.Capacity(), 8192)
	require.Zero(t, buf.Capacity()%os.Getpagesize())
}
