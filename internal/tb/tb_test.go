package tb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeTbExitRoundTrip(t *testing.T) {
	cases := []struct {
		srcIdx int
		val    uint64
	}{
		{0, 0},
		{0, 1},
		{7, TbExitNochain},
		{1 << 20, 2},
	}
	for _, c := range cases {
		raw := EncodeTbExit(c.srcIdx, c.val)
		gotIdx, hasSrc, gotVal := DecodeTbExit(raw)
		require.True(t, hasSrc)
		require.Equal(t, c.srcIdx, gotIdx)
		require.Equal(t, c.val, gotVal)
	}
}

func TestDecodeTbExitWithoutSource(t *testing.T) {
	// Values at or above TbExitMax never carry a packed source index,
	// even when EncodeTbExit is called: real exit codes (ECALL=3, etc.)
	// pass straight through.
	raw := EncodeTbExit(5, ExcpECall)
	_, hasSrc, val := DecodeTbExit(raw)
	require.False(t, hasSrc)
	require.EqualValues(t, ExcpECall, val)
}

func TestStoreInsertLookup(t *testing.T) {
	s := NewStore()
	a := New(0x1000, 0)
	b := New(0x2000, 0)

	idxA := s.Insert(a)
	idxB := s.Insert(b)
	require.Equal(t, idxA, a.Idx)
	require.Equal(t, idxB, b.Idx)
	require.NotEqual(t, idxA, idxB)

	require.Same(t, a, s.Lookup(0x1000, 0, 0))
	require.Same(t, b, s.Lookup(0x2000, 0, 0))
	require.Nil(t, s.Lookup(0x3000, 0, 0))

	a.Invalid.Store(true)
	require.Nil(t, s.Lookup(0x1000, 0, 0), "an invalidated block must not be returned by Lookup")
}

func TestStoreHashCollisionChaining(t *testing.T) {
	s := NewStore()
	// Two PCs that hash to the same bucket still resolve independently
	// via the intrusive hashNext chain.
	var collidingPC uint64
	found := false
	for pc := uint64(1); pc < 1<<20; pc++ {
		if Hash(pc, 0) == Hash(0, 0) {
			collidingPC = pc
			found = true
			break
		}
	}
	require.True(t, found, "expected a hash collision within a reasonable search window")
	first := New(0, 0)
	second := New(collidingPC, 0)
	s.Insert(first)
	s.Insert(second)

	require.Same(t, first, s.Lookup(0, 0, 0))
	require.Same(t, second, s.Lookup(collidingPC, 0, 0))
}

func TestJumpCacheInsertLookupRemove(t *testing.T) {
	j := NewJumpCache()
	_, ok := j.Lookup(0x4000)
	require.False(t, ok)

	j.Insert(0x4000, 3)
	idx, ok := j.Lookup(0x4000)
	require.True(t, ok)
	require.Equal(t, 3, idx)

	j.Remove(0x4000, 3)
	_, ok = j.Lookup(0x4000)
	require.False(t, ok)
}

func TestJumpCacheInvalidate(t *testing.T) {
	j := NewJumpCache()
	j.Insert(0x100, 1)
	j.Insert(0x200, 2)
	j.Invalidate()
	_, ok1 := j.Lookup(0x100)
	_, ok2 := j.Lookup(0x200)
	require.False(t, ok1)
	require.False(t, ok2)
}

func TestMaxInsns(t *testing.T) {
	require.Equal(t, 512, MaxInsns(0))
	require.Equal(t, 10, MaxInsns(10))
	require.Equal(t, 512, MaxInsns(CFSingleStep)) // no count bits set
}

func TestJmpDestDefaultsUnchained(t *testing.T) {
	block := New(0x1000, 0)
	require.Equal(t, -1, block.JmpDest(0))
	require.Equal(t, -1, block.JmpDest(1))
	block.SetJmpDest(0, 7)
	require.Equal(t, 7, block.JmpDest(0))
	require.Equal(t, -1, block.JmpDest(1))
}
