package ir

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegSetUnionSubtractIdentity(t *testing.T) {
	a := RegSetOf(0, 1, 2, 5)
	b := RegSetOf(2, 5, 9)
	// (a ∪ b) \ b == a \ b
	require.Equal(t, a.Subtract(b), a.Union(b).Subtract(b))
}

func TestRegSetIntersectAllocatable(t *testing.T) {
	allocatable := RegSetOf(0, 1, 2, 3, 4)
	a := RegSetOf(3, 4, 5, 6)
	require.True(t, a.Intersect(allocatable).Subtract(allocatable).Empty())
}

func TestRegSetBasics(t *testing.T) {
	s := RegSetOf(1, 3, 5)
	require.True(t, s.Has(1))
	require.False(t, s.Has(2))
	require.Equal(t, 3, s.Count())

	first, ok := s.First()
	require.True(t, ok)
	require.Equal(t, 1, first)

	require.True(t, RegSet(0).Empty())
	require.False(t, s.Empty())

	s2 := s.With(2).Without(1)
	require.True(t, s2.Has(2))
	require.False(t, s2.Has(1))
}
