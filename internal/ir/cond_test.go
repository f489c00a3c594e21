package ir

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var allConds = []Cond{
	Never, Always, Eq, Ne, Lt, Ge, Le, Gt, Ltu, Geu, Leu, Gtu, TstEq, TstNe,
}

func TestCondInvertInvolution(t *testing.T) {
	for _, c := range allConds {
		require.Equal(t, c, c.Invert().Invert(), "Invert must be its own inverse for %s", c)
		require.NotEqual(t, c, c.Invert(), "Invert must actually negate %s", c)
	}
}

func TestCondSwapInvolution(t *testing.T) {
	for _, c := range allConds {
		require.Equal(t, c, c.Swap().Swap(), "Swap must be its own inverse for %s", c)
	}
}

func TestCondEvalMatchesInvert(t *testing.T) {
	pairs := [][2]uint64{{5, 5}, {5, 6}, {6, 5}, {0, 0}}
	for _, c := range allConds {
		if c == Never || c == Always {
			continue
		}
		for _, p := range pairs {
			got := c.Eval(p[0], p[1], I64)
			inv := c.Invert().Eval(p[0], p[1], I64)
			require.Equal(t, !got, inv, "%s.Invert() must disagree with %s on (%d,%d)", c, c, p[0], p[1])
		}
	}
}
