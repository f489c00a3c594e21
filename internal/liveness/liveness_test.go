package liveness_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tcg-go/tcg/internal/ir"
	"github.com/tcg-go/tcg/internal/liveness"
)

// TestDeadAfterLastUse checks that a temp read for the last time in a
// program is flagged dead at that read, and not at an earlier one.
func TestDeadAfterLastUse(t *testing.T) {
	ctx := ir.NewContext()
	x := ctx.NewTemp(ir.I64)
	a := ctx.NewTemp(ir.I64)
	b := ctx.NewTemp(ir.I64)

	idx1 := ctx.EmitOp(ir.Mov, ir.I64)
	op1 := ctx.Op(idx1)
	op1.SetOArg(0, a)
	op1.SetIArg(0, x)

	idx2 := ctx.EmitOp(ir.Mov, ir.I64)
	op2 := ctx.Op(idx2)
	op2.SetOArg(0, b)
	op2.SetIArg(0, x)

	liveness.Run(ctx)

	require.False(t, ctx.Op(idx1).Life.IsDead(1), "x is read again after op1, must not be dead there")
	require.True(t, ctx.Op(idx2).Life.IsDead(1), "op2 is x's last use, must be flagged dead")
}

// TestGlobalInputsAlwaysSynced checks that every read of a global temp
// is marked as requiring a memory sync, regardless of basic-block
// boundaries.
func TestGlobalInputsAlwaysSynced(t *testing.T) {
	ctx := ir.NewContext()
	env := ctx.NewFixed(ir.I64, 5, "env")
	g := ctx.NewGlobal(ir.I64, env, 0, "x0")
	dst := ctx.NewTemp(ir.I64)

	idx := ctx.EmitOp(ir.Mov, ir.I64)
	op := ctx.Op(idx)
	op.SetOArg(0, dst)
	op.SetIArg(0, g)

	liveness.Run(ctx)

	require.True(t, ctx.Op(idx).Life.IsSync(1), "reading a global must require a sync")
}

// TestBBEndSyncsAllGlobals checks that a basic-block-ending op (e.g. a
// branch) flags each of its global inputs for a sync.
func TestBBEndSyncsAllGlobals(t *testing.T) {
	ctx := ir.NewContext()
	env := ctx.NewFixed(ir.I64, 5, "env")
	x0 := ctx.NewGlobal(ir.I64, env, 0, "x0")
	x1 := ctx.NewGlobal(ir.I64, env, 8, "x1")

	label := ctx.NewLabel()
	idx := ctx.EmitOp(ir.BrCond, ir.I64)
	op := ctx.Op(idx)
	op.SetIArg(0, x0)
	op.SetIArg(1, x1)
	op.SetCArg(0, uint32(ir.Eq))
	op.SetCArg(1, uint32(label))

	liveness.Run(ctx)

	got := ctx.Op(idx)
	require.True(t, got.Life.IsSync(0))
	require.True(t, got.Life.IsSync(1))
}

// TestOutputArgsClearLiveness checks that an op's own outputs don't
// count as "live before" that op — a temp that is read, then redefined,
// then read again is dead at the first read, since the redefinition
// ends the earlier value's life.
func TestOutputArgsClearLiveness(t *testing.T) {
	ctx := ir.NewContext()
	x := ctx.NewTemp(ir.I64)
	v := ctx.NewTemp(ir.I64)
	y := ctx.NewTemp(ir.I64)
	z := ctx.NewTemp(ir.I64)

	idx0 := ctx.EmitOp(ir.Mov, ir.I64)
	op0 := ctx.Op(idx0)
	op0.SetOArg(0, y)
	op0.SetIArg(0, v)

	idx1 := ctx.EmitOp(ir.Mov, ir.I64)
	op1 := ctx.Op(idx1)
	op1.SetOArg(0, v)
	op1.SetIArg(0, x)

	idx2 := ctx.EmitOp(ir.Mov, ir.I64)
	op2 := ctx.Op(idx2)
	op2.SetOArg(0, z)
	op2.SetIArg(0, v)

	liveness.Run(ctx)

	// op1 writes v, so op2's later read does not keep op0's value alive.
	require.True(t, ctx.Op(idx0).Life.IsDead(1), "v is redefined by op1, so op0's read is its last use")
	// x has exactly one use (op1's own input), so it must be dead there.
	require.True(t, ctx.Op(idx1).Life.IsDead(1))
}
