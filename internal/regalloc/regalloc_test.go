package regalloc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tcg-go/tcg/internal/codebuf"
	"github.com/tcg-go/tcg/internal/ir"
	"github.com/tcg-go/tcg/internal/liveness"
	"github.com/tcg-go/tcg/internal/optimize"
	"github.com/tcg-go/tcg/internal/regalloc"
	"github.com/tcg-go/tcg/internal/x86"
)

func newBuf(t *testing.T) *codebuf.CodeBuffer {
	t.Helper()
	buf, err := codebuf.New(4096)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, buf.Close()) })
	return buf
}

// TestRegallocEmitsCodeForAddChain builds dst = (x0 + 1) + x1 over two
// globals and asserts the allocator runs to completion, emits a
// nonempty instruction stream, and leaves both globals synced back to
// memory by the time the TB exits (required since nothing outside the
// generated code can see a register).
func TestRegallocEmitsCodeForAddChain(t *testing.T) {
	be := x86.New()
	ctx := ir.NewContext()
	be.InitContext(ctx)

	x0 := ctx.NewGlobal(ir.I64, ir.TempIdx(0), 0, "x0")
	x1 := ctx.NewGlobal(ir.I64, ir.TempIdx(0), 8, "x1")
	one := ctx.NewConst(ir.I64, 1)
	tmp := ctx.NewTemp(ir.I64)

	addIdx := ctx.EmitOp(ir.Add, ir.I64)
	add := ctx.Op(addIdx)
	add.SetOArg(0, tmp)
	add.SetIArg(0, x0)
	add.SetIArg(1, one)

	add2Idx := ctx.EmitOp(ir.Add, ir.I64)
	add2 := ctx.Op(add2Idx)
	add2.SetOArg(0, x1)
	add2.SetIArg(0, tmp)
	add2.SetIArg(1, x1)

	exitIdx := ctx.EmitOp(ir.ExitTb, ir.I64)
	ctx.Op(exitIdx).SetCArg(0, 0)

	optimize.Run(ctx)
	liveness.Run(ctx)

	buf := newBuf(t)
	_, commonTail := be.EmitEpilogue(buf)
	zeroReturn := 0

	startOffset := buf.Offset()
	regalloc.RegallocAndCodegen(ctx, be, buf, zeroReturn, commonTail)

	require.Greater(t, buf.Offset(), startOffset, "regalloc must emit at least one instruction")

	require.True(t, ctx.Temp(x0).MemCoherent, "x0 is only read, so its memory copy must still be current")
	gotX1 := ctx.Temp(x1)
	require.True(t, gotX1.MemCoherent, "x1 must be synced back to memory before exit_tb")
}

// TestRegallocHonorsFixedRegisterConstraints builds a DivU, whose x86
// constraint pins its dividend and its quotient output to RAX (the Rem
// ops pin their output to RDX instead), and checks the allocator
// actually lands the output in the register the constraint demands.
func TestRegallocHonorsFixedRegisterConstraints(t *testing.T) {
	be := x86.New()
	ctx := ir.NewContext()
	be.InitContext(ctx)

	a := ctx.NewGlobal(ir.I64, ir.TempIdx(0), 0, "a")
	b := ctx.NewGlobal(ir.I64, ir.TempIdx(0), 8, "b")
	q := ctx.NewTemp(ir.I64)

	idx := ctx.EmitOp(ir.DivU, ir.I64)
	op := ctx.Op(idx)
	op.SetOArg(0, q)
	op.SetIArg(0, a)
	op.SetIArg(1, b)

	exitIdx := ctx.EmitOp(ir.ExitTb, ir.I64)
	ctx.Op(exitIdx).SetCArg(0, 0)

	liveness.Run(ctx)

	buf := newBuf(t)
	_, commonTail := be.EmitEpilogue(buf)

	regalloc.RegallocAndCodegen(ctx, be, buf, 0, commonTail)

	qt := ctx.Temp(q)
	require.Equal(t, x86.RAX, qt.Reg, "DivU's quotient output must land in RAX per the x86 constraint")
}
