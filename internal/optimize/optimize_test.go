package optimize_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tcg-go/tcg/internal/ir"
	"github.com/tcg-go/tcg/internal/optimize"
)

func TestFoldZeroMinusXToNeg(t *testing.T) {
	ctx := ir.NewContext()
	zero := ctx.NewConst(ir.I64, 0)
	x := ctx.NewTemp(ir.I64)
	dst := ctx.NewTemp(ir.I64)

	idx := ctx.EmitOp(ir.Sub, ir.I64)
	op := ctx.Op(idx)
	op.SetOArg(0, dst)
	op.SetIArg(0, zero)
	op.SetIArg(1, x)

	optimize.Run(ctx)

	got := ctx.Op(idx)
	require.Equal(t, ir.Neg, got.Opcode)
	require.Equal(t, 2, got.Nargs)
	require.Equal(t, dst, got.OArg(0))
	require.Equal(t, x, got.IArg(0))
}

func TestFoldAndAllOnesToMov(t *testing.T) {
	ctx := ir.NewContext()
	x := ctx.NewTemp(ir.I64)
	allOnes := ctx.NewConst(ir.I64, ^uint64(0))
	dst := ctx.NewTemp(ir.I64)

	idx := ctx.EmitOp(ir.And, ir.I64)
	op := ctx.Op(idx)
	op.SetOArg(0, dst)
	op.SetIArg(0, x)
	op.SetIArg(1, allOnes)

	optimize.Run(ctx)

	got := ctx.Op(idx)
	require.Equal(t, ir.Mov, got.Opcode)
	require.Equal(t, dst, got.OArg(0))
	require.Equal(t, x, got.IArg(0))
}

func TestFoldBrCondConstantsTaken(t *testing.T) {
	ctx := ir.NewContext()
	five := ctx.NewConst(ir.I64, 5)
	label := ctx.NewLabel()

	idx := ctx.EmitOp(ir.BrCond, ir.I64)
	op := ctx.Op(idx)
	op.SetIArg(0, five)
	op.SetIArg(1, five)
	op.SetCArg(0, uint32(ir.Eq))
	op.SetCArg(1, uint32(label))

	optimize.Run(ctx)

	got := ctx.Op(idx)
	require.Equal(t, ir.Br, got.Opcode)
	require.Equal(t, 1, got.Nargs)
	require.Equal(t, label, ir.LabelIdx(got.Args[0]))
}

func TestFoldBrCondConstantsNotTaken(t *testing.T) {
	ctx := ir.NewContext()
	five := ctx.NewConst(ir.I64, 5)
	six := ctx.NewConst(ir.I64, 6)
	label := ctx.NewLabel()

	idx := ctx.EmitOp(ir.BrCond, ir.I64)
	op := ctx.Op(idx)
	op.SetIArg(0, five)
	op.SetIArg(1, six)
	op.SetCArg(0, uint32(ir.Eq))
	op.SetCArg(1, uint32(label))

	optimize.Run(ctx)

	got := ctx.Op(idx)
	require.Equal(t, ir.Nop, got.Opcode)
	require.Equal(t, 0, got.Nargs)
}

var binOpcodes = []ir.Opcode{ir.Add, ir.Sub, ir.Mul, ir.And, ir.Or, ir.Xor}

// buildRandomProgram deterministically builds a DAG of binary ops over a
// small set of free-variable inputs and interspersed constants: every
// destination is a fresh temp, so no temp is ever redefined and the
// dataflow is unambiguous regardless of op order.
func buildRandomProgram(seed int64, nOps int) (*ir.Context, map[ir.TempIdx]uint64) {
	rng := rand.New(rand.NewSource(seed))
	ctx := ir.NewContext()
	env := map[ir.TempIdx]uint64{}
	var locals []ir.TempIdx

	randConst := func() uint64 {
		switch rng.Intn(4) {
		case 0:
			return 0
		case 1:
			return ^uint64(0)
		case 2:
			return 1
		default:
			return uint64(rng.Int63n(1 << 16))
		}
	}

	operand := func() ir.TempIdx {
		if len(locals) == 0 || rng.Intn(3) == 0 {
			return ctx.NewConst(ir.I64, randConst())
		}
		return locals[rng.Intn(len(locals))]
	}

	for i := 0; i < 3; i++ {
		t := ctx.NewTemp(ir.I64)
		env[t] = uint64(rng.Int63())
		locals = append(locals, t)
	}

	for i := 0; i < nOps; i++ {
		a := operand()
		b := operand()
		opcode := binOpcodes[rng.Intn(len(binOpcodes))]
		dst := ctx.NewTemp(ir.I64)

		idx := ctx.EmitOp(opcode, ir.I64)
		op := ctx.Op(idx)
		op.SetOArg(0, dst)
		op.SetIArg(0, a)
		op.SetIArg(1, b)

		locals = append(locals, dst)
	}
	return ctx, env
}

// evalBinary is an independent re-implementation of the safe subset's
// semantics, deliberately not sharing code with the optimizer's own
// evalBinary: the point is to check the optimizer's output against a
// second opinion, not against itself.
func evalBinary(opcode ir.Opcode, a, b uint64, mask uint64) uint64 {
	switch opcode {
	case ir.Add:
		return (a + b) & mask
	case ir.Sub:
		return (a - b) & mask
	case ir.Mul:
		return (a * b) & mask
	case ir.And:
		return a & b & mask
	case ir.Or:
		return (a | b) & mask
	case ir.Xor:
		return (a ^ b) & mask
	default:
		panic(opcode)
	}
}

// evalOps runs ctx's op list forward against initial, returning every
// temp's final value. Reads of a Kind-const temp use its literal value;
// everything else comes from the environment built up by prior writes.
func evalOps(ctx *ir.Context, initial map[ir.TempIdx]uint64) map[ir.TempIdx]uint64 {
	env := make(map[ir.TempIdx]uint64, len(initial))
	for k, v := range initial {
		env[k] = v
	}
	read := func(t ir.TempIdx) uint64 {
		temp := ctx.Temp(t)
		if temp.Kind == ir.KindConst {
			return temp.Val
		}
		return env[t]
	}
	for _, op := range ctx.Ops() {
		switch op.Opcode {
		case ir.Nop:
		case ir.Mov:
			env[op.OArg(0)] = read(op.IArg(0))
		case ir.Neg:
			env[op.OArg(0)] = -read(op.IArg(0)) & op.OpType.Mask()
		case ir.Not:
			env[op.OArg(0)] = ^read(op.IArg(0)) & op.OpType.Mask()
		case ir.Add, ir.Sub, ir.Mul, ir.And, ir.Or, ir.Xor:
			a, b := read(op.IArg(0)), read(op.IArg(1))
			env[op.OArg(0)] = evalBinary(op.Opcode, a, b, op.OpType.Mask())
		default:
			panic(op.Opcode)
		}
	}
	return env
}

func TestOptimizerPreservesSemantics(t *testing.T) {
	for seed := int64(0); seed < 50; seed++ {
		ctxOrig, env := buildRandomProgram(seed, 16)
		ctxOpt, _ := buildRandomProgram(seed, 16)
		optimize.Run(ctxOpt)

		want := evalOps(ctxOrig, env)
		got := evalOps(ctxOpt, env)

		for tmp, wantVal := range want {
			gotVal, ok := got[tmp]
			require.True(t, ok, "seed %d: temp %d missing from optimized eval", seed, tmp)
			require.Equal(t, wantVal, gotVal, "seed %d: temp %d diverged after optimize", seed, tmp)
		}
	}
}
