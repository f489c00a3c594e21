package dump_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tcg-go/tcg/internal/dump"
	"github.com/tcg-go/tcg/internal/ir"
)

func TestDumpOpsRendersAddAndBranch(t *testing.T) {
	ctx := ir.NewContext()
	x0 := ctx.NewTemp(ir.I64)
	x1 := ctx.NewTemp(ir.I64)
	c42 := ctx.NewConst(ir.I64, 42)

	addIdx := ctx.EmitOp(ir.Add, ir.I64)
	add := ctx.Op(addIdx)
	add.SetOArg(0, x1)
	add.SetIArg(0, x0)
	add.SetIArg(1, c42)

	label := ctx.NewLabel()
	brCondIdx := ctx.EmitOp(ir.BrCond, ir.I64)
	bc := ctx.Op(brCondIdx)
	bc.SetIArg(0, x0)
	bc.SetIArg(1, x1)
	bc.SetCArg(0, uint32(ir.Eq))
	bc.SetCArg(1, uint32(label))

	setLabelIdx := ctx.EmitOp(ir.SetLabel, ir.I64)
	ctx.Op(setLabelIdx).SetCArg(0, uint32(label))

	var buf bytes.Buffer
	require.NoError(t, dump.DumpOps(ctx, &buf))

	out := buf.String()
	require.Contains(t, out, "$0x2a") // 42 in hex
	require.Contains(t, out, "add")
	require.Contains(t, out, "brcond")
	require.Contains(t, out, "eq")
	require.Contains(t, out, "L0:")
}

func TestDumpOpsWithAnnotatesInsnStart(t *testing.T) {
	ctx := ir.NewContext()
	idx := ctx.EmitOp(ir.InsnStart, ir.I64)
	op := ctx.Op(idx)
	op.SetCArg(0, 0x1000)
	op.SetCArg(1, 0)

	var seenPC uint64
	var buf bytes.Buffer
	err := dump.DumpOpsWith(ctx, &buf, func(pc uint64, w io.Writer) error {
		seenPC = pc
		_, err := io.WriteString(w, " ; annotated")
		return err
	})
	require.NoError(t, err)
	require.EqualValues(t, 0x1000, seenPC)

	out := buf.String()
	require.Contains(t, out, "; annotated")
	require.Contains(t, out, "insn_start $0x1000")
}
