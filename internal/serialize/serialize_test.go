package serialize_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tcg-go/tcg/internal/ir"
	"github.com/tcg-go/tcg/internal/serialize"
)

func buildSampleContext() *ir.Context {
	ctx := ir.NewContext()
	env := ctx.NewFixed(ir.I64, 5, "env")
	x0 := ctx.NewGlobal(ir.I64, env, 0, "x0")
	x1 := ctx.NewGlobal(ir.I64, env, 8, "x1")

	c42 := ctx.NewConst(ir.I64, 42)
	tmp := ctx.NewTemp(ir.I64)

	idx := ctx.EmitOp(ir.Add, ir.I64)
	op := ctx.Op(idx)
	op.SetOArg(0, tmp)
	op.SetIArg(0, x0)
	op.SetIArg(1, c42)

	movIdx := ctx.EmitOp(ir.Mov, ir.I64)
	mv := ctx.Op(movIdx)
	mv.SetOArg(0, x1)
	mv.SetIArg(0, tmp)

	label := ctx.NewLabel()
	brIdx := ctx.EmitOp(ir.Br, ir.I64)
	ctx.Op(brIdx).SetCArg(0, uint32(label))

	setLblIdx := ctx.EmitOp(ir.SetLabel, ir.I64)
	ctx.Op(setLblIdx).SetCArg(0, uint32(label))

	exitIdx := ctx.EmitOp(ir.ExitTb, ir.I64)
	ctx.Op(exitIdx).SetCArg(0, 3)

	return ctx
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	ctx := buildSampleContext()

	var buf bytes.Buffer
	require.NoError(t, serialize.Serialize(ctx, &buf))

	got, err := serialize.ReadAll(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, got, 1)

	out := got[0]
	require.Equal(t, ctx.NbGlobals(), out.NbGlobals())
	require.Equal(t, len(ctx.Ops()), len(out.Ops()))

	for i := range ctx.Ops() {
		wantOp := &ctx.Ops()[i]
		gotOp := &out.Ops()[i]
		require.Equal(t, wantOp.Opcode, gotOp.Opcode, "op %d opcode", i)
		// Nargs isn't populated on a freshly built Op (only the
		// optimizer sets it, on rewrite); the wire format's own record
		// of it is authoritative, so compare against the Def-derived
		// count both sides agree on instead of the raw field.
		require.Equal(t, wantOp.Def().NbArgs(), gotOp.Nargs, "op %d nargs", i)
		require.Equal(t, wantOp.OArgs(), gotOp.OArgs(), "op %d oargs", i)
		require.Equal(t, wantOp.IArgs(), gotOp.IArgs(), "op %d iargs", i)
		require.Equal(t, wantOp.CArgs(), gotOp.CArgs(), "op %d cargs", i)
	}

	for i, wantTemp := range ctx.Temps() {
		gotTemp := out.Temp(ir.TempIdx(i))
		require.Equal(t, wantTemp.Kind, gotTemp.Kind, "temp %d kind", i)
		require.Equal(t, wantTemp.Type, gotTemp.Type, "temp %d type", i)
		require.Equal(t, wantTemp.Name, gotTemp.Name, "temp %d name", i)
		if wantTemp.Kind == ir.KindConst {
			require.Equal(t, wantTemp.Val, gotTemp.Val, "temp %d const value", i)
		}
	}
}

func TestDeserializeConcatenatedFile(t *testing.T) {
	a := buildSampleContext()
	b := buildSampleContext()

	var buf bytes.Buffer
	require.NoError(t, serialize.Serialize(a, &buf))
	require.NoError(t, serialize.Serialize(b, &buf))

	got, err := serialize.ReadAll(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestDeserializeRejectsBadMagic(t *testing.T) {
	_, err := serialize.ReadAll([]byte{'X', 'X', 'X', 'X'})
	require.Error(t, err)
}
