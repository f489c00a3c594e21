// Package dump renders a Context's IR ops as human-readable text, one
// line per op, with labels printed as `Lk:` and temps formatted per
// their kind.
package dump

import (
	"fmt"
	"io"

	"github.com/tcg-go/tcg/internal/ir"
)

func condName(c uint32) string {
	switch ir.Cond(c) {
	case ir.Never:
		return "never"
	case ir.Always:
		return "always"
	case ir.Eq:
		return "eq"
	case ir.Ne:
		return "ne"
	case ir.Lt:
		return "lt"
	case ir.Ge:
		return "ge"
	case ir.Le:
		return "le"
	case ir.Gt:
		return "gt"
	case ir.Ltu:
		return "ltu"
	case ir.Geu:
		return "geu"
	case ir.Leu:
		return "leu"
	case ir.Gtu:
		return "gtu"
	case ir.TstEq:
		return "tsteq"
	case ir.TstNe:
		return "tstne"
	default:
		return "???"
	}
}

func fmtTemp(ctx *ir.Context, idx ir.TempIdx) string {
	i := int(idx)
	if i < 0 || i >= ctx.NbTemps() {
		return fmt.Sprintf("$0x%x", uint32(idx))
	}
	t := ctx.Temp(idx)
	switch t.Kind {
	case ir.KindConst:
		return fmt.Sprintf("$0x%x", t.Val)
	case ir.KindGlobal:
		if t.Name != "" {
			return t.Name
		}
		return fmt.Sprintf("g%d", i)
	case ir.KindFixed:
		if t.Name != "" {
			return t.Name
		}
		return fmt.Sprintf("fixed(%d)", t.Reg)
	default: // KindEbb, KindTb
		return fmt.Sprintf("tmp%d", i-ctx.NbGlobals())
	}
}

func opName(op *ir.Op) string {
	def := op.Def()
	if op.Opcode.IsIntPolymorphic() {
		switch op.OpType {
		case ir.I32:
			return def.Name + "_i32"
		case ir.I64:
			return def.Name + "_i64"
		}
	}
	return def.Name
}

// AnnotateFunc is called at each guest instruction boundary with
// (pc, writer); implementations may print guest disassembly. A nil
// func annotates nothing.
type AnnotateFunc func(pc uint64, w io.Writer) error

// DumpOps writes ctx's ops to w with no instruction annotation.
func DumpOps(ctx *ir.Context, w io.Writer) error {
	return DumpOpsWith(ctx, w, nil)
}

// DumpOpsWith writes ctx's ops to w, calling anno at each InsnStart
// boundary.
func DumpOpsWith(ctx *ir.Context, w io.Writer, anno AnnotateFunc) error {
	ops := ctx.Ops()
	for i := range ops {
		op := &ops[i]

		switch op.Opcode {
		case ir.InsnStart:
			lo := uint64(op.CArg(0))
			hi := uint64(op.CArg(1))
			pc := (hi << 32) | lo
			if _, err := fmt.Fprintf(w, " ---- 0x%016x", pc); err != nil {
				return err
			}
			if anno != nil {
				if err := anno(pc, w); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprintf(w, "\n insn_start $0x%x\n", pc); err != nil {
				return err
			}
			continue
		case ir.SetLabel:
			if _, err := fmt.Fprintf(w, " L%d:\n", op.CArg(0)); err != nil {
				return err
			}
			continue
		}

		if _, err := fmt.Fprintf(w, " %s", opName(op)); err != nil {
			return err
		}

		oargs := op.OArgs()
		for i, a := range oargs {
			sep := ","
			if i == 0 {
				sep = ""
			}
			if _, err := fmt.Fprintf(w, "%s %s", sep, fmtTemp(ctx, a)); err != nil {
				return err
			}
		}

		iargs := op.IArgs()
		hasOargs := len(oargs) > 0
		for i, a := range iargs {
			sep := ","
			if !hasOargs && i == 0 {
				sep = ""
			}
			if _, err := fmt.Fprintf(w, "%s %s", sep, fmtTemp(ctx, a)); err != nil {
				return err
			}
		}

		cargs := op.CArgs()
		switch op.Opcode {
		case ir.BrCond:
			if _, err := fmt.Fprintf(w, ", %s, L%d", condName(uint32(cargs[0])), cargs[1]); err != nil {
				return err
			}
		case ir.SetCond, ir.NegSetCond, ir.MovCond, ir.CmpVec, ir.CmpselVec:
			if _, err := fmt.Fprintf(w, ", %s", condName(uint32(cargs[0]))); err != nil {
				return err
			}
		case ir.Br:
			if _, err := fmt.Fprintf(w, " L%d", cargs[0]); err != nil {
				return err
			}
		case ir.Call:
			lo := uint64(cargs[0])
			hi := uint64(cargs[1])
			addr := (hi << 32) | lo
			if _, err := fmt.Fprintf(w, ", $0x%x", addr); err != nil {
				return err
			}
		default:
			hasPrev := len(oargs) > 0 || len(iargs) > 0
			for i, c := range cargs {
				sep := ","
				if !hasPrev && i == 0 {
					sep = ""
				}
				if _, err := fmt.Fprintf(w, "%s $0x%x", sep, uint32(c)); err != nil {
					return err
				}
			}
		}

		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}
