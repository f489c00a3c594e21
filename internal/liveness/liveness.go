// Package liveness computes per-argument dead/sync bits in a single
// backward pass over a Context's ops, feeding the register allocator's
// free-on-death and global-sync decisions.
package liveness

import "github.com/tcg-go/tcg/internal/ir"

// Run walks ctx.Ops() backward, setting each op's Life bits and
// OutputPref hints.
func Run(ctx *ir.Context) {
	ops := ctx.Ops()
	live := make(map[ir.TempIdx]bool)

	// Globals are live-out of the TB (their memory copy must reflect
	// any register write before the TB can exit), so mark them live
	// from the start of the backward pass.
	for i := range ctx.Globals() {
		live[ir.TempIdx(i)] = true
	}

	for i := len(ops) - 1; i >= 0; i-- {
		op := &ops[i]
		d := op.Def()

		for _, o := range op.OArgs() {
			delete(live, o)
		}

		for slot, iv := range op.IArgs() {
			if !live[iv] {
				op.Life = op.Life.WithDead(d.NbOArgs + slot)
			}
			live[iv] = true
		}

		if d.Flags.Has(ir.BBEnd) {
			// All globals must be in memory by this boundary: flag
			// every global input as requiring a sync, and treat every
			// global as live going further back (it may be read
			// again before its next definition).
			for gi := range ctx.Globals() {
				g := ir.TempIdx(gi)
				live[g] = true
				for slot, iv := range op.IArgs() {
					if iv == g {
						op.Life = op.Life.WithSync(d.NbOArgs + slot)
					}
				}
			}
		} else {
			for slot, iv := range op.IArgs() {
				t := ctx.Temp(iv)
				if t.Kind == ir.KindGlobal {
					op.Life = op.Life.WithSync(d.NbOArgs + slot)
				}
			}
		}

		for k := range op.OArgs() {
			op.OutputPref[k] = 0
		}
	}
}
