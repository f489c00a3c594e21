// Package regalloc implements the constraint-driven linear-scan-free
// register allocator: it walks a translated Context's op list once,
// in order, choosing host registers for each temp as it's consumed or
// produced and emitting host code immediately through a backend.
// HostCodeGen. There is no separate scheduling pass; allocation and
// code generation are the same pass, mirroring QEMU's tcg_reg_alloc_op.
package regalloc

import (
	"github.com/tcg-go/tcg/internal/backend"
	"github.com/tcg-go/tcg/internal/codebuf"
	"github.com/tcg-go/tcg/internal/ir"
	"github.com/tcg-go/tcg/internal/tb"
)

// state tracks which host register holds which temp, and which
// registers are currently free.
type state struct {
	regToTemp   [64]ir.TempIdx
	regOccupied ir.RegSet
	freeRegs    ir.RegSet
	allocatable ir.RegSet
}

const noTemp = ir.TempIdx(-1)

func newState(allocatable ir.RegSet) *state {
	s := &state{freeRegs: allocatable, allocatable: allocatable}
	for i := range s.regToTemp {
		s.regToTemp[i] = noTemp
	}
	return s
}

func (s *state) freeReg(reg int) {
	s.regToTemp[reg] = noTemp
	s.regOccupied = s.regOccupied.Without(reg)
	if s.allocatable.Has(reg) {
		s.freeRegs = s.freeRegs.With(reg)
	}
}

func (s *state) assign(reg int, tidx ir.TempIdx) {
	s.regToTemp[reg] = tidx
	s.regOccupied = s.regOccupied.With(reg)
	s.freeRegs = s.freeRegs.Without(reg)
}

// evictReg evicts reg's current occupant: globals/fixed temps sync to
// memory, locals move to another free register.
func evictReg(ctx *ir.Context, s *state, be backend.HostCodeGen, buf *codebuf.CodeBuffer, reg int) {
	tidx := s.regToTemp[reg]
	if tidx == noTemp {
		return
	}
	t := ctx.Temp(tidx)
	if t.Kind == ir.KindGlobal || t.Kind == ir.KindFixed {
		tempSync(ctx, be, buf, tidx)
		t.ValType = ir.Mem
		t.Reg = 0
		t.MemCoherent = true
		s.freeReg(reg)
		return
	}
	ty := t.Type
	free, ok := s.freeRegs.Without(reg).First()
	if !ok {
		panic("regalloc: no free register for eviction")
	}
	be.TcgOutMov(buf, ty, free, reg)
	s.freeReg(reg)
	s.assign(free, tidx)
	t.Reg = free
}

// regAlloc picks a register from required&allocatable, excluding
// forbidden, preferring preferred, evicting an occupant if necessary.
func regAlloc(ctx *ir.Context, s *state, be backend.HostCodeGen, buf *codebuf.CodeBuffer, required, forbidden, preferred ir.RegSet) int {
	candidates := required.Intersect(s.allocatable).Subtract(forbidden)

	if r, ok := candidates.Intersect(s.freeRegs).Intersect(preferred).First(); ok {
		return r
	}
	if r, ok := candidates.Intersect(s.freeRegs).First(); ok {
		return r
	}
	if r, ok := candidates.First(); ok {
		evictReg(ctx, s, be, buf, r)
		return r
	}
	forced := required.Intersect(s.allocatable)
	r, ok := forced.First()
	if !ok {
		panic("regalloc: no candidate register for allocation")
	}
	evictReg(ctx, s, be, buf, r)
	return r
}

// tempLoadTo loads tidx into a register satisfying the constraint and
// returns that register.
func tempLoadTo(ctx *ir.Context, s *state, be backend.HostCodeGen, buf *codebuf.CodeBuffer, tidx ir.TempIdx, required, forbidden, preferred ir.RegSet) int {
	t := ctx.Temp(tidx)
	switch t.ValType {
	case ir.Reg:
		cur := t.Reg
		if required.Has(cur) && !forbidden.Has(cur) {
			return cur
		}
		ty := t.Type
		dst := regAlloc(ctx, s, be, buf, required, forbidden, preferred)
		be.TcgOutMov(buf, ty, dst, cur)
		s.freeReg(cur)
		s.assign(dst, tidx)
		t.Reg = dst
		return dst

	case ir.ConstVal:
		val, ty := t.Val, t.Type
		reg := regAlloc(ctx, s, be, buf, required, forbidden, preferred)
		s.assign(reg, tidx)
		be.TcgOutMovi(buf, ty, reg, val)
		t.ValType = ir.Reg
		t.Reg = reg
		return reg

	case ir.Mem:
		ty := t.Type
		reg := regAlloc(ctx, s, be, buf, required, forbidden, preferred)
		s.assign(reg, tidx)
		if t.MemBase != noTemp {
			baseReg := ctx.Temp(t.MemBase).Reg
			be.TcgOutLd(buf, ty, reg, baseReg, t.MemOffset)
		}
		t.ValType = ir.Reg
		t.Reg = reg
		t.MemCoherent = true
		return reg

	default: // ir.Dead
		panic("regalloc: temp_load_to on dead temp")
	}
}

// tempSync writes a temp's register value back to its backing memory,
// if it isn't already coherent.
func tempSync(ctx *ir.Context, be backend.HostCodeGen, buf *codebuf.CodeBuffer, tidx ir.TempIdx) {
	t := ctx.Temp(tidx)
	if t.MemCoherent {
		return
	}
	if t.ValType == ir.Reg && t.MemBase != noTemp {
		baseReg := ctx.Temp(t.MemBase).Reg
		be.TcgOutSt(buf, t.Type, t.Reg, baseReg, t.MemOffset)
	}
}

// syncGlobals writes every live, incoherent global/fixed temp back to
// memory. Required before any op that can exit the TB or branch away,
// since globals must be observable from outside the generated code.
func syncGlobals(ctx *ir.Context, be backend.HostCodeGen, buf *codebuf.CodeBuffer) {
	for i := 0; i < ctx.NbGlobals(); i++ {
		tidx := ir.TempIdx(i)
		t := ctx.Temp(tidx)
		if t.ValType == ir.Reg && !t.MemCoherent {
			tempSync(ctx, be, buf, tidx)
			t.MemCoherent = true
		}
	}
}

// tempDead releases a temp's register (locals only; globals/fixed
// temps keep their residence across ops) and marks it dead.
func tempDead(ctx *ir.Context, s *state, tidx ir.TempIdx) {
	t := ctx.Temp(tidx)
	if t.Kind == ir.KindGlobal || t.Kind == ir.KindFixed {
		return
	}
	if t.ValType == ir.Reg {
		s.freeReg(t.Reg)
	}
	t.ValType = ir.Dead
	t.Reg = 0
}

// regallocOp is the generic constraint-driven path shared by every
// opcode without bespoke BB-exit handling: load inputs (reusing a
// register for an aliased, dying input where possible), free dead
// inputs, allocate outputs (honoring alias/newreg), emit, then free
// dead outputs.
func regallocOp(ctx *ir.Context, s *state, be backend.HostCodeGen, buf *codebuf.CodeBuffer, op *ir.Op) {
	def := op.Def()
	nbO, nbI, nbC := def.NbOArgs, def.NbIArgs, def.NbCArgs
	ct := be.OpConstraint(op.Opcode)
	life := op.Life

	var iRegs [ir.MaxOpArgs]int
	var iReusable [ir.MaxOpArgs]bool
	iAllocated := ir.RegSet(0)

	for i := 0; i < nbI; i++ {
		argCt := ct.Args[nbO+i]
		tidx := op.Args[nbO+i]
		required := argCt.Regs
		isDead := life.IsDead(nbO + i)
		t := ctx.Temp(tidx)
		isReadonly := t.Kind == ir.KindGlobal || t.Kind == ir.KindFixed || t.Kind == ir.KindConst

		if argCt.IAlias && isDead && !isReadonly {
			preferred := op.OutputPref[argCt.AliasIndex]
			reg := tempLoadTo(ctx, s, be, buf, tidx, required, iAllocated, preferred)
			iRegs[i] = reg
			iAllocated = iAllocated.With(reg)
			iReusable[i] = true
		} else {
			reg := tempLoadTo(ctx, s, be, buf, tidx, required, iAllocated, ir.RegSet(0))
			iRegs[i] = reg
			iAllocated = iAllocated.With(reg)
		}
	}

	// A later input's fixed-register constraint may have evicted an
	// earlier input out of the register we recorded for it; re-read.
	iAllocated = ir.RegSet(0)
	for i := 0; i < nbI; i++ {
		t := ctx.Temp(op.Args[nbO+i])
		if t.ValType == ir.Reg {
			iRegs[i] = t.Reg
			iAllocated = iAllocated.With(t.Reg)
		}
	}

	for i := 0; i < nbI; i++ {
		if life.IsDead(nbO + i) {
			tempDead(ctx, s, op.Args[nbO+i])
		}
	}

	var oRegs [ir.MaxOpArgs]int
	oAllocated := ir.RegSet(0)
	for k := 0; k < nbO; k++ {
		argCt := ct.Args[k]
		dstIdx := op.Args[k]

		var reg int
		switch {
		case argCt.OAlias:
			ai := argCt.AliasIndex
			if iReusable[ai] {
				reg = iRegs[ai]
			} else {
				oldReg := iRegs[ai]
				srcIdx := op.Args[nbO+ai]
				srcT := ctx.Temp(srcIdx)
				ty := srcT.Type
				copyReg := regAlloc(ctx, s, be, buf, s.allocatable, iAllocated.Union(oAllocated), ir.RegSet(0))
				be.TcgOutMov(buf, ty, copyReg, oldReg)
				s.assign(copyReg, srcIdx)
				srcT.Reg = copyReg
				reg = oldReg
			}
		case argCt.NewReg:
			reg = regAlloc(ctx, s, be, buf, argCt.Regs, iAllocated.Union(oAllocated), ir.RegSet(0))
		default:
			reg = regAlloc(ctx, s, be, buf, argCt.Regs, oAllocated, ir.RegSet(0))
		}

		s.assign(reg, dstIdx)
		t := ctx.Temp(dstIdx)
		t.ValType = ir.Reg
		t.Reg = reg
		t.MemCoherent = false
		oRegs[k] = reg
		oAllocated = oAllocated.With(reg)
	}

	cargs := make([]uint32, nbC)
	for i := 0; i < nbC; i++ {
		cargs[i] = op.CArg(i)
	}

	be.TcgOutOp(buf, op, oRegs[:nbO], iRegs[:nbI], cargs)

	for k := 0; k < nbO; k++ {
		if life.IsDead(k) {
			tempDead(ctx, s, op.Args[k])
		}
	}

	for i := 0; i < nbI; i++ {
		if life.IsSync(nbO + i) {
			tidx := op.Args[nbO+i]
			tempSync(ctx, be, buf, tidx)
			ctx.Temp(tidx).MemCoherent = true
		}
	}
}

// RegallocAndCodegen walks ctx's ops in order, allocating host
// registers and emitting code through be into buf. zeroReturn and
// commonTail are the SharedState's epilogue entry points, as returned
// by the one-time EmitEpilogue call. ctx's temps carry their final
// residence (register or memory) when this returns.
func RegallocAndCodegen(ctx *ir.Context, be backend.HostCodeGen, buf *codebuf.CodeBuffer, zeroReturn, commonTail int) {
	allocatable := be.Allocatable()
	s := newState(allocatable)

	for i := 0; i < ctx.NbGlobals(); i++ {
		tidx := ir.TempIdx(i)
		t := ctx.Temp(tidx)
		if t.Kind == ir.KindFixed {
			s.assign(t.Reg, tidx)
		}
	}

	for oi := 0; oi < ctx.NumOps(); oi++ {
		op := ctx.Op(ir.OpIdx(oi))

		switch op.Opcode {
		case ir.Nop, ir.InsnStart, ir.Discard:
			continue

		case ir.Mov:
			dstIdx, srcIdx := op.Args[0], op.Args[1]
			life := op.Life
			srcReg := tempLoadTo(ctx, s, be, buf, srcIdx, allocatable, ir.RegSet(0), ir.RegSet(0))
			if life.IsDead(1) {
				tempDead(ctx, s, srcIdx)
			}
			dstReg := regAlloc(ctx, s, be, buf, allocatable, ir.RegSet(0), ir.RegSet(0))
			s.assign(dstReg, dstIdx)
			t := ctx.Temp(dstIdx)
			t.ValType = ir.Reg
			t.Reg = dstReg
			t.MemCoherent = false
			if dstReg != srcReg {
				be.TcgOutMov(buf, op.OpType, dstReg, srcReg)
			}
			if life.IsDead(0) {
				tempDead(ctx, s, dstIdx)
			}

		case ir.SetLabel:
			labelID := ir.LabelIdx(op.CArg(0))
			syncGlobals(ctx, be, buf)
			offset := buf.Offset()
			label := ctx.Label(labelID)
			label.HasValue = true
			label.Value = offset
			uses := label.Uses
			label.Uses = nil
			for _, u := range uses {
				be.PatchJump(buf, u.Offset, offset)
			}

		case ir.Br:
			labelID := ir.LabelIdx(op.CArg(0))
			syncGlobals(ctx, be, buf)
			label := ctx.Label(labelID)
			ph := be.EmitBr(buf, label.HasValue, label.Value)
			if !label.HasValue {
				label.AddUse(ph, ir.Rel32)
			}

		case ir.ExitTb:
			syncGlobals(ctx, be, buf)
			val := tb.EncodeTbExit(ctx.TbIdx, uint64(op.CArg(0)))
			be.EmitExitTb(buf, val, zeroReturn, commonTail)

		case ir.GotoTb:
			syncGlobals(ctx, be, buf)
			slot := int(op.CArg(0))
			be.EmitGotoTb(buf, slot)

		case ir.GotoPtr:
			ct := be.OpConstraint(op.Opcode)
			tidx := op.Args[0]
			reg := tempLoadTo(ctx, s, be, buf, tidx, ct.Args[0].Regs, ir.RegSet(0), ir.RegSet(0))
			if op.Life.IsDead(0) {
				tempDead(ctx, s, tidx)
			}
			syncGlobals(ctx, be, buf)
			be.EmitGotoPtr(buf, reg)

		case ir.BrCond:
			ct := be.OpConstraint(op.Opcode)
			def := op.Def()
			nbO, nbI := def.NbOArgs, def.NbIArgs
			life := op.Life

			var iregs [ir.MaxOpArgs]int
			iAllocated := ir.RegSet(0)
			for i := 0; i < nbI; i++ {
				tidx := op.Args[nbO+i]
				argCt := ct.Args[nbO+i]
				reg := tempLoadTo(ctx, s, be, buf, tidx, argCt.Regs, iAllocated, ir.RegSet(0))
				iregs[i] = reg
				iAllocated = iAllocated.With(reg)
			}
			for i := 0; i < nbI; i++ {
				if life.IsDead(nbO + i) {
					tempDead(ctx, s, op.Args[nbO+i])
				}
			}

			syncGlobals(ctx, be, buf)

			cond := ir.Cond(op.CArg(0))
			labelID := ir.LabelIdx(op.CArg(1))
			label := ctx.Label(labelID)
			ph := be.EmitBrCond(buf, op.OpType, cond, iregs[0], iregs[1], label.HasValue, label.Value)
			if !label.HasValue {
				label.AddUse(ph, ir.Rel32)
			}

		default:
			regallocOp(ctx, s, be, buf, op)
			if op.Def().Flags.Has(ir.BBEnd) {
				syncGlobals(ctx, be, buf)
			}
		}
	}
}
