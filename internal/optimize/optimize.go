// Package optimize implements the single-pass constant-folding,
// copy-propagation, and algebraic-identity pass that runs over a
// Context's ops before liveness and register allocation.
package optimize

import "github.com/tcg-go/tcg/internal/ir"

type tempInfo struct {
	isConst bool
	val     uint64
	copyOf  ir.TempIdx
	hasCopy bool
}

type pass struct {
	ctx  *ir.Context
	info map[ir.TempIdx]*tempInfo
}

// Run applies the optimizer to ctx in place.
func Run(ctx *ir.Context) {
	p := &pass{ctx: ctx, info: make(map[ir.TempIdx]*tempInfo)}
	ops := ctx.Ops()
	for i := range ops {
		p.step(&ops[i])
	}
}

func (p *pass) ti(t ir.TempIdx) *tempInfo {
	if info, ok := p.info[t]; ok {
		return info
	}
	info := &tempInfo{}
	p.info[t] = info
	return info
}

func (p *pass) setConst(t ir.TempIdx, val uint64) {
	info := p.ti(t)
	info.isConst = true
	info.val = val
	info.hasCopy = false
}

func (p *pass) setCopy(t, src ir.TempIdx) {
	info := p.ti(t)
	info.isConst = false
	info.hasCopy = true
	info.copyOf = src
}

// resolveCopy follows copy_of chains to the ultimate non-copy source,
// so long as that source is still alive as tracked info; a redefined
// source was already scrubbed by invalidateOne.
func (p *pass) resolveCopy(t ir.TempIdx) ir.TempIdx {
	seen := map[ir.TempIdx]bool{}
	for {
		info, ok := p.info[t]
		if !ok || !info.hasCopy || seen[t] {
			return t
		}
		seen[t] = true
		t = info.copyOf
	}
}

// invalidateOne clears is_const/copy_of for t and scrubs any other
// temp whose copy_of pointed at t, since that relationship is no
// longer valid once t is redefined.
func (p *pass) invalidateOne(t ir.TempIdx) {
	if info, ok := p.info[t]; ok {
		info.isConst = false
		info.hasCopy = false
	}
	for _, info := range p.info {
		if info.hasCopy && info.copyOf == t {
			info.hasCopy = false
		}
	}
}

func (p *pass) invalidateOutputs(op *ir.Op) {
	for _, o := range op.OArgs() {
		p.invalidateOne(o)
	}
}

func (p *pass) resetCopies() {
	for _, info := range p.info {
		info.hasCopy = false
	}
}

func (p *pass) step(op *ir.Op) {
	d := op.Def()

	switch op.Opcode {
	case ir.SetLabel, ir.Br, ir.ExitTb, ir.GotoTb, ir.GotoPtr, ir.Call:
		p.invalidateOutputs(op)
		p.resetCopies()
		return
	}

	if d.Flags.Has(ir.SideEffects) || d.Flags.Has(ir.Vector) {
		p.invalidateOutputs(op)
		return
	}
	switch op.Opcode {
	case ir.Nop, ir.InsnStart, ir.Discard:
		p.invalidateOutputs(op)
		return
	}

	// Copy-propagate each iarg to its canonical live non-constant
	// source before folding.
	for i, iv := range op.IArgs() {
		src := p.resolveCopy(iv)
		if src != iv {
			op.SetIArg(i, src)
		}
	}

	switch op.Opcode {
	case ir.Mov:
		p.foldMov(op)
	case ir.Neg, ir.Not:
		p.foldUnary(op)
	case ir.ExtI32I64, ir.ExtUI32I64, ir.ExtrlI64I32, ir.ExtrhI64I32:
		p.foldExt(op)
	case ir.Add, ir.Sub, ir.Mul, ir.And, ir.Or, ir.Xor, ir.Shl, ir.Shr, ir.Sar, ir.RotL, ir.RotR:
		p.foldBinary(op)
	case ir.BrCond:
		p.foldBrCond(op)
	default:
		p.invalidateOutputs(op)
	}
}

func (p *pass) constOf(t ir.TempIdx) (uint64, bool) {
	temp := p.ctx.Temp(t)
	if temp.Kind == ir.KindConst {
		return temp.Val, true
	}
	if info, ok := p.info[t]; ok && info.isConst {
		return info.val, true
	}
	return 0, false
}

func (p *pass) replaceWithConst(op *ir.Op, val uint64) {
	dst := op.OArg(0)
	ci := p.ctx.NewConst(op.OpType, val)
	op.Opcode = ir.Mov
	op.Nargs = 2
	op.Args[0] = dst
	op.Args[1] = ci
	p.setConst(dst, val&op.OpType.Mask())
}

// replaceWithMov rewrites op into `Mov dst, src`. Conservatively marks
// the destination non-constant even when src is currently known
// constant: the copy relationship isn't tracked through this rewrite
// because src may be redefined later in the TB, and re-deriving dst's
// constant-ness from a stale src would leak across basic blocks.
func (p *pass) replaceWithMov(op *ir.Op, src ir.TempIdx) {
	dst := op.OArg(0)
	op.Opcode = ir.Mov
	op.Nargs = 2
	op.Args[0] = dst
	op.Args[1] = src
	p.invalidateOne(dst)
}

func (p *pass) foldMov(op *ir.Op) {
	dst, src := op.OArg(0), op.IArg(0)
	if val, ok := p.constOf(src); ok {
		p.setConst(dst, val)
	} else {
		p.invalidateOne(dst)
		p.setCopy(dst, src)
	}
}

func (p *pass) foldUnary(op *ir.Op) {
	src := op.IArg(0)
	if val, ok := p.constOf(src); ok {
		var res uint64
		switch op.Opcode {
		case ir.Neg:
			res = -val
		case ir.Not:
			res = ^val
		}
		p.replaceWithConst(op, res)
		return
	}
	p.invalidateOutputs(op)
}

func (p *pass) foldExt(op *ir.Op) {
	dst, src := op.OArg(0), op.IArg(0)
	if val, ok := p.constOf(src); ok {
		var res uint64
		switch op.Opcode {
		case ir.ExtI32I64:
			res = uint64(int64(int32(uint32(val))))
		case ir.ExtUI32I64:
			res = uint64(uint32(val))
		case ir.ExtrlI64I32:
			res = uint64(uint32(val))
		case ir.ExtrhI64I32:
			res = uint64(uint32(val >> 32))
		}
		p.replaceWithConst(op, res)
		return
	}
	_ = dst
	p.invalidateOutputs(op)
}

func evalBinary(opcode ir.Opcode, a, b uint64, ty ir.Type) uint64 {
	mask := ty.Mask()
	bits := uint(ty.SizeBits())
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
	case ir.Shl:
		return (a << (b % uint64(bits))) & mask
	case ir.Shr:
		return (a & mask) >> (b % uint64(bits))
	case ir.Sar:
		signed := int64(a)
		if ty == ir.I32 {
			signed = int64(int32(uint32(a)))
		}
		return uint64(signed>>(b%uint64(bits))) & mask
	case ir.RotL:
		n := b % uint64(bits)
		return ((a<<n | a>>(uint64(bits)-n)) & mask)
	case ir.RotR:
		n := b % uint64(bits)
		return ((a>>n | a<<(uint64(bits)-n)) & mask)
	default:
		panic(opcode)
	}
}

// trySimplify applies the algebraic-identity table when exactly one
// operand is a known constant. Returns true if op was rewritten.
func (p *pass) trySimplify(op *ir.Op, aConst bool, aVal uint64, bConst bool, bVal uint64) bool {
	dst := op.OArg(0)
	a, b := op.IArg(0), op.IArg(1)
	mask := op.OpType.Mask()

	switch op.Opcode {
	case ir.Add, ir.Xor:
		if bConst && bVal == 0 {
			p.replaceWithMov(op, a)
			return true
		}
		if aConst && aVal == 0 {
			p.replaceWithMov(op, b)
			return true
		}
	case ir.Or:
		if bConst && bVal == 0 {
			p.replaceWithMov(op, a)
			return true
		}
		if aConst && aVal == 0 {
			p.replaceWithMov(op, b)
			return true
		}
		if (bConst && bVal&mask == mask) || (aConst && aVal&mask == mask) {
			p.replaceWithConst(op, mask)
			return true
		}
	case ir.Sub:
		if bConst && bVal == 0 {
			p.replaceWithMov(op, a)
			return true
		}
		if aConst && aVal == 0 {
			// 0 - x -> Neg x
			op.Opcode = ir.Neg
			op.Nargs = 2
			op.Args[0] = dst
			op.Args[1] = b
			p.invalidateOne(dst)
			return true
		}
	case ir.Shl, ir.Shr, ir.Sar:
		if bConst && bVal%uint64(op.OpType.SizeBits()) == 0 {
			p.replaceWithMov(op, a)
			return true
		}
	case ir.Mul:
		if (aConst && aVal == 0) || (bConst && bVal == 0) {
			p.replaceWithConst(op, 0)
			return true
		}
		if bConst && bVal == 1 {
			p.replaceWithMov(op, a)
			return true
		}
		if aConst && aVal == 1 {
			p.replaceWithMov(op, b)
			return true
		}
	case ir.And:
		if (aConst && aVal == 0) || (bConst && bVal == 0) {
			p.replaceWithConst(op, 0)
			return true
		}
		if bConst && bVal&mask == mask {
			p.replaceWithMov(op, a)
			return true
		}
		if aConst && aVal&mask == mask {
			p.replaceWithMov(op, b)
			return true
		}
	case ir.AndC:
		if bConst && bVal&mask == mask {
			p.replaceWithConst(op, 0)
			return true
		}
	}
	return false
}

func (p *pass) foldBinary(op *ir.Op) {
	dst := op.OArg(0)
	a, b := op.IArg(0), op.IArg(1)

	aVal, aConst := p.constOf(a)
	bVal, bConst := p.constOf(b)

	if aConst && bConst {
		res := evalBinary(op.Opcode, aVal, bVal, op.OpType)
		p.replaceWithConst(op, res)
		return
	}

	if aConst != bConst {
		if p.trySimplify(op, aConst, aVal, bConst, bVal) {
			return
		}
	}

	// Same-operand identities.
	if a == b {
		switch op.Opcode {
		case ir.Xor, ir.Sub:
			p.replaceWithConst(op, 0)
			return
		case ir.And, ir.Or:
			p.replaceWithMov(op, a)
			return
		}
	}

	_ = dst
	p.invalidateOutputs(op)
}

func (p *pass) foldBrCond(op *ir.Op) {
	a, b := op.IArg(0), op.IArg(1)
	cond := ir.Cond(op.CArg(0))
	label := op.CArg(1)

	aVal, aConst := p.constOf(a)
	bVal, bConst := p.constOf(b)

	if aConst && bConst {
		p.invalidateOutputs(op)
		p.resetCopies()
		if cond.Eval(aVal&op.OpType.Mask(), bVal&op.OpType.Mask(), op.OpType) {
			op.Opcode = ir.Br
			op.Nargs = 1
			op.Args[0] = ir.TempIdx(label)
		} else {
			op.Opcode = ir.Nop
			op.Nargs = 0
		}
		return
	}

	p.invalidateOutputs(op)
	p.resetCopies()
}
