// Copyright (c) 2016 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package x86

import (
	"github.com/tcg-go/tcg/internal/backend"
	"github.com/tcg-go/tcg/internal/codebuf"
	"github.com/tcg-go/tcg/internal/constraint"
	"github.com/tcg-go/tcg/internal/ir"
)

// Host register numbers, in x86-64 encoding order.
const (
	RAX = 0
	RCX = 1
	RDX = 2
	RBX = 3
	RSP = 4
	RBP = 5
	RSI = 6
	RDI = 7
	R8  = 8
	R9  = 9
	R10 = 10
	R11 = 11
	R12 = 12
	R13 = 13
	R14 = 14
	R15 = 15
)

// EnvReg is the host register holding the env pointer (TCG_AREG0)
// throughout a TB's execution; the prologue loads it once and it is
// never handed to the allocator.
const EnvReg = RBP

// stackAddend keeps the frame 16-byte aligned for any call the TB body
// makes. cpu_tb_exec enters the prologue via an indirect call, which
// pushes one return address (8 bytes); six callee-saved pushes (48
// bytes) leave RSP%16 unchanged, so one more 8 brings it back to 0.
const stackAddend = 8

var calleeSaved = []int{RBP, RBX, R12, R13, R14, R15}

var notRaxRdx = ir.RegSetOf(RCX, RBX, RSI, RDI, R8, R9, R10, R11, R12, R13, R14, R15)

var (
	add     = insnPrefixRM{[]byte{0x03}, []byte{0x01}}
	addMI   = insnPrefixMI{0x83, 0x81, 0}
	sub     = insnPrefixRM{[]byte{0x2b}, []byte{0x29}}
	subMI   = insnPrefixMI{0x83, 0x81, 5}
	cmp     = insnPrefixRM{[]byte{0x3b}, []byte{0x39}}
	and     = insnPrefixRM{[]byte{0x23}, []byte{0x21}}
	or      = insnPrefixRM{[]byte{0x0b}, []byte{0x09}}
	xorInsn = insnPrefixRM{[]byte{0x33}, []byte{0x31}}
	test    = insnPrefixRM{nil, []byte{0x85}}
	mov     = insnPrefixRM{[]byte{0x8b}, []byte{0x89}}

	movImm32 = insnRexOI{0xb8}
	movImm64 = insnRexOI{0xb8}
	movImm   = movImmInsn{}

	movzx8  = insnPrefixRM{[]byte{0x0f, 0xb6}, nil}
	movzx16 = insnPrefixRM{[]byte{0x0f, 0xb7}, nil}
	movsx8  = insnPrefixRM{[]byte{0x0f, 0xbe}, nil}
	movsx16 = insnPrefixRM{[]byte{0x0f, 0xbf}, nil}
	movsxd  = insnPrefixRM{[]byte{0x63}, nil}

	negInsn = insnRexM{[]byte{0xf7}, 3}
	notInsn = insnRexM{[]byte{0xf7}, 2}
	idiv    = insnRexM{[]byte{0xf7}, 7}
	divu    = insnRexM{[]byte{0xf7}, 6}
	imulR   = insnPrefixRM{[]byte{0x0f, 0xaf}, nil}

	lzcnt  = insnPrefixRM{[]byte{0xf3, 0x0f, 0xbd}, nil}
	tzcnt  = insnPrefixRM{[]byte{0xf3, 0x0f, 0xbc}, nil}
	popcnt = insnPrefixRM{[]byte{0xf3, 0x0f, 0xb8}, nil}

	shlByCL = insnRexM{[]byte{0xd3}, 4}
	shrByCL = insnRexM{[]byte{0xd3}, 5}
	sarByCL = insnRexM{[]byte{0xd3}, 7}
	rolByCL = insnRexM{[]byte{0xd3}, 0}
	rorByCL = insnRexM{[]byte{0xd3}, 1}
	shrImm8 = insnPrefixMI{0xc1, 0, 5}

	cdq = insnConst{0x99}
	cqo = insnConst{0x48, 0x99}

	pushInsn = insnO{0x50}
	popInsn  = insnO{0x58}
	ret      = insnConst{0xc3}

	jmpRel32 = insnAddr32{0xe9}
	jmpRM    = insnRexM{[]byte{0xff}, 4}
)

// setccByte is the SETcc second opcode byte (0x9x) for each meaningful
// ir.Cond; Jcc (0x8x) and CMOVcc (0x4x) share its low nibble.
func setccByte(cond ir.Cond) byte {
	switch cond {
	case ir.Eq, ir.TstEq:
		return 0x94
	case ir.Ne, ir.TstNe:
		return 0x95
	case ir.Lt:
		return 0x9c
	case ir.Ge:
		return 0x9d
	case ir.Le:
		return 0x9e
	case ir.Gt:
		return 0x9f
	case ir.Ltu:
		return 0x92
	case ir.Geu:
		return 0x93
	case ir.Leu:
		return 0x96
	case ir.Gtu:
		return 0x97
	default:
		panic("no x86 condition code for " + cond.String())
	}
}

func setccOpcode(cond ir.Cond) []byte { return []byte{0x0f, setccByte(cond)} }
func jccOpcode(cond ir.Cond) []byte   { return []byte{0x0f, setccByte(cond) - 0x10} }
func cmovOpcode(cond ir.Cond) []byte  { return []byte{0x0f, setccByte(cond) - 0x50} }

// usesTest reports whether a predicate compares against zero via TEST
// rather than CMP (the bitwise-and conditions).
func usesTest(cond ir.Cond) bool { return cond == ir.TstEq || cond == ir.TstNe }

// Backend is the x86-64 HostCodeGen implementation.
type Backend struct {
	allocatable ir.RegSet
	gotoTb      [2]backend.GotoTbOffset
}

// New returns a Backend whose generally allocatable set is every
// general-purpose register except RSP and RBP.
func New() *Backend {
	all := ir.RegSetOf(RAX, RCX, RDX, RBX, RSI, RDI, R8, R9, R10, R11, R12, R13, R14, R15)
	return &Backend{allocatable: all}
}

func (b *Backend) Allocatable() ir.RegSet { return b.allocatable }

// InitContext registers the env fixed temp at index 0, matching the
// frontend's convention of building globals on top of it.
func (b *Backend) InitContext(ctx *ir.Context) {
	ctx.ReservedRegs = ir.RegSetOf(RSP, RBP)
	ctx.NewFixed(ir.I64, EnvReg, "env")
}

func divConstraint(outReg int) constraint.OpConstraint {
	var c constraint.OpConstraint
	c.Args[0] = constraint.Fixed(outReg)
	c.Args[1] = constraint.Fixed(RAX)
	c.Args[2] = constraint.R(notRaxRdx)
	return c
}

func (b *Backend) OpConstraint(op ir.Opcode) constraint.OpConstraint {
	all := b.allocatable
	switch op {
	case ir.Mov:
		return constraint.O1I1(all, all)
	case ir.Neg, ir.Not, ir.Bswap16, ir.Bswap32, ir.Bswap64,
		ir.ExtI32I64, ir.ExtUI32I64, ir.ExtrlI64I32, ir.ExtrhI64I32:
		return constraint.O1I1Alias(all)
	case ir.Add, ir.Sub, ir.And, ir.Or, ir.Xor, ir.Mul:
		return constraint.O1I2Alias(all)
	case ir.Shl, ir.Shr, ir.Sar, ir.RotL, ir.RotR:
		return constraint.O1I2AliasFixed(RCX)
	case ir.DivS, ir.RemS, ir.DivU, ir.RemU:
		out := RAX
		if op == ir.RemS || op == ir.RemU {
			out = RDX
		}
		return divConstraint(out)
	case ir.SetCond, ir.NegSetCond:
		return constraint.N1I2(all, all, all)
	case ir.MovCond:
		return constraint.O1I4Alias2(all)
	case ir.Clz, ir.Ctz:
		return constraint.O1I2(all, all, all)
	case ir.CtPop:
		return constraint.O1I1(all, all)
	case ir.Ld8U, ir.Ld8S, ir.Ld16U, ir.Ld16S, ir.Ld32U, ir.Ld32S, ir.Ld:
		return constraint.O1I1(all, all)
	case ir.St8, ir.St16, ir.St32, ir.St:
		return constraint.O0I2(all, all)
	case ir.BrCond:
		return constraint.O0I2(all, all)
	case ir.GotoPtr:
		return constraint.O0I1(all)
	default:
		return constraint.Empty
	}
}

func (b *Backend) TcgOutMov(buf *codebuf.CodeBuffer, ty ir.Type, dst, src int) {
	if dst == src {
		return
	}
	mov.opFromReg(buf, ty, dst, src)
}

func (b *Backend) TcgOutMovi(buf *codebuf.CodeBuffer, ty ir.Type, dst int, val uint64) {
	movImm.op(buf, ty, dst, val)
}

func (b *Backend) TcgOutLd(buf *codebuf.CodeBuffer, ty ir.Type, dst int, base int, offset int64) {
	mov.opFromIndirect(buf, ty, dst, base, int32(offset))
}

func (b *Backend) TcgOutSt(buf *codebuf.CodeBuffer, ty ir.Type, src int, base int, offset int64) {
	mov.opToIndirect(buf, ty, base, src, int32(offset))
}

// TcgOutOp emits the host instruction(s) for a single regalloc'd op.
// oregs/iregs are parallel to op.OArgs()/op.IArgs(); cargs mirrors
// op.CArgs() reinterpreted as raw uint32s.
func (b *Backend) TcgOutOp(buf *codebuf.CodeBuffer, op *ir.Op, oregs, iregs []int, cargs []uint32) {
	ty := op.OpType

	switch op.Opcode {
	case ir.Mov:
		mov.opFromReg(buf, ty, oregs[0], iregs[0])
	case ir.Add:
		add.opFromReg(buf, ty, oregs[0], iregs[1])
	case ir.Sub:
		sub.opFromReg(buf, ty, oregs[0], iregs[1])
	case ir.And:
		and.opFromReg(buf, ty, oregs[0], iregs[1])
	case ir.Or:
		or.opFromReg(buf, ty, oregs[0], iregs[1])
	case ir.Xor:
		xorInsn.opFromReg(buf, ty, oregs[0], iregs[1])
	case ir.Mul:
		imulR.opFromReg(buf, ty, oregs[0], iregs[1])
	case ir.Neg:
		negInsn.opReg(buf, ty, oregs[0])
	case ir.Not:
		notInsn.opReg(buf, ty, oregs[0])

	case ir.DivS, ir.RemS:
		// Sign-extend the dividend across RDX:RAX (I64) or EDX:EAX
		// (I32) before IDIV; using CQO for an I32 divide would read a
		// 64-bit sign extension of RAX that an I32 temp never set up.
		if ty == ir.I32 {
			cdq.op(buf)
		} else {
			cqo.op(buf)
		}
		idiv.opReg(buf, ty, iregs[1])
	case ir.DivU, ir.RemU:
		xorInsn.opFromReg(buf, ir.I32, RDX, RDX)
		divu.opReg(buf, ty, iregs[1])

	case ir.Shl:
		shlByCL.opReg(buf, ty, oregs[0])
	case ir.Shr:
		shrByCL.opReg(buf, ty, oregs[0])
	case ir.Sar:
		sarByCL.opReg(buf, ty, oregs[0])
	case ir.RotL:
		rolByCL.opReg(buf, ty, oregs[0])
	case ir.RotR:
		rorByCL.opReg(buf, ty, oregs[0])

	case ir.Bswap16:
		movzx16.opFromReg(buf, ir.I32, oregs[0], iregs[0])
		emitBswap(buf, ir.I32, oregs[0])
		shrImm8.opImm8(buf, ir.I32, oregs[0], 16)
	case ir.Bswap32:
		emitBswap(buf, ir.I32, oregs[0])
	case ir.Bswap64:
		emitBswap(buf, ir.I64, oregs[0])

	case ir.Clz:
		lzcnt.opFromReg(buf, ty, oregs[0], iregs[0])
	case ir.Ctz:
		tzcnt.opFromReg(buf, ty, oregs[0], iregs[0])
	case ir.CtPop:
		popcnt.opFromReg(buf, ty, oregs[0], iregs[0])

	case ir.ExtI32I64:
		movsxd.opFromReg(buf, ir.I64, oregs[0], iregs[0])
	case ir.ExtUI32I64:
		mov.opFromReg(buf, ir.I32, oregs[0], iregs[0])
	case ir.ExtrlI64I32:
		mov.opFromReg(buf, ir.I32, oregs[0], iregs[0])
	case ir.ExtrhI64I32:
		mov.opFromReg(buf, ir.I64, oregs[0], iregs[0])
		shrImm8.opImm8(buf, ir.I64, oregs[0], 32)

	case ir.SetCond, ir.NegSetCond:
		cond := ir.Cond(cargs[0])
		emitCompare(buf, ty, cond, iregs[0], iregs[1])
		sc := insnRexM{setccOpcode(cond), 0}
		sc.opReg(buf, ir.I32, oregs[0])
		movzx8.opFromReg(buf, ir.I32, oregs[0], oregs[0])
		if op.Opcode == ir.NegSetCond {
			negInsn.opReg(buf, ty, oregs[0])
		}

	case ir.MovCond:
		cond := ir.Cond(cargs[0])
		emitCompare(buf, ty, cond, iregs[0], iregs[1])
		cmov := insnPrefixRM{cmovOpcode(cond), nil}
		cmov.opFromReg(buf, ty, oregs[0], iregs[2])

	case ir.Ld8U:
		movzx8.opFromIndirect(buf, ir.I32, oregs[0], iregs[0], int32(cargs[0]))
	case ir.Ld8S:
		movsx8.opFromIndirect(buf, ty, oregs[0], iregs[0], int32(cargs[0]))
	case ir.Ld16U:
		movzx16.opFromIndirect(buf, ir.I32, oregs[0], iregs[0], int32(cargs[0]))
	case ir.Ld16S:
		movsx16.opFromIndirect(buf, ty, oregs[0], iregs[0], int32(cargs[0]))
	case ir.Ld32U:
		mov.opFromIndirect(buf, ir.I32, oregs[0], iregs[0], int32(cargs[0]))
	case ir.Ld32S:
		movsxd.opFromIndirect(buf, ir.I64, oregs[0], iregs[0], int32(cargs[0]))
	case ir.Ld:
		mov.opFromIndirect(buf, ty, oregs[0], iregs[0], int32(cargs[0]))

	case ir.St8, ir.St16, ir.St32, ir.St:
		// iregs[0] is the stored value, iregs[1] the base address.
		mov.opToIndirect(buf, ty, iregs[1], iregs[0], int32(cargs[0]))

	case ir.Mb:
		buf.EmitBytes([]byte{0x0f, 0xae, 0xf0}) // mfence

	case ir.Nop, ir.Discard, ir.InsnStart:
		// nothing to emit

	default:
		panic("unsupported opcode for emission: " + op.Opcode.String())
	}
}

func emitBswap(buf *codebuf.CodeBuffer, ty ir.Type, reg int) {
	putRexSize(buf, ty, 0, 0, reg)
	buf.EmitU8(0x0f)
	buf.EmitU8(0xc8 + byte(reg&7))
}

func emitCompare(buf *codebuf.CodeBuffer, ty ir.Type, cond ir.Cond, a, b int) {
	if usesTest(cond) {
		test.opToReg(buf, ty, a, b)
	} else {
		cmp.opFromReg(buf, ty, a, b)
	}
}

// EmitPrologue writes the host-ABI entry trampoline: push callee-saved
// registers, load env into RBP, align the stack, and jump to the TB
// code pointer passed in RSI.
func (b *Backend) EmitPrologue(buf *codebuf.CodeBuffer) int {
	entry := buf.Offset()
	for _, r := range calleeSaved {
		pushReg(buf, r)
	}
	mov.opFromReg(buf, ir.I64, RBP, RDI)
	subMI.opImm(buf, ir.I64, RSP, stackAddend)
	jmpRM.opReg(buf, ir.I64, RSI)
	return entry
}

// EmitEpilogue writes the two epilogue entry points: the zero-return
// landing pad and the common tail that both it and a nonzero ExitTb
// fall into.
func (b *Backend) EmitEpilogue(buf *codebuf.CodeBuffer) (zeroReturn, commonTail int) {
	zeroReturn = buf.Offset()
	xorInsn.opFromReg(buf, ir.I32, RAX, RAX)

	commonTail = buf.Offset()
	addMI.opImm(buf, ir.I64, RSP, stackAddend)
	for i := len(calleeSaved) - 1; i >= 0; i-- {
		popReg(buf, calleeSaved[i])
	}
	ret.op(buf)
	return
}

func pushReg(buf *codebuf.CodeBuffer, reg int) {
	if reg < 8 {
		pushInsn.op(buf, reg)
		return
	}
	putRex(buf, 0, 0, 0, reg)
	buf.EmitU8(0x50 + byte(reg&7))
}

func popReg(buf *codebuf.CodeBuffer, reg int) {
	if reg < 8 {
		popInsn.op(buf, reg)
		return
	}
	putRex(buf, 0, 0, 0, reg)
	buf.EmitU8(0x58 + byte(reg&7))
}

func (b *Backend) PatchJump(buf *codebuf.CodeBuffer, jmpOffset int, dstOffset int) {
	disp := int32(dstOffset - (jmpOffset + 4))
	buf.PatchU32(jmpOffset, uint32(disp))
}

func (b *Backend) ClearGotoTbOffsets() {
	b.gotoTb[0] = backend.GotoTbOffset{}
	b.gotoTb[1] = backend.GotoTbOffset{}
}

func (b *Backend) GotoTbOffsets() [2]backend.GotoTbOffset { return b.gotoTb }

// EmitGotoTb emits `jmp rel32` for the given chainable slot, NOP-padded
// so the rel32 field lands 4-byte aligned for atomic runtime patching,
// and records the patch/reset offsets.
func (b *Backend) EmitGotoTb(buf *codebuf.CodeBuffer, slot int) {
	for (buf.Offset()+1)%4 != 0 {
		buf.EmitU8(0x90)
	}
	jmpOffset := jmpRel32.opPlaceholder(buf)
	resetOffset := buf.Offset()
	b.gotoTb[slot] = backend.GotoTbOffset{Valid: true, JmpOffset: jmpOffset, ResetOffset: resetOffset}
}

// EmitExitTb emits the host code for `exit_tb val`: a jump to the
// zero-return landing pad when val is exactly zero, otherwise a
// movabs of the packed exit value followed by a jump to the common
// tail.
func (b *Backend) EmitExitTb(buf *codebuf.CodeBuffer, val uint64, zeroReturn, commonTail int) {
	if val == 0 {
		jmpRel32.op(buf, zeroReturn)
		return
	}
	movImm64.op64(buf, RAX, val)
	jmpRel32.op(buf, commonTail)
}

// EmitBr emits an unconditional jump, either directly to a resolved
// label offset or as a placeholder recording a relocation site.
func (b *Backend) EmitBr(buf *codebuf.CodeBuffer, resolved bool, targetOffset int) (placeholderOffset int) {
	if resolved {
		jmpRel32.op(buf, targetOffset)
		return -1
	}
	return jmpRel32.opPlaceholder(buf)
}

// EmitBrCond emits a conditional jump on the given predicate between
// two already-loaded registers.
func (b *Backend) EmitBrCond(buf *codebuf.CodeBuffer, ty ir.Type, cond ir.Cond, a, b2 int, resolved bool, targetOffset int) (placeholderOffset int) {
	emitCompare(buf, ty, cond, a, b2)
	jcc := insnAddr32(jccOpcode(cond))
	if resolved {
		jcc.op(buf, targetOffset)
		return -1
	}
	return jcc.opPlaceholder(buf)
}

// EmitGotoPtr emits an indirect jump through a register, used for
// guest-computed targets outside the chained goto_tb path.
func (b *Backend) EmitGotoPtr(buf *codebuf.CodeBuffer, reg int) {
	jmpRM.opReg(buf, ir.I64, reg)
}

var _ backend.HostCodeGen = (*Backend)(nil)
