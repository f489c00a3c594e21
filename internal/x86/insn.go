// Copyright (c) 2016 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package x86 implements the x86-64 host code generator: REX/ModR/M/SIB
// encoding primitives, a table-driven set of instruction objects, and
// the HostCodeGen backend the register allocator drives.
package x86

import (
	"github.com/tcg-go/tcg/internal/codebuf"
	"github.com/tcg-go/tcg/internal/ir"
)

const (
	rexBit  = 1 << 6
	RexW    = rexBit | (1 << 3)
	RexR    = rexBit | (1 << 2)
	RexX    = rexBit | (1 << 1)
	RexB    = rexBit | (1 << 0)
)

func putRex(buf *codebuf.CodeBuffer, rex byte, ro, index, rmOrBase int) {
	if ro >= 8 {
		rex |= RexR
	}
	if index >= 8 {
		rex |= RexX
	}
	if rmOrBase >= 8 {
		rex |= RexB
	}
	if rex != 0 {
		buf.EmitU8(rex)
	}
}

func putRexSize(buf *codebuf.CodeBuffer, ty ir.Type, ro, index, rmOrBase int) {
	var rex byte
	if ty == ir.I64 {
		rex |= RexW
	}
	putRex(buf, rex, ro, index, rmOrBase)
}

type mod byte

const (
	modMem       = mod(0)
	modMemDisp8  = mod((0 << 7) | (1 << 6))
	modMemDisp32 = mod((1 << 7) | (0 << 6))
	modReg       = mod((1 << 7) | (1 << 6))
)

func dispMod(baseReg int, offset int32) mod {
	switch {
	case offset == 0 && (baseReg&7) != 0x5: // rbp/r13 need an explicit displacement
		return modMem
	case offset >= -0x80 && offset < 0x80:
		return modMemDisp8
	default:
		return modMemDisp32
	}
}

func putMod(buf *codebuf.CodeBuffer, m mod, ro, rm int) {
	buf.EmitU8(byte(m) | (byte(ro&7) << 3) | byte(rm&7))
}

func putDisp(buf *codebuf.CodeBuffer, m mod, offset int32) {
	switch m {
	case modMemDisp8:
		buf.EmitU8(uint8(int8(offset)))
	case modMemDisp32:
		buf.EmitU32(uint32(offset))
	}
}

const (
	memSIB    = byte(1 << 2)
	memDisp32 = byte((1 << 2) | (1 << 0))
)

const (
	noIndex = 4 // (1 << 2)
	noBase  = 5 // (1 << 2) | (1 << 0)
)

func putSib(buf *codebuf.CodeBuffer, scale byte, index, base int) {
	if scale >= 4 {
		panic("scale factor out of bounds")
	}
	buf.EmitU8((scale << 6) | (byte(index&7) << 3) | byte(base&7))
}

// insnConst is a fixed byte sequence with no operands (RET, CDQ/CQO).
type insnConst []byte

func (i insnConst) op(buf *codebuf.CodeBuffer) { buf.EmitBytes(i) }

// insnO is the opcode+register form (PUSH/POP r).
type insnO struct{ opbase byte }

func (i insnO) op(buf *codebuf.CodeBuffer, reg int) {
	if reg >= 8 {
		panic("register not supported by this instruction form")
	}
	buf.EmitU8(i.opbase + byte(reg))
}

// insnAddr32 is a near jump/call relative to the end of the
// instruction (JMP rel32, JCC rel32, CALL rel32).
type insnAddr32 []byte

func (i insnAddr32) size() int32 { return int32(len(i)) + 4 }

// opPlaceholder emits the opcode with a zero displacement and returns
// the offset of the displacement field, to be patched once the target
// is known.
func (i insnAddr32) opPlaceholder(buf *codebuf.CodeBuffer) (dispOffset int) {
	buf.EmitBytes(i)
	dispOffset = buf.Offset()
	buf.EmitU32(0)
	return
}

func (i insnAddr32) op(buf *codebuf.CodeBuffer, targetOffset int) {
	buf.EmitBytes(i)
	siteEnd := buf.Offset() + 4
	buf.EmitU32(uint32(int32(targetOffset - siteEnd)))
}

// insnRexM is a REX+opcode+ModR/M form operating on a register or an
// indirect [reg+disp] memory operand (NEG, NOT, DIV/IDIV, SETcc,
// shifts-by-CL, JMP r/m64).
type insnRexM struct {
	opcode []byte
	ro     byte
}

func (i insnRexM) opReg(buf *codebuf.CodeBuffer, ty ir.Type, reg int) {
	putRexSize(buf, ty, 0, 0, reg)
	buf.EmitBytes(i.opcode)
	putMod(buf, modReg, int(i.ro), reg)
}

func (i insnRexM) opIndirect(buf *codebuf.CodeBuffer, ty ir.Type, base int, disp int32) {
	m := dispMod(base, disp)
	putRexSize(buf, ty, 0, 0, base)
	buf.EmitBytes(i.opcode)
	if base&7 != 4 {
		putMod(buf, m, int(i.ro), base)
	} else {
		putMod(buf, m, int(i.ro), int(memSIB))
		putSib(buf, 0, noIndex, base)
	}
	putDisp(buf, m, disp)
}

// insnRexOI is the register+immediate form (MOV r64, imm32/imm64).
type insnRexOI struct{ opbase byte }

func (i insnRexOI) op32(buf *codebuf.CodeBuffer, ty ir.Type, reg int, value uint32) {
	putRexSize(buf, ty, 0, 0, reg)
	buf.EmitU8(i.opbase + byte(reg&7))
	buf.EmitU32(value)
}

func (i insnRexOI) op64(buf *codebuf.CodeBuffer, reg int, value uint64) {
	putRexSize(buf, ir.I64, 0, 0, reg)
	buf.EmitU8(i.opbase + byte(reg&7))
	buf.EmitU64(value)
}

// insnPrefixRM is the general reg<->reg/mem form shared by the
// arithmetic/logic family (ADD/SUB/AND/OR/XOR/CMP/TEST/MOV), in
// both the RM (load into reg) and MR (store from reg) byte-order
// variants.
type insnPrefixRM struct {
	opcodeRM []byte
	opcodeMR []byte
}

func (i insnPrefixRM) opFromReg(buf *codebuf.CodeBuffer, ty ir.Type, target, source int) {
	putRegInsn(buf, ty, i.opcodeRM, target, source)
}

func (i insnPrefixRM) opToReg(buf *codebuf.CodeBuffer, ty ir.Type, target, source int) {
	putRegInsn(buf, ty, i.opcodeMR, source, target)
}

func (i insnPrefixRM) opFromIndirect(buf *codebuf.CodeBuffer, ty ir.Type, target, base int, disp int32) {
	putIndirectInsn(buf, ty, i.opcodeRM, target, base, disp)
}

func (i insnPrefixRM) opToIndirect(buf *codebuf.CodeBuffer, ty ir.Type, base, source int, disp int32) {
	putIndirectInsn(buf, ty, i.opcodeMR, source, base, disp)
}

func putRegInsn(buf *codebuf.CodeBuffer, ty ir.Type, opcode []byte, ro, rm int) {
	if opcode == nil {
		panic("instruction form not supported")
	}
	putRexSize(buf, ty, ro, 0, rm)
	buf.EmitBytes(opcode)
	putMod(buf, modReg, ro, rm)
}

func putIndirectInsn(buf *codebuf.CodeBuffer, ty ir.Type, opcode []byte, reg, base int, disp int32) {
	if opcode == nil {
		panic("instruction form not supported")
	}
	m := dispMod(base, disp)
	putRexSize(buf, ty, reg, 0, base)
	buf.EmitBytes(opcode)
	if base&7 != 4 {
		putMod(buf, m, reg, base)
	} else {
		putMod(buf, m, reg, int(memSIB))
		putSib(buf, 0, noIndex, base)
	}
	putDisp(buf, m, disp)
}

// insnPrefixMI is the register+immediate form (ADD/SUB/AND/OR/XOR/CMP
// r, imm8/imm32, and the shifts by imm8); opcode8 is the imm8 form's
// opcode byte (0x83 for arithmetic, 0xc1 for shifts), 0 if none.
type insnPrefixMI struct {
	opcode8  byte
	opcode32 byte
	ro       byte
}

func (i insnPrefixMI) opImm(buf *codebuf.CodeBuffer, ty ir.Type, reg int, value int32) {
	useImm8 := i.opcode8 != 0 && value >= -0x80 && value < 0x80
	putRexSize(buf, ty, 0, 0, reg)
	if useImm8 {
		buf.EmitU8(i.opcode8)
	} else {
		buf.EmitU8(i.opcode32)
	}
	putMod(buf, modReg, int(i.ro), reg)
	if useImm8 {
		buf.EmitU8(uint8(int8(value)))
	} else {
		buf.EmitU32(uint32(value))
	}
}

// opImm8 is the dedicated shift-by-imm8 form (SHL/SHR/SAR r, imm8).
func (i insnPrefixMI) opImm8(buf *codebuf.CodeBuffer, ty ir.Type, reg int, value uint8) {
	putRexSize(buf, ty, 0, 0, reg)
	buf.EmitU8(i.opcode8)
	putMod(buf, modReg, int(i.ro), reg)
	buf.EmitU8(value)
}

// shiftByOne is the dedicated shift-by-1 encoding (D0/D1 /r).
type shiftByOne struct{ opcode []byte }

func (i shiftByOne) op(buf *codebuf.CodeBuffer, ty ir.Type, reg int, ro byte) {
	putRexSize(buf, ty, 0, 0, reg)
	buf.EmitBytes(i.opcode)
	putMod(buf, modReg, int(ro), reg)
}

// movImmInsn picks the shortest encoding for MOV r, imm64: the
// zero-idiom XOR for 0, a 32-bit immediate with implicit zero
// extension when it fits, else the full movabs.
type movImmInsn struct{}

func (movImmInsn) op(buf *codebuf.CodeBuffer, ty ir.Type, reg int, value uint64) {
	switch {
	case value == 0:
		xorInsn.opFromReg(buf, ir.I32, reg, reg)
	case ty == ir.I64 && value < 0x100000000:
		movImm32.op32(buf, ir.I32, reg, uint32(value))
	case ty == ir.I64:
		movImm64.op64(buf, reg, value)
	default:
		movImm32.op32(buf, ty, reg, uint32(value))
	}
}
