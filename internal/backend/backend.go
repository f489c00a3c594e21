// Package backend defines the HostCodeGen capability set the register
// allocator drives. The core ships exactly one implementation
// (internal/x86), but the interface is kept narrow and monomorphic at
// the call site so an additional host could be added without
// disturbing the allocator.
package backend

import (
	"github.com/tcg-go/tcg/internal/codebuf"
	"github.com/tcg-go/tcg/internal/constraint"
	"github.com/tcg-go/tcg/internal/ir"
)

// HostCodeGen is the set of primitives the allocator needs from a
// host backend. Implementations must be safe to call repeatedly
// within a single translate session; they hold no state beyond what's
// needed to track pending goto_tb patch points.
type HostCodeGen interface {
	// Allocatable is the RegSet available to the allocator, already
	// excluding any host-reserved registers (frame pointer, stack
	// pointer, and similar).
	Allocatable() ir.RegSet

	// OpConstraint returns the constraint record for an opcode.
	OpConstraint(op ir.Opcode) constraint.OpConstraint

	// InitContext configures ctx's frame layout and fixed temps for
	// this host (called once per SharedState, not per TB).
	InitContext(ctx *ir.Context)

	TcgOutMov(buf *codebuf.CodeBuffer, ty ir.Type, dst, src int)
	TcgOutMovi(buf *codebuf.CodeBuffer, ty ir.Type, dst int, val uint64)
	TcgOutLd(buf *codebuf.CodeBuffer, ty ir.Type, dst int, base int, offset int64)
	TcgOutSt(buf *codebuf.CodeBuffer, ty ir.Type, src int, base int, offset int64)

	// TcgOutOp emits the host instruction(s) for a regalloc'd op.
	// oregs/iregs are parallel to op.OArgs()/op.IArgs(); cargs is
	// op.CArgs() reinterpreted as raw uint32s.
	TcgOutOp(buf *codebuf.CodeBuffer, op *ir.Op, oregs, iregs []int, cargs []uint32)

	// EmitPrologue/EmitEpilogue write the host-ABI trampolines once
	// per SharedState and return their entry offsets.
	EmitPrologue(buf *codebuf.CodeBuffer) (entry int)
	EmitEpilogue(buf *codebuf.CodeBuffer) (zeroReturn, commonTail int)

	// PatchJump rewrites the rel32 at jmpOffset to target dstOffset.
	PatchJump(buf *codebuf.CodeBuffer, jmpOffset int, dstOffset int)

	// ClearGotoTbOffsets resets per-TB bookkeeping of goto_tb patch
	// points before translating a new TB.
	ClearGotoTbOffsets()
	// GotoTbOffsets returns the (jmpOffset, resetOffset) pairs
	// recorded by this TB's GotoTb emissions, indexed by slot.
	GotoTbOffsets() [2]GotoTbOffset

	// EmitBr/EmitBrCond emit unconditional/conditional jumps. When the
	// target label isn't resolved yet, they emit a relocatable
	// placeholder and return its displacement-field offset (-1 when
	// resolved, having patched or encoded the target directly).
	EmitBr(buf *codebuf.CodeBuffer, resolved bool, targetOffset int) (placeholderOffset int)
	EmitBrCond(buf *codebuf.CodeBuffer, ty ir.Type, cond ir.Cond, a, b int, resolved bool, targetOffset int) (placeholderOffset int)

	// EmitGotoPtr emits an indirect jump through a register.
	EmitGotoPtr(buf *codebuf.CodeBuffer, reg int)

	// EmitExitTb/EmitGotoTb emit the two BB-exit forms: a packed
	// return value landing in the epilogue, or a chainable jump slot
	// patched later by the executor.
	EmitExitTb(buf *codebuf.CodeBuffer, val uint64, zeroReturn, commonTail int)
	EmitGotoTb(buf *codebuf.CodeBuffer, slot int)
}

// GotoTbOffset records one GotoTb slot's patch point and the
// fallthrough offset it resets to when unchained.
type GotoTbOffset struct {
	Valid      bool
	JmpOffset  int
	ResetOffset int
}
