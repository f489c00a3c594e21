// Package constraint defines the per-opcode register constraint table
// the allocator consults: which host registers an argument may occupy,
// and whether an output aliases an input's register (destructive
// two-operand) or an input may be reused by an output (non-destructive
// but register-reusable).
package constraint

import "github.com/tcg-go/tcg/internal/ir"

// ArgConstraint describes one argument slot's register requirements.
type ArgConstraint struct {
	Regs       ir.RegSet
	OAlias     bool // this output must occupy input AliasIndex's register
	IAlias     bool // this input may be reused by output AliasIndex
	AliasIndex int
	NewReg     bool // this output must not overlap any input
}

var Unused = ArgConstraint{}

// OpConstraint is the full per-op constraint record, one ArgConstraint
// per argument slot (oargs then iargs; cargs carry no constraint).
type OpConstraint struct {
	Args [ir.MaxOpArgs]ArgConstraint
}

var Empty = OpConstraint{}

// R builds a plain (non-alias) constraint restricted to regs.
func R(regs ir.RegSet) ArgConstraint {
	return ArgConstraint{Regs: regs}
}

// Fixed builds a constraint pinned to a single register.
func Fixed(reg int) ArgConstraint {
	return ArgConstraint{Regs: ir.RegMask(reg)}
}

// NewRegC builds a constraint requiring a register disjoint from every
// input (the allocator's newreg path).
func NewRegC(regs ir.RegSet) ArgConstraint {
	return ArgConstraint{Regs: regs, NewReg: true}
}

// O1I1Alias builds the shape for a destructive unary op: one output
// aliasing the sole input's register.
func O1I1Alias(o0 ir.RegSet) OpConstraint {
	var c OpConstraint
	c.Args[0] = ArgConstraint{Regs: o0, OAlias: true, AliasIndex: 0}
	c.Args[1] = ArgConstraint{Regs: o0, IAlias: true, AliasIndex: 0}
	return c
}

// O1I1 builds a plain one-output, one-input shape with no aliasing.
func O1I1(o0, i0 ir.RegSet) OpConstraint {
	var c OpConstraint
	c.Args[0] = R(o0)
	c.Args[1] = R(i0)
	return c
}

// O1I2 builds a plain one-output, two-input shape.
func O1I2(o0, i0, i1 ir.RegSet) OpConstraint {
	var c OpConstraint
	c.Args[0] = R(o0)
	c.Args[1] = R(i0)
	c.Args[2] = R(i1)
	return c
}

// O1I2Alias builds the common destructive binary shape: output
// aliases input 0's register (two-operand arithmetic), input 1 free.
func O1I2Alias(i1 ir.RegSet) OpConstraint {
	var c OpConstraint
	allocatable := i1 // the alias input's Regs field is unused by the
	// allocator (it derives the alias's register set from the input's
	// own constraint), so any non-empty set documents intent here.
	c.Args[0] = ArgConstraint{Regs: allocatable, OAlias: true, AliasIndex: 0}
	c.Args[1] = ArgConstraint{Regs: allocatable, IAlias: true, AliasIndex: 0}
	c.Args[2] = R(i1)
	return c
}

// O1I2AliasFixed is O1I2Alias but input 1 is pinned to a single
// register (e.g. the shift count in CL).
func O1I2AliasFixed(i1Reg int) OpConstraint {
	c := O1I2Alias(ir.RegSetOf(i1Reg))
	c.Args[2] = Fixed(i1Reg)
	return c
}

// O0I2 builds a no-output, two-input shape (St, BrCond's two operands
// before cargs).
func O0I2(i0, i1 ir.RegSet) OpConstraint {
	var c OpConstraint
	c.Args[0] = R(i0)
	c.Args[1] = R(i1)
	return c
}

// N1I2 builds a one-output (newreg), two-input shape, e.g. SetCond.
func N1I2(o0, i0, i1 ir.RegSet) OpConstraint {
	var c OpConstraint
	c.Args[0] = NewRegC(o0)
	c.Args[1] = R(i0)
	c.Args[2] = R(i1)
	return c
}

// O0I1 builds a no-output, one-input shape.
func O0I1(i0 ir.RegSet) OpConstraint {
	var c OpConstraint
	c.Args[0] = R(i0)
	return c
}

// O2I2Fixed builds the two-output, fixed-register shape used by
// MulS2/MulU2: o0 aliases i0 (pinned to RAX), o1 is pinned to RDX, i1
// is free.
func O2I2Fixed(o0Reg, o1Reg int, i1 ir.RegSet) OpConstraint {
	var c OpConstraint
	c.Args[0] = ArgConstraint{Regs: ir.RegMask(o0Reg), OAlias: true, AliasIndex: 0}
	c.Args[1] = Fixed(o1Reg)
	c.Args[2] = ArgConstraint{Regs: ir.RegMask(o0Reg), IAlias: true, AliasIndex: 0}
	c.Args[3] = R(i1)
	return c
}

// O2I3Fixed builds the shape used by DivS2/DivU2: o0 aliases i0
// (RAX), o1 aliases i1 (RDX), i2 is free.
func O2I3Fixed(o0Reg, o1Reg int, i2 ir.RegSet) OpConstraint {
	var c OpConstraint
	c.Args[0] = ArgConstraint{Regs: ir.RegMask(o0Reg), OAlias: true, AliasIndex: 0}
	c.Args[1] = ArgConstraint{Regs: ir.RegMask(o1Reg), OAlias: true, AliasIndex: 1}
	c.Args[2] = ArgConstraint{Regs: ir.RegMask(o0Reg), IAlias: true, AliasIndex: 0}
	c.Args[3] = ArgConstraint{Regs: ir.RegMask(o1Reg), IAlias: true, AliasIndex: 1}
	c.Args[4] = R(i2)
	return c
}

// O1I4Alias2 builds MovCond's shape: CMP i0,i1 then CMOV i2 into dst;
// the output aliases input index 3 (the "if false" value v2), so the
// CMOV only has to overwrite it when the comparison is true.
func O1I4Alias2(allocatable ir.RegSet) OpConstraint {
	var c OpConstraint
	c.Args[0] = ArgConstraint{Regs: allocatable, OAlias: true, AliasIndex: 3}
	c.Args[1] = R(allocatable)
	c.Args[2] = R(allocatable)
	c.Args[3] = R(allocatable)
	c.Args[4] = ArgConstraint{Regs: allocatable, IAlias: true, AliasIndex: 3}
	return c
}
