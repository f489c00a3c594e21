// Package testcpu is a minimal synthetic GuestCpu used only to drive
// end-to-end executor tests. It is not a RISC-V decoder (that remains
// out of scope); it builds IR directly from a handful of Go closures,
// one per test scenario.
package testcpu

import (
	"fmt"
	"unsafe"

	"github.com/tcg-go/tcg/internal/ir"
)

// NumRegs is the synthetic ISA's general-purpose register count.
const NumRegs = 8

// State is the guest CPU state memory GenCode's globals address into.
// It is kept separate from CPU so the struct whose layout the IR's
// global offsets depend on never shifts as CPU itself grows fields.
type State struct {
	Regs [NumRegs]uint64
	PC   uint64
}

// Globals holds the TempIdx assigned to each guest-state global, fixed
// on the first GenCode call and recovered (not re-registered) on every
// call after.
type Globals struct {
	Regs [NumRegs]ir.TempIdx
	PC   ir.TempIdx
}

// GenFunc builds one TB's IR for a scenario; it returns the number of
// synthetic guest bytes "consumed" (a scenario picks any nonzero
// value — there is no real encoding to measure).
type GenFunc func(ctx *ir.Context, g *Globals, pc uint64, maxInsns int) uint32

// CPU is a GuestCpu whose translation behavior is supplied directly by
// a scenario's GenFunc rather than decoded from guest memory.
type CPU struct {
	State State
	Flags uint32
	Gen   GenFunc

	globals *Globals
}

// New returns a CPU that will translate via gen.
func New(gen GenFunc) *CPU {
	return &CPU{Gen: gen}
}

func (c *CPU) GetPC() uint64    { return c.State.PC }
func (c *CPU) GetFlags() uint32 { return c.Flags }

func (c *CPU) EnvPtr() unsafe.Pointer { return unsafe.Pointer(&c.State) }

// GenCode registers globals on the first call (env fixed temp, then
// guest GPRs, then PC, per the frontend contract's fixed order) and
// caches the assignment; every later call reuses the cached Globals,
// which is how this single long-lived CPU "recovers" the same
// positional TempIdx assignments the contract requires without a real
// decoder re-deriving them from scratch.
func (c *CPU) GenCode(ctx *ir.Context, pc uint64, maxInsns int) uint32 {
	if c.globals == nil {
		c.globals = registerGlobals(ctx)
	}
	return c.Gen(ctx, c.globals, pc, maxInsns)
}

func registerGlobals(ctx *ir.Context) *Globals {
	env := ir.TempIdx(0) // the backend's InitContext registers this first
	g := &Globals{}
	for i := 0; i < NumRegs; i++ {
		g.Regs[i] = ctx.NewGlobal(ir.I64, env, int64(i*8), fmt.Sprintf("x%d", i))
	}
	g.PC = ctx.NewGlobal(ir.I64, env, int64(unsafe.Offsetof(State{}.PC)), "pc")
	return g
}

// --- IR construction helpers shared by every scenario and by
// cmd/tcgctl's `asm` subcommand, which dumps these same builders'
// output without running a real executor. ---

func binOp(ctx *ir.Context, opcode ir.Opcode, dst, a, b ir.TempIdx) {
	idx := ctx.EmitOp(opcode, ir.I64)
	op := ctx.Op(idx)
	op.SetOArg(0, dst)
	op.SetIArg(0, a)
	op.SetIArg(1, b)
}

// Add emits `dst = a + b`.
func Add(ctx *ir.Context, dst, a, b ir.TempIdx) { binOp(ctx, ir.Add, dst, a, b) }

// Sub emits `dst = a - b`.
func Sub(ctx *ir.Context, dst, a, b ir.TempIdx) { binOp(ctx, ir.Sub, dst, a, b) }

// Mov emits `dst = src`.
func Mov(ctx *ir.Context, dst, src ir.TempIdx) {
	idx := ctx.EmitOp(ir.Mov, ir.I64)
	op := ctx.Op(idx)
	op.SetOArg(0, dst)
	op.SetIArg(0, src)
}

// BrCond emits `if a <cond> b goto label`.
func BrCond(ctx *ir.Context, cond ir.Cond, a, b ir.TempIdx, label ir.LabelIdx) {
	idx := ctx.EmitOp(ir.BrCond, ir.I64)
	op := ctx.Op(idx)
	op.SetIArg(0, a)
	op.SetIArg(1, b)
	op.SetCArg(0, uint32(cond))
	op.SetCArg(1, uint32(label))
}

// Br emits an unconditional jump to label.
func Br(ctx *ir.Context, label ir.LabelIdx) {
	idx := ctx.EmitOp(ir.Br, ir.I64)
	ctx.Op(idx).SetCArg(0, uint32(label))
}

// SetLabel emits the label-placement pseudo-op.
func SetLabel(ctx *ir.Context, label ir.LabelIdx) {
	idx := ctx.EmitOp(ir.SetLabel, ir.I64)
	ctx.Op(idx).SetCArg(0, uint32(label))
}

// ExitTb emits a block exit carrying val (>= tb.TbExitMax for a real
// guest exit code, as the executor's TbExitIdx0/1/Nochain values are
// reserved for chaining).
func ExitTb(ctx *ir.Context, val uint32) {
	idx := ctx.EmitOp(ir.ExitTb, ir.I64)
	ctx.Op(idx).SetCArg(0, val)
}

// GotoTb emits a chainable block-exit slot.
func GotoTb(ctx *ir.Context, slot uint32) {
	idx := ctx.EmitOp(ir.GotoTb, ir.I64)
	ctx.Op(idx).SetCArg(0, slot)
}

// --- Scenarios (spec.md §8's end-to-end list) ---

// ImmediateResult builds scenario 1: x1 = x0 + 42; ExitTb 3 (ECALL).
func ImmediateResult(ctx *ir.Context, g *Globals, pc uint64, maxInsns int) uint32 {
	c42 := ctx.NewConst(ir.I64, 42)
	Add(ctx, g.Regs[1], g.Regs[0], c42)
	ExitTb(ctx, 3)
	return 4
}

// RegRegAdd builds scenario 2: x3 = x1 + x2; ExitTb.
func RegRegAdd(ctx *ir.Context, g *Globals, pc uint64, maxInsns int) uint32 {
	tmp := ctx.NewTemp(ir.I64)
	Add(ctx, tmp, g.Regs[1], g.Regs[2])
	Mov(ctx, g.Regs[3], tmp)
	ExitTb(ctx, 3)
	return 4
}

// CondBranchTaken builds scenario 3: if x1==x2 goto L; x3=2; br E; L: x3=1; E: ExitTb.
func CondBranchTaken(ctx *ir.Context, g *Globals, pc uint64, maxInsns int) uint32 {
	lTaken := ctx.NewLabel()
	lEnd := ctx.NewLabel()

	BrCond(ctx, ir.Eq, g.Regs[1], g.Regs[2], lTaken)
	Mov(ctx, g.Regs[3], ctx.NewConst(ir.I64, 2))
	Br(ctx, lEnd)
	SetLabel(ctx, lTaken)
	Mov(ctx, g.Regs[3], ctx.NewConst(ir.I64, 1))
	SetLabel(ctx, lEnd)
	ExitTb(ctx, 3)
	return 8
}

// CountdownLoop builds scenario 4: a self-chaining loop that
// decrements x1 until it reaches zero, then exits with code 3 (ECALL).
// The loop body ends each iteration with GotoTb(0), so the executor
// chains it to itself rather than re-entering via the dispatcher.
func CountdownLoop(ctx *ir.Context, g *Globals, pc uint64, maxInsns int) uint32 {
	lExit := ctx.NewLabel()

	one := ctx.NewConst(ir.I64, 1)
	zero := ctx.NewConst(ir.I64, 0)
	Sub(ctx, g.Regs[1], g.Regs[1], one)
	BrCond(ctx, ir.Eq, g.Regs[1], zero, lExit)
	GotoTb(ctx, 0)
	// The unchained fallthrough for slot 0 must itself be an ExitTb
	// carrying that same slot number, so an unpatched goto_tb behaves
	// exactly like exit_tb(0) until the executor chains it directly.
	ExitTb(ctx, 0)
	SetLabel(ctx, lExit)
	ExitTb(ctx, 3)
	return 4
}
