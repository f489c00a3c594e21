// Package exec implements the translation pipeline glue and the
// multi-threaded execution loop: SharedState (the Arc'd, cross-vCPU
// translate-time state), PerCpuState (per-thread jump cache and
// stats), and the GuestCpu frontend contract that drives both.
package exec

import (
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tcg-go/tcg/internal/backend"
	"github.com/tcg-go/tcg/internal/codebuf"
	"github.com/tcg-go/tcg/internal/ir"
	"github.com/tcg-go/tcg/internal/liveness"
	"github.com/tcg-go/tcg/internal/optimize"
	"github.com/tcg-go/tcg/internal/regalloc"
	"github.com/tcg-go/tcg/internal/tb"
)

// GuestCpu is the frontend contract: anything that can decode one
// guest instruction stream and expose a CPU-state pointer matching the
// global layout it registers can drive this executor.
type GuestCpu interface {
	// GetPC returns the guest program counter to translate or look up.
	GetPC() uint64
	// GetFlags returns the translation-mode flags folded into the TB
	// cache key alongside PC (e.g. privilege level, endianness).
	GetFlags() uint32
	// GenCode populates ctx with IR for one TB starting at pc, using
	// at most maxInsns guest instructions, and returns the number of
	// guest bytes consumed. On the first call for a given SharedState
	// it must register globals in the fixed order: env fixed temp
	// (already registered by InitContext), then guest GPRs, then PC,
	// then any auxiliary globals; subsequent calls recover the same
	// TempIdx assignments positionally rather than re-registering.
	GenCode(ctx *ir.Context, pc uint64, maxInsns int) uint32
	// EnvPtr returns a pointer to the CPU state struct matching the
	// global layout GenCode registered.
	EnvPtr() unsafe.Pointer
}

// ExitReason is the executor loop's terminal result.
type ExitReason struct {
	// BufferFull is true when the code buffer ran out of room and the
	// caller should flush the TB cache and retry translation.
	BufferFull bool
	// Code is the guest exit code when !BufferFull (>= tb.TbExitMax).
	Code uint64
}

// ExecStats counts per-vCPU executor events, useful for diagnostics
// and the test suite's sanity checks.
type ExecStats struct {
	TbExec        uint64
	Translations  uint64
	ChainPatched  uint64
	ChainAlready  uint64
	CacheHits     uint64
	CacheMisses   uint64
}

// SharedState is the translate-time state shared, Arc-style, across
// every vCPU thread executing against one code buffer and one TB
// cache: the block store, the code buffer, the backend, and the
// mutex serializing translation.
type SharedState struct {
	Store   *tb.Store
	Buf     *codebuf.CodeBuffer
	Backend backend.HostCodeGen

	zeroReturn int
	commonTail int
	prologue   int

	translateMu sync.Mutex
	ctx         *ir.Context

	log *logrus.Entry
}

// NewSharedState mmaps a code buffer of the given size (DefaultSize if
// <= 0) and maps it R+W+X, emits the prologue/epilogue trampolines, and
// configures a fresh Context for this backend.
func NewSharedState(be backend.HostCodeGen, bufSize int, log *logrus.Entry) (*SharedState, error) {
	buf, err := codebuf.New(bufSize)
	if err != nil {
		return nil, errors.Wrap(err, "exec: new shared state")
	}
	if err := buf.SetExecutableWritable(); err != nil {
		buf.Close()
		return nil, errors.Wrap(err, "exec: new shared state")
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &SharedState{
		Store:   tb.NewStore(),
		Buf:     buf,
		Backend: be,
		ctx:     ir.NewContext(),
		log:     log,
	}
	s.prologue = be.EmitPrologue(buf)
	s.zeroReturn, s.commonTail = be.EmitEpilogue(buf)
	be.InitContext(s.ctx)
	return s, nil
}

// Close releases the code buffer's mapping.
func (s *SharedState) Close() error { return s.Buf.Close() }

// PerCpuState is the per-thread state owned exclusively by one vCPU's
// executor loop: its jump cache and its stats. Never shared, so it
// needs no synchronization of its own.
type PerCpuState struct {
	JumpCache *tb.JumpCache
	Stats     ExecStats
}

// NewPerCpuState returns a fresh, empty per-vCPU state.
func NewPerCpuState() *PerCpuState {
	return &PerCpuState{JumpCache: tb.NewJumpCache()}
}

// translate runs the optimize -> liveness -> regalloc+emit pipeline
// against shared.ctx (already populated by GenCode) and appends the
// resulting host code to shared.Buf, returning its offset and size.
// Callers hold shared.translateMu.
func translate(shared *SharedState) (hostOffset, hostSize int) {
	optimize.Run(shared.ctx)
	liveness.Run(shared.ctx)
	shared.Backend.ClearGotoTbOffsets()
	hostOffset = shared.Buf.Offset()
	regalloc.RegallocAndCodegen(shared.ctx, shared.Backend, shared.Buf, shared.zeroReturn, shared.commonTail)
	hostSize = shared.Buf.Offset() - hostOffset
	return
}

// minCodeBufRemaining is the slack tbGenCode insists on before
// translating a new block, so a single block's worst-case emission
// can never itself trip the buffer-full path mid-emission.
const minCodeBufRemaining = 64 * 1024

// tbGenCode translates the block at (pc, flags) under shared's
// translate lock, double-checking the hash table after acquiring it
// in case another vCPU translated the same block first. Returns
// (nil, true) on buffer-full backpressure.
func tbGenCode(shared *SharedState, cpu GuestCpu, pc uint64, flags uint32) (*tb.TranslationBlock, bool) {
	shared.translateMu.Lock()
	defer shared.translateMu.Unlock()

	if existing := shared.Store.Lookup(pc, 0, flags); existing != nil {
		return existing, false
	}

	if shared.Buf.Remaining() < minCodeBufRemaining {
		return nil, true
	}

	block := tb.New(pc, flags)
	shared.ctx.Reset()
	// The block doesn't exist in the store yet (Insert happens after
	// translate, once its host code is known), but Insert always
	// appends, so its eventual index is exactly today's block count.
	// ExitTb encoding needs that index before codegen runs.
	shared.ctx.TbIdx = shared.Store.Count()
	guestBytes := cpu.GenCode(shared.ctx, pc, tb.MaxInsns(0))
	block.Size = int(guestBytes)
	ops := shared.ctx.Ops()
	for i := range ops {
		if ops[i].Opcode == ir.InsnStart {
			block.ICount++
		}
	}

	hostOffset, hostSize := translate(shared)
	block.HostOffset, block.HostSize = hostOffset, hostSize

	for slot, off := range shared.Backend.GotoTbOffsets() {
		if off.Valid {
			block.SetJmpInsnOffset(slot, off.JmpOffset)
			block.SetJmpResetOffset(slot, off.ResetOffset)
		}
	}

	idx := shared.Store.Insert(block)
	shared.log.WithFields(logrus.Fields{"pc": pc, "flags": flags, "idx": idx, "host_size": hostSize}).
		Debug("exec: translated new block")
	return block, false
}

// tbFind resolves (pc, flags) to a block via the per-CPU jump cache
// first, then the shared hash table, translating on a full miss.
func tbFind(shared *SharedState, per *PerCpuState, cpu GuestCpu, pc uint64, flags uint32) (*tb.TranslationBlock, bool) {
	if idx, ok := per.JumpCache.Lookup(pc); ok {
		block := shared.Store.Block(idx)
		if !block.Invalid.Load() && block.Flags == flags {
			per.Stats.CacheHits++
			return block, false
		}
	}
	per.Stats.CacheMisses++

	if block := shared.Store.Lookup(pc, 0, flags); block != nil {
		return block, false
	}

	block, bufferFull := tbGenCode(shared, cpu, pc, flags)
	if bufferFull {
		return nil, true
	}
	per.Stats.Translations++
	return block, false
}

// tbAddJump patches src's goto_tb slot to jump directly into dst,
// recording the chain so a later invalidation of dst can unchain it.
// Lock order is always src before dst, matching the executor's single
// other cross-block lock acquisition.
func tbAddJump(shared *SharedState, per *PerCpuState, src *tb.TranslationBlock, slot int, dst *tb.TranslationBlock) {
	if !src.JmpValid[slot] {
		return
	}
	if dst.Invalid.Load() {
		return
	}

	src.Lock()
	if src.JmpDest(slot) >= 0 {
		src.Unlock()
		per.Stats.ChainAlready++
		return
	}
	shared.Backend.PatchJump(shared.Buf, src.JmpInsnOffset[slot], dst.HostOffset)
	src.SetJmpDest(slot, dst.Idx)
	src.Unlock()

	dst.Lock()
	dst.AddJmpListEntry(src.Idx, slot)
	dst.Unlock()

	per.Stats.ChainPatched++
}

// cpuTbExec calls into the JIT'd prologue for one execution, passing
// env and this block's code pointer, and returns the raw (possibly
// exit-TB-encoded) value the epilogue left behind.
func cpuTbExec(shared *SharedState, cpu GuestCpu, block *tb.TranslationBlock) uint64 {
	base := uintptr(unsafe.Pointer(&shared.Buf.BasePtr()[0]))
	entry := base + uintptr(shared.prologue)
	tbCode := unsafe.Pointer(&shared.Buf.BasePtr()[block.HostOffset])
	return callTb(entry, cpu.EnvPtr(), tbCode)
}

//go:noescape
func callTb(entry uintptr, envPtr, tbPtr unsafe.Pointer) uint64

// CpuExecLoopMT runs cpu's guest code to completion against shared,
// using per as this vCPU's private jump cache and stats. It returns
// once the guest raises a real exit code, or the code buffer fills up
// (the caller is expected to flush the cache and resume).
func CpuExecLoopMT(shared *SharedState, per *PerCpuState, cpu GuestCpu) ExitReason {
	var hint *tb.TranslationBlock

	for {
		block := hint
		hint = nil
		if block == nil {
			var bufferFull bool
			block, bufferFull = tbFind(shared, per, cpu, cpu.GetPC(), cpu.GetFlags())
			if bufferFull {
				return ExitReason{BufferFull: true}
			}
		}

		raw := cpuTbExec(shared, cpu, block)
		per.Stats.TbExec++
		srcIdx, hasSrc, code := tb.DecodeTbExit(raw)

		switch {
		case code == tb.TbExitIdx0 || code == tb.TbExitIdx1:
			dst, bufferFull := tbFind(shared, per, cpu, cpu.GetPC(), cpu.GetFlags())
			if bufferFull {
				return ExitReason{BufferFull: true}
			}
			if hasSrc {
				tbAddJump(shared, per, shared.Store.Block(srcIdx), int(code), dst)
			}
			per.JumpCache.Insert(dst.PC, dst.Idx)
			hint = dst

		case code == tb.TbExitNochain:
			if target := block.ExitTarget.Load(); target != tb.ExitTargetNone {
				candidate := shared.Store.Block(int(target))
				if !candidate.Invalid.Load() && candidate.PC == cpu.GetPC() && candidate.Flags == cpu.GetFlags() {
					hint = candidate
					continue
				}
			}
			dst, bufferFull := tbFind(shared, per, cpu, cpu.GetPC(), cpu.GetFlags())
			if bufferFull {
				return ExitReason{BufferFull: true}
			}
			block.ExitTarget.Store(uintptr(dst.Idx))
			per.JumpCache.Insert(dst.PC, dst.Idx)
			hint = dst

		default:
			return ExitReason{Code: code}
		}
	}
}
