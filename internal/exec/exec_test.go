package exec_test

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/tcg-go/tcg/internal/exec"
	"github.com/tcg-go/tcg/internal/testcpu"
	"github.com/tcg-go/tcg/internal/tb"
	"github.com/tcg-go/tcg/internal/x86"
)

func newShared(t *testing.T) *exec.SharedState {
	t.Helper()
	shared, err := exec.NewSharedState(x86.New(), 1<<16, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, shared.Close()) })
	return shared
}

func TestImmediateResult(t *testing.T) {
	shared := newShared(t)
	per := exec.NewPerCpuState()
	cpu := testcpu.New(testcpu.ImmediateResult)

	reason := exec.CpuExecLoopMT(shared, per, cpu)
	require.False(t, reason.BufferFull)
	require.EqualValues(t, tb.ExcpECall, reason.Code)
	require.EqualValues(t, 42, cpu.State.Regs[1])
}

func TestRegRegAdd(t *testing.T) {
	shared := newShared(t)
	per := exec.NewPerCpuState()
	cpu := testcpu.New(testcpu.RegRegAdd)
	cpu.State.Regs[1] = 100
	cpu.State.Regs[2] = 200

	reason := exec.CpuExecLoopMT(shared, per, cpu)
	require.False(t, reason.BufferFull)
	require.EqualValues(t, 300, cpu.State.Regs[3])
}

func TestCondBranchTaken(t *testing.T) {
	shared := newShared(t)
	per := exec.NewPerCpuState()
	cpu := testcpu.New(testcpu.CondBranchTaken)
	cpu.State.Regs[1] = 42
	cpu.State.Regs[2] = 42

	reason := exec.CpuExecLoopMT(shared, per, cpu)
	require.False(t, reason.BufferFull)
	require.EqualValues(t, 1, cpu.State.Regs[3])
}

func TestCondBranchNotTaken(t *testing.T) {
	shared := newShared(t)
	per := exec.NewPerCpuState()
	cpu := testcpu.New(testcpu.CondBranchTaken)
	cpu.State.Regs[1] = 42
	cpu.State.Regs[2] = 7

	reason := exec.CpuExecLoopMT(shared, per, cpu)
	require.False(t, reason.BufferFull)
	require.EqualValues(t, 2, cpu.State.Regs[3])
}

func TestCountdownLoopChaining(t *testing.T) {
	shared := newShared(t)
	per := exec.NewPerCpuState()
	cpu := testcpu.New(testcpu.CountdownLoop)
	cpu.State.Regs[1] = 100

	reason := exec.CpuExecLoopMT(shared, per, cpu)
	require.False(t, reason.BufferFull)
	require.EqualValues(t, tb.ExcpECall, reason.Code)
	require.EqualValues(t, 0, cpu.State.Regs[1])
	// The loop body chains to itself via GotoTb rather than re-entering
	// the dispatcher on every iteration, so only one TB is ever
	// translated for the whole countdown.
	require.EqualValues(t, 1, per.Stats.Translations)
	require.GreaterOrEqual(t, per.Stats.TbExec, uint64(1))
}

func TestSharedTbCacheUnderConcurrentCpus(t *testing.T) {
	shared := newShared(t)

	const nCpus = 4
	var g errgroup.Group
	results := make([]uint64, nCpus)
	regs := make([]uint64, nCpus)

	for i := 0; i < nCpus; i++ {
		i := i
		g.Go(func() error {
			per := exec.NewPerCpuState()
			cpu := testcpu.New(testcpu.ImmediateResult)
			cpu.State.Regs[0] = uint64(i)

			reason := exec.CpuExecLoopMT(shared, per, cpu)
			if reason.BufferFull {
				return errBufferFull
			}
			results[i] = reason.Code
			regs[i] = cpu.State.Regs[1]
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for i := 0; i < nCpus; i++ {
		require.EqualValues(t, tb.ExcpECall, results[i])
		require.EqualValues(t, uint64(i)+42, regs[i])
	}
	// Every vCPU translates for the same (pc=0, flags=0) key; the
	// double-check under the translate lock normally leaves a single
	// block, and the store never holds more than one per vCPU.
	require.LessOrEqual(t, shared.Store.Count(), nCpus)
}

var errBufferFull = errors.New("code buffer ran out of room")
