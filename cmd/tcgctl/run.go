package main

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tcg-go/tcg/internal/exec"
	"github.com/tcg-go/tcg/internal/testcpu"
	"github.com/tcg-go/tcg/internal/x86"
)

// parseRegs turns "idx=value" pairs (e.g. "1=5") into initial register
// settings, so a scenario like countdown-loop (which otherwise starts
// from a zeroed x1 and underflows into an effectively infinite loop)
// can be given a real starting value from the command line.
func parseRegs(pairs []string, regs *[testcpu.NumRegs]uint64) error {
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return errors.Errorf("invalid --reg %q, want idx=value", p)
		}
		idx, err := strconv.Atoi(k)
		if err != nil || idx < 0 || idx >= testcpu.NumRegs {
			return errors.Errorf("invalid register index in %q", p)
		}
		val, err := strconv.ParseUint(v, 0, 64)
		if err != nil {
			return errors.Errorf("invalid register value in %q", p)
		}
		regs[idx] = val
	}
	return nil
}

func newRunCmd() *cobra.Command {
	var bufSize int
	var regFlags []string
	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Run one of the builtin test scenarios through the executor and print the exit state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gen, ok := scenarios[args[0]]
			if !ok {
				return errors.Errorf("unknown scenario %q (known: %s)", args[0], knownScenarios())
			}

			shared, err := exec.NewSharedState(x86.New(), bufSize, log.WithField("cmd", "run"))
			if err != nil {
				return errors.Wrap(err, "init shared state")
			}
			defer shared.Close()

			per := exec.NewPerCpuState()
			cpu := testcpu.New(gen)
			if err := parseRegs(regFlags, &cpu.State.Regs); err != nil {
				return err
			}

			reason := exec.CpuExecLoopMT(shared, per, cpu)
			if reason.BufferFull {
				return errors.New("code buffer ran out of room")
			}

			cmd.Printf("exit code: %d\n", reason.Code)
			for i, v := range cpu.State.Regs {
				cmd.Printf("x%d = 0x%x\n", i, v)
			}
			cmd.Printf("pc = 0x%x\n", cpu.State.PC)
			cmd.Printf("tb_exec=%d translations=%d chain_patched=%d chain_already=%d cache_hits=%d cache_misses=%d\n",
				per.Stats.TbExec, per.Stats.Translations, per.Stats.ChainPatched,
				per.Stats.ChainAlready, per.Stats.CacheHits, per.Stats.CacheMisses)
			return nil
		},
	}
	cmd.Flags().IntVar(&bufSize, "buf-size", 1<<20, "code buffer size in bytes")
	cmd.Flags().StringSliceVar(&regFlags, "reg", nil, "initial register as idx=value, repeatable")
	return cmd
}
