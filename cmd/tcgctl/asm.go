package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tcg-go/tcg/internal/dump"
	"github.com/tcg-go/tcg/internal/ir"
	"github.com/tcg-go/tcg/internal/testcpu"
	"github.com/tcg-go/tcg/internal/x86"
)

var scenarios = map[string]testcpu.GenFunc{
	"immediate-result":  testcpu.ImmediateResult,
	"reg-reg-add":       testcpu.RegRegAdd,
	"cond-branch-taken": testcpu.CondBranchTaken,
	"countdown-loop":    testcpu.CountdownLoop,
}

func newAsmCmd() *cobra.Command {
	var pc uint64
	cmd := &cobra.Command{
		Use:   "asm <scenario>",
		Short: "Hand-assemble one of the builtin test scenarios and dump its IR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gen, ok := scenarios[args[0]]
			if !ok {
				return errors.Errorf("unknown scenario %q (known: %s)", args[0], knownScenarios())
			}
			be := x86.New()
			ctx := ir.NewContext()
			be.InitContext(ctx)
			cpu := testcpu.New(gen)
			cpu.GenCode(ctx, pc, ir.MaxInsns)
			return dump.DumpOps(ctx, cmd.OutOrStdout())
		},
	}
	cmd.Flags().Uint64Var(&pc, "pc", 0, "starting guest PC passed to the scenario")
	return cmd
}

func knownScenarios() string {
	var s string
	for name := range scenarios {
		if s != "" {
			s += ", "
		}
		s += name
	}
	return s
}
