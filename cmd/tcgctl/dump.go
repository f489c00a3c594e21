package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tcg-go/tcg/internal/dump"
	"github.com/tcg-go/tcg/internal/serialize"
)

func newDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <file.tcgir>",
		Short: "Print every TB in a .tcgir file as human-readable IR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return errors.Wrap(err, "read tcgir file")
			}
			contexts, err := serialize.ReadAll(data)
			if err != nil {
				return errors.Wrap(err, "decode tcgir file")
			}
			log.WithField("tbs", len(contexts)).Debug("loaded tcgir file")
			for i, ctx := range contexts {
				cmd.Printf("=== tb %d ===\n", i)
				if err := dump.DumpOps(ctx, cmd.OutOrStdout()); err != nil {
					return errors.Wrap(err, "dump ops")
				}
			}
			return nil
		},
	}
}
