// Command tcgctl is the development CLI: it dumps .tcgir files as
// human-readable text, hand-assembles and runs the builtin test
// scenarios, and round-trips the synthetic frontend's IR through the
// executor without a real guest decoder.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	logLevel string
	log      = logrus.New()
)

func main() {
	root := &cobra.Command{
		Use:   "tcgctl",
		Short: "tcgctl inspects and exercises the TB translation pipeline",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			viper.BindPFlag("log-level", cmd.Flags().Lookup("log-level"))
			lvl, err := logrus.ParseLevel(viper.GetString("log-level"))
			if err != nil {
				return err
			}
			log.SetLevel(lvl)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (panic,fatal,error,warn,info,debug,trace)")
	viper.SetEnvPrefix("tcgctl")
	viper.AutomaticEnv()

	root.AddCommand(newDumpCmd())
	root.AddCommand(newAsmCmd())
	root.AddCommand(newRunCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
