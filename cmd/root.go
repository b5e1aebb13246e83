package cmd

import (
	"fmt"
	"os"

	"github.com/Jackmin801/torch-state-server/cmd/get"
	"github.com/Jackmin801/torch-state-server/cmd/perf"
	"github.com/Jackmin801/torch-state-server/cmd/serve"
	"github.com/spf13/cobra"
)

const (
	Version = "0.2.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "torchstate",
		Short: "state server for live model parameters",
		Long: fmt.Sprintf(`torchstate (v%s)

A minimal state server: one process holds a read-only tree of scalars and
tensors, other processes pull individual leaves by path over a compact
binary TCP protocol.`, Version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of torchstate",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("torchstate v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(get.GetCmd)
	RootCmd.AddCommand(perf.PerfCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
