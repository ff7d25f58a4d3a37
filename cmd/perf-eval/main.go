package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/noah-isme/perf-eval-api/internal/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "perf-eval",
		Short: "Performance evaluation step workflow service",
		Long: `perf-eval runs the evaluation step approval API and the administrative
commands that move steps and revision requests through their workflow.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(cli.ServeCmd())
	rootCmd.AddCommand(cli.MigrateCmd())
	rootCmd.AddCommand(cli.StepCmd())
	rootCmd.AddCommand(cli.RevisionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
