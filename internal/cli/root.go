// Package cli wires the pulse commands together.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/pulse/internal/cli/boundary"
	"github.com/coral-mesh/pulse/internal/cli/run"
	"github.com/coral-mesh/pulse/pkg/version"
)

// NewRootCmd builds the pulse command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pulse",
		Short: "Pulse - 10-second boundary scheduler for profiling agents",
		Long: `Pulse fires a notification at every aligned 10-second wall-clock boundary
so that sample collection and upload batching share a common cadence.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetVersionTemplate("{{.Version}}\n")

	rootCmd.AddCommand(run.NewRunCmd())
	rootCmd.AddCommand(boundary.NewBoundaryCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "Pulse version %s\n", version.Version)
			_, _ = fmt.Fprintf(w, "Git commit: %s\n", version.GitCommit)
			_, _ = fmt.Fprintf(w, "Build date: %s\n", version.BuildDate)
			_, _ = fmt.Fprintf(w, "Go version: %s\n", version.GoVersion)
		},
	}
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}
