// Package boundary implements the "pulse boundary" command.
package boundary

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/pulse/internal/safe"
	"github.com/coral-mesh/pulse/internal/timer"
)

// Output is the machine-readable form of the command's result.
type Output struct {
	Boundary  uint64 `json:"boundary"`
	Time      string `json:"time"`
	Remaining uint64 `json:"remaining_seconds"`
	Next      uint64 `json:"next_boundary"`
}

// NewBoundaryCmd creates the boundary command.
func NewBoundaryCmd() *cobra.Command {
	return newBoundaryCmd(timer.SystemClock{})
}

func newBoundaryCmd(clock timer.Clock) *cobra.Command {
	var (
		offset     time.Duration
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "boundary",
		Short: "Show the current 10-second boundary",
		Long: `Show the most recent 10-second boundary and the seconds left until the next one.

Examples:
  pulse boundary
  pulse boundary --offset 30s --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := compute(clock, offset)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "Boundary:  %d (%s)\n", out.Boundary, out.Time)
			_, _ = fmt.Fprintf(w, "Next:      %d\n", out.Next)
			_, _ = fmt.Fprintf(w, "Remaining: %ds\n", out.Remaining)
			return nil
		},
	}

	cmd.Flags().DurationVar(&offset, "offset", 0, "Shift the current time before bucketing")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func compute(clock timer.Clock, offset time.Duration) (Output, error) {
	boundary, err := timer.CurrentBoundary(clock, offset)
	if err != nil {
		return Output{}, fmt.Errorf("failed to read current boundary: %w", err)
	}
	remaining, err := timer.RemainingToNextBoundary(clock, offset)
	if err != nil {
		return Output{}, fmt.Errorf("failed to read remaining time: %w", err)
	}

	sec, _ := safe.Uint64ToInt64(boundary)
	return Output{
		Boundary:  boundary,
		Time:      time.Unix(sec, 0).UTC().Format(time.RFC3339),
		Remaining: remaining,
		Next:      boundary + timer.IntervalSeconds,
	}, nil
}
