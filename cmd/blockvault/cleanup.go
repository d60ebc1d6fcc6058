package main

import (
	"context"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/blockvault/pkg/gc"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Sweep unreferenced blocks left behind by removed versions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		eng, _, err := buildEngine(ctx, cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		safetyDelay, _ := cmd.Flags().GetDuration("safety-delay")
		batchLimit, _ := cmd.Flags().GetInt("batch-limit")

		result, err := gc.Sweep(ctx, eng, gc.Options{
			SafetyDelay: safetyDelay,
			BatchLimit:  batchLimit,
		})
		if err != nil {
			return err
		}

		return emit(cmd, result,
			[]string{"DELETED", "RETAINED"},
			[][]string{{strconv.Itoa(result.Deleted), strconv.Itoa(result.Retained)}},
		)
	},
}

func init() {
	cleanupCmd.Flags().Duration("safety-delay", time.Hour, "Minimum age of a pending delete before it is swept")
	cleanupCmd.Flags().Int("batch-limit", 0, "Maximum pending deletes to process in one sweep (0 = default)")
}
