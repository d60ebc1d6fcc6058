package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/blockvault/pkg/blockvaulterrors"
	"github.com/cuemby/blockvault/pkg/scrub"
)

var scrubCmd = &cobra.Command{
	Use:   "scrub VERSION_UID",
	Short: "Verify a version's stored blocks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		eng, _, err := buildEngine(ctx, cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		deep, _ := cmd.Flags().GetBool("deep")
		workers, _ := cmd.Flags().GetInt("workers")
		samplePercent, _ := cmd.Flags().GetInt("sample-percent")

		depth := scrub.Metadata
		if deep {
			depth = scrub.Deep
		}

		result, err := scrub.Run(ctx, eng, scrub.Options{
			VersionUID:    args[0],
			Depth:         depth,
			Workers:       workers,
			SamplePercent: samplePercent,
		})
		if err != nil {
			return err
		}

		header := []string{"IDX", "REASON"}
		rows := make([][]string, 0, len(result.Mismatches))
		for _, m := range result.Mismatches {
			rows = append(rows, []string{fmt.Sprint(m.Idx), m.Reason})
		}
		if err := emit(cmd, result, header, rows); err != nil {
			return err
		}
		if len(result.Mismatches) > 0 {
			return blockvaulterrors.Scrubbingf("scrub found %d mismatch(es) out of %d block(s) checked", len(result.Mismatches), result.Checked)
		}
		return nil
	},
}

func init() {
	scrubCmd.Flags().Bool("deep", false, "Fetch and verify full block content instead of metadata only")
	scrubCmd.Flags().Int("workers", 4, "Number of concurrent block workers")
	scrubCmd.Flags().Int("sample-percent", 0, "Verify only a random percentage of blocks (0 = verify all)")
}
