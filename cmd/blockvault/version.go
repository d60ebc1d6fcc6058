package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Inspect and manage backup versions",
}

var versionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List versions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		eng, _, err := buildEngine(ctx, cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		volume, _ := cmd.Flags().GetString("volume")
		versions, err := eng.DB.ListVersions(ctx, volume)
		if err != nil {
			return err
		}

		header := []string{"UID", "VOLUME", "SNAPSHOT", "DATE", "STATUS", "SIZE"}
		rows := make([][]string, 0, len(versions))
		for _, v := range versions {
			rows = append(rows, []string{
				v.UID, v.Volume, v.Snapshot, v.Date.Format("2006-01-02T15:04:05Z07:00"),
				string(v.Status), strconv.FormatInt(v.Size, 10),
			})
		}
		return emit(cmd, versions, header, rows)
	},
}

var versionShowCmd = &cobra.Command{
	Use:   "show VERSION_UID",
	Short: "Show a version's details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		eng, _, err := buildEngine(ctx, cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		v, err := eng.DB.GetVersion(ctx, args[0])
		if err != nil {
			return err
		}

		if jsonOutput(cmd) {
			return emit(cmd, v, nil, nil)
		}
		fmt.Printf("uid:                %s\n", v.UID)
		fmt.Printf("volume:             %s\n", v.Volume)
		fmt.Printf("snapshot:           %s\n", v.Snapshot)
		fmt.Printf("date:               %s\n", v.Date.Format("2006-01-02T15:04:05Z07:00"))
		fmt.Printf("status:             %s\n", v.Status)
		fmt.Printf("protected:          %v\n", v.Protected)
		fmt.Printf("size:               %d\n", v.Size)
		fmt.Printf("block_size:         %d\n", v.BlockSize)
		fmt.Printf("bytes_read:         %d\n", v.BytesRead)
		fmt.Printf("bytes_written:      %d\n", v.BytesWritten)
		fmt.Printf("bytes_deduplicated: %d\n", v.BytesDeduplicated)
		fmt.Printf("bytes_sparse:       %d\n", v.BytesSparse)
		fmt.Printf("duration_s:         %.2f\n", v.Duration)
		for k, val := range v.Labels {
			fmt.Printf("label %s=%s\n", k, val)
		}
		return nil
	},
}

var versionRmCmd = &cobra.Command{
	Use:   "rm VERSION_UID",
	Short: "Remove a version, enqueueing its unreferenced blocks for cleanup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		eng, _, err := buildEngine(ctx, cmd)
		if err != nil {
			return err
		}
		defer eng.Close()
		return eng.DB.RemoveVersion(ctx, args[0])
	},
}

func init() {
	versionLsCmd.Flags().String("volume", "", "Restrict to a single volume (default: all)")
	versionCmd.AddCommand(versionLsCmd)
	versionCmd.AddCommand(versionShowCmd)
	versionCmd.AddCommand(versionRmCmd)
}
