package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/blockvault/pkg/backup"
	iofile "github.com/cuemby/blockvault/pkg/iosource/file"
)

var backupCmd = &cobra.Command{
	Use:   "backup SOURCE",
	Short: "Back up a block device or file as a new version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		eng, cfg, err := buildEngine(ctx, cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		volume, _ := cmd.Flags().GetString("volume")
		snapshot, _ := cmd.Flags().GetString("snapshot")
		base, _ := cmd.Flags().GetString("base")
		workers, _ := cmd.Flags().GetInt("workers")
		storageName, err := storageNameOrDefault(cmd, cfg)
		if err != nil {
			return err
		}

		src, err := iofile.Open(args[0], cfg.BlockSize, false)
		if err != nil {
			return err
		}
		defer src.Close()

		versionUID, err := backup.Run(ctx, eng, backup.Options{
			Volume:         volume,
			Snapshot:       snapshot,
			Source:         src,
			StorageName:    storageName,
			BaseVersionUID: base,
			Workers:        workers,
		})
		if err != nil {
			return err
		}

		fmt.Println(versionUID)
		return nil
	},
}

func init() {
	backupCmd.Flags().String("volume", "", "Volume name this backup belongs to (required)")
	backupCmd.Flags().String("snapshot", "", "Snapshot label for this version (required)")
	backupCmd.Flags().String("storage", "", "Storage to write to (defaults to the configuration's defaultStorage)")
	backupCmd.Flags().String("base", "", "Base version UID for a differential backup")
	backupCmd.Flags().Int("workers", 4, "Number of concurrent block workers")
	backupCmd.MarkFlagRequired("volume")
	backupCmd.MarkFlagRequired("snapshot")
}
