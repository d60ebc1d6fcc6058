package main

import (
	"context"

	"github.com/spf13/cobra"

	iofile "github.com/cuemby/blockvault/pkg/iosource/file"
	"github.com/cuemby/blockvault/pkg/restore"
)

var restoreCmd = &cobra.Command{
	Use:   "restore VERSION_UID TARGET",
	Short: "Restore a version onto a target file or block device",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		eng, _, err := buildEngine(ctx, cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		versionUID := args[0]
		targetPath := args[1]
		workers, _ := cmd.Flags().GetInt("workers")
		sparseWrite, _ := cmd.Flags().GetBool("sparse-write")

		version, err := eng.DB.GetVersion(ctx, versionUID)
		if err != nil {
			return err
		}

		dst, err := iofile.OpenSized(targetPath, version.Size, version.BlockSize)
		if err != nil {
			return err
		}
		defer dst.Close()

		return restore.Run(ctx, eng, restore.Options{
			VersionUID:  versionUID,
			Target:      dst,
			SparseWrite: sparseWrite,
			Workers:     workers,
		})
	},
}

func init() {
	restoreCmd.Flags().Int("workers", 4, "Number of concurrent block workers")
	restoreCmd.Flags().Bool("sparse-write", false, "Explicitly zero-write sparse blocks instead of skipping them")
}
