package main

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"
)

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Inspect configured storage backends",
}

var storageLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List configured storages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		eng, cfg, err := buildEngine(ctx, cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		header := []string{"NAME", "MODULE", "STORAGE_ID", "DEFAULT"}
		rows := make([][]string, 0, len(cfg.Storages))
		for _, sc := range cfg.Storages {
			s, err := eng.Storage(sc.Name)
			if err != nil {
				return err
			}
			isDefault := "no"
			if sc.Name == cfg.DefaultStorage {
				isDefault = "yes"
			}
			rows = append(rows, []string{sc.Name, sc.Module, strconv.Itoa(s.StorageID), isDefault})
		}
		return emit(cmd, cfg.Storages, header, rows)
	},
}

func init() {
	storageCmd.AddCommand(storageLsCmd)
}
