package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/blockvault/pkg/blockvaulterrors"
	"github.com/cuemby/blockvault/pkg/config"
	"github.com/cuemby/blockvault/pkg/engine"
	"github.com/cuemby/blockvault/pkg/render"
)

// buildEngine loads the configuration named by the --config flag and wires
// a ready-to-use Engine from it, the common first step of every subcommand.
func buildEngine(ctx context.Context, cmd *cobra.Command) (*engine.Engine, *config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	eng, err := engine.Build(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return eng, cfg, nil
}

// jsonOutput reports whether the caller asked for --json output.
func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

// emit renders v as JSON when --json is set, otherwise prints rows as a
// table under header.
func emit(cmd *cobra.Command, v any, header []string, rows [][]string) error {
	if jsonOutput(cmd) {
		return render.JSON(os.Stdout, v)
	}
	render.Table(os.Stdout, header, rows)
	return nil
}

// storageNameOrDefault resolves the --storage flag, falling back to the
// configuration's defaultStorage.
func storageNameOrDefault(cmd *cobra.Command, cfg *config.Config) (string, error) {
	name, _ := cmd.Flags().GetString("storage")
	if name == "" {
		name = cfg.DefaultStorage
	}
	if name == "" {
		return "", blockvaulterrors.Usagef("no --storage given and no defaultStorage configured")
	}
	return name, nil
}
