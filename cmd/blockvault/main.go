package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/blockvault/pkg/blockvaulterrors"
	"github.com/cuemby/blockvault/pkg/config"
	"github.com/cuemby/blockvault/pkg/database"
	"github.com/cuemby/blockvault/pkg/log"
	"github.com/cuemby/blockvault/pkg/metrics"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		kind, ok := blockvaulterrors.KindOf(err)
		if !ok {
			os.Exit(1)
		}
		os.Exit(blockvaulterrors.ExitCode(kind))
	}
}

var rootCmd = &cobra.Command{
	Use:   "blockvault",
	Short: "Blockvault - deduplicating, content-addressed block backup",
	Long: `Blockvault backs up block devices and sparse files in fixed-size
blocks, deduplicating identical content across every version stored
against a storage backend and verifying it on restore.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"blockvault version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "/etc/blockvault/blockvault.yaml", "Path to the blockvault configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().Bool("json", false, "Render command output as JSON instead of a table")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Address to serve /metrics, /health, /ready, /live on (disabled if empty)")

	cobra.OnInitialize(initLogging, initMetricsServer)

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(scrubCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(storageCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
	metrics.SetVersion(Version)
}

func initMetricsServer() {
	addr, _ := rootCmd.PersistentFlags().GetString("metrics-addr")
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.WithComponent("metrics").Error().Err(err).Msg("metrics server stopped")
		}
	}()

	startMetricsCollector()
}

// startMetricsCollector opens its own connection to the metadata database
// and samples version counts on a ticker, independent of the *sql.DB each
// command opens for the duration of its own run.
func startMetricsCollector() {
	configPath, _ := rootCmd.PersistentFlags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.WithComponent("metrics").Warn().Err(err).Msg("metrics collector disabled: could not load configuration")
		return
	}
	db, err := database.Open(cfg.MetadataEngine)
	if err != nil {
		log.WithComponent("metrics").Warn().Err(err).Msg("metrics collector disabled: could not open metadata database")
		return
	}
	metrics.NewCollector(db).Start()
}
