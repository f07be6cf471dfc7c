package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/pkg/config"
	"github.com/quarrylabs/quarry/pkg/lifecycle"
	"github.com/quarrylabs/quarry/pkg/log"
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
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "goldd",
	Short: "Goldd - golden repository lifecycle daemon",
	Long: `Goldd keeps golden repositories fresh: it pulls upstream changes on a
schedule, rebuilds search indexes, publishes immutable copy-on-write
snapshots behind atomic aliases, and retires superseded snapshots once
their readers drain.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Goldd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("config", "", "path to YAML config file")
	serveCmd.Flags().String("root", "", "golden repository root (overrides config)")
	serveCmd.Flags().String("log-level", "", "log level: debug, info, warn, error")
	serveCmd.Flags().Bool("json-logs", false, "emit JSON log lines")
	serveCmd.Flags().String("metrics-addr", "", "address for the Prometheus endpoint (empty disables)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the lifecycle daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		root, _ := cmd.Flags().GetString("root")
		logLevel, _ := cmd.Flags().GetString("log-level")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		cfg := config.Default()
		if configPath != "" {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
		}
		if root != "" {
			cfg.Root = root
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if jsonLogs {
			cfg.Log.JSONOutput = true
		}

		log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSONOutput})

		mgr, err := lifecycle.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to build lifecycle manager: %w", err)
		}

		ctx := context.Background()
		if err := mgr.Start(ctx); err != nil {
			return err
		}
		defer mgr.Stop()

		if metricsAddr != "" {
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", mgr.MetricsHandler())
				if err := http.ListenAndServe(metricsAddr, mux); err != nil {
					log.Logger.Error().Err(err).Msg("metrics endpoint failed")
				}
			}()
		}

		log.Logger.Info().
			Str("version", Version).
			Str("root", cfg.Root).
			Msg("goldd is running; press Ctrl+C to stop")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Logger.Info().Msg("shutting down")
		return nil
	},
}
