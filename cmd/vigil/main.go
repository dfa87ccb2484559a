package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vigilsec/vigil/pkg/api"
	"github.com/vigilsec/vigil/pkg/config"
	"github.com/vigilsec/vigil/pkg/controller"
	"github.com/vigilsec/vigil/pkg/events"
	"github.com/vigilsec/vigil/pkg/log"
	"github.com/vigilsec/vigil/pkg/metrics"
	"github.com/vigilsec/vigil/pkg/security"
	"github.com/vigilsec/vigil/pkg/storage"
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
	Use:   "vigil",
	Short: "Vigil - Vulnerability scan controller",
	Long: `Vigil drives vulnerability scanners: it queues and schedules scan
tasks, talks to scanner daemons over OSP and HTTP, imports their
results into a local report store and keeps the scan feeds current.

A single binary runs the whole controller; all state lives in one
embedded database under the state directory.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Vigil version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().String("config", "", "Path to YAML config file")
	daemonCmd.Flags().String("listen", "", "Listen address for the HTTP surface")
	daemonCmd.Flags().String("state-dir", "", "Directory for database and runtime state")
	daemonCmd.Flags().String("feed-dir", "", "Root of the synchronised feed data")
	daemonCmd.Flags().String("log-level", "", "Log level: debug, info, warn or error")
	daemonCmd.Flags().Bool("log-json", false, "Emit JSON logs instead of console output")
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the scan controller",
	Long: `Run the Vigil controller daemon.

The daemon schedules and queues scan tasks, dispatches them to the
configured scanners, imports results and synchronises feeds. Flags
override the corresponding config file settings.`,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}
	if cmd.Flags().Changed("listen") {
		cfg.BrokerAddress, _ = cmd.Flags().GetString("listen")
	}
	if cmd.Flags().Changed("state-dir") {
		cfg.StateDir, _ = cmd.Flags().GetString("state-dir")
	}
	if cmd.Flags().Changed("feed-dir") {
		cfg.FeedDir, _ = cmd.Flags().GetString("feed-dir")
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("log-json") {
		cfg.LogJSON, _ = cmd.Flags().GetBool("log-json")
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})

	fmt.Println("Starting Vigil controller...")
	fmt.Printf("  State directory: %s\n", cfg.StateDir)
	fmt.Printf("  Feed directory: %s\n", cfg.FeedDir)
	fmt.Printf("  Listen address: %s\n", cfg.BrokerAddress)
	fmt.Println()

	store, err := storage.NewBoltStore(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %v", err)
	}
	fmt.Println("✓ State store opened")

	key, err := security.LoadOrCreateKeyFile(filepath.Join(cfg.StateDir, "vigil.key"))
	if err != nil {
		store.Close()
		return fmt.Errorf("failed to load encryption key: %v", err)
	}
	secrets, err := security.NewSecretsManager(key)
	if err != nil {
		store.Close()
		return fmt.Errorf("failed to initialize credential encryption: %v", err)
	}
	fmt.Println("✓ Credential store unlocked")

	metrics.SetVersion(Version)
	metrics.RegisterComponent("storage", true, "")
	metrics.RegisterComponent("controller", true, "")

	evb := events.NewBroker()
	ctrl := controller.New(store, cfg, secrets, evb)

	// Start HTTP surface in background
	apiServer := api.NewServer(ctrl)
	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(cfg.BrokerAddress); err != nil {
			errCh <- fmt.Errorf("HTTP server error: %v", err)
		}
	}()
	fmt.Printf("✓ HTTP surface listening on %s\n", cfg.BrokerAddress)

	fmt.Println()
	fmt.Println("Controller is running. Press Ctrl+C to stop.")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Wait for interrupt signal or HTTP server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		case <-ctx.Done():
			return
		}
		cancel()
	}()

	// Blocks until ctx is cancelled, then drains scan workers and
	// report imports before returning.
	runErr := ctrl.Run(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := apiServer.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to stop HTTP server: %v\n", err)
	}
	if err := store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close store: %v\n", err)
	}

	fmt.Println("✓ Shutdown complete")
	return runErr
}

// openStore loads the config and opens the state store for the
// offline commands. The daemon keeps an exclusive lock on the
// database, so these commands only work while it is stopped.
func openStore(cmd *cobra.Command) (storage.Store, *config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %v", err)
	}
	if cmd.Flags().Changed("state-dir") {
		cfg.StateDir, _ = cmd.Flags().GetString("state-dir")
	}
	if cmd.Flags().Changed("feed-dir") {
		cfg.FeedDir, _ = cmd.Flags().GetString("feed-dir")
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})

	store, err := storage.NewBoltStore(cfg.StateDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store at %s (is the daemon running?): %v", cfg.StateDir, err)
	}
	return store, cfg, nil
}
