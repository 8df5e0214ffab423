package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/fleetd/internal/api"
	"github.com/cuemby/fleetd/internal/config"
	"github.com/cuemby/fleetd/internal/engine"
	"github.com/cuemby/fleetd/internal/eventbus"
	"github.com/cuemby/fleetd/internal/lifecycle/cargo"
	"github.com/cuemby/fleetd/internal/lifecycle/job"
	"github.com/cuemby/fleetd/internal/lifecycle/namespace"
	"github.com/cuemby/fleetd/internal/lifecycle/resource"
	"github.com/cuemby/fleetd/internal/lifecycle/resourcekind"
	"github.com/cuemby/fleetd/internal/lifecycle/secret"
	"github.com/cuemby/fleetd/internal/lifecycle/vm"
	"github.com/cuemby/fleetd/internal/log"
	"github.com/cuemby/fleetd/internal/metrics"
	"github.com/cuemby/fleetd/internal/node"
	"github.com/cuemby/fleetd/internal/reconciler"
	"github.com/cuemby/fleetd/internal/security"
	"github.com/cuemby/fleetd/internal/spechistory"
	"github.com/cuemby/fleetd/internal/store"
	"github.com/cuemby/fleetd/internal/subscription"
	"github.com/cuemby/fleetd/internal/task"
	"github.com/cuemby/fleetd/internal/types"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "fleetd",
	Short:   "fleetd is a single-binary hybrid-cloud container/VM orchestration daemon",
	Version: Version,
	RunE:    runDaemon,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"fleetd version %s\ncommit: %s\nbuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "path to a config file")
	// Flag names match config.Config's mapstructure tags (config.Load binds
	// them directly, with no dash/underscore translation).
	rootCmd.Flags().String("node_name", "", "name this node registers under")
	rootCmd.Flags().String("data_dir", "", "directory for local state (the bbolt spec WAL)")
	rootCmd.Flags().String("http_addr", "", "address the HTTP API listens on")
	rootCmd.Flags().String("log_level", "", "log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("log_json", false, "emit structured JSON logs")
	rootCmd.Flags().String("postgres_dsn", "", "Postgres connection string; empty uses the in-memory store")
	rootCmd.Flags().String("containerd_socket", "", "containerd socket path")
	rootCmd.Flags().String("containerd_namespace", "", "containerd namespace")
	rootCmd.Flags().String("encryption_key", "", "passphrase secrets are encrypted with")
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
	logger := log.WithComponent("main")

	s, closeStore, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer closeStore()

	bus := eventbus.New(s, cfg.NodeName, "fleetd")
	bus.Start()
	defer bus.Stop()

	specs, err := spechistory.Open(s, cfg.DataDir+"/spec_wal.db")
	if err != nil {
		return fmt.Errorf("opening spec history wal: %w", err)
	}
	defer specs.Close()

	crypto, err := newCrypto(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("initializing secret encryption: %w", err)
	}

	eng, err := engine.NewContainerdEngine(cfg.ContainerdSocket, cfg.ContainerdNS)
	if err != nil {
		return fmt.Errorf("connecting to containerd: %w", err)
	}
	defer eng.Close()

	tasks := task.NewManager(0)
	recon := reconciler.New(s, bus, eng, tasks, specs, cfg.NodeName)
	recon.Start()
	defer recon.Stop()

	metricsInterval, _ := time.ParseDuration(cfg.MetricsInterval)
	metricsRetention, _ := time.ParseDuration(cfg.MetricsRetention)
	metricsSvc := metrics.New(s, bus, cfg.NodeName, metricsInterval, metricsRetention)
	metricsSvc.Start()
	defer metricsSvc.Stop()

	nodes := node.New(s)
	heartbeatInterval, err := time.ParseDuration(cfg.HeartbeatInterval)
	if err != nil {
		heartbeatInterval = 30 * time.Second
	}
	if _, err := nodes.Register(cmd.Context(), cfg.NodeName, types.NodeRoleManager, "", "", Version, nil); err != nil {
		logger.Warn().Err(err).Msg("registering local node")
	}
	stopHeartbeat := startHeartbeat(nodes, cfg.NodeName, heartbeatInterval)
	defer stopHeartbeat()

	kinds := resourcekind.New(s, specs, bus)
	notifier := resourcekind.NewNotifier(5 * time.Second)

	deps := api.Dependencies{
		Cargoes:       cargo.New(s, specs, bus),
		Vms:           vm.New(s, specs, bus),
		Jobs:          job.New(s, specs, bus),
		Secrets:       secret.New(s, crypto, bus),
		Namespaces:    namespace.New(s, bus),
		ResourceKinds: kinds,
		Resources:     resource.New(s, specs, kinds, notifier, bus),
		Nodes:         nodes,
		Metrics:       metricsSvc,
		Subscriptions: subscription.New(bus),
		Reconciler:    recon,
		Store:         s,
		Version: api.VersionInfo{
			Arch:     "amd64",
			Channel:  "stable",
			Version:  Version,
			CommitID: Commit,
		},
	}

	e := api.New(deps)
	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(cfg.HTTPAddr); err != nil {
			errCh <- fmt.Errorf("api server error: %w", err)
		}
	}()
	logger.Info().Str("addr", cfg.HTTPAddr).Msg("fleetd listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("api server exited")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// openStore opens the Postgres-backed store when a DSN is configured,
// else falls back to the in-memory store for single-node evaluation.
func openStore(cfg config.Config) (store.Store, func(), error) {
	if cfg.PostgresDSN == "" {
		s := store.NewMemory()
		return s, func() {}, nil
	}
	s, err := store.Open(cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

func newCrypto(passphrase string) (*security.Manager, error) {
	if passphrase == "" {
		return security.NewManagerFromPassword("fleetd-dev-only-insecure-default")
	}
	return security.NewManagerFromPassword(passphrase)
}

func startHeartbeat(nodes *node.Service, name string, interval time.Duration) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := nodes.Heartbeat(context.Background(), name); err != nil {
					log.WithComponent("main").Warn().Err(err).Msg("heartbeat")
				}
			case <-stop:
				return
			}
		}
	}()
	return func() { close(stop) }
}
