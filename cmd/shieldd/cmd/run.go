package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/agenshield/shieldd/internal/adapter/inbound/rpc"
	"github.com/agenshield/shieldd/internal/adapter/outbound/cel"
	"github.com/agenshield/shieldd/internal/adapter/outbound/memory"
	"github.com/agenshield/shieldd/internal/adapter/outbound/sqlite"
	"github.com/agenshield/shieldd/internal/config"
	"github.com/agenshield/shieldd/internal/domain/activity"
	"github.com/agenshield/shieldd/internal/domain/auth"
	"github.com/agenshield/shieldd/internal/domain/graph"
	"github.com/agenshield/shieldd/internal/domain/policy"
	"github.com/agenshield/shieldd/internal/domain/profile"
	"github.com/agenshield/shieldd/internal/domain/proxypool"
	"github.com/agenshield/shieldd/internal/domain/sandbox"
	"github.com/agenshield/shieldd/internal/service"
	"github.com/agenshield/shieldd/internal/telemetry"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the shieldd daemon in the foreground",
	Long: `Run the shieldd daemon: load configuration, wire the policy decision
engine and its storage seam, and serve the JSON-RPC endpoint a shield client
library talks to.

Examples:
  # Run with config file settings
  shieldd run

  # Run with a specific config file
  shieldd --config /path/to/shieldd.yaml run`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", logLevel.String())

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	return run(ctx, cfg, logger)
}

// storageSeam bundles the stores openStorage wires up, so run() doesn't
// need to know which driver backs them.
type storageSeam struct {
	policies     policy.Store
	graphs       graph.Store
	secrets      graph.SecretLookup
	brokerTokens auth.BrokerTokenStore
	profiles     profile.Store
	close        func() error
}

// openStorage selects the storage seam named by cfg.Storage.Driver and
// seeds the fallback policy set into it on first boot (§6).
func openStorage(ctx context.Context, cfg *config.ShieldConfig, logger *slog.Logger) (*storageSeam, error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.Storage.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite database: %w", err)
		}
		if err := sqlite.Seed(ctx, db, cfg.Policies); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("seeding sqlite policies: %w", err)
		}
		logger.Info("storage seam ready", "driver", "sqlite", "dsn", cfg.Storage.DSN)
		return &storageSeam{
			policies:     sqlite.NewPolicyStore(db),
			graphs:       sqlite.NewGraphStore(db),
			secrets:      sqlite.NewSecretStore(db),
			brokerTokens: sqlite.NewBrokerTokenStore(db),
			profiles:     sqlite.NewProfileStore(db),
			close:        func() error { return db.Close() },
		}, nil

	default:
		policyStore := memory.NewPolicyStore()
		if err := seedMemoryPolicies(ctx, policyStore, cfg.Policies); err != nil {
			return nil, fmt.Errorf("seeding memory policies: %w", err)
		}
		logger.Info("storage seam ready", "driver", "memory")
		return &storageSeam{
			policies:     policyStore,
			graphs:       memory.NewGraphStore(),
			secrets:      memory.NewSecretStore(),
			brokerTokens: memory.NewBrokerTokenStore(),
			profiles:     memory.NewProfileStore(),
			close:        func() error { return nil },
		}, nil
	}
}

// seedMemoryPolicies imports the YAML-configured fallback policy set, the
// in-memory equivalent of sqlite.Seed. The memory store never persists
// across restarts so there is no existing-rows check to make it skip.
func seedMemoryPolicies(ctx context.Context, store policy.Store, cfg []config.PolicyConfig) error {
	for _, pc := range cfg {
		p := &policy.Policy{
			ID:            pc.ID,
			Name:          pc.Name,
			Action:        policy.Action(pc.Action),
			Target:        policy.TargetType(pc.TargetType),
			Patterns:      pc.Patterns,
			Enabled:       pc.Enabled,
			Priority:      pc.Priority,
			Scope:         pc.Scope,
			NetworkAccess: policy.NetworkAccess(pc.Network),
		}
		for _, op := range pc.Operations {
			p.Operations = append(p.Operations, policy.Operation(op))
		}
		if err := store.SavePolicy(ctx, p); err != nil {
			return fmt.Errorf("seeding policy %q: %w", p.ID, err)
		}
	}
	return nil
}

// run is the daemon's boot sequence: storage seam, policy graph, decision
// engine, proxy pool, RPC front end, and the HTTP server that exposes them.
func run(ctx context.Context, cfg *config.ShieldConfig, logger *slog.Logger) error {
	storage, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := storage.close(); err != nil {
			logger.Warn("storage close failed", "error", err)
		}
	}()

	evaluator := graph.NewEvaluator(storage.graphs, storage.secrets, nil, logger)

	conditionEnv, err := cel.NewConditionEnv(logger)
	if err != nil {
		return fmt.Errorf("building condition environment: %w", err)
	}

	sandboxCfg := sandbox.Config{
		AgentHome:       cfg.Sandbox.AgentHome,
		ShieldBinaryDir: cfg.Sandbox.ShieldBinaryDir,
		BrewBinDir:      cfg.Sandbox.BrewBinDir,
		NvmBinDir:       cfg.Sandbox.NvmBinDir,
		UserBinDir:      cfg.Sandbox.UserBinDir,
		BrokerHTTPPort:  cfg.Broker.HTTPPort,
	}
	decisions := service.NewDecisionService(storage.policies, storage.graphs, evaluator, sandboxCfg, logger,
		service.WithDefaultAction(policy.Action(cfg.DefaultAction)),
		service.WithConditionGateFactory(func(execCtx *policy.ExecutionContext, op policy.Operation, target string) graph.ConditionGate {
			return conditionEnv.ForRequest(execCtx, string(op), target)
		}))

	activityChannel := activity.NewChannel(logger)

	pool := proxypool.New(logger,
		proxypool.WithMaxConcurrent(cfg.ProxyPool.MaxConcurrent),
		proxypool.WithIdleTimeout(cfg.ProxyPool.IdleTimeout),
		proxypool.WithDenyNotifier(activityChannel),
	)
	defer pool.Shutdown()

	brokerTokens := auth.NewBrokerTokenService(storage.brokerTokens)
	profiles := rpc.NewProfileCache(brokerTokens)
	execs := rpc.NewExecTracker()

	handler := rpc.NewHandler(decisions, profiles, activityChannel, execs, pool, logger)

	reg := prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		handler.SetMetrics(rpc.NewMetrics(reg))
	}

	providers, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:      cfg.Tracing.Enabled,
		StdoutExport: cfg.Tracing.StdoutExport,
		ServiceName:  cfg.Tracing.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("setting up telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	eventsHandler := rpc.NewEventsHandler(activityChannel, logger)

	mux := http.NewServeMux()
	mux.Handle("/rpc", handler)
	mux.Handle("/events", eventsHandler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.Server.Addr, Handler: mux}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux}
		go func() {
			logger.Info("metrics endpoint listening", "addr", cfg.Metrics.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("shieldd listening", "addr", cfg.Server.Addr, "storage_driver", cfg.Storage.Driver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("rpc server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("rpc server shutdown error", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown error", "error", err)
		}
	}

	logger.Info("shieldd stopped")
	return nil
}

// parseLogLevel converts a string log level to slog.Level. Returns
// slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// pidFilePath returns the standard location for the shieldd PID file.
func pidFilePath() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".agenshield", "shieldd.pid")
	}
	return filepath.Join(os.TempDir(), "shieldd.pid")
}

// writePIDFile writes the current process PID to path, creating parent
// directories as needed.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}
