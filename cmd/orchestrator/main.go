// AGIA Orchestrator — the meta-orchestrator controller that mediates
// between the off-chain agent fleet and the on-chain job marketplace (spec
// §4.1). Runs as a standalone daemon: no HTTP API surface beyond health,
// version and metrics endpoints, since the fleet itself is driven entirely by ledger
// events and internal timers.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/marcus-qen/agia-orchestrator/internal/chainrpc"
	"github.com/marcus-qen/agia-orchestrator/internal/clock"
	"github.com/marcus-qen/agia-orchestrator/internal/config"
	"github.com/marcus-qen/agia-orchestrator/internal/identity"
	"github.com/marcus-qen/agia-orchestrator/internal/ledger"
	"github.com/marcus-qen/agia-orchestrator/internal/orchestrator"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath   = flag.String("config", "", "path to a JSON config file (env vars still take priority)")
		logLevel     = flag.String("log-level", "", "override the configured log level (debug|info|warn|error)")
		listenAddr   = flag.String("listen-addr", ":9090", "address to serve /healthz and /metrics on")
		printVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *printVersion {
		fmt.Printf("agia-orchestrator %s (commit %s, built %s)\n", version, commit, date)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	self, err := resolveOperatorIdentity(cfg)
	if err != nil {
		logger.Fatal("identity-load-failure", zap.Error(err))
	}

	chain := chainrpc.New(cfg.RPCURL, self.Address, chainrpc.Addresses{
		JobRegistry: ledger.Address(cfg.JobRegistryAddr),
		Stake:       ledger.Address(cfg.StakeAddr),
		Validation:  ledger.Address(cfg.ValidationAddr),
		Dispute:     ledger.Address(cfg.DisputeAddr),
		Reputation:  ledger.Address(cfg.ReputationAddr),
		Anchor:      ledger.Address(cfg.AnchorAddr),
	})

	coll := orchestrator.Collaborators{Registry: chain}
	if cfg.StakeAddr != "" {
		coll.Stake = chain
	}
	if cfg.ValidationAddr != "" {
		coll.Validation = chain
	}
	if cfg.DisputeAddr != "" {
		coll.Dispute = chain.AsDisputeModule()
	}
	if cfg.ReputationAddr != "" {
		coll.Reputation = chain
	}
	if cfg.AnchorAddr != "" {
		coll.AnchorTx = chain
	}

	registry := prometheus.NewRegistry()
	metrics := orchestrator.NewMetrics(registry)

	ctrl := orchestrator.New(cfg, clock.System{}, logger, coll, metrics)
	if err := ctrl.Bootstrap(ctx); err != nil {
		logger.Fatal("bootstrap failed", zap.Error(err))
	}
	if err := ctrl.Start(ctx); err != nil {
		logger.Fatal("start failed", zap.Error(err))
	}

	srv := newAdminServer(*listenAddr, registry)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin server error", zap.Error(err))
		}
	}()

	logger.Info("orchestrator running",
		zap.String("version", version),
		zap.String("admin_addr", *listenAddr),
		zap.String("identity", string(self.Address)))

	<-ctx.Done()
	logger.Info("shutting down...")

	ctrl.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown error", zap.Error(err))
	}
	return 0
}

// resolveOperatorIdentity loads the identity registry once, ahead of
// Bootstrap, purely to recover the address chainrpc.Client signs
// transactions as. Bootstrap reloads the same directory into the
// controller's own registry; this duplicate load is small and keeps
// identity.Load as the single source of truth rather than threading the
// resolved address through Collaborators construction.
func resolveOperatorIdentity(cfg config.Config) (identity.Identity, error) {
	reg, err := identity.Load(cfg.IdentityDir)
	if err != nil {
		return identity.Identity{}, err
	}
	self, ok := reg.OrchestratorIdentity()
	if !ok {
		return identity.Identity{}, fmt.Errorf("no business or employer identity loaded from %s", cfg.IdentityDir)
	}
	return self, nil
}

func newAdminServer(addr string, registry *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"version":"%s","commit":"%s","date":"%s"}`+"\n", version, commit, date)
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		cfg.Level = lvl
	}
	return cfg.Build()
}
