// Command openclawd runs the multi-tenant gateway daemon: WebSocket RPC,
// the OpenAI-compatible HTTP surface, the internal control plane, cron
// schedulers and the metrics snapshot writer, all on one listener.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/princevash/openclaw-mt/internal/agent"
	"github.com/princevash/openclaw-mt/internal/backup"
	"github.com/princevash/openclaw-mt/internal/config"
	"github.com/princevash/openclaw-mt/internal/cron"
	"github.com/princevash/openclaw-mt/internal/gateway"
	"github.com/princevash/openclaw-mt/internal/handlers"
	"github.com/princevash/openclaw-mt/internal/httpapi"
	"github.com/princevash/openclaw-mt/internal/metrics"
	"github.com/princevash/openclaw-mt/internal/quota"
	"github.com/princevash/openclaw-mt/internal/rpc"
	"github.com/princevash/openclaw-mt/internal/tenant"
	"github.com/princevash/openclaw-mt/internal/terminal"
)

// version is stamped by the build; "dev" otherwise.
var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("OPENCLAW_CONFIG"), "path to the gateway config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	setupLogging(cfg)

	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		log.Fatal().Err(err).Str("stateDir", cfg.StateDir).Msg("failed to create state directory")
	}

	// Core registries and the dispatcher.
	tenants := tenant.NewRegistry(cfg.StateDir)
	ledger := quota.NewLedger(cfg.StateDir)
	connections := gateway.NewRegistry()

	dispatcher := rpc.NewDispatcher(ledger)
	dispatcher.Observe = func(method string, code rpc.ErrorCode, elapsed time.Duration) {
		label := string(code)
		if label == "" {
			label = "ok"
		}
		metrics.RPCRequestsTotal.WithLabelValues(method, label).Inc()
		metrics.RPCRequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
	}

	// The gateway relays agent turns; without an attached runtime it
	// acknowledges them.
	var runner agent.Runner = agent.NopRunner{}

	terminals := terminal.NewManager(terminal.LocalSpawner{}, connections)

	store, err := openObjectStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open backup object store")
	}
	backups := backup.NewOrchestrator(tenants, store, cfg.Backup.Prefix)

	supervisor := cron.NewSupervisor(tenants, connections, cron.Deps{
		Runner:         runner,
		Ledger:         ledger,
		DefaultAgentID: cfg.DefaultAgentID,
	}, cfg.Scheduler.Enabled)

	startedAt := time.Now()
	deps := handlers.Deps{
		Config:      cfg,
		Tenants:     tenants,
		Ledger:      ledger,
		Connections: connections,
		Terminals:   terminals,
		Scheduler:   supervisor,
		Backups:     backups,
		Version:     version,
		StartedAt:   startedAt,
	}
	handlers.RegisterAll(dispatcher, deps)

	wsServer := gateway.NewServer(connections, dispatcher, tenants, cfg.Auth.JWTSecret)
	wsServer.OnConnect = func(c *gateway.Client) {
		metrics.ConnectionsActive.Inc()
		metrics.HandshakesTotal.WithLabelValues("ok").Inc()
	}
	wsServer.OnDisconnect = func(c *gateway.Client) {
		metrics.ConnectionsActive.Dec()
	}

	api := &httpapi.Server{
		Config:     cfg,
		Tenants:    tenants,
		Ledger:     ledger,
		Runner:     runner,
		Backups:    backups,
		Dispatcher: dispatcher,
		Gateway:    wsServer,
		Evict: func(tenantID string) {
			connections.EvictTenant(tenantID)
			terminals.CloseAllTenantTerminals(tenantID)
			supervisor.Remove(tenantID)
		},
		Version:   version,
		StartedAt: startedAt,
	}

	snapshots := metrics.NewSnapshotWriter(cfg.StateDir, metrics.Counts{
		Connections: connections.Len,
		Terminals:   terminals.Count,
		Tenants:     func() int { return len(tenants.List()) },
	}, 0)
	snapshots.Start()
	go updateGauges(terminals, tenants)

	supervisor.StartAll()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Str("version", version).Msg("gateway listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")

	supervisor.StopAll()
	snapshots.Stop()
	terminals.CloseAll()
	connections.ForEachClient(func(c *gateway.Client) { c.Close() })

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("gateway stopped")
}

func setupLogging(cfg *config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "openclawd").Logger()

	if cfg.DevMode {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

// openObjectStore picks the backup backend: S3 when a bucket is configured,
// in-memory otherwise. The memory store serves dev deployments where
// backups need not survive a restart.
func openObjectStore(cfg *config.Config) (backup.ObjectStore, error) {
	if cfg.Backup.Bucket == "" {
		log.Warn().Msg("no backup bucket configured, snapshots are held in memory")
		return backup.NewMemoryStore(), nil
	}
	return backup.NewS3Store(cfg.Backup)
}

// updateGauges keeps the slow-moving prometheus gauges current.
func updateGauges(terminals *terminal.Manager, tenants *tenant.Registry) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		metrics.TerminalsActive.Set(float64(terminals.Count()))
		metrics.TenantsTotal.Set(float64(len(tenants.List())))
	}
}
