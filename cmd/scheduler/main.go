// Command scheduler runs GitGuard's periodic maintenance (SPEC_FULL.md
// §4.12's expansion, and spec.md's literal "scheduled maintenance"
// paragraph): on every MAINT_INTERVAL it prunes the dedup ledger,
// compacts old portal digest pages, vacuums kg_edges rows whose
// governed_by rule a reload of the policy bundle has since dropped, and
// — when chaos drills are enabled — runs a heartbeat that consumes any
// armed fault so a forgotten drill fault doesn't sit armed indefinitely.
// The freshness SLO evaluator runs in cmd/worker instead of here: it
// evaluates the in-memory rolling window that only that process's
// RecordSLOSample activity ever populates.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/Ava-Prime/gitguard-sub000/internal/config"
	"github.com/Ava-Prime/gitguard-sub000/internal/dedup"
	"github.com/Ava-Prime/gitguard-sub000/internal/graph"
	"github.com/Ava-Prime/gitguard-sub000/internal/observability"
	"github.com/Ava-Prime/gitguard-sub000/internal/platform/logging"
	"github.com/Ava-Prime/gitguard-sub000/internal/policy"
	"github.com/Ava-Prime/gitguard-sub000/internal/portal"
)

func main() {
	logger := logging.New("scheduler")
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	fs := flag.NewFlagSet("scheduler", flag.ExitOnError)
	cfg.BindFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal("flag parse", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		logger.Fatal("pgxpool connect", zap.Error(err))
	}
	defer pool.Close()

	dedupStore := dedup.New(nil, dedup.NewPGStore(pool), cfg.DedupRetention)
	graphStore := graph.NewStore(pool)
	sink := portal.NewFileSink(cfg.SinkURL)

	watcher, engine, err := policy.NewWatcher(cfg.PolicyBundleDir, logger)
	if err != nil {
		logger.Fatal("policy bundle load", zap.Error(err))
	}
	go watcher.Run(ctx)

	var faults *observability.FaultStore
	if cfg.ChaosHooksEnabled {
		faults = observability.NewFaultStore(pool)
	}

	logger.Info("scheduler started",
		zap.Duration("maint_interval", cfg.MaintInterval),
		zap.Bool("chaos_hooks_enabled", cfg.ChaosHooksEnabled),
	)

	ticker := time.NewTicker(cfg.MaintInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler stopping")
			return
		case <-ticker.C:
			runMaintenance(ctx, dedupStore, graphStore, sink, engine, faults, cfg.PortalRetention, logger)
		}
	}
}

func runMaintenance(
	ctx context.Context,
	dedupStore *dedup.Store,
	graphStore *graph.Store,
	sink *portal.FileSink,
	engine *policy.Engine,
	faults *observability.FaultStore,
	portalRetention time.Duration,
	logger *zap.Logger,
) {
	deleted, err := dedupStore.Compact(ctx)
	if err != nil {
		logger.Error("dedup compact", zap.Error(err))
	} else {
		logger.Info("dedup compact complete", zap.Int64("rows_deleted", deleted))
	}

	removed, err := sink.Compact(ctx, time.Now().Add(-portalRetention))
	if err != nil {
		logger.Error("portal compact", zap.Error(err))
	} else {
		logger.Info("portal compact complete", zap.Int("pages_removed", removed))
	}

	vacuumed, err := graphStore.VacuumGovernedByEdges(ctx, engine.RuleNames())
	if err != nil {
		logger.Error("governed_by vacuum", zap.Error(err))
	} else {
		logger.Info("governed_by vacuum complete", zap.Int64("rows_deleted", vacuumed))
	}

	if faults == nil {
		return
	}
	if err := faults.Hook()(ctx, "scheduler.maintenance", "maintenance-sweep"); err != nil {
		logger.Warn("chaos fault forced during maintenance", zap.Error(err))
	}
}
