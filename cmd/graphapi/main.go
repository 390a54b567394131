// Command graphapi serves the read-only knowledge-graph HTTP surface
// (SPEC_FULL.md §4.11 / C6): PR neighborhoods, arbitrary node
// relationships, and the owners index, each behind a circuit breaker
// so a Postgres outage degrades to a stale cached response instead of
// cascading into the org-brain portal.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/Ava-Prime/gitguard-sub000/internal/config"
	"github.com/Ava-Prime/gitguard-sub000/internal/graph"
	"github.com/Ava-Prime/gitguard-sub000/internal/graphapi"
	"github.com/Ava-Prime/gitguard-sub000/internal/observability"
	"github.com/Ava-Prime/gitguard-sub000/internal/platform/logging"
)

func main() {
	logger := logging.New("graphapi")
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	fs := flag.NewFlagSet("graphapi", flag.ExitOnError)
	cfg.BindFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal("flag parse", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	if !cfg.GraphAPIEnabled {
		logger.Info("graph api disabled, exiting")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		logger.Fatal("pgxpool connect", zap.Error(err))
	}
	defer pool.Close()

	graphStore := graph.NewStore(pool)
	reader := observability.NewGraphBreaker(graphStore)

	server := graphapi.NewServer(reader, graphStore, cfg.GraphAPICORSOrigins, zap.NewStdLog(logger))

	srv := &http.Server{
		Addr:         cfg.GraphAPIAddr,
		Handler:      server.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("graphapi listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("graphapi serve", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graphapi shutdown", zap.Error(err))
	}
}
