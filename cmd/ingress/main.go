// Command ingress runs the webhook admission gateway (SPEC_FULL.md
// §4.1 / C11): it owns nothing but the HTTP boundary — dedup
// reservation, envelope construction, and the durable-stream publish —
// and hands everything else off to cmd/worker via internal/stream.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/Ava-Prime/gitguard-sub000/internal/config"
	"github.com/Ava-Prime/gitguard-sub000/internal/dedup"
	"github.com/Ava-Prime/gitguard-sub000/internal/ingress"
	"github.com/Ava-Prime/gitguard-sub000/internal/ingress/hosts"
	"github.com/Ava-Prime/gitguard-sub000/internal/platform/logging"
	"github.com/Ava-Prime/gitguard-sub000/internal/stream"
)

func main() {
	logger := logging.New("ingress")
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	fs := flag.NewFlagSet("ingress", flag.ExitOnError)
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

	var cache redis.Cmdable
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis parse url", zap.Error(err))
		}
		cache = redis.NewClient(opts)
	}

	dedupStore := dedup.New(cache, dedup.NewPGStore(pool), cfg.DedupRetention)

	st, err := stream.Connect(ctx, stream.Config{
		URL:      cfg.StreamURL,
		MaxAge:   cfg.StreamMaxAge,
		MaxMsgs:  cfg.StreamMaxMsgs,
		MaxBytes: cfg.StreamMaxBytes,
	})
	if err != nil {
		logger.Fatal("stream connect", zap.Error(err))
	}
	defer st.Close()

	registry := hosts.NewRegistry(hosts.GitHub{})
	stdLogger := zap.NewStdLog(logger)

	gateway := ingress.NewGateway(ingress.Config{
		SigningSecret:      cfg.SigningSecret,
		MaxBodyBytes:       cfg.BodyMaxBytes,
		BackpressureBudget: time.Duration(cfg.IngressBackpressureMS) * time.Millisecond,
		MaxPending:         cfg.IngressMaxPending,
	}, registry, dedupStore, st, nil, stdLogger)

	srv := &http.Server{
		Addr:         env("INGRESS_ADDR", ":8080"),
		Handler:      gateway.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("ingress listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("ingress serve", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("ingress shutdown", zap.Error(err))
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
