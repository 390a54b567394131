// Command worker runs the Temporal worker hosting GovernEvent and its
// eight activities (SPEC_FULL.md §4.8), draining internal/stream's
// durable consumer and routing each delivery to the workflow execution
// for its (repo, pr|tag) key via SignalWithStartWorkflow. Grounded on
// the teacher's agents/manager/cmd/worker/main.go bootstrap: dial,
// worker.New, RegisterWorkflow/RegisterActivity, worker.InterruptCh.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"
	enums "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/Ava-Prime/gitguard-sub000/internal/config"
	"github.com/Ava-Prime/gitguard-sub000/internal/dedup"
	"github.com/Ava-Prime/gitguard-sub000/internal/graph"
	"github.com/Ava-Prime/gitguard-sub000/internal/ingest"
	"github.com/Ava-Prime/gitguard-sub000/internal/ingress"
	"github.com/Ava-Prime/gitguard-sub000/internal/observability"
	"github.com/Ava-Prime/gitguard-sub000/internal/ownership"
	"github.com/Ava-Prime/gitguard-sub000/internal/platform/logging"
	"github.com/Ava-Prime/gitguard-sub000/internal/policy"
	"github.com/Ava-Prime/gitguard-sub000/internal/portal"
	"github.com/Ava-Prime/gitguard-sub000/internal/risk"
	"github.com/Ava-Prime/gitguard-sub000/internal/stream"
	"github.com/Ava-Prime/gitguard-sub000/internal/workflow"
)

func main() {
	logger := logging.New("worker")
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
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

	graphStore := graph.NewStore(pool)

	watcher, engine, err := policy.NewWatcher(cfg.PolicyBundleDir, logger)
	if err != nil {
		logger.Fatal("policy bundle load", zap.Error(err))
	}
	go watcher.Run(ctx)

	sink := portal.Sink(portal.NewFileSink(cfg.SinkURL))
	sink = observability.NewSinkBreaker(sink)

	patterns, err := ownership.LoadPatterns(cfg.OwnershipPatternsPath)
	if err != nil {
		logger.Fatal("ownership patterns load", zap.Error(err))
	}
	owners := ownership.NewRecomputer(graphStore, sink, patterns)

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	var alerter observability.Alerter
	if cfg.SlackWebhookURL != "" {
		alerter = observability.NewSlackAlerter(cfg.SlackWebhookURL, cfg.SlackChannel)
	}
	slo := observability.NewFreshnessTracker(metrics, alerter)

	metricsSrv := &http.Server{Addr: env("METRICS_ADDR", ":9090"), Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server exited", zap.Error(err))
		}
	}()

	activities := &workflow.Activities{
		Dedup:          dedupStore,
		Graph:          graphStore,
		Policy:         engine,
		Weights:        risk.DefaultWeights(),
		Sink:           sink,
		Owners:         owners,
		SLO:            slo,
		FreezeTimezone: cfg.FreezeTimezone,
	}

	c, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
	})
	if err != nil {
		logger.Fatal("temporal client dial", zap.Error(err))
	}
	defer c.Close()

	workerOpts := worker.Options{}
	if cfg.WorkerPoolSize > 0 {
		workerOpts.MaxConcurrentActivityExecutionSize = cfg.WorkerPoolSize
	}
	w := worker.New(c, cfg.TemporalTaskQueue, workerOpts)
	w.RegisterWorkflow(workflow.GovernEvent)
	w.RegisterActivity(activities)

	thresholds := policy.Thresholds{
		RequireReview:     cfg.RequireReviewThreshold,
		Block:             cfg.BlockThreshold,
		AutoMerge:         cfg.AutoMergeThreshold,
		RequiredApprovals: cfg.RequiredApprovals,
	}

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

	go func() {
		handler := routeEnvelope(c, cfg.TemporalTaskQueue, thresholds, logger)
		if err := st.Subscribe(ctx, handler); err != nil && ctx.Err() == nil {
			logger.Error("stream subscribe exited", zap.Error(err))
		}
	}()

	// The freshness evaluator runs here rather than in cmd/scheduler:
	// RecordSample above is only ever called by this process's own
	// RecordSLOSample activity executions, so this is the only place
	// slo's rolling window actually has samples in it.
	if cfg.SLOMonitoringEnabled {
		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := slo.Evaluate(ctx); err != nil {
						logger.Error("slo evaluate", zap.Error(err))
					}
				}
			}
		}()
	}

	logger.Info("worker started", zap.String("task_queue", cfg.TemporalTaskQueue))
	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Fatal("worker run", zap.Error(err))
	}
}

// routeEnvelope decodes a published internal/ingress.Envelope and
// signals (starting if needed) the GovernEvent execution for its
// workflow key. The key must be derivable from the raw payload alone:
// normalize(event), which produces the full model.Event, is activity 1
// inside the workflow this call is starting, so it cannot run first.
func routeEnvelope(c client.Client, taskQueue string, thresholds policy.Thresholds, logger *zap.Logger) stream.Handler {
	return func(ctx context.Context, subject string, payload []byte) error {
		var envelope ingress.Envelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			logger.Error("envelope decode failed, dropping", zap.String("subject", subject), zap.Error(err))
			return nil
		}

		var body map[string]interface{}
		if err := json.Unmarshal(envelope.Body, &body); err != nil {
			logger.Error("envelope body decode failed, dropping", zap.String("delivery_id", envelope.DeliveryID), zap.Error(err))
			return nil
		}

		key := ingest.DeriveWorkflowKey(envelope.Kind, body)
		in := workflow.NormalizeInput{
			DeliveryID: envelope.DeliveryID,
			Kind:       envelope.Kind,
			Payload:    body,
			ReceivedAt: envelope.ReceivedAt,
		}

		_, err := c.SignalWithStartWorkflow(ctx, key, workflow.SignalNextEvent, in,
			client.StartWorkflowOptions{
				ID:                    key,
				TaskQueue:             taskQueue,
				WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
			},
			workflow.GovernEvent,
			workflow.GovernEventParams{First: &in, Thresholds: thresholds},
		)
		var already *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &already) {
			logger.Warn("workflow already started, redelivering", zap.String("delivery_id", envelope.DeliveryID), zap.String("workflow_id", key))
			return err
		}
		if err != nil {
			logger.Warn("signal-with-start failed, will redeliver", zap.String("delivery_id", envelope.DeliveryID), zap.Error(err))
			return err
		}
		return nil
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

