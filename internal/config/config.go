// Package config loads GitGuard's runtime configuration from environment
// variables (the teacher's env-first bootstrap style, generalized from
// cmd/manager/main.go's envOr/boolEnv/intEnv helpers into a single struct
// fill) and validates it with struct tags before any component starts.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	flag "github.com/spf13/pflag"
)

// Config holds every recognized option from spec §6.
type Config struct {
	// Ingress
	SigningSecret         string        `validate:"required"`
	BodyMaxBytes          int64         `validate:"gt=0"`
	IngressBackpressureMS int           `validate:"gt=0"`
	IngressMaxPending     int           `validate:"gt=0"`

	// Risk scorer
	SizeThreshold float64 `validate:"gt=0"`
	MaxFiles      float64 `validate:"gt=0"`
	PerfBudget    float64 `validate:"gt=0"`

	// Policy
	PolicyBundleDir          string `validate:"required"`
	RequireReviewThreshold   float64
	BlockThreshold           float64
	AutoMergeThreshold       float64
	RequiredApprovals        int
	FreezeTimezone           string

	// Endpoints
	StreamURL string `validate:"required"`
	DBURL     string `validate:"required"`
	SinkURL   string `validate:"required"`
	RedisURL  string

	// Timers
	OwnersDebounce   time.Duration
	MaintInterval    time.Duration
	ActivityTimeout  time.Duration
	PublishTimeout   time.Duration
	WorkflowDeadline time.Duration
	DedupRetention   time.Duration
	PortalRetention  time.Duration

	// Feature flags
	CorePublishEnabled         bool
	PolicyTransparencyEnabled  bool
	MermaidGraphsEnabled       bool
	GraphAPIEnabled            bool
	SLOMonitoringEnabled       bool
	ChaosHooksEnabled          bool
	EmbeddingsEnabled          bool
	CodeownersImportEnabled    bool

	// Stream retention
	StreamMaxAge   time.Duration
	StreamMaxMsgs  int64
	StreamMaxBytes int64

	// Ownership
	OwnershipPatternsPath string

	// Worker pool
	WorkerPoolSize int

	// Alerting
	SlackWebhookURL string
	SlackChannel    string

	// Temporal
	TemporalAddress   string
	TemporalNamespace string
	TemporalTaskQueue string

	// Graph API
	GraphAPIAddr        string
	GraphAPICORSOrigins []string
}

// Load fills a Config from the environment, applying the documented
// defaults, then validates it. It never reads flags directly; cmd/*
// binaries layer pflag overrides on top of the loaded struct before
// calling Validate again.
func Load() (*Config, error) {
	cfg := &Config{
		SigningSecret:         env("SIGNING_SECRET", ""),
		BodyMaxBytes:          int64Env("BODY_MAX_BYTES", 5*1024*1024),
		IngressBackpressureMS: intEnv("INGRESS_BACKPRESSURE_MS", 250),
		IngressMaxPending:     intEnv("INGRESS_MAX_PENDING", 10_000),

		SizeThreshold: floatEnv("SIZE_THRESHOLD", 800),
		MaxFiles:      floatEnv("MAX_FILES", 50),
		PerfBudget:    floatEnv("PERF_BUDGET", 1.0),

		PolicyBundleDir:        env("POLICY_BUNDLE_DIR", "./policies"),
		RequireReviewThreshold: floatEnv("RISK_REQUIRE_REVIEW_THRESHOLD", 0.70),
		BlockThreshold:         floatEnv("RISK_BLOCK_THRESHOLD", 0.85),
		AutoMergeThreshold:     floatEnv("RISK_AUTO_MERGE_THRESHOLD", 0.30),
		RequiredApprovals:      intEnv("POLICY_REQUIRED_APPROVALS", 1),
		FreezeTimezone:         env("FREEZE_TIMEZONE", "UTC"),

		StreamURL: env("STREAM_URL", "nats://localhost:4222"),
		DBURL:     env("DB_URL", "postgres://localhost:5432/gitguard"),
		SinkURL:   env("SINK_URL", "./portal-out"),
		RedisURL:  env("REDIS_URL", "redis://localhost:6379/0"),

		OwnersDebounce:   durationEnv("OWNERS_DEBOUNCE_MS", 10*time.Second),
		MaintInterval:    durationEnv("MAINT_INTERVAL", time.Hour),
		ActivityTimeout:  durationEnv("ACTIVITY_TIMEOUT_MS", 30*time.Second),
		PublishTimeout:   durationEnv("PUBLISH_TIMEOUT_MS", 120*time.Second),
		WorkflowDeadline: durationEnv("WORKFLOW_DEADLINE_MS", 10*time.Minute),
		DedupRetention:   durationEnv("DEDUP_RETENTION", 14*24*time.Hour),
		PortalRetention:  durationEnv("PORTAL_RETENTION", 30*24*time.Hour),

		CorePublishEnabled:        boolEnv("CORE_PUBLISH_ENABLED", true),
		PolicyTransparencyEnabled: boolEnv("POLICY_TRANSPARENCY_ENABLED", true),
		MermaidGraphsEnabled:      boolEnv("MERMAID_GRAPHS_ENABLED", true),
		GraphAPIEnabled:           boolEnv("GRAPH_API_ENABLED", true),
		SLOMonitoringEnabled:      boolEnv("SLO_MONITORING_ENABLED", true),
		ChaosHooksEnabled:         boolEnv("CHAOS_HOOKS_ENABLED", false),
		EmbeddingsEnabled:         boolEnv("EMBEDDINGS_ENABLED", false),
		CodeownersImportEnabled:   boolEnv("CODEOWNERS_IMPORT_ENABLED", false),

		StreamMaxAge:   durationEnv("STREAM_MAX_AGE", 24*time.Hour),
		StreamMaxMsgs:  int64Env("STREAM_MAX_MSGS", 1_000_000),
		StreamMaxBytes: int64Env("STREAM_MAX_BYTES", 10*1024*1024*1024),

		OwnershipPatternsPath: env("OWNERSHIP_PATTERNS_PATH", "./config/owners.yaml"),

		WorkerPoolSize: intEnv("WORKER_POOL_SIZE", 0),

		SlackWebhookURL: env("SLACK_WEBHOOK_URL", ""),
		SlackChannel:    env("SLACK_CHANNEL", "#gitguard-alerts"),

		TemporalAddress:   env("TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalNamespace: env("TEMPORAL_NAMESPACE", "default"),
		TemporalTaskQueue: env("TEMPORAL_TASK_QUEUE", "gitguard-governance"),

		GraphAPIAddr:        env("GRAPH_API_ADDR", ":8088"),
		GraphAPICORSOrigins: splitCSV(env("GRAPH_API_CORS_ORIGINS", "*")),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// BindFlags registers the handful of settings operators most often
// override per-invocation rather than per-environment onto fs, each
// defaulting to the value Load already read from the environment.
// Callers parse fs after binding, then call Validate again: flags win
// over env, env wins over the documented default.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.DBURL, "db-url", c.DBURL, "Postgres connection string")
	fs.StringVar(&c.StreamURL, "stream-url", c.StreamURL, "NATS JetStream URL")
	fs.StringVar(&c.RedisURL, "redis-url", c.RedisURL, "Redis URL for the dedup hot path")
	fs.StringVar(&c.PolicyBundleDir, "policy-bundle-dir", c.PolicyBundleDir, "Rego policy bundle directory")
	fs.StringVar(&c.SinkURL, "sink-url", c.SinkURL, "portal page output root")
	fs.StringVar(&c.TemporalAddress, "temporal-address", c.TemporalAddress, "Temporal frontend address")
	fs.StringVar(&c.TemporalNamespace, "temporal-namespace", c.TemporalNamespace, "Temporal namespace")
	fs.StringVar(&c.FreezeTimezone, "freeze-timezone", c.FreezeTimezone, "IANA zone the weekend-freeze rule reads local time in")
}

// Validate re-runs struct-tag validation; exported so cmd/* binaries can
// re-check a config after layering flag overrides on top of Load's result.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func boolEnv(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func intEnv(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if v, err := strconv.Atoi(raw); err == nil {
		return v
	}
	return def
}

func int64Env(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return v
	}
	return def
}

func floatEnv(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	// Bare integers are treated as milliseconds, matching the *_MS naming
	// convention used throughout spec §6.
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return def
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
