// Package ingress is the webhook admission gateway (spec §4.1 / C11):
// one `POST /webhooks/{host}` route per chi router, HMAC-SHA256
// signature verification, size limiting, dedup reservation, and a
// publish onto the durable stream. Grounded on the teacher's
// agents/dashboard/main.go chi-router shape, generalized from a
// single trusted internal API to an externally-signed admission
// endpoint.
package ingress

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Ava-Prime/gitguard-sub000/internal/dedup"
	"github.com/Ava-Prime/gitguard-sub000/internal/ingress/hosts"
	"github.com/Ava-Prime/gitguard-sub000/internal/model"
)

const (
	headerSignature = "X-Signature-256"
	headerEventKind = "X-Event-Kind"
	headerDelivery  = "X-Delivery-ID"
)

// Publisher is the durable-stream dependency the gateway publishes
// admitted deliveries onto.
type Publisher interface {
	Publish(ctx context.Context, kind, action string, payload []byte) error
}

// Envelope is the JSON-encoded message the gateway actually publishes:
// the raw host body plus the delivery metadata a downstream consumer
// needs to reconstruct a workflow.NormalizeInput without access to the
// original HTTP headers the gateway resolved kind/delivery id from.
type Envelope struct {
	DeliveryID string          `json:"delivery_id"`
	Kind       model.EventKind `json:"kind"`
	Action     string          `json:"action"`
	ReceivedAt time.Time       `json:"received_at"`
	Body       json.RawMessage `json:"body"`
}

// Config carries the gateway's tunables (spec §6's configuration list).
type Config struct {
	SigningSecret      string
	MaxBodyBytes       int64
	BackpressureBudget time.Duration
	MaxPending         int
}

// PendingGauge reports the durable consumer's current pending-message
// count, so the gateway can shed load per spec §5's backpressure rule
// without importing internal/stream's consumer internals directly.
type PendingGauge interface {
	Pending() int
}

// Gateway serves POST /webhooks/{host} for every registered host
// adapter.
type Gateway struct {
	cfg     Config
	hosts   hosts.Registry
	dedup   *dedup.Store
	stream  Publisher
	pending PendingGauge
	logger  *log.Logger
}

// NewGateway builds a Gateway. pending may be nil when no backpressure
// signal is wired (e.g. in tests), in which case the consumer-pending
// half of the backpressure rule never trips.
func NewGateway(cfg Config, registry hosts.Registry, dedupStore *dedup.Store, stream Publisher, pending PendingGauge, logger *log.Logger) *Gateway {
	if logger == nil {
		logger = log.Default()
	}
	return &Gateway{cfg: cfg, hosts: registry, dedup: dedupStore, stream: stream, pending: pending, logger: logger}
}

// Router builds the chi.Router serving spec §4.1's one admission route.
func (g *Gateway) Router() chi.Router {
	r := chi.NewRouter()
	r.Post("/webhooks/{host}", g.handleWebhook)
	return r
}

func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if g.pending != nil && g.pending.Pending() > g.cfg.MaxPending {
		http.Error(w, "backpressure", http.StatusServiceUnavailable)
		return
	}

	hostName := chi.URLParam(r, "host")
	adapter, ok := g.hosts[hostName]
	if !ok {
		http.Error(w, "unknown host", http.StatusBadRequest)
		return
	}

	limited := http.MaxBytesReader(w, r.Body, g.cfg.MaxBodyBytes)
	body, err := io.ReadAll(limited)
	if err != nil {
		http.Error(w, "too_large", http.StatusRequestEntityTooLarge)
		return
	}

	if !g.verifySignature(r.Header.Get(headerSignature), body) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	kind, action, deliveryID, err := g.resolveEnvelope(r, adapter, body)
	if err != nil {
		http.Error(w, "malformed", http.StatusBadRequest)
		return
	}

	admitCtx := r.Context()
	if g.cfg.BackpressureBudget > 0 {
		var cancel context.CancelFunc
		admitCtx, cancel = context.WithTimeout(admitCtx, g.cfg.BackpressureBudget)
		defer cancel()
	}

	status, err := g.admit(admitCtx, kind, action, deliveryID, body)
	if err != nil {
		var kindErr *model.KindError
		if errors.As(err, &kindErr) {
			switch kindErr.Kind {
			case model.ErrTransient, model.ErrSinkUnavailable:
				http.Error(w, "backpressure", http.StatusServiceUnavailable)
				return
			}
		}
		if errors.Is(err, context.DeadlineExceeded) {
			http.Error(w, "backpressure", http.StatusServiceUnavailable)
			return
		}
		g.logger.Printf("ingress: admit %s/%s failed: %v", hostName, deliveryID, err)
		http.Error(w, "backpressure", http.StatusServiceUnavailable)
		return
	}

	switch status {
	case dedup.StatusDuplicate:
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "duplicate"})
	default:
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
	}
}

// resolveEnvelope prefers the gateway's own headers for kind/delivery
// id (the wire contract every host is expected to supply per spec
// §6); it falls back to the host adapter's body-derived values only
// when a header is missing, and always defers to the adapter for
// action, which no header carries.
func (g *Gateway) resolveEnvelope(r *http.Request, adapter hosts.Adapter, body []byte) (model.EventKind, string, string, error) {
	parsedKind, action, parsedDeliveryID, err := adapter.Parse(body)
	if err != nil {
		return "", "", "", err
	}

	kind := model.EventKind(r.Header.Get(headerEventKind))
	if kind == "" {
		kind = parsedKind
	}
	deliveryID := r.Header.Get(headerDelivery)
	if deliveryID == "" {
		deliveryID = parsedDeliveryID
	}
	if kind == "" || deliveryID == "" {
		return "", "", "", errors.New("ingress: missing event kind or delivery id")
	}
	return kind, action, deliveryID, nil
}

func (g *Gateway) verifySignature(header string, body []byte) bool {
	if g.cfg.SigningSecret == "" {
		return true
	}
	const prefix = "sha256="
	sig := header
	if len(sig) > len(prefix) && sig[:len(prefix)] == prefix {
		sig = sig[len(prefix):]
	}
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(g.cfg.SigningSecret))
	mac.Write(body)
	got := mac.Sum(nil)
	return hmac.Equal(got, want)
}

func (g *Gateway) admit(ctx context.Context, kind model.EventKind, action, deliveryID string, body []byte) (dedup.Status, error) {
	status, err := g.dedup.Reserve(ctx, deliveryID)
	if err != nil {
		return 0, model.NewKindError(model.ErrTransient, "dedup.Reserve", err)
	}
	if status == dedup.StatusDuplicate {
		return status, nil
	}

	envelope, err := json.Marshal(Envelope{
		DeliveryID: deliveryID,
		Kind:       kind,
		Action:     action,
		ReceivedAt: time.Now().UTC(),
		Body:       body,
	})
	if err != nil {
		return 0, model.NewKindError(model.ErrTransient, "envelope.Marshal", err)
	}

	if err := g.stream.Publish(ctx, string(kind), action, envelope); err != nil {
		return 0, model.NewKindError(model.ErrSinkUnavailable, "stream.Publish", err)
	}
	return status, nil
}
