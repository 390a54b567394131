package ingress

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Ava-Prime/gitguard-sub000/internal/dedup"
	"github.com/Ava-Prime/gitguard-sub000/internal/ingress/hosts"
)

type fakeDB struct {
	mu   sync.Mutex
	rows map[string]time.Time
}

func newFakeDB() *fakeDB { return &fakeDB{rows: make(map[string]time.Time)} }

func (f *fakeDB) InsertIfAbsent(_ context.Context, id string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.rows[id]; exists {
		return false, nil
	}
	f.rows[id] = now
	return true, nil
}

func (f *fakeDB) Compact(_ context.Context, olderThan time.Time) (int64, error) { return 0, nil }

func newTestDedup(t *testing.T) *dedup.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return dedup.New(client, newFakeDB(), time.Hour)
}

type fakePublisher struct {
	mu       sync.Mutex
	calls    int
	lastKind string
}

func (f *fakePublisher) Publish(ctx context.Context, kind, action string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastKind = kind
	return nil
}

func (f *fakePublisher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

const secret = "test-secret"

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func newTestGateway(t *testing.T, pub Publisher) *Gateway {
	t.Helper()
	cfg := Config{SigningSecret: secret, MaxBodyBytes: 1 << 20, MaxPending: 100}
	registry := hosts.NewRegistry(hosts.GitHub{})
	return NewGateway(cfg, registry, newTestDedup(t), pub, nil, nil)
}

const prBody = `{"action":"opened","pull_request":{"id":1,"title":"Add widget cache"},"repository":{"full_name":"acme/widgets"}}`

func TestHandleWebhookAdmitsNewDelivery(t *testing.T) {
	pub := &fakePublisher{}
	gw := newTestGateway(t, pub)

	body := []byte(prBody)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(string(body)))
	req.Header.Set(headerSignature, sign(body))
	req.Header.Set(headerEventKind, "pull_request")
	req.Header.Set(headerDelivery, "d-1")
	rec := httptest.NewRecorder()

	gw.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", rec.Code, rec.Body.String())
	}
	if pub.callCount() != 1 {
		t.Fatalf("publish calls = %d, want 1", pub.callCount())
	}
}

func TestHandleWebhookReturnsDuplicateOnSecondDelivery(t *testing.T) {
	pub := &fakePublisher{}
	gw := newTestGateway(t, pub)
	body := []byte(prBody)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(string(body)))
		req.Header.Set(headerSignature, sign(body))
		req.Header.Set(headerEventKind, "pull_request")
		req.Header.Set(headerDelivery, "d-dup")
		rec := httptest.NewRecorder()
		gw.Router().ServeHTTP(rec, req)
		if i == 0 && rec.Code != http.StatusAccepted {
			t.Fatalf("first delivery status = %d, want 202", rec.Code)
		}
		if i == 1 && rec.Code != http.StatusOK {
			t.Fatalf("second delivery status = %d, want 200 duplicate", rec.Code)
		}
	}
	if pub.callCount() != 1 {
		t.Fatalf("publish calls = %d, want 1 (duplicate must not republish)", pub.callCount())
	}
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	pub := &fakePublisher{}
	gw := newTestGateway(t, pub)
	body := []byte(prBody)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(string(body)))
	req.Header.Set(headerSignature, "sha256=deadbeef")
	req.Header.Set(headerEventKind, "pull_request")
	req.Header.Set(headerDelivery, "d-2")
	rec := httptest.NewRecorder()

	gw.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if pub.callCount() != 0 {
		t.Fatalf("publish must not be called on signature failure")
	}
}

func TestHandleWebhookRejectsOversizedBody(t *testing.T) {
	pub := &fakePublisher{}
	cfg := Config{SigningSecret: secret, MaxBodyBytes: 8, MaxPending: 100}
	gw := NewGateway(cfg, hosts.NewRegistry(hosts.GitHub{}), newTestDedup(t), pub, nil, nil)

	body := []byte(prBody)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(string(body)))
	req.Header.Set(headerSignature, sign(body))
	rec := httptest.NewRecorder()

	gw.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestHandleWebhookRejectsMalformedBody(t *testing.T) {
	pub := &fakePublisher{}
	gw := newTestGateway(t, pub)
	body := []byte(`not json`)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(string(body)))
	req.Header.Set(headerSignature, sign(body))
	rec := httptest.NewRecorder()

	gw.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

type alwaysOverPending struct{}

func (alwaysOverPending) Pending() int { return 1 << 20 }

func TestHandleWebhookShedsLoadOnBackpressure(t *testing.T) {
	pub := &fakePublisher{}
	cfg := Config{SigningSecret: secret, MaxBodyBytes: 1 << 20, MaxPending: 10}
	gw := NewGateway(cfg, hosts.NewRegistry(hosts.GitHub{}), newTestDedup(t), pub, alwaysOverPending{}, nil)

	body := []byte(prBody)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(string(body)))
	req.Header.Set(headerSignature, sign(body))
	rec := httptest.NewRecorder()

	gw.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if pub.callCount() != 0 {
		t.Fatalf("publish must not be called under backpressure")
	}
}
