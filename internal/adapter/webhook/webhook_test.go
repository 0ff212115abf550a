package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/personacore/core/internal/domain/event"
	"github.com/personacore/core/internal/domain/trigger"
	"github.com/personacore/core/internal/engine/ratelimit"
	"github.com/personacore/core/internal/port/store"
)

type fakeClock struct{ t time.Time }

func (c fakeClock) Now() time.Time                      { return c.t }
func (c fakeClock) Sleep(time.Duration)                  {}
func (c fakeClock) After(time.Duration) <-chan time.Time { return make(chan time.Time) }

type fakeStore struct {
	store.Store
	triggers map[string]*trigger.Trigger
	events   []*event.Event
	fired    []string
}

func (f *fakeStore) GetTrigger(ctx context.Context, id string) (*trigger.Trigger, error) {
	return f.triggers[id], nil
}

func (f *fakeStore) CreateEvent(ctx context.Context, e *event.Event) error {
	f.events = append(f.events, e)
	return nil
}

func (f *fakeStore) MarkTriggerFired(ctx context.Context, triggerID string, firedAt time.Time) error {
	f.fired = append(f.fired, triggerID)
	return nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newReceiver(fs *fakeStore) *Receiver {
	return &Receiver{
		Store:   fs,
		Limiter: ratelimit.New(),
		Clock:   fakeClock{t: time.Now()},
		NewID:   func() string { return "ev1" },
		Logger:  testLogger(),
	}
}

func webhookTrigger(id, secret string, enabled bool) *trigger.Trigger {
	cfg, _ := json.Marshal(trigger.WebhookConfig{WebhookSecret: secret, EventType: "my_event"})
	return &trigger.Trigger{ID: id, PersonaID: "p1", Type: trigger.TypeWebhook, Config: cfg, Enabled: enabled}
}

func TestWebhook_UnknownTriggerReturns404(t *testing.T) {
	fs := &fakeStore{triggers: map[string]*trigger.Trigger{}}
	rv := newReceiver(fs)
	req := httptest.NewRequest(http.MethodPost, "/webhook/nope", strings.NewReader("{}"))
	w := httptest.NewRecorder()
	rv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestWebhook_DisabledTriggerReturns403(t *testing.T) {
	tr := webhookTrigger("t1", "", false)
	fs := &fakeStore{triggers: map[string]*trigger.Trigger{"t1": tr}}
	rv := newReceiver(fs)
	req := httptest.NewRequest(http.MethodPost, "/webhook/t1", strings.NewReader("{}"))
	w := httptest.NewRecorder()
	rv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestWebhook_WrongTriggerTypeReturns400(t *testing.T) {
	tr := webhookTrigger("t1", "", true)
	tr.Type = trigger.TypeManual
	fs := &fakeStore{triggers: map[string]*trigger.Trigger{"t1": tr}}
	rv := newReceiver(fs)
	req := httptest.NewRequest(http.MethodPost, "/webhook/t1", strings.NewReader("{}"))
	w := httptest.NewRecorder()
	rv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestWebhook_BadSignatureRejectedThenCorrectSignatureAccepted(t *testing.T) {
	secret := "s3cr3t"
	tr := webhookTrigger("t1", secret, true)
	fs := &fakeStore{triggers: map[string]*trigger.Trigger{"t1": tr}}
	rv := newReceiver(fs)
	body := "{}"

	req := httptest.NewRequest(http.MethodPost, "/webhook/t1", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	w := httptest.NewRecorder()
	rv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on bad signature, got %d", w.Code)
	}
	if len(fs.events) != 0 {
		t.Fatal("expected no event created on bad signature")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	req2 := httptest.NewRequest(http.MethodPost, "/webhook/t1", strings.NewReader(body))
	req2.Header.Set("X-Hub-Signature-256", sig)
	w2 := httptest.NewRecorder()
	rv.Router().ServeHTTP(w2, req2)
	if w2.Code != http.StatusOK {
		t.Fatalf("expected 200 on correct signature, got %d", w2.Code)
	}
	if len(fs.events) != 1 {
		t.Fatalf("expected exactly one event created, got %d", len(fs.events))
	}
	if fs.events[0].EventType != "my_event" {
		t.Errorf("expected event_type from config, got %q", fs.events[0].EventType)
	}
	if len(fs.fired) != 1 {
		t.Fatal("expected the trigger to be marked fired")
	}
}

func TestWebhook_NonJSONBodyWrapsAsRaw(t *testing.T) {
	tr := webhookTrigger("t1", "", true)
	fs := &fakeStore{triggers: map[string]*trigger.Trigger{"t1": tr}}
	rv := newReceiver(fs)
	req := httptest.NewRequest(http.MethodPost, "/webhook/t1", strings.NewReader("not json"))
	w := httptest.NewRecorder()
	rv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(fs.events[0].Payload, &payload); err != nil {
		t.Fatalf("expected a valid JSON payload wrapper, got error: %v", err)
	}
	if payload["raw"] != "not json" {
		t.Errorf("expected raw body preserved under 'raw', got %v", payload)
	}
}

func TestWebhook_RateLimitReturns429WithRetryAfter(t *testing.T) {
	tr := webhookTrigger("t1", "", true)
	fs := &fakeStore{triggers: map[string]*trigger.Trigger{"t1": tr}}
	rv := newReceiver(fs)

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhook/t1", strings.NewReader("{}"))
		w := httptest.NewRecorder()
		rv.Router().ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("call %d: expected 200, got %d", i, w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/webhook/t1", strings.NewReader("{}"))
	w := httptest.NewRecorder()
	rv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on the 11th call within the window, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected a Retry-After header on 429")
	}
}

func TestWebhook_MetadataGet(t *testing.T) {
	tr := webhookTrigger("t1", "s3cr3t", true)
	fs := &fakeStore{triggers: map[string]*trigger.Trigger{"t1": tr}}
	rv := newReceiver(fs)
	req := httptest.NewRequest(http.MethodGet, "/webhook/t1", nil)
	w := httptest.NewRecorder()
	rv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["requires_signature"] != true {
		t.Error("expected requires_signature true when webhook_secret is configured")
	}
}

func TestWebhook_Health(t *testing.T) {
	fs := &fakeStore{triggers: map[string]*trigger.Trigger{}}
	rv := newReceiver(fs)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	rv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
