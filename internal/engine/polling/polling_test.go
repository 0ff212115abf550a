package polling

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/personacore/core/internal/domain/event"
	"github.com/personacore/core/internal/domain/trigger"
	"github.com/personacore/core/internal/port/httpclient"
	"github.com/personacore/core/internal/port/store"
)

type fakeClock struct{ t time.Time }

func (c fakeClock) Now() time.Time                      { return c.t }
func (c fakeClock) Sleep(time.Duration)                  {}
func (c fakeClock) After(time.Duration) <-chan time.Time { return make(chan time.Time) }

type fakeHTTP struct {
	body []byte
	err  error
}

func (f *fakeHTTP) Get(ctx context.Context, url string, headers map[string]string) (*httpclient.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &httpclient.Response{StatusCode: 200, Body: f.body}, nil
}
func (f *fakeHTTP) Post(ctx context.Context, url string, headers map[string]string, body []byte) (*httpclient.Response, error) {
	panic("unused")
}

type fakeStore struct {
	store.Store
	due           []*trigger.Trigger
	casResult     store.CASResult
	casErr        error
	markErr       error
	createdEvents []*event.Event
	casCalls      int
	markCalls     int
}

func (f *fakeStore) GetDueTriggers(ctx context.Context, typ trigger.Type, now time.Time) ([]*trigger.Trigger, error) {
	return f.due, nil
}
func (f *fakeStore) MarkTriggered(ctx context.Context, triggerID string, triggeredAt time.Time, next *time.Time) error {
	f.markCalls++
	return f.markErr
}
func (f *fakeStore) MarkTriggeredWithHash(ctx context.Context, triggerID, newHash, expectedPrevHash string, triggeredAt time.Time, next *time.Time) (store.CASResult, error) {
	f.casCalls++
	return f.casResult, f.casErr
}
func (f *fakeStore) CreateEvent(ctx context.Context, e *event.Event) error {
	f.createdEvents = append(f.createdEvents, e)
	return nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func pollingTrigger(id string, cfg trigger.PollingConfig) *trigger.Trigger {
	body, _ := json.Marshal(cfg)
	return &trigger.Trigger{ID: id, PersonaID: "p1", Type: trigger.TypePolling, Config: body, Enabled: true}
}

func TestTick_HashChanged_PublishesOnApplied(t *testing.T) {
	body := []byte(`{"hello":"world"}`)
	trig := pollingTrigger("t1", trigger.PollingConfig{URL: "http://example.com", IntervalSeconds: 60})
	fs := &fakeStore{due: []*trigger.Trigger{trig}, casResult: store.Applied}
	e := &Engine{Store: fs, HTTP: &fakeHTTP{body: body}, Clock: fakeClock{t: time.Now()}, NewID: func() string { return "ev1" }, Logger: testLogger()}

	if err := e.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if fs.casCalls != 1 {
		t.Fatalf("expected 1 CAS call, got %d", fs.casCalls)
	}
	if len(fs.createdEvents) != 1 {
		t.Fatalf("expected 1 event published, got %d", len(fs.createdEvents))
	}
}

func TestTick_HashChanged_NotApplied_SuppressesEvent(t *testing.T) {
	trig := pollingTrigger("t1", trigger.PollingConfig{URL: "http://example.com", IntervalSeconds: 60})
	fs := &fakeStore{due: []*trigger.Trigger{trig}, casResult: store.NotApplied}
	e := &Engine{Store: fs, HTTP: &fakeHTTP{body: []byte("x")}, Clock: fakeClock{t: time.Now()}, NewID: func() string { return "ev1" }, Logger: testLogger()}

	if err := e.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(fs.createdEvents) != 0 {
		t.Fatalf("expected no event on not-applied CAS, got %d", len(fs.createdEvents))
	}
}

func TestTick_HashUnchanged_OnlyMarksTriggered(t *testing.T) {
	body := []byte("same-body")
	sum := sha256.Sum256(body)
	hash := hex.EncodeToString(sum[:])
	trig := pollingTrigger("t1", trigger.PollingConfig{URL: "http://example.com", IntervalSeconds: 60, ContentHash: hash})
	fs := &fakeStore{due: []*trigger.Trigger{trig}}
	e := &Engine{Store: fs, HTTP: &fakeHTTP{body: body}, Clock: fakeClock{t: time.Now()}, NewID: func() string { return "ev1" }, Logger: testLogger()}

	if err := e.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if fs.casCalls != 0 {
		t.Errorf("expected no CAS call when hash unchanged, got %d", fs.casCalls)
	}
	if fs.markCalls != 1 {
		t.Errorf("expected mark_triggered to advance schedule, got %d calls", fs.markCalls)
	}
	if len(fs.createdEvents) != 0 {
		t.Errorf("expected no event when content unchanged, got %d", len(fs.createdEvents))
	}
}

func TestTick_RequestFailure_BacksOffAndAdvances(t *testing.T) {
	trig := pollingTrigger("t1", trigger.PollingConfig{URL: "http://example.com", IntervalSeconds: 60})
	fs := &fakeStore{due: []*trigger.Trigger{trig}}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := fakeClock{t: now}
	e := &Engine{Store: fs, HTTP: &fakeHTTP{err: errors.New("connection refused")}, Clock: clk, NewID: func() string { return "ev1" }, Logger: testLogger()}

	if err := e.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if fs.markCalls != 1 {
		t.Fatalf("expected schedule to advance despite failure")
	}
	if !e.inCooldown("t1", now) {
		t.Error("expected trigger to be in cooldown after failure")
	}
}

func TestTick_CooldownSuppressesPoll(t *testing.T) {
	trig := pollingTrigger("t1", trigger.PollingConfig{URL: "http://example.com", IntervalSeconds: 60})
	fs := &fakeStore{due: []*trigger.Trigger{trig}}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := &Engine{Store: fs, HTTP: &fakeHTTP{err: errors.New("boom")}, Clock: fakeClock{t: now}, NewID: func() string { return "ev1" }, Logger: testLogger()}

	_ = e.Tick(context.Background())
	firstMarkCalls := fs.markCalls

	// Second tick within the cooldown window should not poll again.
	if err := e.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if fs.markCalls != firstMarkCalls {
		t.Errorf("expected no additional poll while in cooldown")
	}
}

func TestTick_MissingURL_AdvancesWithoutRequest(t *testing.T) {
	trig := pollingTrigger("t1", trigger.PollingConfig{IntervalSeconds: 60})
	fs := &fakeStore{due: []*trigger.Trigger{trig}}
	e := &Engine{Store: fs, HTTP: &fakeHTTP{err: errors.New("must not be called")}, Clock: fakeClock{t: time.Now()}, NewID: func() string { return "ev1" }, Logger: testLogger()}

	if err := e.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if fs.markCalls != 1 {
		t.Errorf("expected schedule advance for missing url")
	}
}
