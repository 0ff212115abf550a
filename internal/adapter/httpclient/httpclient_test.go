package httpclient_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/personacore/core/internal/adapter/httpclient"
	"github.com/personacore/core/internal/resilience"
)

func TestGet_SendsHeadersAndParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Test") != "yes" {
			t.Fatalf("expected X-Test header, got %q", r.Header.Get("X-Test"))
		}
		w.Header().Set("X-Reply", "ok")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	c := httpclient.New(2 * time.Second)
	resp, err := c.Get(context.Background(), srv.URL, map[string]string{"X-Test": "yes"})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if string(resp.Body) != "hello" {
		t.Fatalf("expected body %q, got %q", "hello", resp.Body)
	}
	if resp.Headers["X-Reply"] != "ok" {
		t.Fatalf("expected X-Reply header to be preserved, got %v", resp.Headers)
	}
}

func TestPost_SendsBody(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 64)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := httpclient.New(2 * time.Second)
	resp, err := c.Post(context.Background(), srv.URL, nil, []byte("payload"))
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if gotBody != "payload" {
		t.Fatalf("expected server to receive %q, got %q", "payload", gotBody)
	}
}

func TestGet_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	// A 500 status is returned as a response, not an error; closing the
	// server makes every call fail at the transport level instead.
	srv.Close()

	c := httpclient.New(2 * time.Second)
	c.SetBreaker(resilience.NewBreaker(2, time.Minute))

	for i := 0; i < 2; i++ {
		if _, err := c.Get(context.Background(), srv.URL, nil); err == nil {
			t.Fatalf("call %d: expected a transport failure to surface as an error", i)
		}
	}

	_, err := c.Get(context.Background(), srv.URL, nil)
	if err != resilience.ErrCircuitOpen {
		t.Fatalf("expected breaker to be open after 2 failures, got %v", err)
	}
}

func TestGet_ErrorStatusStillReturnsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("missing"))
	}))
	defer srv.Close()

	c := httpclient.New(2 * time.Second)
	resp, err := c.Get(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Get returned error for a plain 404: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
