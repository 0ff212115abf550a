package ws

import (
	"context"
	"testing"
)

func TestNewHub(t *testing.T) {
	hub := NewHub("")
	if hub == nil {
		t.Fatal("expected non-nil hub")
	}
	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections, got %d", hub.ConnectionCount())
	}
}

func TestHubConnectionCount(t *testing.T) {
	hub := NewHub("")

	if got := hub.ConnectionCount(); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestHubBroadcastNoConnections(t *testing.T) {
	hub := NewHub("")

	// Broadcast with no connections should not panic.
	hub.Broadcast(context.Background(), Message{
		Type:    "test",
		Payload: []byte(`{"key":"value"}`),
	})
}

func TestHubBroadcastEventNoConnections(t *testing.T) {
	hub := NewHub("")

	// BroadcastEvent with no connections should not panic.
	hub.BroadcastEvent(context.Background(), EventExecutionDisplay, ExecutionDisplayEvent{
		ExecutionID: "e1",
		Text:        "hello",
	})
}

func TestHubBroadcastEventMarshalError(t *testing.T) {
	hub := NewHub("")

	// A channel cannot be marshaled to JSON — should log error, not panic.
	hub.BroadcastEvent(context.Background(), "bad", make(chan int))
}

func TestHubRemoveNonexistent(t *testing.T) {
	hub := NewHub("")

	// Removing a connection that was never added should not panic.
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := &conn{ws: nil, cancel: cancel}
	hub.remove(c)
}

func TestHubPublishNoConnections(t *testing.T) {
	hub := NewHub("")

	// Publish (the port/eventbus.Publisher method) must never return an
	// error even with no subscribers.
	if err := hub.Publish(context.Background(), EventConnectorHealth, []byte(`{}`)); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}
