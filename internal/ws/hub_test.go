package ws

import (
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"log/slog"
)

// chanSubscriber exposes received payloads on a channel so tests can wait for
// async hub delivery.
type chanSubscriber struct {
	received chan []byte
	fail     bool
	closed   chan struct{}
}

func newChanSubscriber() *chanSubscriber {
	return &chanSubscriber{received: make(chan []byte, 16), closed: make(chan struct{}, 1)}
}

func (s *chanSubscriber) Send(payload []byte) error {
	if s.fail {
		return errors.New("send failed")
	}
	s.received <- payload
	return nil
}

func (s *chanSubscriber) Close() {
	select {
	case s.closed <- struct{}{}:
	default:
	}
}

func waitPayload(t *testing.T, sub *chanSubscriber) []byte {
	t.Helper()
	select {
	case payload := <-sub.received:
		return payload
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for payload")
		return nil
	}
}

func assertNoPayload(t *testing.T, sub *chanSubscriber) {
	t.Helper()
	select {
	case payload := <-sub.received:
		t.Fatalf("unexpected payload: %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubDeliversOnlyToAddressedUser(t *testing.T) {
	hub := NewHub()
	alice := newChanSubscriber()
	bob := newChanSubscriber()
	hub.Register("alice", alice)
	hub.Register("bob", bob)

	hub.Broadcast("alice", []byte("hello"))

	if got := waitPayload(t, alice); string(got) != "hello" {
		t.Errorf("alice received %q, want hello", got)
	}
	assertNoPayload(t, bob)
}

func TestHubFansOutToAllUserSessions(t *testing.T) {
	hub := NewHub()
	first := newChanSubscriber()
	second := newChanSubscriber()
	hub.Register("alice", first)
	hub.Register("alice", second)

	hub.Broadcast("alice", []byte("update"))

	if got := waitPayload(t, first); string(got) != "update" {
		t.Errorf("first session received %q", got)
	}
	if got := waitPayload(t, second); string(got) != "update" {
		t.Errorf("second session received %q", got)
	}
}

func TestHubDropsFailingSession(t *testing.T) {
	hub := NewHub()
	broken := newChanSubscriber()
	broken.fail = true
	healthy := newChanSubscriber()
	hub.Register("alice", broken)
	hub.Register("alice", healthy)

	hub.Broadcast("alice", []byte("one"))
	waitPayload(t, healthy)

	select {
	case <-broken.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("failing session was not closed")
	}

	hub.Broadcast("alice", []byte("two"))
	if got := waitPayload(t, healthy); string(got) != "two" {
		t.Errorf("healthy session received %q after cleanup", got)
	}
}

func TestHubUnregisterStopsDelivery(t *testing.T) {
	hub := NewHub()
	sub := newChanSubscriber()
	hub.Register("alice", sub)
	hub.Unregister("alice", sub)

	hub.Broadcast("alice", []byte("late"))
	assertNoPayload(t, sub)
}

func TestHubIgnoresUsersWithoutSessions(t *testing.T) {
	hub := NewHub()
	// Must not block or panic.
	hub.Broadcast("ghost", []byte("void"))
}

func TestBroadcasterWrapsEventEnvelope(t *testing.T) {
	hub := NewHub()
	sub := newChanSubscriber()
	hub.Register("alice", sub)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	broadcaster := NewBroadcaster(hub, log)
	broadcaster.DeliverToUser("alice", "deployment-status", map[string]string{"status": "running"})

	payload := waitPayload(t, sub)
	var envelope struct {
		Event string            `json:"event"`
		Data  map[string]string `json:"data"`
		TS    string            `json:"ts"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Event != "deployment-status" {
		t.Errorf("event = %q", envelope.Event)
	}
	if envelope.Data["status"] != "running" {
		t.Errorf("data = %v", envelope.Data)
	}
	if envelope.TS == "" {
		t.Error("missing timestamp")
	}
}
