package service

import (
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/donbool/tame/internal/domain/policy"
)

func TestHub_PublishDeliversToSubscriber(t *testing.T) {
	defer goleak.VerifyNone(t)
	hub := NewHub()

	ch, unsubscribe := hub.Subscribe("sess-1")
	defer unsubscribe()

	decision := policy.Decision{Action: policy.ActionAllow}
	hub.Publish(Event{Kind: EventDecision, SessionID: "sess-1", LogID: "log-1", Decision: &decision, At: time.Now()})

	select {
	case ev := <-ch:
		if ev.LogID != "log-1" || ev.Decision.Action != policy.ActionAllow {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestHub_PublishIgnoresOtherSessions(t *testing.T) {
	defer goleak.VerifyNone(t)
	hub := NewHub()

	ch, unsubscribe := hub.Subscribe("sess-1")
	defer unsubscribe()

	hub.Publish(Event{Kind: EventDecision, SessionID: "sess-2", LogID: "log-1", At: time.Now()})

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event delivered to unrelated subscriber: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_PublishDropsOldestOnFullQueue(t *testing.T) {
	defer goleak.VerifyNone(t)
	hub := NewHub()

	ch, unsubscribe := hub.Subscribe("sess-1")
	defer unsubscribe()

	// Overfill the bounded queue; Publish must never block.
	for i := 0; i < subscriberQueueCap+10; i++ {
		hub.Publish(Event{Kind: EventDecision, SessionID: "sess-1", LogID: "overflow", At: time.Now()})
	}

	if len(ch) != subscriberQueueCap {
		t.Fatalf("expected channel to stay at capacity %d, got %d", subscriberQueueCap, len(ch))
	}
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	defer goleak.VerifyNone(t)
	hub := NewHub()

	ch, unsubscribe := hub.Subscribe("sess-1")
	unsubscribe()

	_, ok := <-ch
	if ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}

	if len(hub.subs) != 0 {
		t.Fatalf("expected no remaining subscriptions, got %d", len(hub.subs))
	}
}
