package events

import (
	"testing"
	"time"
)

func receive(t *testing.T, sub Subscriber) *Event {
	t.Helper()
	select {
	case ev := <-sub:
		return ev
	case <-time.After(time.Second):
		t.Fatal("subscriber received nothing")
		return nil
	}
}

// TestPublishSubscribe tests fan-out to every subscriber
func TestPublishSubscribe(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	first := b.Subscribe()
	second := b.Subscribe()
	if b.SubscriberCount() != 2 {
		t.Errorf("SubscriberCount() = %d, want 2", b.SubscriberCount())
	}

	b.Publish(&Event{Type: EventDeploymentStarted, Message: "go"})

	for _, sub := range []Subscriber{first, second} {
		ev := receive(t, sub)
		if ev.Type != EventDeploymentStarted || ev.Message != "go" {
			t.Errorf("event = %+v", ev)
		}
		if ev.Timestamp.IsZero() {
			t.Error("zero timestamp not filled in")
		}
	}
}

// TestPublishPhase tests the phase convenience metadata
func TestPublishPhase(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.PublishPhase(EventPhaseStarted, "deploy-1", "a.com", "deploy", "step")

	ev := receive(t, sub)
	if ev.Metadata["deployment_id"] != "deploy-1" || ev.Metadata["domain"] != "a.com" || ev.Metadata["phase"] != "deploy" {
		t.Errorf("metadata = %v", ev.Metadata)
	}
}

// TestUnsubscribe tests channel closure and count bookkeeping
func TestUnsubscribe(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	if b.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d after unsubscribe, want 0", b.SubscriberCount())
	}
	if _, open := <-sub; open {
		t.Error("unsubscribed channel left open")
	}
	// double unsubscribe must not panic
	b.Unsubscribe(sub)
}

// TestPublishAfterStop tests that a stopped broker drops events quietly
func TestPublishAfterStop(t *testing.T) {
	b := NewBroker()
	b.Start()
	b.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Publish(&Event{Type: EventBatchStarted})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked after Stop")
	}
}
