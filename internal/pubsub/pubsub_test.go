package pubsub

import (
	"errors"
	"testing"
)

func TestTopic_PublishDeliversToAllSubscribers(t *testing.T) {
	topic := New[int](4)
	a := topic.Subscribe()
	b := topic.Subscribe()

	if err := topic.Publish(7); err != nil {
		t.Fatalf("Publish: unexpected error %v", err)
	}

	if v := <-a.Channel(); v != 7 {
		t.Fatalf("subscriber a got %d, want 7", v)
	}
	if v := <-b.Channel(); v != 7 {
		t.Fatalf("subscriber b got %d, want 7", v)
	}
}

func TestTopic_PublishReportsLagWithoutBlocking(t *testing.T) {
	topic := New[int](1)
	slow := topic.Subscribe()

	if err := topic.Publish(1); err != nil {
		t.Fatalf("first Publish: unexpected error %v", err)
	}
	// slow never drains its channel; the second publish must not block
	// and must report lag for it instead.
	err := topic.Publish(2)
	if err == nil {
		t.Fatalf("second Publish: want a Lagged error, got nil")
	}
	var lagged *Lagged
	if !errors.As(err, &lagged) {
		t.Fatalf("second Publish error = %v, want *Lagged", err)
	}
	if lagged.Subscriber != 1 || lagged.Dropped != 1 {
		t.Fatalf("Lagged = %+v, want {Subscriber:1 Dropped:1}", lagged)
	}
	if v := <-slow.Channel(); v != 1 {
		t.Fatalf("slow subscriber's buffered value = %d, want 1", v)
	}
}

func TestTopic_UnsubscribeClosesChannel(t *testing.T) {
	topic := New[int](1)
	sub := topic.Subscribe()
	sub.Unsubscribe()

	if topic.SubscriberCount() != 0 {
		t.Fatalf("SubscriberCount() after Unsubscribe = %d, want 0", topic.SubscriberCount())
	}
	if _, ok := <-sub.Channel(); ok {
		t.Fatalf("channel still open after Unsubscribe")
	}
}
