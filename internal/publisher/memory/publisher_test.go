package memory

import (
	"context"
	"errors"
	"testing"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "crawl-batches", map[string]string{"batch_id": "b1"})
	if err != nil || id1 != "memory-1" {
		t.Fatalf("unexpected publish result id=%s err=%v", id1, err)
	}
	id2, err := pub.Publish(context.Background(), "crawl-alerts", "payload")
	if err != nil || id2 != "memory-2" {
		t.Fatalf("unexpected publish result id=%s err=%v", id2, err)
	}

	msgs := pub.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Topic != "crawl-batches" || msgs[1].Topic != "crawl-alerts" {
		t.Fatalf("topics not recorded correctly: %+v", msgs)
	}

	msgs[0].Topic = "modified"
	if pub.Messages()[0].Topic == "modified" {
		t.Fatal("expected Messages() to return a copy")
	}
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	pub.FailWith(errors.New("unavailable"))
	if _, err := pub.Publish(context.Background(), "t", nil); err == nil {
		t.Fatal("expected publish error")
	}
	pub.FailWith(nil)
	if _, err := pub.Publish(context.Background(), "t", nil); err != nil {
		t.Fatalf("expected publish to recover, got %v", err)
	}
	if got := len(pub.Messages()); got != 1 {
		t.Fatalf("failed publishes must not be recorded, got %d", got)
	}
}
