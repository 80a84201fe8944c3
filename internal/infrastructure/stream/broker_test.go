package stream

import (
	"context"
	"testing"
	"time"

	"ArticlesRanker/internal/domain"
)

func TestBrokerFiltersByKeyword(t *testing.T) {
	t.Parallel()

	broker := NewBroker(nil, 4, 0)
	ctx := context.Background()

	all, cleanupAll := broker.Subscribe(ctx, 0)
	defer cleanupAll()
	one, cleanupOne := broker.Subscribe(ctx, 1)
	defer cleanupOne()

	_ = broker.Publish(ctx, domain.Event{Type: domain.EventPhaseChanged, KeywordID: 2})
	_ = broker.Publish(ctx, domain.Event{Type: domain.EventJobCompleted, KeywordID: 1})

	if ev := <-all; ev.KeywordID != 2 {
		t.Fatalf("unfiltered client should see keyword 2 first, got %+v", ev)
	}
	if ev := <-all; ev.KeywordID != 1 {
		t.Fatalf("unfiltered client should see keyword 1 second, got %+v", ev)
	}
	select {
	case ev := <-one:
		if ev.KeywordID != 1 || ev.Type != domain.EventJobCompleted {
			t.Fatalf("unexpected event for filtered client: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("filtered client got nothing")
	}
}

func TestBrokerDropsForSlowClients(t *testing.T) {
	t.Parallel()

	broker := NewBroker(nil, 1, 0)
	ctx := context.Background()
	events, cleanup := broker.Subscribe(ctx, 0)
	defer cleanup()

	for i := 0; i < 5; i++ {
		if err := broker.Publish(ctx, domain.Event{Type: domain.EventTokenUsage, KeywordID: 1}); err != nil {
			t.Fatalf("publish must never fail: %v", err)
		}
	}
	<-events
	select {
	case ev := <-events:
		t.Fatalf("expected dropped events, got %+v", ev)
	default:
	}
}

func TestBrokerCleanupAndLimits(t *testing.T) {
	t.Parallel()

	broker := NewBroker(nil, 1, 1)
	ctx, cancel := context.WithCancel(context.Background())

	events, _ := broker.Subscribe(ctx, 0)
	rejected, _ := broker.Subscribe(context.Background(), 0)
	if _, ok := <-rejected; ok {
		t.Fatalf("subscription over the limit should be closed")
	}

	cancel()
	select {
	case _, ok := <-events:
		if ok {
			t.Fatalf("expected closed channel after cancel")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel not closed after context cancel")
	}
	if broker.ClientCount() != 0 {
		t.Fatalf("expected no clients, got %d", broker.ClientCount())
	}
}
