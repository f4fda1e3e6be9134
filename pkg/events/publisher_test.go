package events

import (
	"context"
	"testing"
	"time"
)

func TestNoOpPublisher(t *testing.T) {
	pub := &NoOpPublisher{}
	ctx := context.Background()
	if err := pub.PublishOrderCreated(ctx, &OrderCreatedEvent{OrderID: "order_1"}); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if err := pub.PublishMenuChanged(ctx, &MenuChangedEvent{ItemID: "item_1"}); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if err := pub.PublishKillSwitchChanged(ctx, &KillSwitchChangedEvent{On: true}); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCallbackPublisher(t *testing.T) {
	var topics []string
	var captured []interface{}

	pub := NewCallbackPublisher(func(_ context.Context, topic string, event interface{}) error {
		topics = append(topics, topic)
		captured = append(captured, event)
		return nil
	})

	ctx := context.Background()
	now := time.Now()
	pub.PublishOrderCreated(ctx, &OrderCreatedEvent{OrderID: "order_1", Total: 12.5, ItemCount: 2, Timestamp: now})
	pub.PublishMenuChanged(ctx, &MenuChangedEvent{ItemID: "item_1", Change: MenuItemDeleted, Timestamp: now})
	pub.PublishKillSwitchChanged(ctx, &KillSwitchChangedEvent{On: true, Reason: "Restock", Timestamp: now})

	want := []string{"orders.created", "menu.changed", "killswitch.changed"}
	if len(topics) != len(want) {
		t.Fatalf("expected %d callbacks, got %d", len(want), len(topics))
	}
	for i := range want {
		if topics[i] != want[i] {
			t.Errorf("expected topic %s, got %s", want[i], topics[i])
		}
	}
	order, ok := captured[0].(*OrderCreatedEvent)
	if !ok || order.Total != 12.5 {
		t.Errorf("expected order event with total 12.5, got %#v", captured[0])
	}
}
