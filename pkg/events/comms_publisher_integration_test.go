package events

import (
	"context"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/cyfrying/foodtruck/pkg/commsutil"
)

const integrationTestPrefix = "events:comms_publisher_integration_test"

// embeddedBroker runs a NATS server on a random port for the life of the test
// and returns a client connected through commsutil.Dial.
func embeddedBroker(t *testing.T) *comms.Conn {
	t.Helper()
	ns, err := commsserver.NewServer(&commsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("%s - create server: %v", integrationTestPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", integrationTestPrefix)
	}
	nc, err := commsutil.Dial(commsutil.Options{URL: ns.ClientURL(), Name: t.Name()})
	if err != nil {
		ns.Shutdown()
		t.Fatalf("%s - dial: %v", integrationTestPrefix, err)
	}
	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return nc
}

func TestCommsPublisher_PublishOrderCreated(t *testing.T) {
	nc := embeddedBroker(t)

	publisher := NewCommsPublisher(nc, &CommsPublisherOpts{Source: "node-a"})

	received := make(chan *comms.Msg, 1)
	sub, err := nc.Subscribe("cyfrying.orders.created", func(msg *comms.Msg) {
		received <- msg
	})
	if err != nil {
		t.Fatalf("%s - failed to subscribe: %v", integrationTestPrefix, err)
	}
	defer sub.Unsubscribe()

	event := &OrderCreatedEvent{OrderID: "order_abc", Total: 21.75, ItemCount: 3, Timestamp: time.Now().UTC()}
	if err := publisher.PublishOrderCreated(context.Background(), event); err != nil {
		t.Fatalf("%s - PublishOrderCreated failed: %v", integrationTestPrefix, err)
	}
	nc.Flush()

	select {
	case msg := <-received:
		var got OrderCreatedEvent
		header, err := commsutil.DecodePayload(msg.Data, &got)
		if err != nil {
			t.Fatalf("%s - decode failed: %v", integrationTestPrefix, err)
		}
		if header.Source != "node-a" || header.Topic != commsutil.TopicOrderCreated {
			t.Errorf("%s - header = %+v", integrationTestPrefix, header)
		}
		if got.OrderID != "order_abc" || got.Total != 21.75 || got.ItemCount != 3 {
			t.Errorf("%s - event = %+v", integrationTestPrefix, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - timeout waiting for order event", integrationTestPrefix)
	}
}

func TestCommsPublisher_NamespaceOverride(t *testing.T) {
	nc := embeddedBroker(t)

	publisher := NewCommsPublisher(nc, &CommsPublisherOpts{Namespace: "truck2"})

	received := make(chan string, 2)
	sub, err := nc.Subscribe("truck2.>", func(msg *comms.Msg) {
		received <- msg.Subject
	})
	if err != nil {
		t.Fatalf("%s - failed to subscribe: %v", integrationTestPrefix, err)
	}
	defer sub.Unsubscribe()

	ctx := context.Background()
	publisher.PublishMenuChanged(ctx, &MenuChangedEvent{ItemID: "item_1", Change: MenuItemUpdated})
	publisher.PublishKillSwitchChanged(ctx, &KillSwitchChangedEvent{On: true, Reason: "Restock"})
	nc.Flush()

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case subject := <-received:
			got[subject] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("%s - timeout waiting for events", integrationTestPrefix)
		}
	}
	if !got["truck2.menu.changed"] || !got["truck2.killswitch.changed"] {
		t.Errorf("%s - subjects = %v", integrationTestPrefix, got)
	}
}

func TestCommsPublisher_ClosedConnection(t *testing.T) {
	nc := embeddedBroker(t)

	publisher := NewCommsPublisher(nc, nil)
	nc.Close()

	err := publisher.PublishMenuChanged(context.Background(), &MenuChangedEvent{ItemID: "item_1"})
	if err == nil {
		t.Errorf("%s - expected error on closed connection", integrationTestPrefix)
	}
}
