package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/nilemarket/storefront/internal/services"
)

func newTestTopic(t *testing.T, name string) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, name)
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	t.Cleanup(topic.Stop)
	return srv, topic
}

func TestPubSubOrderEventPublisherPublishesMessage(t *testing.T) {
	srv, topic := newTestTopic(t, "order-events")

	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}

	event := services.OrderEvent{
		Type:          "order.placed",
		OrderID:       "ord_01J9Z",
		OrderNumber:   "ORD-2026-000042",
		SessionID:     "6f1b2a52-4c0e-4f3a-9a55-3b0f7d9d2a11",
		PaymentMethod: "card",
		Total:         250,
		OccurredAt:    time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC),
	}
	if err := publisher.PublishOrderEvent(context.Background(), event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	var payload services.OrderEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != event.OrderID || payload.Total != 250 {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if messages[0].Attributes["type"] != "order.placed" {
		t.Fatalf("expected type attribute, got %q", messages[0].Attributes["type"])
	}
	if _, ok := messages[0].Attributes["sessionId"]; ok {
		t.Fatalf("session id must not be exposed as an attribute")
	}
}

func TestPubSubCleanupPublisherPublishesMessage(t *testing.T) {
	srv, topic := newTestTopic(t, "order-cleanup")

	publisher, err := NewPubSubCleanupPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubCleanupPublisher: %v", err)
	}

	job := services.CleanupJobMessage{
		OrderID:  "ord_01J9Z",
		Steps:    []string{"inventory_debit", "cart_clear"},
		Attempt:  1,
		QueuedAt: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC),
	}
	id, err := publisher.PublishCleanupJob(context.Background(), job)
	if err != nil {
		t.Fatalf("PublishCleanupJob: %v", err)
	}
	if id == "" {
		t.Fatalf("expected message id")
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if got := messages[0].Attributes["steps"]; got != "inventory_debit,cart_clear" {
		t.Fatalf("unexpected steps attribute %q", got)
	}
	if got := messages[0].Attributes["attempt"]; got != "1" {
		t.Fatalf("unexpected attempt attribute %q", got)
	}
	var payload services.CleanupJobMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != job.OrderID || len(payload.Steps) != 2 {
		t.Fatalf("unexpected payload %#v", payload)
	}
}

func TestPubSubCleanupPublisherRequiresOrderID(t *testing.T) {
	_, topic := newTestTopic(t, "order-cleanup")
	publisher, err := NewPubSubCleanupPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubCleanupPublisher: %v", err)
	}
	if _, err := publisher.PublishCleanupJob(context.Background(), services.CleanupJobMessage{}); err == nil {
		t.Fatalf("expected error for missing order id")
	}
}

func TestPublishersRequireTopic(t *testing.T) {
	if _, err := NewPubSubOrderEventPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
	if _, err := NewPubSubCleanupPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
