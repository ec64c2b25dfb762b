package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/nilemarket/storefront/internal/services"
)

// PubSubOrderEventPublisher publishes order domain events to a Pub/Sub topic.
type PubSubOrderEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubOrderEventPublisher constructs a Pub/Sub backed order event publisher.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic) (*PubSubOrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order event publisher: topic is required")
	}
	return &PubSubOrderEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishOrderEvent publishes event and waits for the server acknowledgement.
func (p *PubSubOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order event publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "orderNumber", event.OrderNumber)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// PubSubCleanupPublisher enqueues order cleanup retries. The push subscription delivers them to the
// internal cleanup endpoint, and a non-2xx response there triggers redelivery.
type PubSubCleanupPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubCleanupPublisher constructs a Pub/Sub backed cleanup job publisher.
func NewPubSubCleanupPublisher(topic *pubsub.Topic) (*PubSubCleanupPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub cleanup publisher: topic is required")
	}
	return &PubSubCleanupPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishCleanupJob enqueues a cleanup job message on the configured topic.
func (p *PubSubCleanupPublisher) PublishCleanupJob(ctx context.Context, job services.CleanupJobMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub cleanup publisher: not initialised")
	}
	if strings.TrimSpace(job.OrderID) == "" {
		return "", errors.New("pubsub cleanup publisher: order id is required")
	}

	data, err := p.marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal cleanup job: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "orderId", job.OrderID)
	setAttr(attrs, "steps", strings.Join(job.Steps, ","))
	attrs["attempt"] = strconv.Itoa(job.Attempt)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish cleanup job: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
