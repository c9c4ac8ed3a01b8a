// Package pubsub implements a Google Cloud Pub/Sub completion publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/customeros/customeros-sub005/internal/automation"
)

// Publisher wraps a Pub/Sub topic. Downstream CRM-sync consumers subscribe
// to it for terminal run transitions.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// New creates a Publisher for the provided topic.
func New(client *pubsub.Client, topicID string) *Publisher {
	return &Publisher{
		client: client,
		topic:  client.Topic(topicID),
	}
}

// Publish marshals the completion event to JSON and publishes it. Routing
// attributes are carried alongside so subscribers can filter without
// decoding the body.
func (p *Publisher) Publish(ctx context.Context, event automation.CompletionEvent) error {
	if p.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal completion event: %w", err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"tenant":   event.Tenant,
			"run_type": string(event.Type),
			"status":   string(event.Status),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish completion event: %w", err)
	}
	return nil
}

// Close flushes pending publishes and releases the client.
func (p *Publisher) Close() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
