// Package messaging carries domain events between the services. Delivery is
// at-least-once: a message is acknowledged only after its handler returned
// nil, so handlers must tolerate redelivery.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

type Message struct {
	ID          string
	Topic       string
	Key         string
	Payload     []byte
	PublishedAt time.Time
}

// Decode unmarshals the JSON payload into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("messaging: failed to decode %s message %s: %w", m.Topic, m.ID, err)
	}
	return nil
}

type Handler func(ctx context.Context, msg Message) error

type Publisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}

type Subscriber interface {
	// Subscribe blocks, feeding messages of topic to h on behalf of the
	// consumer group, until ctx is cancelled.
	Subscribe(ctx context.Context, topic, group string, h Handler) error
}

func NewMessage(topic, key string, event any) (Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return Message{}, fmt.Errorf("messaging: failed to encode %s event: %w", topic, err)
	}

	return Message{
		ID:          ulid.Make().String(),
		Topic:       topic,
		Key:         key,
		Payload:     payload,
		PublishedAt: time.Now().UTC(),
	}, nil
}
