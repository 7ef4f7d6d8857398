package messaging

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// MemoryBus is an in-process Publisher/Subscriber. Delivery is synchronous:
// Publish returns after every registered handler ran.
type MemoryBus struct {
	mu        sync.RWMutex
	handlers  map[string][]Handler
	published []Message
	failWith  error
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[string][]Handler)}
}

func (b *MemoryBus) Publish(ctx context.Context, topic, key string, event any) error {
	b.mu.RLock()
	failWith := b.failWith
	b.mu.RUnlock()
	if failWith != nil {
		return failWith
	}

	msg, err := NewMessage(topic, key, event)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.published = append(b.published, msg)
	handlers := append([]Handler(nil), b.handlers[topic]...)
	b.mu.Unlock()

	for _, h := range handlers {
		if err := h(ctx, msg); err != nil {
			log.Warn().Err(err).Str("topic", topic).Str("message_id", msg.ID).Msg("messaging: in-memory handler failed")
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic, _ string, h Handler) error {
	b.Register(topic, h)
	<-ctx.Done()
	return nil
}

// Register adds h for topic without blocking.
func (b *MemoryBus) Register(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

// Published returns the messages published to topic so far.
func (b *MemoryBus) Published(topic string) []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Message
	for _, m := range b.published {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// FailWith makes every following Publish return err. A nil err restores
// normal delivery.
func (b *MemoryBus) FailWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failWith = err
}
