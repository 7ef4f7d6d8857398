package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	fieldID          = "id"
	fieldKey         = "key"
	fieldPayload     = "payload"
	fieldPublishedAt = "published_at"
)

type RedisOptions struct {
	// Consumer names this process inside every consumer group it joins.
	Consumer string
	Block    time.Duration
	// MinIdle is how long a delivered but unacknowledged entry waits before
	// another consumer may claim it.
	MinIdle time.Duration
	Batch   int64
}

// RedisBroker publishes to and consumes from Redis Streams, one stream per
// topic.
type RedisBroker struct {
	client *redis.Client
	opts   RedisOptions
}

func NewRedisBroker(client *redis.Client, opts RedisOptions) *RedisBroker {
	if opts.Consumer == "" {
		opts.Consumer = "consumer-1"
	}
	if opts.Block <= 0 {
		opts.Block = 5 * time.Second
	}
	if opts.MinIdle <= 0 {
		opts.MinIdle = 30 * time.Second
	}
	if opts.Batch <= 0 {
		opts.Batch = 16
	}
	return &RedisBroker{client: client, opts: opts}
}

func (b *RedisBroker) Publish(ctx context.Context, topic, key string, event any) error {
	msg, err := NewMessage(topic, key, event)
	if err != nil {
		return err
	}

	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]any{
			fieldID:          msg.ID,
			fieldKey:         msg.Key,
			fieldPayload:     string(msg.Payload),
			fieldPublishedAt: msg.PublishedAt.Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("messaging: failed to publish to %s: %w", topic, err)
	}

	log.Debug().Str("topic", topic).Str("message_id", msg.ID).Str("key", key).Msg("messaging: event published")
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, topic, group string, h Handler) error {
	err := b.client.XGroupCreateMkStream(ctx, topic, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("messaging: failed to create group %s on %s: %w", group, topic, err)
	}

	log.Info().Str("topic", topic).Str("group", group).Str("consumer", b.opts.Consumer).Msg("messaging: subscribed")

	for ctx.Err() == nil {
		b.reclaim(ctx, topic, group, h)

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: b.opts.Consumer,
			Streams:  []string{topic, ">"},
			Count:    b.opts.Batch,
			Block:    b.opts.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Error().Err(err).Str("topic", topic).Msg("messaging: failed to read from stream")
			sleep(ctx, time.Second)
			continue
		}

		for _, stream := range streams {
			for _, entry := range stream.Messages {
				b.dispatch(ctx, topic, group, entry, h)
			}
		}
	}

	log.Info().Str("topic", topic).Str("group", group).Msg("messaging: subscription stopped")
	return nil
}

// reclaim takes over entries that another consumer (or an earlier run of this
// one) received but never acknowledged.
func (b *RedisBroker) reclaim(ctx context.Context, topic, group string, h Handler) {
	entries, _, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   topic,
		Group:    group,
		Consumer: b.opts.Consumer,
		MinIdle:  b.opts.MinIdle,
		Start:    "0-0",
		Count:    b.opts.Batch,
	}).Result()
	if err != nil {
		if ctx.Err() == nil && !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("topic", topic).Msg("messaging: failed to claim pending entries")
		}
		return
	}

	for _, entry := range entries {
		log.Info().Str("topic", topic).Str("entry_id", entry.ID).Msg("messaging: redelivering pending entry")
		b.dispatch(ctx, topic, group, entry, h)
	}
}

func (b *RedisBroker) dispatch(ctx context.Context, topic, group string, entry redis.XMessage, h Handler) {
	msg, err := decodeEntry(topic, entry)
	if err != nil {
		// An undecodable entry would be redelivered forever.
		log.Error().Err(err).Str("topic", topic).Str("entry_id", entry.ID).Msg("messaging: dropping malformed entry")
		b.ack(ctx, topic, group, entry.ID)
		return
	}

	if err := h(ctx, msg); err != nil {
		log.Warn().Err(err).Str("topic", topic).Str("message_id", msg.ID).Msg("messaging: handler failed, entry left pending")
		return
	}

	b.ack(ctx, topic, group, entry.ID)
}

func (b *RedisBroker) ack(ctx context.Context, topic, group, entryID string) {
	if err := b.client.XAck(ctx, topic, group, entryID).Err(); err != nil {
		log.Error().Err(err).Str("topic", topic).Str("entry_id", entryID).Msg("messaging: failed to acknowledge entry")
	}
}

func decodeEntry(topic string, entry redis.XMessage) (Message, error) {
	payload, ok := entry.Values[fieldPayload].(string)
	if !ok {
		return Message{}, fmt.Errorf("messaging: entry %s has no payload", entry.ID)
	}

	msg := Message{
		ID:      stringValue(entry.Values[fieldID]),
		Topic:   topic,
		Key:     stringValue(entry.Values[fieldKey]),
		Payload: []byte(payload),
	}
	if msg.ID == "" {
		msg.ID = entry.ID
	}
	if ts := stringValue(entry.Values[fieldPublishedAt]); ts != "" {
		publishedAt, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return Message{}, fmt.Errorf("messaging: entry %s has bad timestamp: %w", entry.ID, err)
		}
		msg.PublishedAt = publishedAt
	}

	return msg, nil
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
