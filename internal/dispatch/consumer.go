package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"jestbook/api/internal/lifecycle"
)

// Message is one dispatch request read off a stream.
type Message struct {
	ID     string
	Topic  lifecycle.Topic
	JokeID string
}

// Handler processes one message. Returning an error leaves the message
// pending for redelivery; nil acknowledges it.
type Handler func(ctx context.Context, msg Message) error

// Consumer reads dispatch streams through a consumer group.
type Consumer struct {
	client   *redis.Client
	group    string
	consumer string
	block    time.Duration
	minIdle  time.Duration
}

func NewConsumer(client *redis.Client, group, consumer string) *Consumer {
	return &Consumer{
		client:   client,
		group:    group,
		consumer: consumer,
		block:    5 * time.Second,
		minIdle:  30 * time.Second,
	}
}

// EnsureGroups creates the consumer group on every topic stream. Existing
// groups are left untouched.
func (c *Consumer) EnsureGroups(ctx context.Context) error {
	for _, topic := range Topics() {
		err := c.client.XGroupCreateMkStream(ctx, StreamName(topic), c.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("create group on %s: %w", topic, err)
		}
	}
	return nil
}

// Run consumes messages until the context is cancelled. Handler errors are
// logged; the message stays pending and is claimed again once it has sat
// idle for minIdle, whichever consumer saw it last.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	if err := c.EnsureGroups(ctx); err != nil {
		return err
	}

	streams := make([]string, 0, len(Topics())*2)
	for _, topic := range Topics() {
		streams = append(streams, StreamName(topic))
	}
	for range Topics() {
		streams = append(streams, ">")
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := c.retryPending(ctx, 16, handler); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("dispatch: %v", err)
		}

		results, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  streams,
			Count:    16,
			Block:    c.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("dispatch: read group: %v", err)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range results {
			topic := topicFromStream(stream.Stream)
			for _, entry := range stream.Messages {
				c.handleEntry(ctx, stream.Stream, topic, entry, handler)
			}
		}
	}
}

// ReadOnce retries the pending backlog and then drains at most count new
// messages from every topic without blocking, acknowledging the ones the
// handler accepts. Used by tests and by the worker's drain-on-shutdown path.
func (c *Consumer) ReadOnce(ctx context.Context, count int64, handler Handler) (int, error) {
	if err := c.EnsureGroups(ctx); err != nil {
		return 0, err
	}

	handled, err := c.retryPending(ctx, count, handler)
	if err != nil {
		return handled, err
	}

	for _, topic := range Topics() {
		results, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  []string{StreamName(topic), ">"},
			Count:    count,
			Block:    -1,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return handled, fmt.Errorf("read %s: %w", topic, err)
		}
		for _, stream := range results {
			for _, entry := range stream.Messages {
				if c.handleEntry(ctx, stream.Stream, topic, entry, handler) {
					handled++
				}
			}
		}
	}
	return handled, nil
}

// retryPending re-handles messages that have sat unacknowledged longer than
// minIdle, claiming them from whichever consumer last held them. Without this
// pass the ">" reads would only ever deliver brand-new entries and a failed
// message would sit in the pending list forever.
func (c *Consumer) retryPending(ctx context.Context, count int64, handler Handler) (int, error) {
	handled := 0
	for _, topic := range Topics() {
		stream := StreamName(topic)
		start := "0-0"
		for {
			entries, next, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
				Stream:   stream,
				Group:    c.group,
				Consumer: c.consumer,
				MinIdle:  c.minIdle,
				Start:    start,
				Count:    count,
			}).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					break
				}
				return handled, fmt.Errorf("claim pending %s: %w", topic, err)
			}
			for _, entry := range entries {
				if c.handleEntry(ctx, stream, topic, entry, handler) {
					handled++
				}
			}
			if len(entries) == 0 || next == "0-0" {
				break
			}
			start = next
		}
	}
	return handled, nil
}

// handleEntry runs the handler and acknowledges the entry on success.
func (c *Consumer) handleEntry(ctx context.Context, stream string, topic lifecycle.Topic, entry redis.XMessage, handler Handler) bool {
	msg := Message{
		ID:     entry.ID,
		Topic:  topic,
		JokeID: stringValue(entry.Values, "joke_id"),
	}
	if err := handler(ctx, msg); err != nil {
		log.Printf("dispatch: handle %s %s: %v", msg.Topic, msg.JokeID, err)
		return false
	}
	if err := c.client.XAck(ctx, stream, c.group, entry.ID).Err(); err != nil {
		log.Printf("dispatch: ack %s: %v", entry.ID, err)
		return false
	}
	return true
}

func topicFromStream(stream string) lifecycle.Topic {
	return lifecycle.Topic(strings.TrimPrefix(stream, "jestbook:"))
}

func stringValue(values map[string]any, key string) string {
	if v, ok := values[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
