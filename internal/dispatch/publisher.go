// Package dispatch moves fire-and-forget work requests between the API and
// the background workers over Redis Streams. Publishing never blocks a
// request on worker availability; a dispatch failure is logged and dropped,
// the curation workflow itself is already persisted.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"jestbook/api/internal/lifecycle"
)

// StreamName maps a dispatch topic onto its Redis stream key.
func StreamName(topic lifecycle.Topic) string {
	return "jestbook:" + string(topic)
}

// Topics lists every stream the workers consume.
func Topics() []lifecycle.Topic {
	return []lifecycle.Topic{lifecycle.TopicOCR, lifecycle.TopicCategorise, lifecycle.TopicPublish}
}

// Publisher appends dispatch requests to their topic stream.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// NewPublisherURL connects a publisher to the given Redis URL.
func NewPublisherURL(redisURL string) (*Publisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Publisher{client: client}, nil
}

// Publish appends one request to its topic stream.
func (p *Publisher) Publish(ctx context.Context, req lifecycle.DispatchRequest) error {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamName(req.Topic),
		Values: map[string]any{
			"joke_id":      req.JokeID,
			"requested_at": time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish %s for %s: %w", req.Topic, req.JokeID, err)
	}
	return nil
}

// PublishAll publishes each request, returning the first error after trying
// all of them.
func (p *Publisher) PublishAll(ctx context.Context, reqs []lifecycle.DispatchRequest) error {
	var firstErr error
	for _, req := range reqs {
		if err := p.Publish(ctx, req); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *Publisher) Close() error {
	return p.client.Close()
}
