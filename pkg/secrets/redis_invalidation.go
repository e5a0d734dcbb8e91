package secrets

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// invalidationChannel is the pub/sub channel a secrets writer publishes to
// when it wants every process sharing the cache to drop its in-memory copy
// and re-fetch on next call.
const invalidationChannel = "alephauto:secrets:invalidate"

// RedisInvalidationSubscriber implements InvalidationSubscriber over a
// Redis pub/sub channel, mirroring the stream-consumer idiom the queue
// store uses for its own Redis connection.
type RedisInvalidationSubscriber struct {
	client *redis.Client
}

// NewRedisInvalidationSubscriber wraps an existing Redis client. The client
// is owned by the caller; this subscriber does not close it.
func NewRedisInvalidationSubscriber(client *redis.Client) *RedisInvalidationSubscriber {
	return &RedisInvalidationSubscriber{client: client}
}

// Subscribe blocks (intended to run in its own goroutine) delivering
// onInvalidate for every message received, until ctx is cancelled.
func (r *RedisInvalidationSubscriber) Subscribe(ctx context.Context, onInvalidate func()) {
	sub := r.client.Subscribe(ctx, invalidationChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			onInvalidate()
		}
	}
}

// PublishInvalidation broadcasts a cache-invalidation signal to every
// subscribed process. Call this after a secret rotation.
func PublishInvalidation(ctx context.Context, client *redis.Client) error {
	return client.Publish(ctx, invalidationChannel, "invalidate").Err()
}
