package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClients keeps blocking queue reads and pub/sub subscriptions on
// separate pools so workers parked in BLPOP never starve the live feed.
type RedisClients struct {
	Queue  *redis.Client
	PubSub *redis.Client
}

// queuePoolSize reserves one connection per worker for BLPOP on top of the
// headroom request handlers need for cache, LPUSH and PUBLISH.
func queuePoolSize(workers int) int {
	if workers < 0 {
		workers = 0
	}
	return workers + 10
}

func NewRedisClients(ctx context.Context, redisURL string, workers int) (*RedisClients, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	queueOpt := *opt
	queueOpt.PoolSize = queuePoolSize(workers)

	// Subscriptions sit idle between events.
	pubsubOpt := *opt
	pubsubOpt.ReadTimeout = -1

	clients := &RedisClients{
		Queue:  redis.NewClient(&queueOpt),
		PubSub: redis.NewClient(&pubsubOpt),
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := clients.Ping(ctx); err != nil {
		clients.Close()
		return nil, err
	}
	return clients, nil
}

// Ping checks both connections.
func (r *RedisClients) Ping(ctx context.Context) error {
	var errs []error
	if err := r.Queue.Ping(ctx).Err(); err != nil {
		errs = append(errs, fmt.Errorf("failed to ping Redis (queue): %w", err))
	}
	if err := r.PubSub.Ping(ctx).Err(); err != nil {
		errs = append(errs, fmt.Errorf("failed to ping Redis (pubsub): %w", err))
	}
	return errors.Join(errs...)
}

func (r *RedisClients) Close() {
	r.Queue.Close()
	r.PubSub.Close()
}
