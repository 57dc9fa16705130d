package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"talentscreen-backend/internal/assessment"
	"talentscreen-backend/internal/models"
)

const validationCacheTTL = 30 * time.Second

// SessionChannel is the pub/sub channel carrying live events for a session.
func SessionChannel(sessionID uuid.UUID) string {
	return fmt.Sprintf("session_events:%s", sessionID.String())
}

// QueueName is the Redis list a job type is pushed onto.
func QueueName(jobType string) string {
	return "queue:" + jobType
}

// RedisEvents publishes session events for the live proctoring feed.
type RedisEvents struct {
	redis *redis.Client
}

func NewRedisEvents(redisClient *redis.Client) *RedisEvents {
	return &RedisEvents{redis: redisClient}
}

func (e *RedisEvents) Publish(ctx context.Context, sessionID uuid.UUID, msg models.WSMessage) {
	data, _ := json.Marshal(msg)
	if err := e.redis.Publish(ctx, SessionChannel(sessionID), string(data)).Err(); err != nil {
		log.Printf("events: publish %s for session %s failed: %v", msg.Type, sessionID, err)
	}
}

// ValidationCache memoizes validate-session results for a short time.
type ValidationCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewValidationCache(redisClient *redis.Client) *ValidationCache {
	return &ValidationCache{redis: redisClient, ttl: validationCacheTTL}
}

func validationKey(sessionID uuid.UUID) string {
	return "validation:" + sessionID.String()
}

func (c *ValidationCache) Get(ctx context.Context, sessionID uuid.UUID) (*assessment.Validation, bool) {
	raw, err := c.redis.Get(ctx, validationKey(sessionID)).Bytes()
	if err != nil {
		return nil, false
	}
	var v assessment.Validation
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return &v, true
}

func (c *ValidationCache) Set(ctx context.Context, sessionID uuid.UUID, v *assessment.Validation) {
	data, _ := json.Marshal(v)
	if err := c.redis.Set(ctx, validationKey(sessionID), data, c.ttl).Err(); err != nil {
		log.Printf("validation cache: set %s failed: %v", sessionID, err)
	}
}

func (c *ValidationCache) Invalidate(ctx context.Context, sessionID uuid.UUID) {
	c.redis.Del(ctx, validationKey(sessionID))
}

// JobQueue persists a job row and pushes it onto its Redis queue.
type JobQueue struct {
	jobs  JobCreator
	redis *redis.Client
}

type JobCreator interface {
	Create(ctx context.Context, j *models.Job) error
}

func NewJobQueue(jobs JobCreator, redisClient *redis.Client) *JobQueue {
	return &JobQueue{jobs: jobs, redis: redisClient}
}

func (q *JobQueue) Enqueue(ctx context.Context, job *models.Job) error {
	if err := q.jobs.Create(ctx, job); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	jobBytes, _ := json.Marshal(job)
	if err := q.redis.LPush(ctx, QueueName(job.Type), string(jobBytes)).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}
