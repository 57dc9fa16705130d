package services

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"talentscreen-backend/internal/assessment"
	"talentscreen-backend/internal/models"
)

// staleGrace is added to the two timed phases before a started session is
// considered abandoned.
const staleGrace = 30 * time.Minute

type SessionExpirer interface {
	ExpireOverdue(ctx context.Context, now, staleBefore time.Time) ([]uuid.UUID, error)
}

// ExpirySweeper periodically expires overdue and abandoned sessions.
type ExpirySweeper struct {
	sessions SessionExpirer
	cache    ValidationStore
	events   Publisher
	policy   assessment.Policy
	interval time.Duration
	stopChan chan struct{}
}

func NewExpirySweeper(sessions SessionExpirer, cache ValidationStore, events Publisher, policy assessment.Policy, interval time.Duration) *ExpirySweeper {
	return &ExpirySweeper{
		sessions: sessions,
		cache:    cache,
		events:   events,
		policy:   policy.WithDefaults(),
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

func (s *ExpirySweeper) Start() {
	go s.loop()
	log.Printf("Expiry sweeper started (every %s)", s.interval)
}

func (s *ExpirySweeper) Stop() {
	select {
	case <-s.stopChan:
		return
	default:
		close(s.stopChan)
	}
}

func (s *ExpirySweeper) loop() {
	// Run on startup as well as by interval.
	s.Sweep(context.Background(), time.Now().UTC())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.Sweep(context.Background(), time.Now().UTC())
		}
	}
}

// Sweep expires sessions once and returns how many changed.
func (s *ExpirySweeper) Sweep(ctx context.Context, now time.Time) int {
	ids, err := s.sessions.ExpireOverdue(ctx, now, staleBefore(now, s.policy))
	if err != nil {
		log.Printf("expiry sweep: failed: %v", err)
		return 0
	}

	for _, id := range ids {
		s.cache.Invalidate(ctx, id)
		s.events.Publish(ctx, id, models.WSMessage{
			Type:    "status_update",
			Payload: models.StatusEvent{SessionID: id, Status: models.SessionExpired},
		})
	}
	if len(ids) > 0 {
		log.Printf("expiry sweep: expired %d sessions", len(ids))
	}
	return len(ids)
}

// RunWindow is how long a started session may stay in progress under
// policy: both timed phases plus staleGrace.
func RunWindow(policy assessment.Policy) time.Duration {
	policy = policy.WithDefaults()
	return time.Duration(policy.MCQDurationSec+policy.VoiceDurationSec)*time.Second + staleGrace
}

// staleBefore is the start time before which an unfinished session can no
// longer be running under policy.
func staleBefore(now time.Time, policy assessment.Policy) time.Time {
	return now.Add(-RunWindow(policy))
}
