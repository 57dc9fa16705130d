package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"talentscreen-backend/internal/assessment"
)

type stubExpirer struct {
	ids      []uuid.UUID
	err      error
	gotNow   time.Time
	gotStale time.Time
}

func (s *stubExpirer) ExpireOverdue(_ context.Context, now, stale time.Time) ([]uuid.UUID, error) {
	s.gotNow, s.gotStale = now, stale
	return s.ids, s.err
}

func TestStaleBefore(t *testing.T) {
	now := time.Date(2026, 2, 16, 10, 0, 0, 0, time.UTC)

	got := staleBefore(now, assessment.DefaultPolicy())
	want := now.Add(-(30*time.Minute + 30*time.Minute))
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}

	short := assessment.Policy{MCQDurationSec: 60, VoiceDurationSec: 120}
	got = staleBefore(now, short)
	want = now.Add(-(3*time.Minute + staleGrace))
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestRunWindow(t *testing.T) {
	if got := RunWindow(assessment.Policy{}); got != 30*time.Minute+staleGrace {
		t.Errorf("expected defaults to give %s, got %s", 30*time.Minute+staleGrace, got)
	}
	base := assessment.DefaultPolicy()
	policy, err := OverlayPolicy(base, []byte(`{"mcq_duration_sec":600}`))
	if err != nil {
		t.Fatalf("OverlayPolicy failed: %v", err)
	}
	if got := RunWindow(policy); got != 25*time.Minute+staleGrace {
		t.Errorf("expected %s, got %s", 25*time.Minute+staleGrace, got)
	}
	if _, err := OverlayPolicy(base, []byte(`{"mcq_duration_sec":`)); err == nil {
		t.Error("expected malformed policy to fail")
	}
}

func TestExpirySweeper_SweepInvalidatesAndPublishes(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	expirer := &stubExpirer{ids: ids}
	cache := newStubCache()
	events := &stubPublisher{}

	sweeper := NewExpirySweeper(expirer, cache, events, assessment.Policy{}, time.Minute)
	now := time.Date(2026, 2, 16, 10, 0, 0, 0, time.UTC)

	if n := sweeper.Sweep(context.Background(), now); n != 2 {
		t.Fatalf("expected 2 expired sessions, got %d", n)
	}
	if !expirer.gotNow.Equal(now) {
		t.Fatalf("expected sweep time to be passed through")
	}
	if !expirer.gotStale.Before(now) {
		t.Fatalf("expected stale cutoff before now, got %s", expirer.gotStale)
	}
	if len(cache.invalidated) != 2 {
		t.Fatalf("expected 2 cache invalidations, got %d", len(cache.invalidated))
	}
	if len(events.messages) != 2 || events.messages[0].Type != "status_update" {
		t.Fatalf("expected 2 status updates, got %+v", events.messages)
	}
}

func TestExpirySweeper_SweepError(t *testing.T) {
	sweeper := NewExpirySweeper(&stubExpirer{err: errors.New("db down")}, newStubCache(), &stubPublisher{}, assessment.Policy{}, time.Minute)
	if n := sweeper.Sweep(context.Background(), time.Now()); n != 0 {
		t.Fatalf("expected 0 on error, got %d", n)
	}
}

func TestExpirySweeper_StopIdempotent(t *testing.T) {
	sweeper := NewExpirySweeper(&stubExpirer{}, newStubCache(), &stubPublisher{}, assessment.Policy{}, time.Hour)
	sweeper.Stop()
	sweeper.Stop()
}
