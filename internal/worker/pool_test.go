package worker

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"talentscreen-backend/internal/models"
	"talentscreen-backend/internal/services"
)

type stubJobs struct {
	statuses []string
	lastErr  string
	retries  int
}

func (s *stubJobs) UpdateStatus(_ context.Context, _ uuid.UUID, status string) error {
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *stubJobs) UpdateError(_ context.Context, _ uuid.UUID, errMsg string, retryCount int) error {
	s.lastErr, s.retries = errMsg, retryCount
	return nil
}

type stubRecordings struct {
	rec       *models.Recording
	processed *models.Recording
	status    string
}

func (s *stubRecordings) GetByID(_ context.Context, id uuid.UUID) (*models.Recording, error) {
	if s.rec == nil || s.rec.ID != id {
		return nil, errors.New("no rows")
	}
	return s.rec, nil
}

func (s *stubRecordings) MarkProcessed(_ context.Context, rec *models.Recording) error {
	s.processed = rec
	return nil
}

func (s *stubRecordings) UpdateStatus(_ context.Context, _ uuid.UUID, status string) error {
	s.status = status
	return nil
}

type recordedEvents struct {
	msgs []models.WSMessage
}

func (r *recordedEvents) Publish(_ context.Context, _ uuid.UUID, msg models.WSMessage) {
	r.msgs = append(r.msgs, msg)
}

func newTestPool(t *testing.T) (*Pool, *services.DiskStore, *stubJobs, *stubRecordings, *recordedEvents) {
	t.Helper()
	store := services.NewDiskStore(t.TempDir(), 1<<20)
	jobs := &stubJobs{}
	recs := &stubRecordings{}
	events := &recordedEvents{}
	return NewPool(nil, jobs, recs, store, events, 1), store, jobs, recs, events
}

func TestProcess_VerifiesStoredRecording(t *testing.T) {
	pool, store, jobs, recs, events := newTestPool(t)
	sessionID := uuid.New()

	camera, err := store.Save(sessionID, "camera.webm", strings.NewReader("camera-bytes"))
	if err != nil {
		t.Fatal(err)
	}
	recs.rec = &models.Recording{
		ID:           uuid.New(),
		SessionID:    sessionID,
		CameraPath:   &camera.Path,
		CameraDigest: &camera.Digest,
		Status:       models.RecordingUploaded,
	}

	job := &models.Job{ID: uuid.New(), SessionID: sessionID, Type: models.JobRecordingProcessing, ReferenceID: recs.rec.ID}
	pool.process(context.Background(), job)

	if recs.processed == nil {
		t.Fatal("Expected recording to be marked processed")
	}
	if recs.processed.CameraBytes != int64(len("camera-bytes")) {
		t.Errorf("Expected camera size to be recorded, got %d", recs.processed.CameraBytes)
	}
	if got := jobs.statuses[len(jobs.statuses)-1]; got != "completed" {
		t.Errorf("Expected job completed, got %q", got)
	}
	if len(events.msgs) != 1 || events.msgs[0].Type != "recording_processed" {
		t.Errorf("Expected recording_processed event, got %+v", events.msgs)
	}
}

func TestProcess_DigestMismatchFailsPermanently(t *testing.T) {
	pool, store, jobs, recs, events := newTestPool(t)
	sessionID := uuid.New()

	screen, err := store.Save(sessionID, "screen.webm", strings.NewReader("screen-bytes"))
	if err != nil {
		t.Fatal(err)
	}
	wrong := "0000"
	recs.rec = &models.Recording{ID: uuid.New(), SessionID: sessionID, ScreenPath: &screen.Path, ScreenDigest: &wrong}

	job := &models.Job{
		ID:          uuid.New(),
		SessionID:   sessionID,
		Type:        models.JobRecordingProcessing,
		ReferenceID: recs.rec.ID,
		RetryCount:  maxAttempts - 1,
	}
	pool.process(context.Background(), job)

	if recs.processed != nil {
		t.Error("Expected recording not to be marked processed")
	}
	if recs.status != models.RecordingFailed {
		t.Errorf("Expected recording status failed, got %q", recs.status)
	}
	if got := jobs.statuses[len(jobs.statuses)-1]; got != "failed" {
		t.Errorf("Expected job failed, got %q", got)
	}
	if !strings.Contains(jobs.lastErr, "digest mismatch") || jobs.retries != maxAttempts {
		t.Errorf("Unexpected error record: %q (retries %d)", jobs.lastErr, jobs.retries)
	}
	if len(events.msgs) != 1 || events.msgs[0].Type != "error" {
		t.Fatalf("Expected error event, got %+v", events.msgs)
	}
	payload := events.msgs[0].Payload.(models.RecordingEvent)
	if payload.Status != models.RecordingFailed || payload.Error == "" {
		t.Errorf("Unexpected payload: %+v", payload)
	}
}

func TestProcess_UnknownJobType(t *testing.T) {
	pool, _, jobs, _, _ := newTestPool(t)
	job := &models.Job{ID: uuid.New(), Type: "transcode", RetryCount: maxAttempts}
	pool.process(context.Background(), job)

	if !strings.Contains(jobs.lastErr, "unknown job type") {
		t.Errorf("Expected unknown job type error, got %q", jobs.lastErr)
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
	}
	for _, tc := range tests {
		if got := backoff(tc.attempt); got != tc.want {
			t.Errorf("backoff(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}

func TestPollPause(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want time.Duration
	}{
		{"ok", nil, 0},
		{"empty queue", redis.Nil, 0},
		{"connection refused", errors.New("dial tcp 127.0.0.1:6379: connect: connection refused"), errorPause},
	}
	for _, tc := range tests {
		if got := pollPause(tc.err); got != tc.want {
			t.Errorf("%s: pollPause = %s, want %s", tc.name, got, tc.want)
		}
	}
}

type blpopCounter struct{ n atomic.Int32 }

func (c *blpopCounter) DialHook(next redis.DialHook) redis.DialHook { return next }

func (c *blpopCounter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if cmd.Name() == "blpop" {
			c.n.Add(1)
		}
		return next(ctx, cmd)
	}
}

func (c *blpopCounter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestWorker_PausesWhileRedisDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 50 * time.Millisecond,
	})
	t.Cleanup(func() { client.Close() })
	counter := &blpopCounter{}
	client.AddHook(counter)

	pool := NewPool(client, &stubJobs{}, &stubRecordings{}, services.NewDiskStore(t.TempDir(), 1<<20), &recordedEvents{}, 1)
	pool.Start()
	time.Sleep(300 * time.Millisecond)
	pool.Stop()

	if n := counter.n.Load(); n > 2 {
		t.Errorf("worker polled %d times in 300ms while Redis was down", n)
	}
}

func TestPool_StopIsIdempotent(t *testing.T) {
	pool, _, _, _, _ := newTestPool(t)
	pool.Stop()
	pool.Stop()
}
