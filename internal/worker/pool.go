package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"talentscreen-backend/internal/models"
	"talentscreen-backend/internal/services"
)

const (
	maxAttempts = 3
	// errorPause spaces out queue polls while Redis is unreachable.
	errorPause = time.Second
)

type jobStore interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	UpdateError(ctx context.Context, id uuid.UUID, errMsg string, retryCount int) error
}

type recordingStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Recording, error)
	MarkProcessed(ctx context.Context, rec *models.Recording) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
}

type fileInspector interface {
	Inspect(rel string) (*services.StoredFile, error)
}

type Pool struct {
	redis       *redis.Client
	jobRepo     jobStore
	recordings  recordingStore
	files       fileInspector
	events      services.Publisher
	workerCount int
	stopChan    chan struct{}
}

func NewPool(
	redisClient *redis.Client,
	jobRepo jobStore,
	recordings recordingStore,
	files fileInspector,
	events services.Publisher,
	workerCount int,
) *Pool {
	return &Pool{
		redis:       redisClient,
		jobRepo:     jobRepo,
		recordings:  recordings,
		files:       files,
		events:      events,
		workerCount: workerCount,
		stopChan:    make(chan struct{}),
	}
}

func (p *Pool) Start() {
	queues := []string{services.QueueName(models.JobRecordingProcessing)}

	for i := 0; i < p.workerCount; i++ {
		go p.worker(i, queues)
	}

	log.Printf("Started %d worker goroutines", p.workerCount)
}

func (p *Pool) Stop() {
	select {
	case <-p.stopChan:
	default:
		close(p.stopChan)
	}
}

func (p *Pool) worker(id int, queues []string) {
	for {
		select {
		case <-p.stopChan:
			log.Printf("Worker %d shutting down", id)
			return
		default:
		}

		ctx := context.Background()

		// BLPOP with 30s timeout
		result, err := p.redis.BLPop(ctx, 30*time.Second, queues...).Result()
		if pause := pollPause(err); pause > 0 {
			log.Printf("Worker %d: queue poll failed: %v", id, err)
			select {
			case <-p.stopChan:
			case <-time.After(pause):
			}
			continue
		}
		if err != nil || len(result) < 2 {
			continue
		}

		var job models.Job
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			log.Printf("Worker %d: failed to parse job: %v", id, err)
			continue
		}

		lockKey := fmt.Sprintf("job_lock:%s", job.ID.String())
		locked, err := p.redis.SetNX(ctx, lockKey, "1", 10*time.Minute).Result()
		if err != nil || !locked {
			continue // Another worker has this job
		}

		log.Printf("Worker %d: processing job %s (type: %s)", id, job.ID, job.Type)
		p.process(ctx, &job)

		p.redis.Del(ctx, lockKey)
	}
}

// process runs one job and records its outcome.
func (p *Pool) process(ctx context.Context, job *models.Job) {
	p.jobRepo.UpdateStatus(ctx, job.ID, "processing")

	var processErr error
	switch job.Type {
	case models.JobRecordingProcessing:
		processErr = p.processRecording(ctx, job)
	default:
		processErr = fmt.Errorf("unknown job type: %s", job.Type)
	}

	if processErr != nil {
		p.handleFailure(ctx, job, processErr)
	} else {
		p.handleSuccess(ctx, job)
	}
}

// processRecording re-reads the stored files and checks them against the
// digests taken at upload.
func (p *Pool) processRecording(ctx context.Context, job *models.Job) error {
	rec, err := p.recordings.GetByID(ctx, job.ReferenceID)
	if err != nil {
		return fmt.Errorf("failed to get recording: %w", err)
	}

	if rec.CameraPath != nil {
		digest, size, err := p.verify(*rec.CameraPath, rec.CameraDigest)
		if err != nil {
			return fmt.Errorf("camera recording: %w", err)
		}
		rec.CameraDigest, rec.CameraBytes = &digest, size
	}
	if rec.ScreenPath != nil {
		digest, size, err := p.verify(*rec.ScreenPath, rec.ScreenDigest)
		if err != nil {
			return fmt.Errorf("screen recording: %w", err)
		}
		rec.ScreenDigest, rec.ScreenBytes = &digest, size
	}

	if err := p.recordings.MarkProcessed(ctx, rec); err != nil {
		return fmt.Errorf("failed to mark recording processed: %w", err)
	}
	return nil
}

func (p *Pool) verify(path string, expected *string) (string, int64, error) {
	stored, err := p.files.Inspect(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if stored.Size == 0 {
		return "", 0, fmt.Errorf("%s is empty", path)
	}
	if expected != nil && *expected != stored.Digest {
		return "", 0, fmt.Errorf("%s digest mismatch", path)
	}
	return stored.Digest, stored.Size, nil
}

func (p *Pool) handleSuccess(ctx context.Context, job *models.Job) {
	p.jobRepo.UpdateStatus(ctx, job.ID, "completed")

	p.events.Publish(ctx, job.SessionID, models.WSMessage{
		Type: "recording_processed",
		Payload: models.RecordingEvent{
			SessionID:   job.SessionID,
			RecordingID: job.ReferenceID,
			Status:      models.RecordingProcessed,
		},
	})

	log.Printf("Job %s completed successfully", job.ID)
}

func (p *Pool) handleFailure(ctx context.Context, job *models.Job, err error) {
	job.RetryCount++
	errMsg := err.Error()

	if job.RetryCount < maxAttempts {
		log.Printf("Job %s failed (attempt %d): %s, retrying", job.ID, job.RetryCount, errMsg)
		p.jobRepo.UpdateStatus(ctx, job.ID, "pending")
		p.jobRepo.UpdateError(ctx, job.ID, errMsg, job.RetryCount)

		jobBytes, _ := json.Marshal(job)
		time.AfterFunc(backoff(job.RetryCount), func() {
			p.redis.LPush(context.Background(), services.QueueName(job.Type), string(jobBytes))
		})
		return
	}

	log.Printf("Job %s failed permanently: %s", job.ID, errMsg)
	p.jobRepo.UpdateStatus(ctx, job.ID, "failed")
	p.jobRepo.UpdateError(ctx, job.ID, errMsg, job.RetryCount)
	if job.Type == models.JobRecordingProcessing {
		p.recordings.UpdateStatus(ctx, job.ReferenceID, models.RecordingFailed)
	}

	p.events.Publish(ctx, job.SessionID, models.WSMessage{
		Type: "error",
		Payload: models.RecordingEvent{
			SessionID:   job.SessionID,
			RecordingID: job.ReferenceID,
			Status:      models.RecordingFailed,
			Error:       errMsg,
		},
	})
}

// pollPause is how long a worker waits after a BLPOP error. An empty queue
// (redis.Nil) is polled again at once.
func pollPause(err error) time.Duration {
	if err == nil || errors.Is(err, redis.Nil) {
		return 0
	}
	return errorPause
}

func backoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}
