package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"talentscreen-backend/internal/models"
)

type stubJobReader struct {
	job *models.Job
}

func (s *stubJobReader) GetByID(_ context.Context, id uuid.UUID) (*models.Job, error) {
	if s.job == nil || s.job.ID != id {
		return nil, errors.New("no rows in result set")
	}
	return s.job, nil
}

func jobRequest(id string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/recruiter/jobs/"+id, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestJobHandler_GetJob(t *testing.T) {
	job := &models.Job{ID: uuid.New(), Type: models.JobRecordingProcessing, Status: "processing"}
	h := NewJobHandler(&stubJobReader{job: job})

	tests := []struct {
		name   string
		id     string
		status int
	}{
		{"found", job.ID.String(), http.StatusOK},
		{"unknown", uuid.NewString(), http.StatusNotFound},
		{"malformed", "not-a-uuid", http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.GetJob(rr, jobRequest(tc.id))
			if rr.Code != tc.status {
				t.Fatalf("Expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			if tc.status != http.StatusOK {
				return
			}
			var got models.Job
			if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
				t.Fatal(err)
			}
			if got.Status != "processing" {
				t.Errorf("Expected processing, got %q", got.Status)
			}
		})
	}
}
