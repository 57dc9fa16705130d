package client

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talentscreen-backend/internal/assessment"
	"talentscreen-backend/internal/models"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", srv.Client())
}

func writeEnvelope(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ErrorResponse{Error: models.APIError{Code: code, Message: msg}})
}

func TestValidateSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/assessments/tok-1/validate", func(w http.ResponseWriter, r *http.Request) {
		policy := assessment.DefaultPolicy()
		json.NewEncoder(w).Encode(assessment.Validation{Valid: true, Status: "invited", Policy: &policy})
	})
	c := newTestClient(t, mux)

	v, err := c.ValidateSession(t.Context(), "tok-1")
	require.NoError(t, err)
	assert.True(t, v.Valid)
	require.NotNil(t, v.Policy)
	assert.Equal(t, 900, v.Policy.MCQDurationSec)
}

func TestQuestions_ResetsProgress(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/assessments/tok/questions", func(w http.ResponseWriter, r *http.Request) {
		answer := "B"
		json.NewEncoder(w).Encode(assessment.QuestionSet{
			MCQ:   []assessment.Question{{ID: "q1", Kind: assessment.QuestionMCQ, Options: []string{"A", "B"}, CorrectAnswer: "A", UserAnswer: &answer, Status: assessment.StatusAnswered}},
			Voice: []assessment.Question{{ID: "v1", Kind: assessment.QuestionVoice}},
		})
	})
	c := newTestClient(t, mux)

	set, err := c.Questions(t.Context(), "tok")
	require.NoError(t, err)
	require.Len(t, set.MCQ, 1)
	assert.Equal(t, "A", set.MCQ[0].CorrectAnswer)
	assert.Nil(t, set.MCQ[0].UserAnswer)
	assert.Equal(t, assessment.StatusPending, set.MCQ[0].Status)
	assert.Equal(t, assessment.StatusPending, set.Voice[0].Status)
}

func TestSaveAnswer(t *testing.T) {
	var got models.SaveAnswerRequest
	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /api/v1/assessments/tok/answers/q1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("PATCH /api/v1/assessments/tok/answers/q2", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusInternalServerError, "INTERNAL_ERROR", "boom")
	})
	c := newTestClient(t, mux)

	require.NoError(t, c.SaveAnswer(t.Context(), "tok", "q1", "C"))
	assert.Equal(t, "C", got.Value)

	err := c.SaveAnswer(t.Context(), "tok", "q2", "A")
	require.Error(t, err)
	assert.ErrorIs(t, err, assessment.ErrPersistAnswerFailed)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "INTERNAL_ERROR", apiErr.Code)
}

func TestClosedSessionMapsToTokenInvalid(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/assessments/tok/mcq/complete", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusGone, "SESSION_CLOSED", "Session has expired")
	})
	mux.HandleFunc("POST /api/v1/assessments/tok/violations", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "Session token expired")
	})
	c := newTestClient(t, mux)

	err := c.CompleteMCQ(t.Context(), "tok", 80)
	assert.ErrorIs(t, err, assessment.ErrTokenInvalid)

	err = c.ReportViolation(t.Context(), "tok", assessment.Violation{Type: assessment.ViolationTabHidden, Timestamp: time.Now()})
	assert.ErrorIs(t, err, assessment.ErrTokenInvalid)
}

func TestSubmitVoiceAnswer(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/assessments/tok/voice-answers", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "v1", r.FormValue("question_id"))

		if r.FormValue("skipped") == "true" {
			_, _, err := r.FormFile("audio")
			assert.ErrorIs(t, err, http.ErrMissingFile)
			json.NewEncoder(w).Encode(assessment.VoiceResult{Valid: false})
			return
		}

		assert.Equal(t, "2.500", r.FormValue("duration_sec"))
		file, header, err := r.FormFile("audio")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "voice-bytes", string(data))
		assert.Equal(t, "audio/webm", header.Header.Get("Content-Type"))
		assert.Equal(t, "audio.webm", header.Filename)
		json.NewEncoder(w).Encode(assessment.VoiceResult{Valid: true, Transcript: "hello"})
	})
	c := newTestClient(t, mux)

	res, err := c.SubmitVoiceAnswer(t.Context(), "tok", assessment.VoiceSubmission{
		QuestionID: "v1",
		Audio:      &assessment.Blob{Data: []byte("voice-bytes"), MimeType: "audio/webm"},
		Duration:   2500 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, "hello", res.Transcript)

	res, err = c.SubmitVoiceAnswer(t.Context(), "tok", assessment.VoiceSubmission{QuestionID: "v1", Skipped: true})
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestUploadRecording(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/assessments/tok/recordings", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		_, _, err := r.FormFile("camera")
		assert.NoError(t, err)
		_, _, err = r.FormFile("screen")
		assert.ErrorIs(t, err, http.ErrMissingFile)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"recording_id":"rec-1"}`))
	})
	mux.HandleFunc("POST /api/v1/assessments/big/recordings", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", "Recording exceeds upload limit")
	})
	c := newTestClient(t, mux)

	camera := &assessment.Blob{Data: []byte("cam"), MimeType: "video/webm;codecs=vp9"}
	id, err := c.UploadRecording(t.Context(), "tok", camera, nil)
	require.NoError(t, err)
	assert.Equal(t, "rec-1", id)

	_, err = c.UploadRecording(t.Context(), "big", camera, nil)
	assert.ErrorIs(t, err, assessment.ErrUploadFailed)

	_, err = c.UploadRecording(t.Context(), "tok", nil, &assessment.Blob{})
	assert.ErrorIs(t, err, assessment.ErrUploadFailed)
}

func TestCompleteVoice(t *testing.T) {
	var got models.CompleteVoiceRequest
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/assessments/tok/voice/complete", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"ok":true}`))
	})
	c := newTestClient(t, mux)

	require.NoError(t, c.CompleteVoice(t.Context(), "tok", "rec-9"))
	assert.Equal(t, "rec-9", got.RecordingID)
}

func TestStartSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/assessments/tok/start", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"session_id":"s-1"}`))
	})
	c := newTestClient(t, mux)

	id, err := c.StartSession(t.Context(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "s-1", id)
}
