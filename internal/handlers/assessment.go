package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"talentscreen-backend/internal/assessment"
	"talentscreen-backend/internal/middleware"
	"talentscreen-backend/internal/models"
	"talentscreen-backend/internal/services"
)

const maxVoiceAnswerBytes = 32 << 20

type assessmentService interface {
	Validate(ctx context.Context, id uuid.UUID) (*assessment.Validation, error)
	Start(ctx context.Context, id uuid.UUID) (string, error)
	Questions(ctx context.Context, id uuid.UUID) (*assessment.QuestionSet, error)
	SaveAnswer(ctx context.Context, id uuid.UUID, questionID, value string) error
	CompleteMCQ(ctx context.Context, id uuid.UUID, clientScore int) (int, error)
	SubmitVoiceAnswer(ctx context.Context, id uuid.UUID, up services.VoiceUpload) (*assessment.VoiceResult, error)
	UploadRecording(ctx context.Context, id uuid.UUID, camera, screen *services.FileUpload) (string, error)
	CompleteVoice(ctx context.Context, id uuid.UUID, recordingID string) error
	ReportViolation(ctx context.Context, id uuid.UUID, req models.ViolationRequest) error
	Review(ctx context.Context, id uuid.UUID) (*models.SessionReview, error)
}

type tokenParser interface {
	Parse(tokenStr string) (uuid.UUID, error)
}

type AssessmentHandler struct {
	service        assessmentService
	tokens         tokenParser
	maxUploadBytes int64
}

func NewAssessmentHandler(service assessmentService, tokens tokenParser, maxUploadMB int) *AssessmentHandler {
	return &AssessmentHandler{
		service:        service,
		tokens:         tokens,
		maxUploadBytes: int64(maxUploadMB) << 20,
	}
}

// Validate never answers 401: an unusable link is reported in the body so
// the candidate sees why.
func (h *AssessmentHandler) Validate(w http.ResponseWriter, r *http.Request) {
	id, err := h.tokens.Parse(chi.URLParam(r, "token"))
	if err != nil {
		v := assessment.Validation{Valid: false, Status: "invalid", Error: "This assessment link is invalid"}
		if errors.Is(err, middleware.ErrSessionTokenExpired) {
			v.Status, v.Error = models.SessionExpired, "This assessment link has expired"
		}
		writeJSON(w, http.StatusOK, v)
		return
	}

	v, err := h.service.Validate(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *AssessmentHandler) Start(w http.ResponseWriter, r *http.Request) {
	sessionID, err := h.service.Start(r.Context(), middleware.GetSessionID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID})
}

func (h *AssessmentHandler) Questions(w http.ResponseWriter, r *http.Request) {
	set, err := h.service.Questions(r.Context(), middleware.GetSessionID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (h *AssessmentHandler) SaveAnswer(w http.ResponseWriter, r *http.Request) {
	var req models.SaveAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	err := h.service.SaveAnswer(r.Context(), middleware.GetSessionID(r.Context()), chi.URLParam(r, "questionID"), req.Value)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *AssessmentHandler) CompleteMCQ(w http.ResponseWriter, r *http.Request) {
	var req models.CompleteMCQRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	score, err := h.service.CompleteMCQ(r.Context(), middleware.GetSessionID(r.Context()), req.Score)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "score": score})
}

// SubmitVoiceAnswer takes multipart fields question_id, skipped,
// duration_sec and an optional audio file.
func (h *AssessmentHandler) SubmitVoiceAnswer(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxVoiceAnswerBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid multipart form", r))
		return
	}
	defer r.MultipartForm.RemoveAll()

	up := services.VoiceUpload{
		QuestionID: r.FormValue("question_id"),
		Skipped:    r.FormValue("skipped") == "true",
	}
	if raw := r.FormValue("duration_sec"); raw != "" {
		secs, err := strconv.ParseFloat(raw, 64)
		if err != nil || secs < 0 {
			writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
				map[string]string{"duration_sec": "Must be a non-negative number"}, r))
			return
		}
		up.Duration = time.Duration(secs * float64(time.Second))
	}

	audio, closeAudio, err := formFile(r, "audio")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid audio part", r))
		return
	}
	defer closeAudio()
	up.Audio = audio

	res, err := h.service.SubmitVoiceAnswer(r.Context(), middleware.GetSessionID(r.Context()), up)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// UploadRecording takes multipart files camera and screen; either may be
// absent.
func (h *AssessmentHandler) UploadRecording(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("UPLOAD_TOO_LARGE", "Recording exceeds the upload limit", r))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid multipart form", r))
		return
	}
	defer r.MultipartForm.RemoveAll()

	camera, closeCamera, err := formFile(r, "camera")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid camera part", r))
		return
	}
	defer closeCamera()

	screen, closeScreen, err := formFile(r, "screen")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid screen part", r))
		return
	}
	defer closeScreen()

	recordingID, err := h.service.UploadRecording(r.Context(), middleware.GetSessionID(r.Context()), camera, screen)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"recording_id": recordingID})
}

func (h *AssessmentHandler) CompleteVoice(w http.ResponseWriter, r *http.Request) {
	var req models.CompleteVoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	if err := h.service.CompleteVoice(r.Context(), middleware.GetSessionID(r.Context()), req.RecordingID); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *AssessmentHandler) ReportViolation(w http.ResponseWriter, r *http.Request) {
	var req models.ViolationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	if err := h.service.ReportViolation(r.Context(), middleware.GetSessionID(r.Context()), req); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]bool{"ok": true})
}

// Review serves the recruiter view of one session.
func (h *AssessmentHandler) Review(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid session ID", r))
		return
	}

	review, err := h.service.Review(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, review)
}

// formFile returns nil when the part is absent.
func formFile(r *http.Request, field string) (*services.FileUpload, func(), error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, func() {}, nil
	}
	if err != nil {
		return nil, func() {}, err
	}
	return &services.FileUpload{Reader: file, MimeType: partType(header)}, func() { file.Close() }, nil
}

func partType(header *multipart.FileHeader) string {
	if ct := header.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
