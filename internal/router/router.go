package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"talentscreen-backend/internal/handlers"
	"talentscreen-backend/internal/middleware"
	"talentscreen-backend/internal/websocket"
)

func New(
	jwtAuth *middleware.JWTAuth,
	sessionTokens *middleware.SessionTokens,
	assessmentHandler *handlers.AssessmentHandler,
	jobHandler *handlers.JobHandler,
	wsHub *websocket.Hub,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	// Link probing (30 req/min per IP)
	validateLimiter := middleware.NewRateLimiter(30, time.Minute)
	// Recording uploads (5 req/min per IP)
	uploadLimiter := middleware.NewRateLimiter(5, time.Minute)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Candidate Routes (session token in path) ────
		r.Route("/assessments/{token}", func(r chi.Router) {
			r.With(validateLimiter.Middleware).Get("/validate", assessmentHandler.Validate)

			r.Group(func(r chi.Router) {
				r.Use(sessionTokens.RequireSession)
				r.Post("/start", assessmentHandler.Start)
				r.Get("/questions", assessmentHandler.Questions)
				r.Patch("/answers/{questionID}", assessmentHandler.SaveAnswer)
				r.Post("/mcq/complete", assessmentHandler.CompleteMCQ)
				r.Post("/voice-answers", assessmentHandler.SubmitVoiceAnswer)
				r.Post("/voice/complete", assessmentHandler.CompleteVoice)
				r.With(uploadLimiter.Middleware).Post("/recordings", assessmentHandler.UploadRecording)
				r.Post("/violations", assessmentHandler.ReportViolation)
			})
		})

		// ──── Recruiter Routes ────
		r.Route("/recruiter", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/sessions/{sessionID}", assessmentHandler.Review)
			r.Get("/jobs/{id}", jobHandler.GetJob)
		})

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}
