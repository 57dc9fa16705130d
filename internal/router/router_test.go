package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"talentscreen-backend/internal/handlers"
	"talentscreen-backend/internal/middleware"
	"talentscreen-backend/internal/websocket"
)

func newTestRouter() http.Handler {
	jwtAuth := middleware.NewJWTAuth("recruiter-secret")
	tokens := middleware.NewSessionTokens("session-secret")
	return New(
		jwtAuth,
		tokens,
		handlers.NewAssessmentHandler(nil, tokens, 1),
		handlers.NewJobHandler(nil),
		websocket.NewHub(nil, jwtAuth),
		"http://localhost:5173",
	)
}

func TestRouter_Health(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("Expected request ID header")
	}
}

func TestRouter_ValidateReportsBadLinkInBody(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/assessments/garbage/validate", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	var body map[string]interface{}
	json.NewDecoder(rr.Body).Decode(&body)
	if body["valid"] != false || body["status"] != "invalid" {
		t.Errorf("Unexpected body: %v", body)
	}
}

func TestRouter_ProtectedRoutes(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
	}{
		{"candidate start", http.MethodPost, "/api/v1/assessments/garbage/start"},
		{"candidate questions", http.MethodGet, "/api/v1/assessments/garbage/questions"},
		{"candidate violations", http.MethodPost, "/api/v1/assessments/garbage/violations"},
		{"recruiter review", http.MethodGet, "/api/v1/recruiter/sessions/abc"},
		{"recruiter job", http.MethodGet, "/api/v1/recruiter/jobs/abc"},
	}

	r := newTestRouter()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
			if rr.Code != http.StatusUnauthorized {
				t.Errorf("Expected 401, got %d", rr.Code)
			}
		})
	}
}
