package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const RecruiterIDKey contextKey = "recruiter_id"

// JWTAuth guards the recruiter endpoints.
type JWTAuth struct {
	Secret []byte
}

func NewJWTAuth(secret string) *JWTAuth {
	return &JWTAuth{Secret: []byte(secret)}
}

// GenerateRecruiterToken signs a recruiter token valid for ttl.
func (j *JWTAuth) GenerateRecruiterToken(recruiterID string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"recruiter_id": recruiterID,
		"role":         "recruiter",
		"exp":          time.Now().Add(ttl).Unix(),
		"iat":          time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.Secret)
}

// ParseRecruiterToken verifies tokenStr and returns the recruiter id.
func (j *JWTAuth) ParseRecruiterToken(tokenStr string) (string, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return j.Secret, nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", jwt.ErrTokenInvalidClaims
	}
	if role, _ := claims["role"].(string); role != "recruiter" {
		return "", jwt.ErrTokenInvalidClaims
	}
	recruiterID, ok := claims["recruiter_id"].(string)
	if !ok || recruiterID == "" {
		return "", jwt.ErrTokenInvalidClaims
	}
	return recruiterID, nil
}

// Middleware validates the bearer token and attaches recruiter_id to context
func (j *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing authorization header", r)
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid authorization format", r)
			return
		}

		recruiterID, err := j.ParseRecruiterToken(parts[1])
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				writeError(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "Token has expired", r)
			} else {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token", r)
			}
			return
		}

		ctx := context.WithValue(r.Context(), RecruiterIDKey, recruiterID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRecruiterID extracts recruiter_id from request context
func GetRecruiterID(ctx context.Context) string {
	id, _ := ctx.Value(RecruiterIDKey).(string)
	return id
}

func writeError(w http.ResponseWriter, status int, code, message string, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":       code,
			"message":    message,
			"request_id": requestID,
		},
	})
}
