package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const SessionIDKey contextKey = "session_id"

const sessionAudience = "candidate"

var (
	ErrSessionTokenInvalid = errors.New("invalid session token")
	ErrSessionTokenExpired = errors.New("session token has expired")
)

// SessionTokens issues and verifies the time-limited tokens embedded in
// candidate assessment links.
type SessionTokens struct {
	Secret []byte
}

func NewSessionTokens(secret string) *SessionTokens {
	return &SessionTokens{Secret: []byte(secret)}
}

func (s *SessionTokens) Issue(sessionID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"session_id": sessionID.String(),
		"aud":        sessionAudience,
		"exp":        now.Add(ttl).Unix(),
		"iat":        now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.Secret)
}

// IssueForLink signs a token for a link whose start deadline is
// linkExpires. The token stays valid for runWindow past that deadline so a
// session started just before it can finish.
func (s *SessionTokens) IssueForLink(sessionID uuid.UUID, linkExpires time.Time, runWindow time.Duration) (string, error) {
	return s.Issue(sessionID, time.Until(linkExpires)+runWindow)
}

// Parse returns the session id of a valid token. Expired tokens yield
// ErrSessionTokenExpired, anything else ErrSessionTokenInvalid.
func (s *SessionTokens) Parse(tokenStr string) (uuid.UUID, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		return s.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithAudience(sessionAudience))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return uuid.Nil, ErrSessionTokenExpired
		}
		return uuid.Nil, ErrSessionTokenInvalid
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return uuid.Nil, ErrSessionTokenInvalid
	}
	raw, _ := claims["session_id"].(string)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, ErrSessionTokenInvalid
	}
	return id, nil
}

// RequireSession resolves the {token} URL parameter and attaches the
// session id to the request context.
func (s *SessionTokens) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.Parse(chi.URLParam(r, "token"))
		if err != nil {
			if errors.Is(err, ErrSessionTokenExpired) {
				writeError(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "This assessment link has expired", r)
			} else {
				writeError(w, http.StatusUnauthorized, "TOKEN_INVALID", "This assessment link is invalid", r)
			}
			return
		}

		ctx := context.WithValue(r.Context(), SessionIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetSessionID extracts session_id from request context
func GetSessionID(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(SessionIDKey).(uuid.UUID)
	return id
}
