package gateway

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/haasonsaas/toolrun/internal/config"
	"github.com/haasonsaas/toolrun/internal/observability"
)

// ErrInvalidSession is returned for a missing, expired or forged session token.
var ErrInvalidSession = errors.New("invalid session token")

type sessionKey struct{}

// SessionClaims is the payload of the client-session cookie.
type SessionClaims struct {
	jwt.RegisteredClaims
}

// SessionManager issues and verifies the HS256 client-session cookie.
type SessionManager struct {
	secret []byte
	name   string
	ttl    time.Duration
	secure bool
}

// NewSessionManager builds a manager from config. Without a configured secret
// a random one is generated, so sessions do not survive a restart.
func NewSessionManager(cfg config.SessionConfig, logger *slog.Logger) (*SessionManager, error) {
	secret := []byte(cfg.Secret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
		if logger != nil {
			logger.Warn("session.secret not set; using an ephemeral signing key")
		}
	}
	name := cfg.CookieName
	if name == "" {
		name = "toolrun_session"
	}
	return &SessionManager{secret: secret, name: name, ttl: cfg.TTL, secure: cfg.Secure}, nil
}

// CookieName returns the cookie the session token travels in.
func (m *SessionManager) CookieName() string { return m.name }

// Issue signs a token for the session id.
func (m *SessionManager) Issue(sessionID string) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", errors.New("session id required")
	}
	now := time.Now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  sessionID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if m.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(m.ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Validate parses a token and returns the session id it carries.
func (m *SessionManager) Validate(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return "", ErrInvalidSession
	}
	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidSession
	}
	return claims.Subject, nil
}

// Resolve returns the request's session id, minting a new session and setting
// the cookie on w when the request carries no valid one.
func (m *SessionManager) Resolve(w http.ResponseWriter, r *http.Request) (string, error) {
	if c, err := r.Cookie(m.name); err == nil {
		if id, err := m.Validate(c.Value); err == nil {
			return id, nil
		}
	}
	id := uuid.NewString()
	token, err := m.Issue(id)
	if err != nil {
		return "", err
	}
	cookie := &http.Cookie{
		Name:     m.name,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if m.ttl > 0 {
		cookie.MaxAge = int(m.ttl / time.Second)
	}
	http.SetCookie(w, cookie)
	return id, nil
}

func withSession(ctx context.Context, id string) context.Context {
	ctx = observability.WithClientSession(ctx, id)
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionFromContext returns the client session attached by the gateway.
func SessionFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}
