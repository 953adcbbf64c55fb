package auth

import (
	"ShopChat/internal/bus"
	"ShopChat/internal/lib/sl"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session holds the bearer credential issued by the external auth service.
// The chat client never authenticates on its own; it only reads the token.
type Session struct {
	mu      sync.RWMutex
	token   string
	signals *bus.Bus[bus.Signal]
	now     func() time.Time
	log     *slog.Logger
}

func NewSession(logger *slog.Logger) *Session {
	return &Session{
		now: time.Now,
		log: logger.With(sl.Module("auth-session")),
	}
}

// SetSignals makes Set and Clear announce auth:changed on b.
func (s *Session) SetSignals(b *bus.Bus[bus.Signal]) {
	s.signals = b
}

func (s *Session) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Session) Set(token string) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()

	s.log.With(sl.Secret("token", token)).Info("credential set")
	bus.Emit(s.signals, bus.Signal{Topic: bus.TopicAuthChanged, Authenticated: token != ""})
}

func (s *Session) Clear() {
	s.mu.Lock()
	had := s.token != ""
	s.token = ""
	s.mu.Unlock()

	if had {
		s.log.Info("credential cleared")
		bus.Emit(s.signals, bus.Signal{Topic: bus.TopicAuthChanged})
	}
}

// Token returns the credential unless it is missing or a JWT past its exp.
// Opaque tokens are passed through; the backend remains the judge.
func (s *Session) Token() (string, bool) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	if token == "" {
		return "", false
	}
	if expired(token, s.now()) {
		s.log.With(sl.Secret("token", token)).Warn("credential expired")
		return "", false
	}
	return token, true
}

func (s *Session) Authenticated() bool {
	_, ok := s.Token()
	return ok
}

func expired(token string, now time.Time) bool {
	if strings.Count(token, ".") != 2 {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !now.Before(exp.Time)
}
