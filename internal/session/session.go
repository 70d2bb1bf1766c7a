package session

import (
	"sync"
	"time"

	"giglink/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// Store is the single owner of the access token. Long-lived clients (REST,
// websocket) keep a reference to the Store and read the token at use time,
// so a refresh rotates it underneath them transparently.
type Store struct {
	mu        sync.RWMutex
	token     string
	listeners []func(string)
	now       func() time.Time
}

func NewStore() *Store {
	return &Store{now: time.Now}
}

func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetToken replaces the current token and notifies listeners.
// Listeners are invoked outside the lock.
func (s *Store) SetToken(token string) {
	s.mu.Lock()
	if s.token == token {
		s.mu.Unlock()
		return
	}
	s.token = token
	listeners := make([]func(string), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, l := range listeners {
		l(token)
	}
}

func (s *Store) Clear() {
	s.SetToken("")
}

// OnChange registers a listener called with the new token value on every
// rotation, including the empty token on logout.
func (s *Store) OnChange(listener func(string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, listener)
}

// Current derives the session identity from the access token claims. The
// token signature is not verified here: the server verifies it on every
// call, the client only needs identity and expiry out of it.
func (s *Store) Current() (models.Session, bool) {
	token := s.Token()
	if token == "" {
		return models.Session{}, false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return models.Session{}, false
	}

	sess := models.Session{AccessToken: token}

	if v, ok := claims["userId"].(float64); ok {
		sess.UserID = int64(v)
	}
	if v, ok := claims["username"].(string); ok {
		sess.Username = v
	} else if sub, err := claims.GetSubject(); err == nil {
		sess.Username = sub
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		sess.Refreshable = exp.After(s.now())
	}

	if sess.UserID == 0 || sess.Username == "" {
		return models.Session{}, false
	}

	return sess, true
}
