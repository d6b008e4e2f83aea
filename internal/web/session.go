package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session ties a browser cookie to a player identity. Sessions live in
// memory only, like everything else in the server.
type Session struct {
	PlayerID string
	Nickname string

	mu           sync.Mutex
	chatDeadline time.Time
}

// AllowChat enforces the one-message-per-second chat limit.
func (s *Session) AllowChat(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Before(s.chatDeadline) {
		return false
	}
	s.chatDeadline = now.Add(time.Second)
	return true
}

// SessionStore issues and resolves session cookies.
type SessionStore struct {
	cookieName string

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionStore creates an empty store using the given cookie name.
func NewSessionStore(cookieName string) *SessionStore {
	return &SessionStore{
		cookieName: cookieName,
		sessions:   make(map[string]*Session),
	}
}

// Create registers a new session and sets its cookie on the response.
func (st *SessionStore) Create(w http.ResponseWriter, nickname string) *Session {
	token := uuid.NewString()
	s := &Session{
		PlayerID: uuid.NewString(),
		Nickname: nickname,
	}

	st.mu.Lock()
	st.sessions[token] = s
	st.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     st.cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return s
}

// Get resolves the request's session cookie, or nil.
func (st *SessionStore) Get(r *http.Request) *Session {
	c, err := r.Cookie(st.cookieName)
	if err != nil {
		return nil
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.sessions[c.Value]
}
