package ws

import (
	"sync"

	"go.uber.org/zap"
)

// Registry maintains all connected UserSessions. It doubles as the online
// presence source for friend lists.
type Registry struct {
	mu       sync.RWMutex
	sessions map[int64]*UserSession // userID -> session
	logger   *zap.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		sessions: make(map[int64]*UserSession),
		logger:   logger,
	}
}

// Register adds a session. An existing session for the same user is closed
// first, which handles reconnects and duplicate logins.
func (r *Registry) Register(s *UserSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[s.UserID]; ok {
		old.Close()
		r.logger.Info("duplicate session displaced", zap.Int64("user_id", s.UserID))
	}
	r.sessions[s.UserID] = s
	r.logger.Info("ws session registered", zap.Int64("user_id", s.UserID))
}

// Unregister removes the session for a user, but only if it is still the
// registered one, so a displaced session's teardown cannot evict its
// replacement.
func (r *Registry) Unregister(s *UserSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.UserID]; ok && cur == s {
		delete(r.sessions, s.UserID)
		r.logger.Info("ws session unregistered", zap.Int64("user_id", s.UserID))
	}
}

// Get returns the session for a user, or nil.
func (r *Registry) Get(userID int64) *UserSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[userID]
}

// IsOnline reports whether the user holds an open session.
func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[userID]
	return ok
}

// Count returns the number of connected sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// All returns a snapshot of all current sessions.
func (r *Registry) All() []*UserSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*UserSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// CloseAll closes every connected session.
func (r *Registry) CloseAll() {
	for _, s := range r.All() {
		s.Close()
	}
}
