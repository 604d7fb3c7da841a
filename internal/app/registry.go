// Package app wires the coordinator for a running server: per-client
// session registry and background maintenance.
package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wisp-social/roomcore/internal/core"
	"github.com/wisp-social/roomcore/internal/domain"
)

// Registry maps client tokens to their Session. Each connected client
// owns exactly one Session, and therefore exactly one JoinLock; the
// coordinator itself keeps no hidden presence state.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
	cooldown time.Duration
}

func NewRegistry(cooldown time.Duration) *Registry {
	return &Registry{
		sessions: make(map[string]*core.Session),
		cooldown: cooldown,
	}
}

// GetOrCreate returns the client's session, creating a guest identity
// on first sight.
func (r *Registry) GetOrCreate(token string) *core.Session {
	r.mu.RLock()
	sess, ok := r.sessions[token]
	r.mu.RUnlock()
	if ok {
		return sess
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok = r.sessions[token]; ok {
		return sess
	}
	sess = core.NewSession(domain.UserID(token), "guest", r.cooldown)
	r.sessions[token] = sess
	log.Info().Str("module", "app.registry").Str("client", token).Msg("created session")
	return sess
}

// UpdateProfile sets the client's identity fields used on join.
func (r *Registry) UpdateProfile(token, displayName, photoURL string, level int) *core.Session {
	sess := r.GetOrCreate(token)
	r.mu.Lock()
	defer r.mu.Unlock()
	if displayName != "" {
		sess.DisplayName = displayName
	}
	sess.PhotoURL = photoURL
	if level > 0 {
		sess.Level = level
	}
	return sess
}

// Drop forgets a client's session.
func (r *Registry) Drop(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, token)
}

// Count reports how many clients have sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
