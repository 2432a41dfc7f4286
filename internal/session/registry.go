// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_session

import (
	"context"
	"errors"
	"sync"

	"github.com/rapidaai/voice-bridge/pkg/commons"
)

// ErrDuplicateChannel is returned when a channel id is already bound to a
// live session. The caller must terminate the existing session first; the
// registry never silently replaces an entry.
var ErrDuplicateChannel = errors.New("session already registered for channel")

// Registry maps telephony channel ids to live call sessions. In-memory and
// process-wide; in-flight calls are lost on restart, which is accepted.
// Owned by the bridge listener, not a package singleton.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   commons.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger commons.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// Register binds a session to its channel id. Fails with
// ErrDuplicateChannel when the id is taken.
func (r *Registry) Register(session *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	channelId := session.ChannelId()
	if _, exists := r.sessions[channelId]; exists {
		return ErrDuplicateChannel
	}
	r.sessions[channelId] = session

	r.logger.Debugf("registered session: channel=%s, active=%d", channelId, len(r.sessions))
	return nil
}

// Get returns the session for a channel id.
func (r *Registry) Get(channelId string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[channelId]
	return session, ok
}

// Remove drops the registry entry for a channel id. Removing an absent id
// is a no-op; both peers' close events race into the same teardown.
func (r *Registry) Remove(channelId string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[channelId]; !exists {
		return
	}
	delete(r.sessions, channelId)
	r.logger.Debugf("removed session: channel=%s, active=%d", channelId, len(r.sessions))
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown terminates every live session. Used on process stop.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.mu.RUnlock()

	for _, session := range sessions {
		session.Terminate(ctx)
	}
}
