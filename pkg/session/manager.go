// Package session holds per-conversation state in memory: an append-only
// message log keyed by a UUID session id, scoped to one canvas. Sessions
// are transient; the cleanup service sweeps anything idle past the TTL.
package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/viacanvas/intelligence/pkg/models"
)

// ErrNotFound is returned for unknown session ids.
var ErrNotFound = errors.New("session: not found")

// session wraps the shared model with its own mutex so appends on one
// session never contend with appends on another.
type session struct {
	mu   sync.Mutex
	data models.Session
}

// Manager owns all live sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*session)}
}

// Create mints a new session bound to a canvas.
func (m *Manager) Create(canvasID string) *models.Session {
	return m.create(uuid.NewString(), canvasID)
}

// GetOrCreate returns the session with the given id, creating it when the
// id is empty or unknown. An unknown non-empty id is adopted rather than
// replaced so a client holding an id keeps a stable conversation key. The
// second result reports whether a session was created.
func (m *Manager) GetOrCreate(id, canvasID string) (*models.Session, bool) {
	if id == "" {
		return m.Create(canvasID), true
	}
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		s.mu.Lock()
		s.data.LastActivity = time.Now().UTC()
		snapshot := cloneSession(&s.data)
		s.mu.Unlock()
		return snapshot, false
	}
	return m.create(id, canvasID), true
}

// Get returns a detached copy of a session.
func (m *Manager) Get(id string) (*models.Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSession(&s.data), nil
}

// Append adds one message to a session's log and touches its activity time.
func (m *Manager) Append(id string, role models.MessageRole, content string) error {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	s.mu.Lock()
	s.data.Messages = append(s.data.Messages, models.ChatMessage{Role: role, Content: content, Timestamp: now})
	s.data.LastActivity = now
	s.mu.Unlock()
	return nil
}

// History returns the most recent limit messages, oldest first. A limit
// <= 0 returns the whole log.
func (m *Manager) History(id string, limit int) ([]models.ChatMessage, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.data.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Info returns the inspection view of one session.
func (m *Manager) Info(id string) (*models.SessionInfo, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return infoOf(&s.data), nil
}

// List returns every session's inspection view, most recently active first.
func (m *Manager) List() []*models.SessionInfo {
	m.mu.RLock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	out := make([]*models.SessionInfo, 0, len(all))
	for _, s := range all {
		s.mu.Lock()
		out = append(out, infoOf(&s.data))
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Delete removes a session.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

// DeleteIdleBefore removes sessions whose last activity is older than the
// cutoff and returns how many were removed. Called by the cleanup service.
func (m *Manager) DeleteIdleBefore(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		s.mu.Lock()
		idle := s.data.LastActivity.Before(cutoff)
		s.mu.Unlock()
		if idle {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) create(id, canvasID string) *models.Session {
	now := time.Now().UTC()
	s := &session{data: models.Session{
		ID:           id,
		CanvasID:     canvasID,
		Messages:     []models.ChatMessage{},
		CreatedAt:    now,
		LastActivity: now,
	}}
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	return cloneSession(&s.data)
}

func cloneSession(s *models.Session) *models.Session {
	out := *s
	out.Messages = make([]models.ChatMessage, len(s.Messages))
	copy(out.Messages, s.Messages)
	return &out
}

func infoOf(s *models.Session) *models.SessionInfo {
	return &models.SessionInfo{
		ID:           s.ID,
		CanvasID:     s.CanvasID,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
		MessageCount: len(s.Messages),
	}
}
