package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrRunInProgress is returned when another live session holds the reference date.
	ErrRunInProgress = errors.New("a run for this reference date is already in progress")
	ErrNotFound      = errors.New("session not found")
	ErrSessionExists = errors.New("session id already in use")
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusFinalized Status = "finalized"
	StatusCancelled Status = "cancelled"
)

// Session tracks one commission run from start until its staging rows are finalized or cancelled.
type Session struct {
	ID          string    `json:"session_id"`
	RunID       string    `json:"run_id"`
	OperatorID  string    `json:"operator_id"`
	Reference   string    `json:"reference"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	HeartbeatAt time.Time `json:"heartbeat_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (s *Session) open() bool {
	return s.Status == StatusRunning || s.Status == StatusCompleted
}

// Manager keeps one open session per reference date. A session stays open after its run
// completes, until the operator finalizes or cancels it or its heartbeat goes stale.
type Manager struct {
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
	mu       sync.Mutex
}

func NewManager(ttl time.Duration) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// WithClock replaces the wall clock.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// CreateSession opens a session for req.Reference. Empty ID and RunID are generated.
func (m *Manager) CreateSession(req Session) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, s := range m.sessions {
		if s.Reference == req.Reference && s.open() && now.Before(s.ExpiresAt) {
			return nil, ErrRunInProgress
		}
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if _, taken := m.sessions[req.ID]; taken {
		return nil, ErrSessionExists
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	session := &Session{
		ID:          req.ID,
		RunID:       req.RunID,
		OperatorID:  req.OperatorID,
		Reference:   req.Reference,
		Status:      StatusRunning,
		CreatedAt:   now,
		HeartbeatAt: now,
		ExpiresAt:   now.Add(m.ttl),
	}
	m.sessions[session.ID] = session
	return session.clone(), nil
}

func (s *Session) clone() *Session {
	c := *s
	return &c
}

func (m *Manager) GetSession(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, false
	}
	return session.clone(), true
}

// ByRun finds the session of a run.
func (m *Manager) ByRun(runID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.RunID == runID {
			return s.clone(), true
		}
	}
	return nil, false
}

// Heartbeat extends the session's lease.
func (m *Manager) Heartbeat(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	now := m.now()
	s.HeartbeatAt = now
	s.ExpiresAt = now.Add(m.ttl)
	return nil
}

// SetStatus moves the session to status. Closed sessions release their reference date.
func (m *Manager) SetStatus(sessionID string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.Status = status
	return nil
}

func (m *Manager) DeleteSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionID)
}

// CleanupExpiredSessions removes sessions whose lease ran out and returns the open ones among
// them, oldest first, so their staging rows can be purged.
func (m *Manager) CleanupExpiredSessions() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var stale []Session
	for id, session := range m.sessions {
		if now.After(session.ExpiresAt) {
			if session.open() {
				stale = append(stale, *session)
			}
			delete(m.sessions, id)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	return stale
}
