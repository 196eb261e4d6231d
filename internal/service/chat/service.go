package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/wieesion/backend/internal/model/chat"
)

var (
	ErrPrincipalRequired = errors.New("principal is required")
	ErrSessionNotFound   = errors.New("session not found")
)

// Service tracks the live sessions of this process. Entries are snapshots
// published by each session loop; the loop itself owns the mutable state.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
}

// NewService 创建进程内的会话登记表。
func NewService() *Service {
	return &Service{sessions: make(map[string]chat.Session)}
}

// CreateSession registers a new session for principal.
func (s *Service) CreateSession(_ context.Context, principal string) (chat.Session, error) {
	if principal == "" {
		return chat.Session{}, ErrPrincipalRequired
	}

	session := chat.Session{
		ID:        uuid.NewString(),
		Principal: principal,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	return session, nil
}

// UpdateSession replaces the stored snapshot.
func (s *Service) UpdateSession(_ context.Context, session chat.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; !ok {
		return ErrSessionNotFound
	}
	s.sessions[session.ID] = session
	return nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// ListSessions 返回按创建时间排序的会话快照。
func (s *Service) ListSessions(_ context.Context) []chat.Session {
	s.mu.RLock()
	out := make([]chat.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// RemoveSession 在连接关闭时注销会话。
func (s *Service) RemoveSession(_ context.Context, sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
}
