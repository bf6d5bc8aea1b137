package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"textbook-rag/internal/model"
	"textbook-rag/internal/pkg/keylock"
	"textbook-rag/internal/repository"
)

// SessionView is a session with its state evaluated at read time.
type SessionView struct {
	ID        string             `json:"session_id"`
	OwnerRef  *string            `json:"owner_ref,omitempty"`
	State     model.SessionState `json:"state"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// SessionService serializes appends per session through a keyed lock arena,
// so unrelated sessions never wait on each other.
type SessionService struct {
	store      SessionStore
	cache      HistoryCache
	locks      *keylock.Arena
	inactivity time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func NewSessionService(store SessionStore, cache HistoryCache, inactivity time.Duration, logger *slog.Logger) *SessionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionService{
		store:      store,
		cache:      cache,
		locks:      keylock.New(),
		inactivity: inactivity,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *SessionService) Create(ctx context.Context, ownerRef *string) (*SessionView, error) {
	session, err := s.store.CreateSession(ctx, ownerRef, s.now())
	if err != nil {
		return nil, err
	}
	return s.view(session), nil
}

// Get returns the session if the caller may see it. Sessions with an owner
// are invisible to other callers.
func (s *SessionService) Get(ctx context.Context, sessionID string, ownerRef *string) (*SessionView, error) {
	session, err := s.lookup(ctx, sessionID, ownerRef)
	if err != nil {
		return nil, err
	}
	return s.view(session), nil
}

// AppendMessage appends one message and returns its ordinal.
func (s *SessionService) AppendMessage(ctx context.Context, sessionID string, msg model.ChatMessage) (int, error) {
	stored, err := s.append(ctx, sessionID, []model.ChatMessage{msg})
	if err != nil {
		return 0, err
	}
	return stored[0].Ordinal, nil
}

// AppendExchange stores a question and its answer as one unit.
func (s *SessionService) AppendExchange(ctx context.Context, sessionID string, user, assistant model.ChatMessage) ([]model.ChatMessage, error) {
	user.Role = model.RoleUser
	assistant.Role = model.RoleAssistant
	return s.append(ctx, sessionID, []model.ChatMessage{user, assistant})
}

func (s *SessionService) append(ctx context.Context, sessionID string, msgs []model.ChatMessage) ([]model.ChatMessage, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrSessionNotFound
	}
	for _, m := range msgs {
		if m.Role != model.RoleUser && m.Role != model.RoleAssistant {
			return nil, fmt.Errorf("%w: role %q", ErrInvalidInput, m.Role)
		}
	}

	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if s.cache != nil {
		_ = s.cache.MarkDirty(ctx, sessionID)
	}
	stored, err := s.store.AppendMessages(ctx, sessionID, msgs, s.now())
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.DeleteHistory(ctx, sessionID); err != nil {
			s.logger.Warn("invalidate history cache failed", "session_id", sessionID, "err", err)
		}
	}
	return stored, nil
}

func (s *SessionService) ListMessages(ctx context.Context, sessionID string, ownerRef *string) ([]model.ChatMessage, error) {
	if _, err := s.lookup(ctx, sessionID, ownerRef); err != nil {
		return nil, err
	}

	if s.cache != nil {
		dirty, err := s.cache.IsDirty(ctx, sessionID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.cache.GetHistory(ctx, sessionID); cacheErr == nil && hit {
				return cached, nil
			}
		}
	}

	messages, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if dirty, dirtyErr := s.cache.IsDirty(ctx, sessionID); dirtyErr == nil && !dirty {
			_ = s.cache.SetHistory(ctx, sessionID, messages)
		}
	}
	return messages, nil
}

func (s *SessionService) Delete(ctx context.Context, sessionID string) error {
	err := s.locks.Do(ctx, sessionID, func() error {
		if err := s.store.DeleteSession(ctx, sessionID); err != nil {
			return err
		}
		if s.cache != nil {
			_ = s.cache.DeleteHistory(ctx, sessionID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("session deleted", "session_id", sessionID)
	return nil
}

// resolve finds the session to answer in. A missing or never-seen id yields
// nil so the caller creates a fresh session; a deleted id is an error.
func (s *SessionService) resolve(ctx context.Context, sessionID string, ownerRef *string) (*model.ChatSession, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, nil
	}
	session, err := s.lookup(ctx, sessionID, ownerRef)
	if errors.Is(err, repository.ErrSessionDeleted) {
		return nil, err
	}
	if errors.Is(err, ErrSessionNotFound) {
		return nil, nil
	}
	return session, err
}

func (s *SessionService) lookup(ctx context.Context, sessionID string, ownerRef *string) (*model.ChatSession, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.OwnerRef != nil && (ownerRef == nil || *ownerRef != *session.OwnerRef) {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (s *SessionService) view(session *model.ChatSession) *SessionView {
	return &SessionView{
		ID:        session.ID,
		OwnerRef:  session.OwnerRef,
		State:     session.StateAt(s.now(), s.inactivity),
		CreatedAt: session.CreatedAt,
		UpdatedAt: session.UpdatedAt,
	}
}
