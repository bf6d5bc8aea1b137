package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"textbook-rag/internal/model"
)

// MemorySessionStore keeps sessions in process memory. It is used in tests
// and when no MySQL is configured.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*model.ChatSession
	messages map[string][]model.ChatMessage
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*model.ChatSession),
		messages: make(map[string][]model.ChatMessage),
	}
}

func (s *MemorySessionStore) CreateSession(_ context.Context, ownerRef *string, now time.Time) (*model.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now = now.UTC().Truncate(time.Microsecond)
	session := &model.ChatSession{
		ID:        uuid.NewString(),
		OwnerRef:  ownerRef,
		State:     model.SessionActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[session.ID] = session
	cp := *session
	return &cp, nil
}

func (s *MemorySessionStore) GetSession(_ context.Context, sessionID string) (*model.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	cp := *session
	return &cp, nil
}

func (s *MemorySessionStore) lookup(sessionID string) (*model.ChatSession, error) {
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if session.DeletedAt.Valid {
		return nil, ErrSessionDeleted
	}
	return session, nil
}

func (s *MemorySessionStore) AppendMessages(ctx context.Context, sessionID string, messages []model.ChatMessage, now time.Time) ([]model.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	session, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	lastAt := session.CreatedAt
	if existing := s.messages[sessionID]; len(existing) > 0 {
		lastAt = existing[len(existing)-1].CreatedAt
	}
	out := make([]model.ChatMessage, len(messages))
	seq := session.LastSeq
	for i, m := range messages {
		seq++
		lastAt = nextTimestamp(lastAt, now)
		m.ID = uuid.NewString()
		m.SessionID = sessionID
		m.Ordinal = seq
		m.CreatedAt = lastAt
		out[i] = m
	}
	s.messages[sessionID] = append(s.messages[sessionID], out...)
	session.LastSeq = seq
	session.State = model.SessionActive
	session.UpdatedAt = lastAt
	return out, nil
}

func (s *MemorySessionStore) ListMessages(_ context.Context, sessionID string) ([]model.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.lookup(sessionID); err != nil {
		return nil, err
	}
	out := make([]model.ChatMessage, len(s.messages[sessionID]))
	copy(out, s.messages[sessionID])
	return out, nil
}

func (s *MemorySessionStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	session.DeletedAt.Time = time.Now().UTC()
	session.DeletedAt.Valid = true
	return nil
}

// MemoryChunkStore is the in-process counterpart of ChunkRepository.
type MemoryChunkStore struct {
	mu       sync.RWMutex
	chunks   map[string]model.Chunk
	bySource map[string][]string
}

func NewMemoryChunkStore() *MemoryChunkStore {
	return &MemoryChunkStore{
		chunks:   make(map[string]model.Chunk),
		bySource: make(map[string][]string),
	}
}

func (s *MemoryChunkStore) ReplaceSource(ctx context.Context, sourceID string, chunks []model.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.bySource[sourceID] {
		delete(s.chunks, id)
	}
	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		c.Embedding = nil
		s.chunks[c.ID] = c
		ids = append(ids, c.ID)
	}
	if len(ids) == 0 {
		delete(s.bySource, sourceID)
		return nil
	}
	s.bySource[sourceID] = ids
	return nil
}

func (s *MemoryChunkStore) ChunkIDsBySource(_ context.Context, sourceID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.bySource[sourceID]))
	copy(out, s.bySource[sourceID])
	return out, nil
}

func (s *MemoryChunkStore) GetByIDs(_ context.Context, ids []string) ([]model.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryChunkStore) ListSources(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.bySource))
	for id := range s.bySource {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
