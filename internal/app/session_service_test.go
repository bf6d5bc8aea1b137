package app

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redisv9 "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"textbook-rag/internal/cache"
	"textbook-rag/internal/model"
	"textbook-rag/internal/repository"
)

type memoryHistory struct {
	mu      sync.Mutex
	history map[string][]model.ChatMessage
	dirty   map[string]bool
	sets    int
}

func newMemoryHistory() *memoryHistory {
	return &memoryHistory{history: map[string][]model.ChatMessage{}, dirty: map[string]bool{}}
}

func (h *memoryHistory) GetHistory(_ context.Context, id string) ([]model.ChatMessage, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.history[id]
	return m, ok, nil
}

func (h *memoryHistory) SetHistory(_ context.Context, id string, msgs []model.ChatMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history[id] = msgs
	h.sets++
	return nil
}

func (h *memoryHistory) DeleteHistory(_ context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.history, id)
	return nil
}

func (h *memoryHistory) MarkDirty(_ context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dirty[id] = true
	return nil
}

func (h *memoryHistory) IsDirty(_ context.Context, id string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dirty[id], nil
}

// expireDirty stands in for the marker's TTL running out.
func (h *memoryHistory) expireDirty(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.dirty, id)
}

func TestSessionAppendUnknownIsNotFound(t *testing.T) {
	svc := NewSessionService(repository.NewMemorySessionStore(), nil, time.Minute, nil)
	_, err := svc.AppendMessage(context.Background(), "nope", model.ChatMessage{Role: model.RoleUser, Content: "hi"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionAppendReturnsOrdinals(t *testing.T) {
	ctx := context.Background()
	svc := NewSessionService(repository.NewMemorySessionStore(), nil, time.Minute, nil)
	s, err := svc.Create(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, model.SessionActive, s.State)

	n, err := svc.AppendMessage(ctx, s.ID, model.ChatMessage{Role: model.RoleUser, Content: "one"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = svc.AppendMessage(ctx, s.ID, model.ChatMessage{Role: model.RoleAssistant, Content: "two"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = svc.AppendMessage(ctx, s.ID, model.ChatMessage{Role: "system", Content: "x"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSessionConcurrentAppendsNeverInterleave(t *testing.T) {
	ctx := context.Background()
	svc := NewSessionService(repository.NewMemorySessionStore(), newMemoryHistory(), time.Minute, nil)
	s, err := svc.Create(ctx, nil)
	require.NoError(t, err)

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.AppendExchange(ctx, s.ID,
				model.ChatMessage{Content: fmt.Sprintf("q%d", i)},
				model.ChatMessage{Content: fmt.Sprintf("a%d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	msgs, err := svc.ListMessages(ctx, s.ID, nil)
	require.NoError(t, err)
	require.Len(t, msgs, writers*2)
	for i := 0; i < len(msgs); i += 2 {
		q, a := msgs[i], msgs[i+1]
		assert.Equal(t, i+1, q.Ordinal)
		assert.Equal(t, model.RoleUser, q.Role)
		assert.Equal(t, model.RoleAssistant, a.Role)
		assert.Equal(t, "a"+q.Content[1:], a.Content, "exchange split at ordinal %d", q.Ordinal)
		if i > 0 {
			assert.True(t, q.CreatedAt.After(msgs[i-1].CreatedAt))
		}
		assert.True(t, a.CreatedAt.After(q.CreatedAt))
	}
}

func TestSessionListMessagesUsesCacheUntilAppend(t *testing.T) {
	ctx := context.Background()
	cache := newMemoryHistory()
	svc := NewSessionService(repository.NewMemorySessionStore(), cache, time.Minute, nil)
	s, err := svc.Create(ctx, nil)
	require.NoError(t, err)
	_, err = svc.AppendMessage(ctx, s.ID, model.ChatMessage{Role: model.RoleUser, Content: "one"})
	require.NoError(t, err)

	// While the marker is live, reads go to the store and are not cached.
	_, err = svc.ListMessages(ctx, s.ID, nil)
	require.NoError(t, err)
	assert.Zero(t, cache.sets)

	cache.expireDirty(s.ID)
	_, err = svc.ListMessages(ctx, s.ID, nil)
	require.NoError(t, err)
	_, err = svc.ListMessages(ctx, s.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets)

	_, err = svc.AppendMessage(ctx, s.ID, model.ChatMessage{Role: model.RoleAssistant, Content: "two"})
	require.NoError(t, err)
	msgs, err := svc.ListMessages(ctx, s.ID, nil)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
	assert.Equal(t, 1, cache.sets)
}

// pausingStore holds the next ListMessages call after it has read from the
// store, until resume is closed.
type pausingStore struct {
	*repository.MemorySessionStore
	mu     sync.Mutex
	armed  bool
	read   chan struct{}
	resume chan struct{}
}

func (s *pausingStore) ListMessages(ctx context.Context, id string) ([]model.ChatMessage, error) {
	msgs, err := s.MemorySessionStore.ListMessages(ctx, id)
	s.mu.Lock()
	pause := s.armed
	s.armed = false
	s.mu.Unlock()
	if pause {
		close(s.read)
		<-s.resume
	}
	return msgs, err
}

func TestSessionListRacingAppendDoesNotCacheStaleHistory(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redisv9.NewClient(&redisv9.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	history := cache.NewHistoryCache(client, time.Minute, 10*time.Second)

	store := &pausingStore{
		MemorySessionStore: repository.NewMemorySessionStore(),
		read:               make(chan struct{}),
		resume:             make(chan struct{}),
	}
	svc := NewSessionService(store, history, time.Minute, nil)
	s, err := svc.Create(ctx, nil)
	require.NoError(t, err)
	_, err = svc.AppendExchange(ctx, s.ID, model.ChatMessage{Content: "q1"}, model.ChatMessage{Content: "a1"})
	require.NoError(t, err)
	mr.FastForward(time.Minute)

	store.mu.Lock()
	store.armed = true
	store.mu.Unlock()
	staleRead := make(chan []model.ChatMessage, 1)
	go func() {
		msgs, err := svc.ListMessages(ctx, s.ID, nil)
		assert.NoError(t, err)
		staleRead <- msgs
	}()

	<-store.read
	_, err = svc.AppendExchange(ctx, s.ID, model.ChatMessage{Content: "q2"}, model.ChatMessage{Content: "a2"})
	require.NoError(t, err)
	close(store.resume)
	assert.Len(t, <-staleRead, 2)

	msgs, err := svc.ListMessages(ctx, s.ID, nil)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)

	mr.FastForward(time.Minute)
	msgs, err = svc.ListMessages(ctx, s.ID, nil)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
	cached, hit, err := history.GetHistory(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Len(t, cached, 4)
}

func TestSessionOwnerIsolation(t *testing.T) {
	ctx := context.Background()
	svc := NewSessionService(repository.NewMemorySessionStore(), nil, time.Minute, nil)
	alice, bob := "alice", "bob"
	s, err := svc.Create(ctx, &alice)
	require.NoError(t, err)

	_, err = svc.Get(ctx, s.ID, &alice)
	assert.NoError(t, err)
	_, err = svc.Get(ctx, s.ID, &bob)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = svc.ListMessages(ctx, s.ID, nil)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionIdleAfterInactivity(t *testing.T) {
	ctx := context.Background()
	svc := NewSessionService(repository.NewMemorySessionStore(), nil, time.Minute, nil)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }
	s, err := svc.Create(ctx, nil)
	require.NoError(t, err)

	svc.now = func() time.Time { return base.Add(2 * time.Minute) }
	got, err := svc.Get(ctx, s.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, model.SessionIdle, got.State)

	_, err = svc.AppendMessage(ctx, s.ID, model.ChatMessage{Role: model.RoleUser, Content: "back"})
	require.NoError(t, err)
	got, err = svc.Get(ctx, s.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, model.SessionActive, got.State)
}

func TestSessionDeleteThenAppend(t *testing.T) {
	ctx := context.Background()
	svc := NewSessionService(repository.NewMemorySessionStore(), nil, time.Minute, nil)
	s, err := svc.Create(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, s.ID))
	_, err = svc.AppendMessage(ctx, s.ID, model.ChatMessage{Role: model.RoleUser, Content: "hi"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, s.ID), ErrSessionNotFound)
}
