package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redisv9 "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"textbook-rag/internal/model"
)

func newTestCache(t *testing.T) (*HistoryCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redisv9.NewClient(&redisv9.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewHistoryCache(client, time.Minute, time.Second), mr
}

func TestHistoryRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	id := uuid.NewString()

	_, ok, err := c.GetHistory(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	msgs := []model.ChatMessage{
		{ID: "m1", SessionID: id, Role: model.RoleUser, Ordinal: 1, Content: "What is a robot?"},
		{ID: "m2", SessionID: id, Role: model.RoleAssistant, Ordinal: 2, Content: "A machine."},
	}
	require.NoError(t, c.SetHistory(ctx, id, msgs))

	got, ok, err := c.GetHistory(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 2)
	assert.Equal(t, "A machine.", got[1].Content)

	require.NoError(t, c.DeleteHistory(ctx, id))
	_, ok, err = c.GetHistory(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHistoryExpires(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	id := uuid.NewString()

	require.NoError(t, c.SetHistory(ctx, id, []model.ChatMessage{{ID: "m1", Ordinal: 1}}))
	mr.FastForward(2 * time.Minute)

	_, ok, err := c.GetHistory(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDirtyMarkerExpires(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	id := uuid.NewString()

	require.NoError(t, c.MarkDirty(ctx, id))
	dirty, err := c.IsDirty(ctx, id)
	require.NoError(t, err)
	assert.True(t, dirty)

	mr.FastForward(2 * time.Second)
	dirty, err = c.IsDirty(ctx, id)
	require.NoError(t, err)
	assert.False(t, dirty)
}

func TestDeleteHistoryKeepsDirtyMarker(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	id := uuid.NewString()

	require.NoError(t, c.SetHistory(ctx, id, []model.ChatMessage{{ID: "m1", Ordinal: 1}}))
	require.NoError(t, c.MarkDirty(ctx, id))
	require.NoError(t, c.DeleteHistory(ctx, id))

	dirty, err := c.IsDirty(ctx, id)
	require.NoError(t, err)
	assert.True(t, dirty, "a reader racing the append must still see the marker")
	assert.False(t, mr.Exists(historyKey(id)))
	assert.True(t, mr.Exists(dirtyKey(id)))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "rag:history:abc", historyKey("abc"))
	assert.Equal(t, "rag:history:dirty:abc", dirtyKey("abc"))
}
