package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"textbook-rag/internal/model"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("RAG_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("RAG_TEST_MYSQL_DSN not set")
	}
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Chunk{}, &model.ChatSession{}, &model.ChatMessage{}))
	return db
}

func TestSessionRepositoryConcurrentAppends(t *testing.T) {
	db := openTestDB(t)
	repo := NewSessionRepository(db)
	ctx := context.Background()

	session, err := repo.CreateSession(ctx, nil, time.Now())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.AppendMessages(ctx, session.ID, []model.ChatMessage{
				{Role: model.RoleUser, Content: "q"},
				{Role: model.RoleAssistant, Content: "a", Citations: []model.Citation{{SourceID: "s", SectionID: "x", Snippet: "y"}}},
			}, time.Now())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	msgs, err := repo.ListMessages(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 20)
	for i, m := range msgs {
		assert.Equal(t, i+1, m.Ordinal)
		if i > 0 {
			assert.True(t, m.CreatedAt.After(msgs[i-1].CreatedAt))
		}
		// Pairs are never interleaved.
		if i%2 == 0 {
			assert.Equal(t, model.RoleUser, m.Role)
		} else {
			assert.Equal(t, model.RoleAssistant, m.Role)
		}
	}

	require.NoError(t, repo.DeleteSession(ctx, session.ID))
	_, err = repo.GetSession(ctx, session.ID)
	assert.ErrorIs(t, err, ErrSessionDeleted)
	_, err = repo.GetSession(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestChunkRepositoryReplaceSource(t *testing.T) {
	db := openTestDB(t)
	repo := NewChunkRepository(db)
	ctx := context.Background()
	src := "it-" + time.Now().Format("150405.000000")

	require.NoError(t, repo.ReplaceSource(ctx, src, []model.Chunk{
		{ID: src + ":a", SourceID: src, SectionID: "x", Language: "en", Text: "A."},
		{ID: src + ":b", SourceID: src, SectionID: "x", Language: "en", Ordinal: 1, Text: "B."},
	}))
	require.NoError(t, repo.ReplaceSource(ctx, src, []model.Chunk{
		{ID: src + ":c", SourceID: src, SectionID: "x", Language: "en", Text: "C."},
	}))

	ids, err := repo.ChunkIDsBySource(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, []string{src + ":c"}, ids)

	got, err := repo.GetByIDs(ctx, []string{src + ":a", src + ":c"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "C.", got[0].Text)
}
