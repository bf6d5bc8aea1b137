package app

import (
	"context"
	"time"

	"textbook-rag/internal/ai"
	"textbook-rag/internal/model"
	"textbook-rag/internal/storage"
)

// SessionStore persists conversations. AppendMessages must store all given
// messages or none, assigning ordinals and strictly increasing timestamps.
type SessionStore interface {
	CreateSession(ctx context.Context, ownerRef *string, now time.Time) (*model.ChatSession, error)
	GetSession(ctx context.Context, sessionID string) (*model.ChatSession, error)
	AppendMessages(ctx context.Context, sessionID string, messages []model.ChatMessage, now time.Time) ([]model.ChatMessage, error)
	ListMessages(ctx context.Context, sessionID string) ([]model.ChatMessage, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

type ChunkStore interface {
	ReplaceSource(ctx context.Context, sourceID string, chunks []model.Chunk) error
	ChunkIDsBySource(ctx context.Context, sourceID string) ([]string, error)
	GetByIDs(ctx context.Context, ids []string) ([]model.Chunk, error)
	ListSources(ctx context.Context) ([]string, error)
}

type HistoryCache interface {
	GetHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, bool, error)
	SetHistory(ctx context.Context, sessionID string, messages []model.ChatMessage) error
	DeleteHistory(ctx context.Context, sessionID string) error
	MarkDirty(ctx context.Context, sessionID string) error
	IsDirty(ctx context.Context, sessionID string) (bool, error)
}

// Generator is a chat-completion capability. Both the OpenAI-compatible and
// the Gemini clients satisfy it.
type Generator interface {
	Complete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage) (string, error)
}

// SourceArchive keeps raw sources so they can be re-ingested later.
type SourceArchive interface {
	Put(ctx context.Context, src storage.Source) error
	Get(ctx context.Context, sourceID string) (*storage.Source, error)
	List(ctx context.Context) ([]string, error)
}
