package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"textbook-rag/internal/model"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// withDB binds the repository to a transaction or context-scoped handle.
func (r *MessageRepository) withDB(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) CreateBatch(messages []model.ChatMessage) error {
	if err := r.db.Create(&messages).Error; err != nil {
		return fmt.Errorf("create messages failed: %w", err)
	}
	return nil
}

// Last returns the newest message of a session, or nil when it has none.
func (r *MessageRepository) Last(sessionID string) (*model.ChatMessage, error) {
	var msg model.ChatMessage
	err := r.db.Where("session_id = ?", sessionID).Order("ordinal DESC").Limit(1).Take(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get last message failed: %w", err)
	}
	return &msg, nil
}

func (r *MessageRepository) ListBySessionID(sessionID string) ([]model.ChatMessage, error) {
	var messages []model.ChatMessage
	if err := r.db.Where("session_id = ?", sessionID).Order("ordinal ASC").Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list messages failed: %w", err)
	}
	return messages, nil
}
