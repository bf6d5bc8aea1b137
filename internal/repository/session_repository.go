package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"textbook-rag/internal/model"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionDeleted matches ErrSessionNotFound under errors.Is.
	ErrSessionDeleted = fmt.Errorf("%w: session was deleted", ErrSessionNotFound)
)

// SessionRepository persists sessions and their messages in MySQL. Appends
// take a row lock on the session so ordinals stay gap-free across processes.
type SessionRepository struct {
	db       *gorm.DB
	messages *MessageRepository
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db, messages: NewMessageRepository(db)}
}

func (r *SessionRepository) CreateSession(ctx context.Context, ownerRef *string, now time.Time) (*model.ChatSession, error) {
	now = now.UTC().Truncate(time.Microsecond)
	session := &model.ChatSession{
		ID:        uuid.NewString(),
		OwnerRef:  ownerRef,
		State:     model.SessionActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("create session failed: %w", err)
	}
	return session, nil
}

func (r *SessionRepository) GetSession(ctx context.Context, sessionID string) (*model.ChatSession, error) {
	return r.getSession(r.db.WithContext(ctx), sessionID, false)
}

func (r *SessionRepository) getSession(db *gorm.DB, sessionID string, forUpdate bool) (*model.ChatSession, error) {
	q := db.Unscoped().Where("id = ?", sessionID)
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var session model.ChatSession
	if err := q.First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session failed: %w", err)
	}
	if session.DeletedAt.Valid {
		return nil, ErrSessionDeleted
	}
	return &session, nil
}

// AppendMessages writes messages in one transaction, assigning ordinals and
// strictly increasing timestamps. Either all messages are stored or none.
func (r *SessionRepository) AppendMessages(ctx context.Context, sessionID string, messages []model.ChatMessage, now time.Time) ([]model.ChatMessage, error) {
	if len(messages) == 0 {
		return nil, nil
	}
	out := make([]model.ChatMessage, len(messages))
	copy(out, messages)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := r.getSession(tx, sessionID, true)
		if err != nil {
			return err
		}
		last, err := r.messages.withDB(tx).Last(sessionID)
		if err != nil {
			return err
		}
		lastAt := session.CreatedAt
		if last != nil {
			lastAt = last.CreatedAt
		}

		seq := session.LastSeq
		for i := range out {
			seq++
			lastAt = nextTimestamp(lastAt, now)
			out[i].ID = uuid.NewString()
			out[i].SessionID = sessionID
			out[i].Ordinal = seq
			out[i].CreatedAt = lastAt
		}
		if err := r.messages.withDB(tx).CreateBatch(out); err != nil {
			return err
		}
		if err := tx.Model(&model.ChatSession{}).Where("id = ?", sessionID).Updates(map[string]interface{}{
			"last_seq":   seq,
			"state":      model.SessionActive,
			"updated_at": lastAt,
		}).Error; err != nil {
			return fmt.Errorf("touch session failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *SessionRepository) ListMessages(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	if _, err := r.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return r.messages.withDB(r.db.WithContext(ctx)).ListBySessionID(sessionID)
}

func (r *SessionRepository) DeleteSession(ctx context.Context, sessionID string) error {
	res := r.db.WithContext(ctx).Where("id = ?", sessionID).Delete(&model.ChatSession{})
	if res.Error != nil {
		return fmt.Errorf("delete session failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// nextTimestamp returns now at microsecond precision, or last plus one
// microsecond when the clock has not moved past last.
func nextTimestamp(last, now time.Time) time.Time {
	t := now.UTC().Truncate(time.Microsecond)
	if !t.After(last) {
		t = last.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
	}
	return t
}
