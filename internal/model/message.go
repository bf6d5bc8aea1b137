package model

import (
	"time"

	"gorm.io/datatypes"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Citation points from an answer back to verbatim chunk text.
type Citation struct {
	SourceID       string  `json:"source_id"`
	SectionID      string  `json:"section_id"`
	Snippet        string  `json:"snippet"`
	RelevanceScore float64 `json:"relevance_score"`
}

// ChatMessage is immutable once written. Ordinal is the append position
// within the session, starting at 1.
type ChatMessage struct {
	ID        string                       `gorm:"primaryKey;size:36" json:"id"`
	SessionID string                       `gorm:"size:36;not null;uniqueIndex:idx_message_session_ordinal,priority:1" json:"session_id"`
	Ordinal   int                          `gorm:"not null;uniqueIndex:idx_message_session_ordinal,priority:2" json:"ordinal"`
	Role      Role                         `gorm:"size:16;not null" json:"role"`
	Content   string                       `gorm:"type:text;not null" json:"content"`
	Citations datatypes.JSONSlice[Citation] `gorm:"type:json" json:"citations"`
	CreatedAt time.Time                    `gorm:"precision:6" json:"created_at"`
}
