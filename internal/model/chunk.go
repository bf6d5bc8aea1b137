package model

import "time"

// Chunk is a sentence-safe, citable span of a source document.
// Text is always Document[CharStart:CharEnd] (byte offsets).
// The vector lives in the vector index, not in the relational store.
type Chunk struct {
	ID        string    `gorm:"primaryKey;size:191" json:"id"`
	SourceID  string    `gorm:"size:191;not null;index:idx_chunk_source_section,priority:1" json:"source_id"`
	SectionID string    `gorm:"size:191;not null;index:idx_chunk_source_section,priority:2" json:"section_id"`
	Language  string    `gorm:"size:16;not null;index" json:"language"`
	Ordinal   int       `gorm:"not null" json:"ordinal"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	CharStart int       `gorm:"not null" json:"char_start"`
	CharEnd   int       `gorm:"not null" json:"char_end"`
	Embedding []float32 `gorm:"-" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// ScoredChunk is a chunk paired with its retrieval relevance.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}
