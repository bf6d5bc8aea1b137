package model

import "time"

// SectionBoundary marks the byte offset where a section begins. A section
// runs until the next boundary or the end of the document.
type SectionBoundary struct {
	SectionID string `json:"section_id"`
	Start     int    `json:"start"`
}

// IngestJob is a queued ingestion request.
type IngestJob struct {
	JobID      string            `json:"job_id"`
	SourceID   string            `json:"source_id"`
	Text       string            `json:"text"`
	Language   string            `json:"language"`
	Sections   []SectionBoundary `json:"section_boundaries,omitempty"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}
