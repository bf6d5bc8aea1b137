package handler

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"textbook-rag/internal/app"
	"textbook-rag/internal/model"
	"textbook-rag/internal/pkg/pdfextract"
	"textbook-rag/internal/segmenter"
	"textbook-rag/internal/transport/http/response"
)

const maxPDFSize = 20 << 20 // 20 MB

type Ingester interface {
	Ingest(ctx context.Context, in app.IngestInput) (*app.IngestResult, error)
	IngestBatch(ctx context.Context, inputs []app.IngestInput) []app.IngestResult
	Reindex(ctx context.Context) ([]app.IngestResult, error)
}

type JobPublisher interface {
	Publish(ctx context.Context, job model.IngestJob, attempt int) error
}

type SessionDeleter interface {
	Delete(ctx context.Context, sessionID string) error
}

type AdminHandler struct {
	ingest   Ingester
	jobs     JobPublisher
	sessions SessionDeleter
}

type IngestBatchRequest struct {
	Documents []app.IngestInput `json:"documents" binding:"required,min=1,dive"`
}

func NewAdminHandler(ingest Ingester, jobs JobPublisher, sessions SessionDeleter) *AdminHandler {
	return &AdminHandler{ingest: ingest, jobs: jobs, sessions: sessions}
}

func (h *AdminHandler) Ingest(c *gin.Context) {
	var req app.IngestInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	h.ingestOne(c, req)
}

func (h *AdminHandler) IngestBatch(c *gin.Context) {
	var req IngestBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	response.OK(c, gin.H{"results": h.ingest.IngestBatch(c.Request.Context(), req.Documents)})
}

// EnqueueJob queues a document for the ingest worker and returns at once.
func (h *AdminHandler) EnqueueJob(c *gin.Context) {
	if h.jobs == nil {
		response.Error(c, http.StatusServiceUnavailable, response.CodeQueueUnavailable, "job queue not configured")
		return
	}
	var req app.IngestInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	job := model.IngestJob{
		JobID:      uuid.NewString(),
		SourceID:   req.SourceID,
		Text:       req.Text,
		Language:   req.Language,
		Sections:   req.Sections,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := h.jobs.Publish(c.Request.Context(), job, 1); err != nil {
		response.Error(c, http.StatusServiceUnavailable, response.CodeQueueUnavailable, "enqueue ingest job failed")
		return
	}
	response.Accepted(c, gin.H{"job_id": job.JobID, "source_id": job.SourceID})
}

// UploadPDF ingests a PDF with one section per page. The form carries "file",
// "language" and an optional "source_id" defaulting to the file name.
func (h *AdminHandler) UploadPDF(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file")
		return
	}
	if file.Size > maxPDFSize {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "file too large (max 20MB)")
		return
	}
	if strings.ToLower(filepath.Ext(file.Filename)) != ".pdf" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "only PDF files are allowed")
		return
	}

	f, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
		return
	}
	defer f.Close()

	extracted, err := pdfextract.ExtractPages(f)
	if err != nil {
		response.Error(c, http.StatusUnprocessableEntity, response.CodeContentError, "failed to extract text from PDF")
		return
	}

	sourceID := strings.TrimSpace(c.PostForm("source_id"))
	if sourceID == "" {
		sourceID = segmenter.Slug(strings.TrimSuffix(file.Filename, filepath.Ext(file.Filename)))
	}
	sections := make([]segmenter.SectionBoundary, 0, len(extracted.Pages))
	for _, p := range extracted.Pages {
		sections = append(sections, segmenter.SectionBoundary{SectionID: pdfextract.SectionID(p.Number), Start: p.Start})
	}
	h.ingestOne(c, app.IngestInput{
		SourceID: sourceID,
		Text:     extracted.Text,
		Language: c.PostForm("language"),
		Sections: sections,
	})
}

func (h *AdminHandler) Reindex(c *gin.Context) {
	results, err := h.ingest.Reindex(c.Request.Context())
	if err != nil {
		writeError(c, err, "reindex failed")
		return
	}
	response.OK(c, gin.H{"results": results})
}

func (h *AdminHandler) DeleteSession(c *gin.Context) {
	sessionID := c.Param("id")
	if err := h.sessions.Delete(c.Request.Context(), sessionID); err != nil {
		writeError(c, err, "delete session failed")
		return
	}
	response.OK(c, gin.H{"deleted_session_id": sessionID})
}

func (h *AdminHandler) ingestOne(c *gin.Context, in app.IngestInput) {
	result, err := h.ingest.Ingest(c.Request.Context(), in)
	if err != nil {
		writeError(c, err, "ingest failed")
		return
	}
	response.OK(c, result)
}
