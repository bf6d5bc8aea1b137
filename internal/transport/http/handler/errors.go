package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"textbook-rag/internal/app"
	"textbook-rag/internal/transport/http/response"
)

// writeError maps pipeline errors onto stable codes. Upstream failures never
// expose their cause to the caller.
func writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrSessionNotFound):
		response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, "session not found")
	case errors.Is(err, app.ErrContent):
		response.Error(c, http.StatusUnprocessableEntity, response.CodeContentError, err.Error())
	case errors.Is(err, app.ErrEmbeddingDimension):
		response.Error(c, http.StatusInternalServerError, response.CodeReindexRequired, "embedding model changed, reindex required")
	case errors.Is(err, app.ErrEmbeddingUnavailable):
		response.Error(c, http.StatusServiceUnavailable, response.CodeEmbeddingUnavailable, "embedding service unavailable, retry later")
	case errors.Is(err, app.ErrIndexUnavailable):
		response.Error(c, http.StatusServiceUnavailable, response.CodeIndexUnavailable, "search service unavailable, retry later")
	case errors.Is(err, app.ErrIngestBusy):
		response.Error(c, http.StatusServiceUnavailable, response.CodeQueueUnavailable, "ingestion is busy, retry later")
	case errors.Is(err, app.ErrGenerationFailure):
		response.Error(c, http.StatusBadGateway, response.CodeGenerationFailure, "answer generation failed, retry later")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		response.Error(c, http.StatusServiceUnavailable, response.CodeRequestCanceled, "request canceled")
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}
