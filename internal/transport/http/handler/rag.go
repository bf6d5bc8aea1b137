package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"textbook-rag/internal/app"
	"textbook-rag/internal/model"
	"textbook-rag/internal/transport/http/middleware"
	"textbook-rag/internal/transport/http/response"
)

type Querier interface {
	Query(ctx context.Context, in app.QueryInput) (*app.QueryResult, error)
}

type SessionManager interface {
	Create(ctx context.Context, ownerRef *string) (*app.SessionView, error)
	ListMessages(ctx context.Context, sessionID string, ownerRef *string) ([]model.ChatMessage, error)
}

type RAGHandler struct {
	query    Querier
	sessions SessionManager
}

type QueryRequest struct {
	Question  string `json:"question" binding:"required"`
	SessionID string `json:"session_id"`
	Language  string `json:"language"`
}

func NewRAGHandler(query Querier, sessions SessionManager) *RAGHandler {
	return &RAGHandler{query: query, sessions: sessions}
}

func (h *RAGHandler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.query.Query(c.Request.Context(), app.QueryInput{
		Question:  req.Question,
		SessionID: req.SessionID,
		Language:  req.Language,
		OwnerRef:  middleware.OwnerRef(c),
	})
	if err != nil {
		writeError(c, err, "query failed")
		return
	}
	response.OK(c, result)
}

func (h *RAGHandler) CreateSession(c *gin.Context) {
	session, err := h.sessions.Create(c.Request.Context(), middleware.OwnerRef(c))
	if err != nil {
		writeError(c, err, "create session failed")
		return
	}
	response.OK(c, session)
}

func (h *RAGHandler) ListMessages(c *gin.Context) {
	sessionID := c.Param("id")
	messages, err := h.sessions.ListMessages(c.Request.Context(), sessionID, middleware.OwnerRef(c))
	if err != nil {
		writeError(c, err, "list messages failed")
		return
	}
	response.OK(c, gin.H{"session_id": sessionID, "messages": messages})
}
