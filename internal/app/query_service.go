package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	"textbook-rag/internal/model"
)

const defaultMaxQuestionChars = 1000

type QueryInput struct {
	Question  string
	SessionID string
	Language  string
	OwnerRef  *string
}

type QueryResult struct {
	Answer       string           `json:"answer"`
	Citations    []model.Citation `json:"citations"`
	IsOutOfScope bool             `json:"is_out_of_scope"`
	Confidence   float64          `json:"confidence"`
	SessionID    string           `json:"session_id"`
}

type QueryOptions struct {
	TopK             int
	MaxQuestionChars int
	Languages        []string
	Acknowledgment   string
}

// QueryService runs the answering pipeline for one question and records the
// exchange in the caller's session.
type QueryService struct {
	sessions    *SessionService
	retriever   *Retriever
	scope       *ScopeClassifier
	synthesizer *Synthesizer
	citations   *CitationMapper
	opts        QueryOptions
	logger      *slog.Logger
}

func NewQueryService(sessions *SessionService, retriever *Retriever, scope *ScopeClassifier, synthesizer *Synthesizer, citations *CitationMapper, opts QueryOptions, logger *slog.Logger) *QueryService {
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	if opts.MaxQuestionChars <= 0 {
		opts.MaxQuestionChars = defaultMaxQuestionChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryService{
		sessions:    sessions,
		retriever:   retriever,
		scope:       scope,
		synthesizer: synthesizer,
		citations:   citations,
		opts:        opts,
		logger:      logger,
	}
}

// Query answers in.Question. Nothing is written to the session unless a
// complete answer was produced and the caller is still waiting for it.
func (s *QueryService) Query(ctx context.Context, in QueryInput) (*QueryResult, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is empty", ErrInvalidInput)
	}
	if utf8.RuneCountInString(question) > s.opts.MaxQuestionChars {
		return nil, fmt.Errorf("%w: question exceeds %d characters", ErrInvalidInput, s.opts.MaxQuestionChars)
	}
	language := in.Language
	if language == "" && len(s.opts.Languages) > 0 {
		language = s.opts.Languages[0]
	}
	if len(s.opts.Languages) > 0 && !slices.Contains(s.opts.Languages, language) {
		return nil, fmt.Errorf("%w: unsupported language %q", ErrInvalidInput, language)
	}

	session, err := s.sessions.resolve(ctx, in.SessionID, in.OwnerRef)
	if err != nil {
		return nil, err
	}

	result, err := s.answer(ctx, question, language)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sessionID := ""
	if session != nil {
		sessionID = session.ID
	} else {
		created, err := s.sessions.Create(ctx, in.OwnerRef)
		if err != nil {
			return nil, fmt.Errorf("create session failed: %w", err)
		}
		sessionID = created.ID
	}

	_, err = s.sessions.AppendExchange(ctx, sessionID,
		model.ChatMessage{Content: question},
		model.ChatMessage{Content: result.Answer, Citations: result.Citations},
	)
	if err != nil {
		return nil, err
	}
	result.SessionID = sessionID
	return result, nil
}

func (s *QueryService) answer(ctx context.Context, question, language string) (*QueryResult, error) {
	if decision, hit := s.scope.PreCheck(question); hit {
		s.logger.Info("question rejected by keyword gate", "reason", decision.Reason)
		return s.acknowledge(decision.Confidence), nil
	}

	retrieved, err := s.retriever.Retrieve(ctx, question, language, s.opts.TopK)
	if err != nil {
		return nil, err
	}
	decision := s.scope.Classify(retrieved)
	if decision.OutOfScope {
		return s.acknowledge(decision.Confidence), nil
	}

	synth, err := s.synthesizer.Synthesize(ctx, question, retrieved.Candidates)
	if err != nil {
		return nil, err
	}
	if !synth.Answerable || len(synth.UsedChunkIDs) == 0 {
		return s.acknowledge(decision.Confidence), nil
	}
	citations := s.citations.Map(synth.UsedChunkIDs, retrieved.Candidates, synth.Answer)
	if len(citations) == 0 {
		return s.acknowledge(decision.Confidence), nil
	}
	return &QueryResult{
		Answer:     synth.Answer,
		Citations:  citations,
		Confidence: decision.Confidence,
	}, nil
}

func (s *QueryService) acknowledge(confidence float64) *QueryResult {
	return &QueryResult{
		Answer:       s.opts.Acknowledgment,
		Citations:    []model.Citation{},
		IsOutOfScope: true,
		Confidence:   confidence,
	}
}

// ListMessages returns a session's history in append order.
func (s *QueryService) ListMessages(ctx context.Context, sessionID string, ownerRef *string) ([]model.ChatMessage, error) {
	return s.sessions.ListMessages(ctx, sessionID, ownerRef)
}
