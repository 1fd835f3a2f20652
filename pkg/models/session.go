package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionKind distinguishes question-generation runs from answer-generation
// runs. A session is exactly one of the two for its whole lifetime.
type SessionKind string

const (
	SessionKindQuestion SessionKind = "question"
	SessionKindAnswer   SessionKind = "answer"
)

// IsValidSessionKind checks if the given kind is valid.
func IsValidSessionKind(kind SessionKind) bool {
	return kind == SessionKindQuestion || kind == SessionKindAnswer
}

// Session is one question- or answer-generation run over a piece of content.
// Kind is immutable after creation; the only mutations are token-total bumps
// and updated_at touches performed by the ingest transaction.
type Session struct {
	ID     uuid.UUID   `json:"id"`
	UserID uuid.UUID   `json:"user_id"`
	Name   string      `json:"name"`
	Kind   SessionKind `json:"type"`

	// Timestamp is caller-supplied and stored verbatim; the ingestion driver
	// formats it, the engine only orders by it.
	Timestamp string `json:"timestamp"`

	Model            string `json:"model"`
	QuestionProvider string `json:"question_provider,omitempty"`
	QuestionModel    string `json:"question_model,omitempty"`
	AnswerProvider   string `json:"answer_provider,omitempty"`
	AnswerModel      string `json:"answer_model,omitempty"`

	// Source content the run was generated from.
	BlogContent string `json:"blog_content,omitempty"`
	BlogURL     string `json:"blog_url,omitempty"`

	// Running totals maintained by the ingest transaction.
	TotalInputTokens  int64 `json:"total_input_tokens"`
	TotalOutputTokens int64 `json:"total_output_tokens"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
