package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// QARecord is one generated question/answer pair plus its measured
// quality and cost attributes. Records are immutable once written;
// corrections arrive as new records and flow through the aggregator.
type QARecord struct {
	ID        int64     `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"` // empty until the answer phase runs

	// Accuracy is free-form: a numeric score ("87.5") or a label ("good").
	// Only numeric values participate in the session's running mean.
	Accuracy  string `json:"accuracy"`
	Sentiment string `json:"sentiment"`

	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`

	Cost decimal.Decimal `json:"cost"`

	// QuestionOrder is the caller-assigned position within the session.
	// Unique per session; defines replay and display order.
	QuestionOrder int `json:"question_order"`
}
