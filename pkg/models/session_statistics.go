package models

import (
	"github.com/google/uuid"
)

// SessionStatistics is the per-session rollup: a derived cache, always
// reconstructable by replaying the session's QA records. AvgAccuracy and
// TotalCost are stored as fixed-precision decimal text (two places) so
// repeated additions never accumulate float drift.
type SessionStatistics struct {
	SessionID      uuid.UUID `json:"session_id"`
	TotalQuestions int       `json:"total_questions"`
	AvgAccuracy    string    `json:"avg_accuracy"`
	TotalCost      string    `json:"total_cost"`
}
