package services

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/qaforge/qagen-engine/pkg/models"
)

// statsPrecision is the number of decimal places used when formatting
// avg_accuracy and total_cost for storage.
const statsPrecision = 2

// rollup is the in-memory aggregation state for one session. It is a cache:
// the authoritative value is always obtainable by replaying the session's QA
// records through replayRollup, and the incremental path must agree with that
// for any insertion order.
type rollup struct {
	totalQuestions int
	// numericCount counts only records whose accuracy parsed as a number;
	// avgAccuracy is the running mean over exactly those records.
	numericCount int
	avgAccuracy  float64
	totalCost    decimal.Decimal
}

func newRollup() *rollup {
	return &rollup{totalCost: decimal.Zero}
}

// apply folds one record into the rollup in O(1).
func (r *rollup) apply(record *models.QARecord) {
	r.totalQuestions++

	if v, ok := parseAccuracy(record.Accuracy); ok {
		r.numericCount++
		// Running mean: new = old + (v - old) / n
		r.avgAccuracy += (v - r.avgAccuracy) / float64(r.numericCount)
	}

	r.totalCost = r.totalCost.Add(record.Cost)
}

// clone returns an independent copy, used to stage an update that is only
// committed once the database transaction succeeds.
func (r *rollup) clone() *rollup {
	c := *r
	return &c
}

// snapshot renders the rollup as the persisted statistics row.
// AvgAccuracy stays empty until at least one numeric accuracy has been seen.
func (r *rollup) snapshot(sessionID uuid.UUID) *models.SessionStatistics {
	stats := &models.SessionStatistics{
		SessionID:      sessionID,
		TotalQuestions: r.totalQuestions,
		TotalCost:      r.totalCost.StringFixed(statsPrecision),
	}
	if r.numericCount > 0 {
		stats.AvgAccuracy = strconv.FormatFloat(r.avgAccuracy, 'f', statsPrecision, 64)
	}
	return stats
}

// replayRollup rebuilds the rollup from scratch. This is the definition of
// correctness for the incremental path, and the recovery path after a restart.
func replayRollup(records []*models.QARecord) *rollup {
	r := newRollup()
	for _, record := range records {
		r.apply(record)
	}
	return r
}

// parseAccuracy extracts a numeric accuracy value. Accuracy is free-form:
// scores arrive as "87.5" or "87.5%", labels as "good"/"poor". Labels are
// stored verbatim on the record but excluded from the numeric mean.
func parseAccuracy(s string) (float64, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
