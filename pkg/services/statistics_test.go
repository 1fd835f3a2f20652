package services

import (
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qaforge/qagen-engine/pkg/models"
)

func record(accuracy, cost string, order int) *models.QARecord {
	c := decimal.Zero
	if cost != "" {
		c = decimal.RequireFromString(cost)
	}
	return &models.QARecord{
		Question:      "q",
		Answer:        "a",
		Accuracy:      accuracy,
		Cost:          c,
		QuestionOrder: order,
	}
}

func TestRollupCostIsExact(t *testing.T) {
	r := newRollup()
	r.apply(record("", "1.50", 1))
	r.apply(record("", "2.25", 2))

	stats := r.snapshot(uuid.New())
	assert.Equal(t, "3.75", stats.TotalCost)
	assert.Equal(t, 2, stats.TotalQuestions)
}

func TestRollupCostAvoidsFloatDrift(t *testing.T) {
	// 0.1 added ten times is exactly 1.00 in decimal arithmetic.
	r := newRollup()
	for i := 1; i <= 10; i++ {
		r.apply(record("", "0.1", i))
	}
	assert.Equal(t, "1.00", r.snapshot(uuid.New()).TotalCost)
}

func TestRollupAverageSkipsNonNumericAccuracy(t *testing.T) {
	r := newRollup()
	r.apply(record("80", "0", 1))
	r.apply(record("good", "0", 2))
	r.apply(record("90", "0", 3))
	r.apply(record("", "0", 4))

	stats := r.snapshot(uuid.New())
	assert.Equal(t, 4, stats.TotalQuestions)
	assert.Equal(t, "85.00", stats.AvgAccuracy)
}

func TestRollupAverageEmptyUntilNumericSeen(t *testing.T) {
	r := newRollup()
	r.apply(record("excellent", "1.00", 1))

	stats := r.snapshot(uuid.New())
	assert.Equal(t, "", stats.AvgAccuracy)
	assert.Equal(t, 1, stats.TotalQuestions)
}

func TestRollupAcceptsPercentSuffix(t *testing.T) {
	r := newRollup()
	r.apply(record("87.5%", "0", 1))
	r.apply(record(" 92.5 ", "0", 2))

	assert.Equal(t, "90.00", r.snapshot(uuid.New()).AvgAccuracy)
}

func TestReplayAgreesWithIncremental(t *testing.T) {
	records := []*models.QARecord{
		record("80", "1.50", 1),
		record("poor", "0.25", 2),
		record("95.5", "2.25", 3),
		record("60%", "0.10", 4),
		record("", "3.00", 5),
	}

	incremental := newRollup()
	for _, rec := range records {
		incremental.apply(rec)
	}
	replayed := replayRollup(records)

	sessionID := uuid.New()
	assert.Equal(t, replayed.snapshot(sessionID), incremental.snapshot(sessionID))
}

func TestRollupOrderIndependent(t *testing.T) {
	records := []*models.QARecord{
		record("70", "0.50", 1),
		record("80", "1.25", 2),
		record("90", "0.75", 3),
		record("bad", "0.05", 4),
	}

	want := replayRollup(records).snapshot(uuid.Nil)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := make([]*models.QARecord, len(records))
		copy(shuffled, records)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})

		got := replayRollup(shuffled).snapshot(uuid.Nil)
		require.Equal(t, want.TotalQuestions, got.TotalQuestions)
		require.Equal(t, want.TotalCost, got.TotalCost)
		require.InDelta(t, 80.0, mustParse(t, got.AvgAccuracy), 0.001)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	base := newRollup()
	base.apply(record("50", "1.00", 1))

	staged := base.clone()
	staged.apply(record("100", "2.00", 2))

	assert.Equal(t, 1, base.totalQuestions)
	assert.Equal(t, "1.00", base.snapshot(uuid.Nil).TotalCost)
	assert.Equal(t, 2, staged.totalQuestions)
	assert.Equal(t, "3.00", staged.snapshot(uuid.Nil).TotalCost)
}

func TestParseAccuracy(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"87.5", 87.5, true},
		{"87.5%", 87.5, true},
		{"  90 ", 90, true},
		{"0", 0, true},
		{"good", 0, false},
		{"", 0, false},
		{"%", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseAccuracy(tt.in)
		assert.Equal(t, tt.ok, ok, "input %q", tt.in)
		if ok {
			assert.Equal(t, tt.want, got, "input %q", tt.in)
		}
	}
}

func mustParse(t *testing.T, s string) float64 {
	t.Helper()
	v, ok := parseAccuracy(s)
	require.True(t, ok)
	return v
}
