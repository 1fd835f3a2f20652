// Package progress tracks generation run progress: a sliding-window speed
// estimator, lifecycle state machine, and a non-blocking snapshot broadcaster.
package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qaforge/qagen-engine/pkg/apperrors"
)

// RunStatus is the lifecycle state of a generation run.
type RunStatus string

const (
	StatusIdle      RunStatus = "idle"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Snapshot is a point-in-time view of a run's progress. Snapshots are
// self-contained values, safe to hand across goroutines.
type Snapshot struct {
	RunID     uuid.UUID `json:"run_id"`
	SessionID uuid.UUID `json:"session_id"`
	Status    RunStatus `json:"status"`
	UnitsDone int64     `json:"units_done"`

	// Total is nil while the run size is unknown.
	Total *int64 `json:"total,omitempty"`

	// FractionComplete is nil while Total is unknown; otherwise clamped to
	// [0, 1] even if the producer overshoots.
	FractionComplete *float64 `json:"fraction_complete,omitempty"`

	// Speed is units per second over the sliding window. Zero when fewer
	// than two samples are in the window.
	Speed float64 `json:"speed"`

	// ETASeconds is nil unless Total is known and Speed is positive.
	ETASeconds *float64 `json:"eta_seconds,omitempty"`

	SpeedDisplay string `json:"speed_display"`
	ETADisplay   string `json:"eta_display,omitempty"`

	// FailureReason is set only when Status is failed.
	FailureReason string `json:"failure_reason,omitempty"`

	At time.Time `json:"at"`
}

// sample is one observation of cumulative completed units.
type sample struct {
	at    time.Time
	units int64
}

// Estimator maintains the progress state of a single run. All methods are
// safe for concurrent use.
type Estimator struct {
	mu sync.Mutex

	runID     uuid.UUID
	sessionID uuid.UUID

	status        RunStatus
	unitsDone     int64
	total         *int64
	failureReason string

	window     time.Duration
	maxSamples int
	samples    []sample

	now func() time.Time
}

// NewEstimator creates an estimator in the idle state. window is the span
// over which speed is computed; maxSamples bounds memory per run.
func NewEstimator(runID, sessionID uuid.UUID, window time.Duration, maxSamples int) *Estimator {
	if maxSamples < 2 {
		maxSamples = 2
	}
	return &Estimator{
		runID:      runID,
		sessionID:  sessionID,
		status:     StatusIdle,
		window:     window,
		maxSamples: maxSamples,
		now:        time.Now,
	}
}

// Tick records that delta more units completed since the last tick. A zero
// delta is a heartbeat: it refreshes the sample window without moving the
// counter. The first tick moves the run from idle to running. Ticks on a
// terminal run return apperrors.ErrInvalidRunState.
func (e *Estimator) Tick(delta int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status.Terminal() {
		return apperrors.ErrInvalidRunState
	}
	if e.status == StatusIdle {
		e.status = StatusRunning
	}
	if delta < 0 {
		// Counters never go backwards; a confused producer is ignored.
		return nil
	}

	e.unitsDone += delta
	e.addSample(sample{at: e.now(), units: e.unitsDone})

	if e.total != nil && e.unitsDone >= *e.total {
		e.status = StatusCompleted
	}
	return nil
}

// SetTotal declares or revises the expected run size. Passing a total at or
// below the units already done completes the run.
func (e *Estimator) SetTotal(total int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status.Terminal() {
		return apperrors.ErrInvalidRunState
	}
	e.total = &total
	if e.status == StatusRunning && e.unitsDone >= total {
		e.status = StatusCompleted
	}
	return nil
}

// Complete marks the run finished regardless of counters.
func (e *Estimator) Complete() error {
	return e.finish(StatusCompleted, "")
}

// Fail marks the run failed with a reason.
func (e *Estimator) Fail(reason string) error {
	return e.finish(StatusFailed, reason)
}

// Cancel marks the run cancelled.
func (e *Estimator) Cancel() error {
	return e.finish(StatusCancelled, "")
}

func (e *Estimator) finish(status RunStatus, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status.Terminal() {
		return apperrors.ErrInvalidRunState
	}
	e.status = status
	e.failureReason = reason
	return nil
}

// Snapshot returns the current progress view.
func (e *Estimator) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	speed := e.speedLocked(now)

	snap := Snapshot{
		RunID:         e.runID,
		SessionID:     e.sessionID,
		Status:        e.status,
		UnitsDone:     e.unitsDone,
		Speed:         speed,
		SpeedDisplay:  FormatSpeed(speed),
		FailureReason: e.failureReason,
		At:            now,
	}

	if e.total != nil {
		total := *e.total
		snap.Total = &total

		fraction := 1.0
		if total > 0 {
			fraction = float64(e.unitsDone) / float64(total)
		}
		if fraction < 0 {
			fraction = 0
		}
		if fraction > 1 {
			fraction = 1
		}
		snap.FractionComplete = &fraction

		if e.status == StatusRunning && speed > 0 && e.unitsDone < total {
			eta := float64(total-e.unitsDone) / speed
			snap.ETASeconds = &eta
			snap.ETADisplay = FormatDuration(eta)
		}
	}

	return snap
}

// addSample appends while evicting samples that fell out of the window and
// enforcing the sample cap. The newest pre-window sample is retained as the
// speed baseline so a sparse producer still gets a full-window measurement.
func (e *Estimator) addSample(s sample) {
	e.samples = append(e.samples, s)

	cutoff := s.at.Add(-e.window)
	firstInWindow := len(e.samples)
	for i, existing := range e.samples {
		if !existing.at.Before(cutoff) {
			firstInWindow = i
			break
		}
	}
	if firstInWindow > 1 {
		e.samples = e.samples[firstInWindow-1:]
	}

	if len(e.samples) > e.maxSamples {
		e.samples = e.samples[len(e.samples)-e.maxSamples:]
	}
}

// speedLocked computes units per second between the window baseline and the
// newest sample. The baseline is the oldest in-window sample when at least
// two fall inside the window; with only one in-window sample the retained
// pre-window sample serves as baseline so sparse producers still measure.
// A run whose newest sample has aged out of the window is considered stalled
// and reports zero.
func (e *Estimator) speedLocked(now time.Time) float64 {
	if len(e.samples) < 2 {
		return 0
	}

	newest := e.samples[len(e.samples)-1]
	if newest.at.Before(now.Add(-e.window)) {
		return 0
	}

	cutoff := newest.at.Add(-e.window)
	first := 0
	for i, s := range e.samples {
		if !s.at.Before(cutoff) {
			first = i
			break
		}
	}

	var baseline sample
	switch {
	case len(e.samples)-first >= 2:
		baseline = e.samples[first]
	case first > 0:
		baseline = e.samples[first-1]
	default:
		baseline = e.samples[0]
	}

	elapsed := newest.at.Sub(baseline.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(newest.units-baseline.units) / elapsed
}
