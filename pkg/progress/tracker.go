package progress

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qaforge/qagen-engine/pkg/apperrors"
)

// Tracker is the registry of live runs. It owns one estimator and one
// broadcaster per run and republishes a snapshot after every mutation.
type Tracker struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*trackedRun

	window     time.Duration
	maxSamples int
	logger     *zap.Logger
}

type trackedRun struct {
	estimator   *Estimator
	broadcaster *Broadcaster
}

// NewTracker creates an empty tracker. window and maxSamples configure the
// speed estimator of every run it starts.
func NewTracker(window time.Duration, maxSamples int, logger *zap.Logger) *Tracker {
	return &Tracker{
		runs:       make(map[uuid.UUID]*trackedRun),
		window:     window,
		maxSamples: maxSamples,
		logger:     logger,
	}
}

// StartRun registers a new run for a session and returns its id. The run
// starts idle; the first tick moves it to running.
func (t *Tracker) StartRun(sessionID uuid.UUID) uuid.UUID {
	runID := uuid.New()
	run := &trackedRun{
		estimator:   NewEstimator(runID, sessionID, t.window, t.maxSamples),
		broadcaster: NewBroadcaster(),
	}

	t.mu.Lock()
	t.runs[runID] = run
	t.mu.Unlock()

	t.logger.Info("run started",
		zap.String("run_id", runID.String()),
		zap.String("session_id", sessionID.String()))

	run.broadcaster.Publish(run.estimator.Snapshot())
	return runID
}

// Tick records that delta more units completed for a run. Ticks that arrive
// after the run reached a terminal state are logged and dropped rather than
// failing the producer.
func (t *Tracker) Tick(runID uuid.UUID, delta int64) error {
	run, err := t.run(runID)
	if err != nil {
		return err
	}

	if err := run.estimator.Tick(delta); err != nil {
		if errors.Is(err, apperrors.ErrInvalidRunState) {
			t.logger.Warn("dropping tick for finished run",
				zap.String("run_id", runID.String()),
				zap.Int64("units_delta", delta))
			return nil
		}
		return err
	}

	run.broadcaster.Publish(run.estimator.Snapshot())
	return nil
}

// SetTotal declares the expected unit count for a run.
func (t *Tracker) SetTotal(runID uuid.UUID, total int64) error {
	run, err := t.run(runID)
	if err != nil {
		return err
	}
	if err := run.estimator.SetTotal(total); err != nil {
		return err
	}
	run.broadcaster.Publish(run.estimator.Snapshot())
	return nil
}

// Complete marks a run finished.
func (t *Tracker) Complete(runID uuid.UUID) error {
	return t.finish(runID, func(e *Estimator) error { return e.Complete() })
}

// Fail marks a run failed with a reason.
func (t *Tracker) Fail(runID uuid.UUID, reason string) error {
	return t.finish(runID, func(e *Estimator) error { return e.Fail(reason) })
}

// Cancel marks a run cancelled.
func (t *Tracker) Cancel(runID uuid.UUID) error {
	return t.finish(runID, func(e *Estimator) error { return e.Cancel() })
}

func (t *Tracker) finish(runID uuid.UUID, op func(*Estimator) error) error {
	run, err := t.run(runID)
	if err != nil {
		return err
	}
	if err := op(run.estimator); err != nil {
		return err
	}
	run.broadcaster.Publish(run.estimator.Snapshot())
	return nil
}

// Snapshot returns the current progress view of a run.
func (t *Tracker) Snapshot(runID uuid.UUID) (Snapshot, error) {
	run, err := t.run(runID)
	if err != nil {
		return Snapshot{}, err
	}
	return run.estimator.Snapshot(), nil
}

// Subscribe attaches a consumer to a run's snapshot stream. The current
// snapshot is delivered immediately so subscribers never start blind.
func (t *Tracker) Subscribe(runID uuid.UUID) (<-chan Snapshot, func(), error) {
	run, err := t.run(runID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := run.broadcaster.Subscribe()
	run.broadcaster.Publish(run.estimator.Snapshot())
	return ch, cancel, nil
}

// Remove drops a run from the registry and closes its broadcaster. Intended
// for cleanup after a terminal snapshot has been observed.
func (t *Tracker) Remove(runID uuid.UUID) {
	t.mu.Lock()
	run, ok := t.runs[runID]
	if ok {
		delete(t.runs, runID)
	}
	t.mu.Unlock()

	if ok {
		run.broadcaster.Close()
	}
}

func (t *Tracker) run(runID uuid.UUID) (*trackedRun, error) {
	t.mu.RLock()
	run, ok := t.runs[runID]
	t.mu.RUnlock()
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return run, nil
}
