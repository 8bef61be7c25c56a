package traffic

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shiftsmith/shiftsmith/models"
)

// Tracker keeps the status of in-flight and recently completed shifts so
// callers can poll by ID and cancel a running shift. It is an injected
// store, constructed per daemon (or per test).
type Tracker struct {
	mu     sync.RWMutex
	shifts map[string]*trackedShift
}

type trackedShift struct {
	status models.ShiftStatus
	cancel context.CancelFunc
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{shifts: make(map[string]*trackedShift)}
}

// Start registers a new shift and returns its ID together with the
// cancellable context the shift must run under.
func (t *Tracker) Start(ctx context.Context, strategy models.ShiftStrategy, old, new *models.Environment) (string, context.Context) {
	id := uuid.New().String()
	shiftCtx, cancel := context.WithCancel(ctx)

	status := models.ShiftStatus{
		ShiftID:   id,
		State:     models.ShiftRunning,
		Strategy:  strategy,
		NewEnv:    new.Name,
		StartedAt: time.Now(),
	}
	if old != nil {
		status.OldEnv = old.Name
	}

	t.mu.Lock()
	t.shifts[id] = &trackedShift{status: status, cancel: cancel}
	t.mu.Unlock()

	return id, shiftCtx
}

// Complete records a finished shift's result.
func (t *Tracker) Complete(id string, result *models.TrafficShiftResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts, ok := t.shifts[id]
	if !ok {
		return
	}
	if ts.status.State == models.ShiftRunning {
		ts.status.State = models.ShiftCompleted
	}
	result.ShiftID = id
	result.Strategy = ts.status.Strategy
	ts.status.Result = result
	ts.cancel()
}

// Cancel cancels a running shift. Returns false when the shift is unknown
// or already finished.
func (t *Tracker) Cancel(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts, ok := t.shifts[id]
	if !ok || ts.status.State != models.ShiftRunning {
		return false
	}
	ts.status.State = models.ShiftCancelled
	ts.cancel()
	return true
}

// Get returns a snapshot of a shift's status.
func (t *Tracker) Get(id string) (models.ShiftStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ts, ok := t.shifts[id]
	if !ok {
		return models.ShiftStatus{}, false
	}
	return ts.status, true
}
