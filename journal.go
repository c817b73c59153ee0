package resourcesaga

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/btree"
)

// RunStatus is the lifecycle state of a persisted saga run.
type RunStatus string

const (
	RunRunning      RunStatus = "running"
	RunCompleted    RunStatus = "completed"
	RunCancelled    RunStatus = "cancelled"
	RunInconsistent RunStatus = "inconsistent"
	RunFailed       RunStatus = "failed"
)

// Terminal reports whether no further transition is expected for the run.
func (s RunStatus) Terminal() bool {
	return s != RunRunning
}

// RunRecord contains the information needed to reconcile a saga run after
// the fact. A record left in RunRunning with handles means the process
// stopped between the remote create and the end of the run.
type RunRecord struct {
	RunID     string        `json:"run_id"`
	Kind      Kind          `json:"kind"`
	ActorID   uuid.UUID     `json:"actor_id"`
	Status    RunStatus     `json:"status"`
	Stage     string        `json:"stage,omitempty"`
	Handles   []Handle      `json:"handles,omitempty"`
	Orphaned  []string      `json:"orphaned,omitempty"`
	Events    []HandleEvent `json:"events,omitempty"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Journal persists saga runs.
type Journal interface {
	// Save persists the current run state.
	Save(ctx context.Context, rec RunRecord) error

	// Load retrieves a run by id.
	Load(ctx context.Context, runID string) (*RunRecord, error)

	// List returns runs ordered by run id. An empty filter returns all runs.
	List(ctx context.Context, statuses ...RunStatus) ([]RunRecord, error)

	// Delete removes a run, typically after manual reconciliation.
	Delete(ctx context.Context, runID string) error
}

// MemoryJournal keeps runs in an ordered in-memory tree. Run ids are
// UUIDv7 so iteration order is creation order.
type MemoryJournal struct {
	mu   sync.RWMutex
	runs *btree.Map[string, RunRecord]
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{runs: btree.NewMap[string, RunRecord](0)}
}

func (m *MemoryJournal) Save(_ context.Context, rec RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec.Handles = append([]Handle(nil), rec.Handles...)
	rec.Orphaned = append([]string(nil), rec.Orphaned...)
	rec.Events = append([]HandleEvent(nil), rec.Events...)
	rec.UpdatedAt = time.Now().UTC()
	m.runs.Set(rec.RunID, rec)
	return nil
}

func (m *MemoryJournal) Load(_ context.Context, runID string) (*RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.runs.Get(runID)
	if !ok {
		return nil, ErrRunNotFound
	}
	return &rec, nil
}

func (m *MemoryJournal) List(_ context.Context, statuses ...RunStatus) ([]RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []RunRecord
	m.runs.Scan(func(_ string, rec RunRecord) bool {
		if matchStatus(rec.Status, statuses) {
			out = append(out, rec)
		}
		return true
	})
	return out, nil
}

func (m *MemoryJournal) Delete(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs.Delete(runID)
	return nil
}

func matchStatus(s RunStatus, filter []RunStatus) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == s {
			return true
		}
	}
	return false
}

// FindStale returns runs still marked running that have not been updated
// since olderThan before now, and inconsistent runs regardless of age.
// Both need an operator to check the remote service for leftovers.
func FindStale(ctx context.Context, j Journal, olderThan time.Duration, now time.Time) ([]RunRecord, error) {
	runs, err := j.List(ctx, RunRunning, RunInconsistent)
	if err != nil {
		return nil, err
	}

	cutoff := now.Add(-olderThan)
	stale := runs[:0]
	for _, r := range runs {
		if r.Status == RunInconsistent || r.UpdatedAt.Before(cutoff) {
			stale = append(stale, r)
		}
	}
	return stale, nil
}
