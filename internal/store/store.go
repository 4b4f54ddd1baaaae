package store

import (
	"context"
	"time"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Run is one pipeline execution.
type Run struct {
	ID          string
	Workflow    string
	Status      string
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// ElementRecord is the persisted outcome of one workflow element within a run.
type ElementRecord struct {
	RunID       string
	Name        string
	Type        string
	ContentHash string
	Produced    []string
	DurationMs  int64
	Status      string
}

// Store persists run history for later inspection. Persistence is optional;
// the pipeline runs without a store when none is configured.
type Store interface {
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, id, status, errMsg string) error
	RecordElement(ctx context.Context, rec *ElementRecord) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListElements(ctx context.Context, runID string) ([]ElementRecord, error)
	Close() error
}
