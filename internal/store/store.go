package store

import (
	"context"
	"errors"

	"github.com/seantiz/gantry/internal/catalog"
	"github.com/seantiz/gantry/internal/model"
)

// ErrInvalidTransition is returned when a run state transition is not allowed.
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrNotFound is returned when a record is not found. It is the catalog
// sentinel so registry callers can match it without importing this package.
var ErrNotFound = catalog.ErrNotFound

// RunStats holds aggregate execution statistics.
type RunStats struct {
	Total         int            `json:"total"`
	CountByState  map[string]int `json:"count_by_state"`
	CountByKind   map[string]int `json:"count_by_kind"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations of the service: the catalog and
// deployment registry, credentials, run records and job states.
type Store interface {
	catalog.Registry
	catalog.CredentialStore

	PutStorageResource(ctx context.Context, r *model.StorageResource) error
	PutStoragePreference(ctx context.Context, p *model.StoragePreference) error
	PutGroupResourceProfile(ctx context.Context, p *model.GroupResourceProfile) error
	PutApplication(ctx context.Context, a *model.Application) error
	PutSSHCredential(ctx context.Context, c *model.SSHCredential) error

	CreateRun(ctx context.Context, r *model.TaskRun) error
	GetRun(ctx context.Context, id string) (*model.TaskRun, error)
	GetLatestRun(ctx context.Context, taskID string) (*model.TaskRun, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*model.TaskRun, int, error)
	UpdateRunState(ctx context.Context, id, state string) error
	FinishRun(ctx context.Context, r *model.TaskRun) error
	GetRunStats(ctx context.Context) (*RunStats, error)
	InsertEvent(ctx context.Context, runID string, seq int, line string) error
	GetEvents(ctx context.Context, runID string) ([]model.TaskEvent, error)

	PutJob(ctx context.Context, j *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)

	Close() error
}
