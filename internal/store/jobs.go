package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/seantiz/gantry/internal/model"
)

// PutJob creates or replaces a job's tracked state.
func (s *SQLStore) PutJob(ctx context.Context, j *model.Job) error {
	_, err := s.exec(ctx,
		`INSERT INTO jobs (id, state, backend_code, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			state = excluded.state,
			backend_code = excluded.backend_code,
			updated_at = excluded.updated_at`,
		j.ID, j.State, j.BackendCode, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("put job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *SQLStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	j := &model.Job{}
	err := s.queryRow(ctx,
		"SELECT id, state, backend_code, updated_at FROM jobs WHERE id = ?", id,
	).Scan(&j.ID, &j.State, &j.BackendCode, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}
