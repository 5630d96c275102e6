package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-reportflow/core"
	"github.com/uptrace/bun"
)

type ExecutionStore struct {
	db   *bun.DB
	repo repository.Repository[*executionRecord]
}

func NewExecutionStore(db *bun.DB) (*ExecutionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*executionRecord](db, executionHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid execution repository wiring: %w", err)
		}
	}
	return &ExecutionStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *ExecutionStore) Create(ctx context.Context, execution core.WorkflowExecution) (core.WorkflowExecution, error) {
	if s == nil || s.db == nil {
		return core.WorkflowExecution{}, fmt.Errorf("sqlstore: execution store is not configured")
	}
	record := executionToRecord(execution)
	if record.ID == "" || record.TenantID == "" || record.JobRunID == "" {
		return core.WorkflowExecution{}, fmt.Errorf("sqlstore: execution id, tenant id, and job run id are required")
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return core.WorkflowExecution{}, fmt.Errorf(
				"sqlstore: execution already exists for job run %q: %w",
				record.JobRunID, err,
			)
		}
		return core.WorkflowExecution{}, err
	}
	return executionToDomain(record), nil
}

func (s *ExecutionStore) Get(ctx context.Context, id string) (core.WorkflowExecution, error) {
	return s.getBy(ctx, "id", strings.TrimSpace(id))
}

func (s *ExecutionStore) GetByJobRun(ctx context.Context, jobRunID string) (core.WorkflowExecution, error) {
	return s.getBy(ctx, "job_run_id", strings.TrimSpace(jobRunID))
}

func (s *ExecutionStore) getBy(ctx context.Context, column string, value string) (core.WorkflowExecution, error) {
	if s == nil || s.db == nil {
		return core.WorkflowExecution{}, fmt.Errorf("sqlstore: execution store is not configured")
	}
	if value == "" {
		return core.WorkflowExecution{}, fmt.Errorf("sqlstore: execution %s is required", column)
	}
	record := &executionRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias."+column+" = ?", value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.WorkflowExecution{}, fmt.Errorf("%w: %s %q", core.ErrExecutionNotFound, column, value)
		}
		return core.WorkflowExecution{}, err
	}
	return executionToDomain(record), nil
}

// Transition persists the execution guarded by the expected stored state.
// Zero rows affected means another worker moved the execution first; the
// caller receives ErrWorkflowStateStale and must treat its task as stale.
func (s *ExecutionStore) Transition(
	ctx context.Context,
	execution core.WorkflowExecution,
	expected core.WorkflowState,
) (core.WorkflowExecution, error) {
	if s == nil || s.db == nil {
		return core.WorkflowExecution{}, fmt.Errorf("sqlstore: execution store is not configured")
	}
	record := executionToRecord(execution)
	if record.ID == "" {
		return core.WorkflowExecution{}, fmt.Errorf("sqlstore: execution id is required")
	}
	record.UpdatedAt = time.Now().UTC()

	result, err := s.db.NewUpdate().
		Model(record).
		WherePK().
		Where("?TableAlias.current_state = ?", string(expected)).
		Exec(ctx)
	if err != nil {
		return core.WorkflowExecution{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.WorkflowExecution{}, err
	}
	if affected == 0 {
		if _, getErr := s.Get(ctx, record.ID); getErr != nil {
			return core.WorkflowExecution{}, getErr
		}
		return core.WorkflowExecution{}, fmt.Errorf(
			"%w: execution %s expected %s",
			core.ErrWorkflowStateStale, record.ID, expected,
		)
	}
	return executionToDomain(record), nil
}

var _ core.ExecutionStore = (*ExecutionStore)(nil)
