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

type StepStore struct {
	db   *bun.DB
	repo repository.Repository[*stepRecord]
}

func NewStepStore(db *bun.DB) (*StepStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*stepRecord](db, stepHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid step repository wiring: %w", err)
		}
	}
	return &StepStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *StepStore) CreateBatch(ctx context.Context, steps []core.WorkflowStep) ([]core.WorkflowStep, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: step store is not configured")
	}
	if len(steps) == 0 {
		return []core.WorkflowStep{}, nil
	}
	records := make([]*stepRecord, 0, len(steps))
	for _, step := range steps {
		record := stepToRecord(step)
		if record.ID == "" || record.ExecutionID == "" || record.Name == "" {
			return nil, fmt.Errorf("sqlstore: step id, execution id, and name are required")
		}
		records = append(records, record)
	}
	if _, err := s.db.NewInsert().Model(&records).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("sqlstore: duplicate step order within execution: %w", err)
		}
		return nil, err
	}
	out := make([]core.WorkflowStep, 0, len(records))
	for _, record := range records {
		out = append(out, stepToDomain(record))
	}
	return out, nil
}

func (s *StepStore) Get(ctx context.Context, id string) (core.WorkflowStep, error) {
	if s == nil || s.db == nil {
		return core.WorkflowStep{}, fmt.Errorf("sqlstore: step store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.WorkflowStep{}, fmt.Errorf("sqlstore: step id is required")
	}
	record := &stepRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.WorkflowStep{}, fmt.Errorf("%w: id %q", core.ErrStepNotFound, id)
		}
		return core.WorkflowStep{}, err
	}
	return stepToDomain(record), nil
}

func (s *StepStore) ListByExecution(ctx context.Context, executionID string) ([]core.WorkflowStep, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: step store is not configured")
	}
	executionID = strings.TrimSpace(executionID)
	if executionID == "" {
		return nil, fmt.Errorf("sqlstore: execution id is required")
	}
	records := []*stepRecord{}
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.workflow_execution_id = ?", executionID).
		Order("step_order ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	steps := make([]core.WorkflowStep, 0, len(records))
	for _, record := range records {
		steps = append(steps, stepToDomain(record))
	}
	return steps, nil
}

func (s *StepStore) Update(ctx context.Context, step core.WorkflowStep) (core.WorkflowStep, error) {
	if s == nil || s.db == nil {
		return core.WorkflowStep{}, fmt.Errorf("sqlstore: step store is not configured")
	}
	record := stepToRecord(step)
	if record.ID == "" {
		return core.WorkflowStep{}, fmt.Errorf("sqlstore: step id is required")
	}
	result, err := s.db.NewUpdate().
		Model(record).
		WherePK().
		Exec(ctx)
	if err != nil {
		return core.WorkflowStep{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.WorkflowStep{}, err
	}
	if affected == 0 {
		return core.WorkflowStep{}, fmt.Errorf("%w: id %q", core.ErrStepNotFound, record.ID)
	}
	return stepToDomain(record), nil
}

// ListDueRetries returns retrying steps whose next_retry_at has passed,
// oldest first, so the queue runtime can re-seed lost delayed tasks.
func (s *StepStore) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]core.WorkflowStep, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: step store is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	records := []*stepRecord{}
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.status = ?", string(core.StepStatusRetrying)).
		Where("?TableAlias.next_retry_at IS NOT NULL").
		Where("?TableAlias.next_retry_at <= ?", now.UTC()).
		Order("next_retry_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	steps := make([]core.WorkflowStep, 0, len(records))
	for _, record := range records {
		steps = append(steps, stepToDomain(record))
	}
	return steps, nil
}

var _ core.StepStore = (*StepStore)(nil)
