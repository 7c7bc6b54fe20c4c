// Package postgres persists trigger events, pipeline runs and stage
// results. The pipeline itself never depends on persistence being up;
// the store is bookkeeping for the read API and the reconciler.
package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/han0110/zkevm-chain/internal/domain"
	"github.com/han0110/zkevm-chain/internal/pipeline"
)

// Store implements the orchestrator, pipeline, api and reconciler store
// interfaces using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL store with the given database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// InsertEvent records a received trigger event.
func (s *Store) InsertEvent(ctx context.Context, event domain.TriggerEvent) error {
	_, err := s.db.ExecContext(ctx, queryInsertEvent,
		event.ID,
		string(event.Kind),
		string(event.Action),
		pq.StringArray(event.Labels),
		event.PRNumber,
		event.Ref,
		event.ReceivedAt,
	)
	return err
}

// CreateRun inserts a new pipeline run record.
func (s *Store) CreateRun(ctx context.Context, run domain.PipelineRun) error {
	_, err := s.db.ExecContext(ctx, queryInsertRun,
		run.ID,
		run.EventID,
		string(run.GroupKey),
		string(run.Status),
		run.FailedStage,
		run.CreatedAt,
	)
	return err
}

// UpdateRunStatus updates the status of a run.
// Returns pipeline.ErrStatusTransitionDenied if the run is already in a
// terminal state. The guard lives in the WHERE clause so the check and
// the update are one atomic statement.
func (s *Store) UpdateRunStatus(ctx context.Context, runID uuid.UUID, status domain.RunStatus, failedStage string) error {
	result, err := s.db.ExecContext(ctx, queryUpdateRunStatus, string(status), failedStage, runID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		// Either the run does not exist or it is already terminal.
		var currentStatus string
		err := s.db.QueryRowContext(ctx, queryGetRunStatus, runID).Scan(&currentStatus)
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		if err != nil {
			return err
		}
		return pipeline.ErrStatusTransitionDenied
	}

	return nil
}

// InsertStageResult appends one stage outcome to a run.
func (s *Store) InsertStageResult(ctx context.Context, runID uuid.UUID, result domain.StageResult) error {
	_, err := s.db.ExecContext(ctx, queryInsertStageResult,
		runID,
		result.Stage,
		result.ExitCode,
		result.StartedAt,
		result.FinishedAt,
	)
	return err
}

// GetRun returns a run with its stage results.
func (s *Store) GetRun(ctx context.Context, runID uuid.UUID) (domain.PipelineRun, error) {
	run, err := s.scanRun(s.db.QueryRowContext(ctx, queryGetRun, runID))
	if err != nil {
		return domain.PipelineRun{}, err
	}

	rows, err := s.db.QueryContext(ctx, queryGetStageResults, runID)
	if err != nil {
		return domain.PipelineRun{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var res domain.StageResult
		if err := rows.Scan(&res.Stage, &res.ExitCode, &res.StartedAt, &res.FinishedAt); err != nil {
			return domain.PipelineRun{}, err
		}
		run.StageResults = append(run.StageResults, res)
	}
	if err := rows.Err(); err != nil {
		return domain.PipelineRun{}, err
	}

	return run, nil
}

// ListRuns returns runs ordered newest first, paginated by limit and offset.
func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]domain.PipelineRun, error) {
	return s.queryRuns(ctx, queryListRuns, limit, offset)
}

// GetOrphanedRuns returns runs stuck in a non-terminal status that were
// created before the given threshold time, oldest first.
func (s *Store) GetOrphanedRuns(ctx context.Context, olderThan time.Time, maxResults int) ([]domain.PipelineRun, error) {
	return s.queryRuns(ctx, queryGetOrphanedRuns, olderThan, maxResults)
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]domain.PipelineRun, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.PipelineRun
	for rows.Next() {
		run, err := s.scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanRun(row rowScanner) (domain.PipelineRun, error) {
	var run domain.PipelineRun
	var status string
	var startedAt, finishedAt sql.NullTime

	err := row.Scan(
		&run.ID,
		&run.EventID,
		&run.GroupKey,
		&status,
		&run.FailedStage,
		&run.CreatedAt,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return domain.PipelineRun{}, err
	}
	run.Status = domain.RunStatus(status)
	if startedAt.Valid {
		run.StartedAt = startedAt.Time
	}
	if finishedAt.Valid {
		run.FinishedAt = finishedAt.Time
	}
	return run, nil
}

// Compile-time interface assertion
var _ pipeline.Store = (*Store)(nil)
