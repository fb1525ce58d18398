package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"metasync-import-service/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresImportLedgerAdapter - персистентный журнал запусков импорта
type PostgresImportLedgerAdapter struct {
	pool *pgxpool.Pool
}

func NewPostgresImportLedgerAdapter(pool *pgxpool.Pool) *PostgresImportLedgerAdapter {
	return &PostgresImportLedgerAdapter{pool: pool}
}

func (a *PostgresImportLedgerAdapter) Create(ctx context.Context, run *domain.ImportRun) error {
	errorList, details, err := marshalRunJSON(run)
	if err != nil {
		return err
	}

	_, err = a.pool.Exec(ctx, `
		INSERT INTO import_runs (
			id, kind, status, full_import,
			total, processed, inserted, updated, deactivated, errors, batches,
			progress, last_cursor, current_step, error_list, details,
			created_at, started_at, finished_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`, run.ID, run.Kind, run.Status, run.FullImport,
		run.Counters.Total, run.Counters.Processed, run.Counters.Inserted,
		run.Counters.Updated, run.Counters.Deactivated, run.Counters.Errors, run.Counters.Batches,
		run.Progress, run.LastCursor, run.CurrentStep, errorList, details,
		run.CreatedAt, run.StartedAt, run.FinishedAt)
	if isActiveRunConflict(err) {
		return fmt.Errorf("%s: %w", run.Kind, domain.ErrRunAlreadyActive)
	}
	if err != nil {
		return fmt.Errorf("failed to insert import run: %w", err)
	}
	return nil
}

// isActiveRunConflict распознает нарушение частичного уникального индекса
// uq_import_runs_active_kind
func isActiveRunConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) &&
		pgErr.Code == "23505" && // unique_violation
		pgErr.ConstraintName == "uq_import_runs_active_kind"
}

// Update сохраняет состояние запуска. Терминальные записи неизменяемы:
// попытка их перезаписать другим статусом не затрагивает строку.
func (a *PostgresImportLedgerAdapter) Update(ctx context.Context, run *domain.ImportRun) error {
	errorList, details, err := marshalRunJSON(run)
	if err != nil {
		return err
	}

	tag, err := a.pool.Exec(ctx, `
		UPDATE import_runs
		SET status = $2, total = $3, processed = $4, inserted = $5, updated = $6,
		    deactivated = $7, errors = $8, batches = $9, progress = $10,
		    last_cursor = $11, current_step = $12, error_list = $13, details = $14,
		    started_at = $15, finished_at = $16
		WHERE id = $1
		  AND (status NOT IN ('completed', 'failed', 'partial') OR status = $2)
	`, run.ID, run.Status,
		run.Counters.Total, run.Counters.Processed, run.Counters.Inserted,
		run.Counters.Updated, run.Counters.Deactivated, run.Counters.Errors, run.Counters.Batches,
		run.Progress, run.LastCursor, run.CurrentStep, errorList, details,
		run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to update import run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("import run %s: %w", run.ID, domain.ErrInvalidTransition)
	}
	return nil
}

// IncrementCounters атомарно прибавляет дельту, не трогая остальные поля.
// Безопасно при конкурентных записях прогресса.
func (a *PostgresImportLedgerAdapter) IncrementCounters(ctx context.Context, id uuid.UUID, delta domain.RunCounters) error {
	tag, err := a.pool.Exec(ctx, `
		UPDATE import_runs
		SET processed = processed + $2,
		    inserted = inserted + $3,
		    updated = updated + $4,
		    deactivated = deactivated + $5,
		    errors = errors + $6,
		    batches = batches + $7,
		    total = GREATEST(total, $8),
		    progress = CASE
		        WHEN GREATEST(total, $8) > 0
		            THEN LEAST((processed + $2) * 100 / GREATEST(total, $8), 100)
		        ELSE progress
		    END
		WHERE id = $1 AND status = 'in_progress'
	`, id, delta.Processed, delta.Inserted, delta.Updated,
		delta.Deactivated, delta.Errors, delta.Batches, delta.Total)
	if err != nil {
		return fmt.Errorf("failed to increment run counters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

func (a *PostgresImportLedgerAdapter) FindByID(ctx context.Context, id uuid.UUID) (*domain.ImportRun, error) {
	row := a.pool.QueryRow(ctx, selectRunSQL+` WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRunNotFound
	}
	return run, err
}

func (a *PostgresImportLedgerAdapter) FindRecent(ctx context.Context, limit, offset int) ([]*domain.ImportRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.pool.Query(ctx, selectRunSQL+`
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*domain.ImportRun, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (a *PostgresImportLedgerAdapter) FindLastCompleted(ctx context.Context, kind domain.ImportKind) (*domain.ImportRun, error) {
	row := a.pool.QueryRow(ctx, selectRunSQL+`
		WHERE kind = $1 AND status = 'completed'
		ORDER BY finished_at DESC
		LIMIT 1
	`, kind)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

func (a *PostgresImportLedgerAdapter) FindActive(ctx context.Context, kind domain.ImportKind) (*domain.ImportRun, error) {
	row := a.pool.QueryRow(ctx, selectRunSQL+`
		WHERE kind = $1 AND status IN ('pending', 'in_progress')
		ORDER BY created_at DESC
		LIMIT 1
	`, kind)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// FailStuck закрывает запуски, висящие in_progress дольше порога: процесс
// умер, не финализировав запись
func (a *PostgresImportLedgerAdapter) FailStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := a.pool.Exec(ctx, `
		UPDATE import_runs
		SET status = 'failed',
		    finished_at = NOW(),
		    error_list = error_list || to_jsonb(ARRAY['run marked as stuck by watchdog'])
		WHERE status = 'in_progress' AND started_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stuck runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

const selectRunSQL = `
	SELECT id, kind, status, full_import,
	       total, processed, inserted, updated, deactivated, errors, batches,
	       progress, last_cursor, current_step, error_list, details,
	       created_at, started_at, finished_at
	FROM import_runs`

func scanRun(row pgx.Row) (*domain.ImportRun, error) {
	run := &domain.ImportRun{}
	var errorList, details []byte

	err := row.Scan(
		&run.ID, &run.Kind, &run.Status, &run.FullImport,
		&run.Counters.Total, &run.Counters.Processed, &run.Counters.Inserted,
		&run.Counters.Updated, &run.Counters.Deactivated, &run.Counters.Errors, &run.Counters.Batches,
		&run.Progress, &run.LastCursor, &run.CurrentStep, &errorList, &details,
		&run.CreatedAt, &run.StartedAt, &run.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(errorList, &run.ErrorList); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run error list: %w", err)
	}
	if err := json.Unmarshal(details, &run.Details); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run details: %w", err)
	}
	return run, nil
}

func marshalRunJSON(run *domain.ImportRun) ([]byte, []byte, error) {
	errorList, err := json.Marshal(run.ErrorList)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal run error list: %w", err)
	}
	details, err := json.Marshal(run.Details)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal run details: %w", err)
	}
	return errorList, details, nil
}
