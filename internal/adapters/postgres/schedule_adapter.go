package postgres

import (
	"context"
	"fmt"
	"time"

	"metasync-import-service/internal/core/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresScheduleAdapter - персистентные расписания импорта
type PostgresScheduleAdapter struct {
	pool *pgxpool.Pool
}

func NewPostgresScheduleAdapter(pool *pgxpool.Pool) *PostgresScheduleAdapter {
	return &PostgresScheduleAdapter{pool: pool}
}

const selectScheduleSQL = `
	SELECT id, kind, frequency_seconds, start_time, active, full_import, last_run_at, next_run_at
	FROM import_schedules`

func (a *PostgresScheduleAdapter) List(ctx context.Context) ([]*domain.ImportSchedule, error) {
	rows, err := a.pool.Query(ctx, selectScheduleSQL+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*domain.ImportSchedule
	for rows.Next() {
		s := &domain.ImportSchedule{}
		var freqSeconds int64
		if err := rows.Scan(&s.ID, &s.Kind, &freqSeconds, &s.StartTime, &s.Active, &s.FullImport, &s.LastRunAt, &s.NextRunAt); err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		s.Frequency = time.Duration(freqSeconds) * time.Second
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// Save создает или обновляет расписание; kind уникален
func (a *PostgresScheduleAdapter) Save(ctx context.Context, s *domain.ImportSchedule) error {
	err := a.pool.QueryRow(ctx, `
		INSERT INTO import_schedules (kind, frequency_seconds, start_time, active, full_import, last_run_at, next_run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (kind) DO UPDATE SET
			frequency_seconds = EXCLUDED.frequency_seconds,
			start_time = EXCLUDED.start_time,
			active = EXCLUDED.active,
			full_import = EXCLUDED.full_import,
			last_run_at = EXCLUDED.last_run_at,
			next_run_at = EXCLUDED.next_run_at
		RETURNING id
	`, s.Kind, int64(s.Frequency/time.Second), s.StartTime, s.Active, s.FullImport, s.LastRunAt, s.NextRunAt).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}
	return nil
}

// SeedDefaults создает расписания по умолчанию, если таблица пуста
func (a *PostgresScheduleAdapter) SeedDefaults(ctx context.Context) error {
	var count int64
	if err := a.pool.QueryRow(ctx, `SELECT COUNT(*) FROM import_schedules`).Scan(&count); err != nil {
		return fmt.Errorf("failed to count schedules: %w", err)
	}
	if count > 0 {
		return nil
	}

	now := time.Now()
	for _, s := range domain.DefaultSchedules() {
		if next, err := s.ComputeNextRun(now); err == nil {
			s.NextRunAt = &next
		}
		if err := a.Save(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// FindDue возвращает активные расписания, чье время пришло или просрочено
func (a *PostgresScheduleAdapter) FindDue(ctx context.Context) ([]*domain.ImportSchedule, error) {
	rows, err := a.pool.Query(ctx, selectScheduleSQL+`
		WHERE active AND (next_run_at IS NULL OR next_run_at <= NOW())
		ORDER BY next_run_at NULLS FIRST
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query due schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*domain.ImportSchedule
	for rows.Next() {
		s := &domain.ImportSchedule{}
		var freqSeconds int64
		if err := rows.Scan(&s.ID, &s.Kind, &freqSeconds, &s.StartTime, &s.Active, &s.FullImport, &s.LastRunAt, &s.NextRunAt); err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		s.Frequency = time.Duration(freqSeconds) * time.Second
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}
