package postgres

import (
	"context"
	"fmt"

	"metasync-import-service/internal/contextkeys"
	"metasync-import-service/internal/core/port"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRelationsAdapter - производный индекс автомобиль-запчасть.
// Не источник истины: строится целиком из основных таблиц и безопасно
// сбрасывается в любой момент.
type PostgresRelationsAdapter struct {
	pool *pgxpool.Pool
}

func NewPostgresRelationsAdapter(pool *pgxpool.Pool) *PostgresRelationsAdapter {
	return &PostgresRelationsAdapter{pool: pool}
}

// Rebuild полностью перестраивает индекс в одной транзакции
func (a *PostgresRelationsAdapter) Rebuild(ctx context.Context) (int64, error) {
	logger := contextkeys.LoggerFromContext(ctx)

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `TRUNCATE vehicle_parts`); err != nil {
		return 0, fmt.Errorf("failed to truncate vehicle_parts: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO vehicle_parts (vehicle_id, part_ref)
		SELECT v.local_id, p.ref_local
		FROM parts p
		JOIN vehicles v ON v.local_id = p.vehicle_id
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to rebuild vehicle_parts: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit relations rebuild: %w", err)
	}

	logger.Info("Relations index rebuilt", port.Fields{"relations": tag.RowsAffected()})
	return tag.RowsAffected(), nil
}
