package postgres

import (
	"context"
	"errors"
	"fmt"

	"metasync-import-service/internal/core/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresApiConfigAdapter - учетные данные внешнего API в таблице api_config
type PostgresApiConfigAdapter struct {
	pool *pgxpool.Pool
}

func NewPostgresApiConfigAdapter(pool *pgxpool.Pool) *PostgresApiConfigAdapter {
	return &PostgresApiConfigAdapter{pool: pool}
}

// GetActive возвращает активную конфигурацию для запуска импорта
func (a *PostgresApiConfigAdapter) GetActive(ctx context.Context) (*domain.ApiConfig, error) {
	cfg := &domain.ApiConfig{}
	err := a.pool.QueryRow(ctx, `
		SELECT id, api_key, company_id, channel, active, updated_at
		FROM api_config
		WHERE active
		ORDER BY updated_at DESC
		LIMIT 1
	`).Scan(&cfg.ID, &cfg.ApiKey, &cfg.CompanyID, &cfg.Channel, &cfg.Active, &cfg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNoActiveApiConfig
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query api config: %w", err)
	}
	return cfg, nil
}

// Update сохраняет конфигурацию; активная конфигурация всегда одна
func (a *PostgresApiConfigAdapter) Update(ctx context.Context, cfg *domain.ApiConfig) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if cfg.Active {
		if _, err := tx.Exec(ctx, `UPDATE api_config SET active = FALSE WHERE active`); err != nil {
			return fmt.Errorf("failed to deactivate previous api config: %w", err)
		}
	}

	if cfg.ID > 0 {
		tag, err := tx.Exec(ctx, `
			UPDATE api_config
			SET api_key = $2, company_id = $3, channel = $4, active = $5, updated_at = NOW()
			WHERE id = $1
		`, cfg.ID, cfg.ApiKey, cfg.CompanyID, cfg.Channel, cfg.Active)
		if err != nil {
			return fmt.Errorf("failed to update api config: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("api config %d not found", cfg.ID)
		}
	} else {
		err := tx.QueryRow(ctx, `
			INSERT INTO api_config (api_key, company_id, channel, active)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, cfg.ApiKey, cfg.CompanyID, cfg.Channel, cfg.Active).Scan(&cfg.ID)
		if err != nil {
			return fmt.Errorf("failed to insert api config: %w", err)
		}
	}

	return tx.Commit(ctx)
}
