package postgres

import (
	"context"
	"fmt"
	"time"

	"metasync-import-service/internal/contextkeys"
	"metasync-import-service/internal/core/domain"
	"metasync-import-service/internal/core/port"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const vehicleChunkSize = 1000

// PostgresVehicleStorageAdapter - хранилище автомобилей поверх pgx
type PostgresVehicleStorageAdapter struct {
	pool *pgxpool.Pool
}

func NewPostgresVehicleStorageAdapter(pool *pgxpool.Pool) *PostgresVehicleStorageAdapter {
	return &PostgresVehicleStorageAdapter{pool: pool}
}

var vehicleColumns = []string{
	"local_id", "brand", "model", "version", "year", "fuel", "vin", "plate",
	"color", "mileage", "power", "doors", "images", "active",
	"active_parts_count", "created_at", "updated_at",
}

// SaveBatch идемпотентно сохраняет партию по ключу local_id. Атрибуты
// существующих записей перезаписываются целиком, created_at сохраняется.
// Ошибка чанка не валит партию: его записи дожимаются по одной, провалы
// попадают в статистику.
func (a *PostgresVehicleStorageAdapter) SaveBatch(ctx context.Context, vehicles []*domain.Vehicle) (*domain.BatchSaveStats, error) {
	logger := contextkeys.LoggerFromContext(ctx)
	repoLogger := logger.WithFields(port.Fields{
		"component":    "PostgresVehicleStorageAdapter",
		"method":       "SaveBatch",
		"record_count": len(vehicles),
	})

	stats := &domain.BatchSaveStats{}
	deduped, dupes, invalid := dedupeVehicles(vehicles)
	stats.Updated += dupes
	stats.Errors += invalid
	if invalid > 0 {
		stats.ErrorMessages = append(stats.ErrorMessages,
			fmt.Sprintf("%d vehicle records without local_id skipped", invalid))
	}
	if len(deduped) == 0 {
		return stats, nil
	}

	for start := 0; start < len(deduped); start += vehicleChunkSize {
		end := start + vehicleChunkSize
		if end > len(deduped) {
			end = len(deduped)
		}
		chunk := deduped[start:end]

		chunkStats, err := a.saveChunk(ctx, chunk)
		if err == nil {
			stats.Merge(chunkStats)
			continue
		}

		repoLogger.Warn("Vehicle chunk failed, retrying records individually", port.Fields{
			"chunk_size": len(chunk),
			"error":      err.Error(),
		})
		for _, v := range chunk {
			inserted, rowErr := a.saveOne(ctx, v)
			switch {
			case rowErr != nil:
				stats.Errors++
				stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("vehicle %d: %v", v.LocalID, rowErr))
			case inserted:
				stats.Inserted++
			default:
				stats.Updated++
			}
		}
	}

	repoLogger.Debug("Vehicle batch saved", port.Fields{
		"inserted": stats.Inserted,
		"updated":  stats.Updated,
		"errors":   stats.Errors,
	})
	return stats, nil
}

func (a *PostgresVehicleStorageAdapter) saveChunk(ctx context.Context, vehicles []*domain.Vehicle) (*domain.BatchSaveStats, error) {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `CREATE TEMP TABLE temp_vehicles (LIKE vehicles) ON COMMIT DROP;`)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp table for vehicles: %w", err)
	}

	now := time.Now().UTC()
	rows := make([][]interface{}, 0, len(vehicles))
	for _, v := range vehicles {
		rows = append(rows, []interface{}{
			v.LocalID, v.Brand, v.Model, v.Version, v.Year, v.Fuel, v.VIN, v.Plate,
			v.Color, v.Mileage, v.Power, v.Doors, imagesOrEmpty(v.Images), v.Active,
			v.ActivePartsCount, now, now,
		})
	}

	_, err = tx.CopyFrom(ctx, pgx.Identifier{"temp_vehicles"}, vehicleColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return nil, fmt.Errorf("failed to copy to temp_vehicles: %w", err)
	}

	// Атомарный merge из временной таблицы; (xmax = 0) отличает вставку
	// от обновления
	mergeRows, err := tx.Query(ctx, `
		INSERT INTO vehicles (
			local_id, brand, model, version, year, fuel, vin, plate,
			color, mileage, power, doors, images, active,
			active_parts_count, created_at, updated_at
		)
		SELECT
			local_id, brand, model, version, year, fuel, vin, plate,
			color, mileage, power, doors, images, active,
			active_parts_count, created_at, updated_at
		FROM temp_vehicles
		ON CONFLICT (local_id) DO UPDATE SET
			brand      = EXCLUDED.brand,
			model      = EXCLUDED.model,
			version    = EXCLUDED.version,
			year       = EXCLUDED.year,
			fuel       = EXCLUDED.fuel,
			vin        = EXCLUDED.vin,
			plate      = EXCLUDED.plate,
			color      = EXCLUDED.color,
			mileage    = EXCLUDED.mileage,
			power      = EXCLUDED.power,
			doors      = EXCLUDED.doors,
			images     = EXCLUDED.images,
			active     = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0) AS inserted;
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to merge from temp_vehicles: %w", err)
	}

	stats := &domain.BatchSaveStats{}
	for mergeRows.Next() {
		var inserted bool
		if err := mergeRows.Scan(&inserted); err != nil {
			mergeRows.Close()
			return nil, fmt.Errorf("failed to scan merge result: %w", err)
		}
		if inserted {
			stats.Inserted++
		} else {
			stats.Updated++
		}
	}
	mergeRows.Close()
	if err := mergeRows.Err(); err != nil {
		return nil, fmt.Errorf("merge rows failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit vehicle chunk: %w", err)
	}
	return stats, nil
}

func (a *PostgresVehicleStorageAdapter) saveOne(ctx context.Context, v *domain.Vehicle) (bool, error) {
	var inserted bool
	err := a.pool.QueryRow(ctx, `
		INSERT INTO vehicles (
			local_id, brand, model, version, year, fuel, vin, plate,
			color, mileage, power, doors, images, active, active_parts_count
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (local_id) DO UPDATE SET
			brand = EXCLUDED.brand, model = EXCLUDED.model, version = EXCLUDED.version,
			year = EXCLUDED.year, fuel = EXCLUDED.fuel, vin = EXCLUDED.vin,
			plate = EXCLUDED.plate, color = EXCLUDED.color, mileage = EXCLUDED.mileage,
			power = EXCLUDED.power, doors = EXCLUDED.doors, images = EXCLUDED.images,
			active = EXCLUDED.active, updated_at = NOW()
		RETURNING (xmax = 0) AS inserted;
	`, v.LocalID, v.Brand, v.Model, v.Version, v.Year, v.Fuel, v.VIN, v.Plate,
		v.Color, v.Mileage, v.Power, v.Doors, imagesOrEmpty(v.Images), v.Active, v.ActivePartsCount).Scan(&inserted)
	return inserted, err
}

// FindByLocalIDs возвращает автомобили картой по local_id
func (a *PostgresVehicleStorageAdapter) FindByLocalIDs(ctx context.Context, ids []int64) (map[int64]*domain.Vehicle, error) {
	result := make(map[int64]*domain.Vehicle, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := a.pool.Query(ctx, `
		SELECT local_id, brand, model, version, year, fuel, vin, plate,
		       color, mileage, power, doors, images, active, active_parts_count,
		       created_at, updated_at
		FROM vehicles
		WHERE local_id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicles by ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		v := &domain.Vehicle{}
		if err := rows.Scan(
			&v.LocalID, &v.Brand, &v.Model, &v.Version, &v.Year, &v.Fuel, &v.VIN, &v.Plate,
			&v.Color, &v.Mileage, &v.Power, &v.Doors, &v.Images, &v.Active, &v.ActivePartsCount,
			&v.CreatedAt, &v.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan vehicle: %w", err)
		}
		result[v.LocalID] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vehicle rows failed: %w", err)
	}
	return result, nil
}

// UpdateActivePartsCounters пересчитывает active_parts_count по фактическому
// состоянию каталога: считаются только активные запчасти с ценой больше нуля
func (a *PostgresVehicleStorageAdapter) UpdateActivePartsCounters(ctx context.Context) (int64, error) {
	tag, err := a.pool.Exec(ctx, `
		UPDATE vehicles v
		SET active_parts_count = sub.cnt
		FROM (
			SELECT v2.local_id,
			       COUNT(p.ref_local) FILTER (
			           WHERE p.active AND COALESCE(NULLIF(p.price, ''), '0')::numeric > 0
			       ) AS cnt
			FROM vehicles v2
			LEFT JOIN parts p ON p.vehicle_id = v2.local_id
			GROUP BY v2.local_id
		) sub
		WHERE v.local_id = sub.local_id
		  AND v.active_parts_count IS DISTINCT FROM sub.cnt
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to update active parts counters: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (a *PostgresVehicleStorageAdapter) CountAll(ctx context.Context) (int64, error) {
	var count int64
	if err := a.pool.QueryRow(ctx, `SELECT COUNT(*) FROM vehicles`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count vehicles: %w", err)
	}
	return count, nil
}

// dedupeVehicles схлопывает дубликаты ключа внутри партии, последняя запись
// выигрывает: иначе merge по ON CONFLICT упадет на повторном ключе
func dedupeVehicles(vehicles []*domain.Vehicle) (out []*domain.Vehicle, dupes, invalid int) {
	byID := make(map[int64]int, len(vehicles))
	out = make([]*domain.Vehicle, 0, len(vehicles))
	for _, v := range vehicles {
		if v == nil || v.LocalID == 0 {
			invalid++
			continue
		}
		if idx, ok := byID[v.LocalID]; ok {
			out[idx] = v
			dupes++
			continue
		}
		byID[v.LocalID] = len(out)
		out = append(out, v)
	}
	return out, dupes, invalid
}

func imagesOrEmpty(images []string) []string {
	if images == nil {
		return []string{}
	}
	return images
}
