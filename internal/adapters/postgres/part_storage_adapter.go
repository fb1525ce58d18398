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

const partChunkSize = 500

// availabilitySafetyShare - максимальная доля каталога, которую разрешено
// скрыть за одну синхронизацию доступности
const availabilitySafetyShare = 0.10

// PostgresPartStorageAdapter - хранилище запчастей поверх pgx
type PostgresPartStorageAdapter struct {
	pool *pgxpool.Pool
}

func NewPostgresPartStorageAdapter(pool *pgxpool.Pool) *PostgresPartStorageAdapter {
	return &PostgresPartStorageAdapter{pool: pool}
}

var partColumns = []string{
	"ref_local", "vehicle_id", "family_code", "family_desc", "article_code",
	"article_desc", "main_ref", "price", "weight", "location", "notes", "images",
	"vehicle_brand", "vehicle_model", "vehicle_version", "vehicle_year",
	"vehicle_fuel", "brand_from_pattern", "active", "available_in_source",
	"created_at", "updated_at",
}

// SaveBatch идемпотентно сохраняет партию по ключу ref_local. Флаг active
// всегда берется из входа (решение правил активации этого запуска), а вот
// пустые входящие снимки автомобиля не затирают ранее сохраненные непустые:
// деградировавшая выборка не должна портить хорошие исторические данные.
func (a *PostgresPartStorageAdapter) SaveBatch(ctx context.Context, parts []*domain.Part) (*domain.BatchSaveStats, error) {
	logger := contextkeys.LoggerFromContext(ctx)
	repoLogger := logger.WithFields(port.Fields{
		"component":    "PostgresPartStorageAdapter",
		"method":       "SaveBatch",
		"record_count": len(parts),
	})

	stats := &domain.BatchSaveStats{}
	deduped, dupes, invalid := dedupeParts(parts)
	// дубликат ключа - это повторное обновление той же строки, запись без
	// ключа сохранить невозможно
	stats.Updated += dupes
	stats.Errors += invalid
	if invalid > 0 {
		stats.ErrorMessages = append(stats.ErrorMessages,
			fmt.Sprintf("%d part records without ref_local skipped", invalid))
	}
	if len(deduped) == 0 {
		return stats, nil
	}

	for start := 0; start < len(deduped); start += partChunkSize {
		end := start + partChunkSize
		if end > len(deduped) {
			end = len(deduped)
		}
		chunk := deduped[start:end]

		chunkStats, err := a.saveChunk(ctx, chunk)
		if err == nil {
			stats.Merge(chunkStats)
			continue
		}

		repoLogger.Warn("Part chunk failed, retrying records individually", port.Fields{
			"chunk_size": len(chunk),
			"error":      err.Error(),
		})
		for _, p := range chunk {
			inserted, rowErr := a.saveOne(ctx, p)
			switch {
			case rowErr != nil:
				stats.Errors++
				stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("part %d: %v", p.RefLocal, rowErr))
			case inserted:
				stats.Inserted++
			default:
				stats.Updated++
			}
		}
	}

	repoLogger.Debug("Part batch saved", port.Fields{
		"inserted": stats.Inserted,
		"updated":  stats.Updated,
		"errors":   stats.Errors,
	})
	return stats, nil
}

// NULLIF/COALESCE сохраняет прежние непустые значения снимка автомобиля
// при пустом входе
const partMergeUpdateSet = `
			vehicle_id      = EXCLUDED.vehicle_id,
			family_code     = COALESCE(NULLIF(EXCLUDED.family_code, ''), parts.family_code),
			family_desc     = COALESCE(NULLIF(EXCLUDED.family_desc, ''), parts.family_desc),
			article_code    = COALESCE(NULLIF(EXCLUDED.article_code, ''), parts.article_code),
			article_desc    = COALESCE(NULLIF(EXCLUDED.article_desc, ''), parts.article_desc),
			main_ref        = COALESCE(NULLIF(EXCLUDED.main_ref, ''), parts.main_ref),
			price           = EXCLUDED.price,
			weight          = EXCLUDED.weight,
			location        = COALESCE(NULLIF(EXCLUDED.location, ''), parts.location),
			notes           = COALESCE(NULLIF(EXCLUDED.notes, ''), parts.notes),
			images          = CASE WHEN cardinality(EXCLUDED.images) = 0 THEN parts.images ELSE EXCLUDED.images END,
			vehicle_brand   = COALESCE(NULLIF(EXCLUDED.vehicle_brand, ''), parts.vehicle_brand),
			vehicle_model   = COALESCE(NULLIF(EXCLUDED.vehicle_model, ''), parts.vehicle_model),
			vehicle_version = COALESCE(NULLIF(EXCLUDED.vehicle_version, ''), parts.vehicle_version),
			vehicle_year    = CASE WHEN EXCLUDED.vehicle_year = 0 THEN parts.vehicle_year ELSE EXCLUDED.vehicle_year END,
			vehicle_fuel    = COALESCE(NULLIF(EXCLUDED.vehicle_fuel, ''), parts.vehicle_fuel),
			brand_from_pattern  = EXCLUDED.brand_from_pattern,
			active              = EXCLUDED.active,
			available_in_source = EXCLUDED.available_in_source,
			updated_at          = EXCLUDED.updated_at`

func (a *PostgresPartStorageAdapter) saveChunk(ctx context.Context, parts []*domain.Part) (*domain.BatchSaveStats, error) {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `CREATE TEMP TABLE temp_parts (LIKE parts) ON COMMIT DROP;`)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp table for parts: %w", err)
	}

	now := time.Now().UTC()
	rows := make([][]interface{}, 0, len(parts))
	for _, p := range parts {
		rows = append(rows, []interface{}{
			p.RefLocal, p.VehicleID, p.FamilyCode, p.FamilyDesc, p.ArticleCode,
			p.ArticleDesc, p.MainRef, p.Price, p.Weight, p.Location, p.Notes, imagesOrEmpty(p.Images),
			p.VehicleBrand, p.VehicleModel, p.VehicleVersion, p.VehicleYear,
			p.VehicleFuel, p.BrandFromPattern, p.Active, p.AvailableInSource,
			now, now,
		})
	}

	_, err = tx.CopyFrom(ctx, pgx.Identifier{"temp_parts"}, partColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return nil, fmt.Errorf("failed to copy to temp_parts: %w", err)
	}

	mergeRows, err := tx.Query(ctx, `
		INSERT INTO parts (
			ref_local, vehicle_id, family_code, family_desc, article_code,
			article_desc, main_ref, price, weight, location, notes, images,
			vehicle_brand, vehicle_model, vehicle_version, vehicle_year,
			vehicle_fuel, brand_from_pattern, active, available_in_source,
			created_at, updated_at
		)
		SELECT
			ref_local, vehicle_id, family_code, family_desc, article_code,
			article_desc, main_ref, price, weight, location, notes, images,
			vehicle_brand, vehicle_model, vehicle_version, vehicle_year,
			vehicle_fuel, brand_from_pattern, active, available_in_source,
			created_at, updated_at
		FROM temp_parts
		ON CONFLICT (ref_local) DO UPDATE SET`+partMergeUpdateSet+`
		RETURNING (xmax = 0) AS inserted;
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to merge from temp_parts: %w", err)
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
		return nil, fmt.Errorf("failed to commit part chunk: %w", err)
	}
	return stats, nil
}

func (a *PostgresPartStorageAdapter) saveOne(ctx context.Context, p *domain.Part) (bool, error) {
	var inserted bool
	err := a.pool.QueryRow(ctx, `
		INSERT INTO parts (
			ref_local, vehicle_id, family_code, family_desc, article_code,
			article_desc, main_ref, price, weight, location, notes, images,
			vehicle_brand, vehicle_model, vehicle_version, vehicle_year,
			vehicle_fuel, brand_from_pattern, active, available_in_source,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		        $13, $14, $15, $16, $17, $18, $19, $20, NOW(), NOW())
		ON CONFLICT (ref_local) DO UPDATE SET`+partMergeUpdateSet+`
		RETURNING (xmax = 0) AS inserted;
	`, p.RefLocal, p.VehicleID, p.FamilyCode, p.FamilyDesc, p.ArticleCode,
		p.ArticleDesc, p.MainRef, p.Price, p.Weight, p.Location, p.Notes, imagesOrEmpty(p.Images),
		p.VehicleBrand, p.VehicleModel, p.VehicleVersion, p.VehicleYear,
		p.VehicleFuel, p.BrandFromPattern, p.Active, p.AvailableInSource).Scan(&inserted)
	return inserted, err
}

// MarkUnavailableExcept снимает available_in_source (и active) у запчастей,
// не пришедших в полном импорте. Если изменилась бы слишком большая доля
// каталога, операция прерывается: массовое исчезновение данных у источника
// почти наверняка сбой, а не реальная распродажа склада.
func (a *PostgresPartStorageAdapter) MarkUnavailableExcept(ctx context.Context, receivedRefs []int64) (int64, error) {
	logger := contextkeys.LoggerFromContext(ctx)

	if len(receivedRefs) == 0 {
		return 0, nil
	}

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `CREATE TEMP TABLE temp_received_refs (ref_local BIGINT PRIMARY KEY) ON COMMIT DROP;`)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp table for received refs: %w", err)
	}

	refRows := make([][]interface{}, 0, len(receivedRefs))
	seen := make(map[int64]bool, len(receivedRefs))
	for _, ref := range receivedRefs {
		if seen[ref] {
			continue
		}
		seen[ref] = true
		refRows = append(refRows, []interface{}{ref})
	}
	_, err = tx.CopyFrom(ctx, pgx.Identifier{"temp_received_refs"}, []string{"ref_local"}, pgx.CopyFromRows(refRows))
	if err != nil {
		return 0, fmt.Errorf("failed to copy received refs: %w", err)
	}

	var total, toMark int64
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (
		           WHERE available_in_source
		             AND NOT EXISTS (SELECT 1 FROM temp_received_refs r WHERE r.ref_local = parts.ref_local)
		       )
		FROM parts
	`).Scan(&total, &toMark)
	if err != nil {
		return 0, fmt.Errorf("failed to measure availability change: %w", err)
	}

	if total > 0 && float64(toMark) > float64(total)*availabilitySafetyShare {
		return 0, fmt.Errorf("%w: would mark %d of %d parts unavailable",
			domain.ErrSafetyThreshold, toMark, total)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE parts
		SET available_in_source = FALSE,
		    active = FALSE,
		    updated_at = NOW()
		WHERE available_in_source
		  AND NOT EXISTS (SELECT 1 FROM temp_received_refs r WHERE r.ref_local = parts.ref_local)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to mark parts unavailable: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit availability sync: %w", err)
	}

	logger.Info("Availability sync finished", port.Fields{
		"marked_unavailable": tag.RowsAffected(),
		"catalog_total":      total,
	})
	return tag.RowsAffected(), nil
}

// ResolvePendingVehicleData дозаполняет снимки автомобилей у запчастей,
// импортированных раньше своих автомобилей, и прогоняет дозаполненные строки
// через правила активации каталога
func (a *PostgresPartStorageAdapter) ResolvePendingVehicleData(ctx context.Context) (int64, error) {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		UPDATE parts p
		SET vehicle_brand   = v.brand,
		    vehicle_model   = v.model,
		    vehicle_version = v.version,
		    vehicle_year    = v.year,
		    vehicle_fuel    = v.fuel,
		    brand_from_pattern = FALSE,
		    active = (COALESCE(NULLIF(p.price, ''), '0')::numeric > 0 AND v.active),
		    updated_at = NOW()
		FROM vehicles v
		WHERE p.vehicle_id = v.local_id
		  AND p.vehicle_id > 0
		  AND p.vehicle_brand = ''
		  AND v.brand <> ''
		RETURNING p.ref_local, p.vehicle_id, p.price, p.article_desc, v.brand, p.active
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve pending vehicle data: %w", err)
	}

	resolved := make([]resolvedPart, 0)
	for rows.Next() {
		var r resolvedPart
		if err := rows.Scan(&r.Ref, &r.VehicleID, &r.Price, &r.ArticleDesc, &r.VehicleBrand, &r.Active); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan resolved part: %w", err)
		}
		resolved = append(resolved, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to read resolved parts: %w", err)
	}

	// SQL-предикат знает только цену и состояние автомобиля, остальные
	// правила применяются к прочитанным строкам
	if demoted := demotedAfterResolve(resolved); len(demoted) > 0 {
		_, err := tx.Exec(ctx, `
			UPDATE parts SET active = FALSE, updated_at = NOW()
			WHERE ref_local = ANY($1)
		`, demoted)
		if err != nil {
			return 0, fmt.Errorf("failed to demote resolved parts: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit pending vehicle data resolution: %w", err)
	}
	return int64(len(resolved)), nil
}

// resolvedPart - строка, дозаполненная данными своего автомобиля
type resolvedPart struct {
	Ref          int64
	VehicleID    int64
	Price        string
	ArticleDesc  string
	VehicleBrand string
	Active       bool
}

// demotedAfterResolve возвращает ключи дозаполненных строк, которые предикат
// по цене активировал, хотя правила активации их отбраковывают
func demotedAfterResolve(resolved []resolvedPart) []int64 {
	var refs []int64
	for _, r := range resolved {
		if !r.Active {
			continue
		}
		part := &domain.Part{
			RefLocal:     r.Ref,
			VehicleID:    r.VehicleID,
			Price:        r.Price,
			ArticleDesc:  r.ArticleDesc,
			VehicleBrand: r.VehicleBrand,
		}
		if !domain.DecideActive(part, "", true) {
			refs = append(refs, r.Ref)
		}
	}
	return refs
}

func (a *PostgresPartStorageAdapter) CountAll(ctx context.Context) (int64, error) {
	var count int64
	if err := a.pool.QueryRow(ctx, `SELECT COUNT(*) FROM parts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count parts: %w", err)
	}
	return count, nil
}

// dedupeParts схлопывает дубликаты ключа внутри партии, последняя запись
// выигрывает. Возвращает число схлопнутых дубликатов и записей без ключа:
// сумма счетчиков сохранения обязана сходиться с размером входной партии.
func dedupeParts(parts []*domain.Part) (out []*domain.Part, dupes, invalid int) {
	byRef := make(map[int64]int, len(parts))
	out = make([]*domain.Part, 0, len(parts))
	for _, p := range parts {
		if p == nil || p.RefLocal == 0 {
			invalid++
			continue
		}
		if idx, ok := byRef[p.RefLocal]; ok {
			out[idx] = p
			dupes++
			continue
		}
		byRef[p.RefLocal] = len(out)
		out = append(out, p)
	}
	return out, dupes, invalid
}
