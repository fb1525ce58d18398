package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"metasync-import-service/internal/contextkeys"
	"metasync-import-service/internal/core/domain"
	"metasync-import-service/internal/core/port"
)

// ImportPartsUseCase - импорт изменений запчастей: нормализация, корреляция
// с автомобилями, правила активации, идемпотентная запись
type ImportPartsUseCase struct {
	source    port.MetasyncSourcePort
	vehicles  port.VehicleStoragePort
	parts     port.PartStoragePort
	ledger    port.ImportLedgerPort
	apiConfig port.ApiConfigPort
	events    port.RunEventsPublisherPort
	walkOpts  WalkOptions
}

func NewImportPartsUseCase(
	source port.MetasyncSourcePort,
	vehicles port.VehicleStoragePort,
	parts port.PartStoragePort,
	ledger port.ImportLedgerPort,
	apiConfig port.ApiConfigPort,
	events port.RunEventsPublisherPort,
	walkOpts WalkOptions,
) *ImportPartsUseCase {
	return &ImportPartsUseCase{
		source:    source,
		vehicles:  vehicles,
		parts:     parts,
		ledger:    ledger,
		apiConfig: apiConfig,
		events:    events,
		walkOpts:  walkOpts,
	}
}

// Execute выполняет один запуск импорта запчастей
func (uc *ImportPartsUseCase) Execute(ctx context.Context, opts ImportOptions) (*domain.ImportRun, error) {
	logger := contextkeys.LoggerFromContext(ctx)

	if err := ensureNoActiveRun(ctx, uc.ledger, domain.KindParts); err != nil {
		return nil, err
	}

	run := domain.NewImportRun(domain.KindParts, opts.FullImport)
	if err := uc.ledger.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run record: %w", err)
	}

	creds, err := loadApiConfig(ctx, uc.apiConfig)
	if err != nil {
		failRunOnSetup(ctx, uc.ledger, uc.events, run, err)
		return run, err
	}

	if err := startRun(ctx, uc.ledger, uc.events, run, "fetching part changes"); err != nil {
		return run, err
	}

	since := resolveSince(ctx, uc.ledger, domain.KindParts, opts)
	logger.Info("Part import started", port.Fields{
		"run_id": run.ID.String(),
		"since":  since.Format(time.RFC3339),
		"full":   opts.FullImport,
	})

	fetch := func(ctx context.Context, q port.FetchQuery) (*port.SourceBatch, error) {
		return uc.source.FetchParts(ctx, creds, q)
	}

	// при полном импорте собираем все полученные ключи, чтобы после обхода
	// синхронизировать флаг доступности в источнике
	var receivedRefs []int64

	result, walkErr := WalkPages(ctx, fetch, since, 0, uc.walkOpts, func(ctx context.Context, batch *port.SourceBatch) error {
		stats, err := uc.processBatch(ctx, batch)
		if err != nil {
			return err
		}

		if opts.FullImport {
			for _, p := range batch.Parts {
				receivedRefs = append(receivedRefs, p.RefLocal)
			}
		}

		delta := domain.RunCounters{
			Processed: len(batch.Parts),
			Inserted:  stats.Inserted,
			Updated:   stats.Updated,
			Errors:    stats.Errors,
			Batches:   1,
		}
		run.Counters.Add(delta)
		for _, msg := range stats.ErrorMessages {
			run.AppendError(msg)
		}
		if batch.Total > run.Counters.Total {
			run.Counters.Total = batch.Total
		}
		run.RecalcProgress()

		if err := uc.ledger.IncrementCounters(ctx, run.ID, delta); err != nil {
			logger.Warn("Failed to persist run counters", port.Fields{"run_id": run.ID.String(), "error": err.Error()})
		}
		return nil
	})
	run.LastCursor = result.LastCursor

	// синхронизация доступности только по полному и полностью пройденному
	// обходу: частичный поток ничего не говорит об отсутствующих записях
	if opts.FullImport && walkErr == nil && !result.Partial && len(receivedRefs) > 0 {
		run.CurrentStep = "syncing source availability"
		marked, err := uc.parts.MarkUnavailableExcept(ctx, receivedRefs)
		switch {
		case errors.Is(err, domain.ErrSafetyThreshold):
			run.AppendError(err.Error())
			result.Partial = true
		case err != nil:
			run.AppendError(fmt.Sprintf("availability sync failed: %v", err))
			run.Counters.Errors++
		default:
			run.Counters.Deactivated += int(marked)
		}
	}

	if updated, err := uc.vehicles.UpdateActivePartsCounters(ctx); err != nil {
		run.AppendError(fmt.Sprintf("failed to update vehicle part counters: %v", err))
		run.Counters.Errors++
	} else {
		logger.Debug("Vehicle part counters updated", port.Fields{"vehicles": updated})
	}

	return finishRun(ctx, uc.ledger, uc.events, run, result, walkErr)
}

// processBatch прогоняет партию через коррелятор и правила активации,
// затем идемпотентно сохраняет
func (uc *ImportPartsUseCase) processBatch(ctx context.Context, batch *port.SourceBatch) (*domain.BatchSaveStats, error) {
	src := domain.CorrelationSources{
		Batch: make(map[int64]*domain.Vehicle, len(batch.Vehicles)),
		Store: map[int64]*domain.Vehicle{},
	}
	for _, v := range batch.Vehicles {
		src.Batch[v.LocalID] = v
	}

	// дочитываем из хранилища физические автомобили, которых нет в партии
	missing := make([]int64, 0)
	seen := make(map[int64]bool)
	for _, p := range batch.Parts {
		if p.VehicleID > 0 && src.Batch[p.VehicleID] == nil && !seen[p.VehicleID] {
			seen[p.VehicleID] = true
			missing = append(missing, p.VehicleID)
		}
	}
	if len(missing) > 0 {
		stored, err := uc.vehicles.FindByLocalIDs(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("failed to look up stored vehicles: %w", err)
		}
		src.Store = stored
	}

	for _, p := range batch.Parts {
		outcome := domain.Correlate(p, src)
		p.Active = domain.DecideActive(p, outcome.Situation, outcome.Matched)
		p.AvailableInSource = true
	}

	stats, err := uc.parts.SaveBatch(ctx, batch.Parts)
	if err != nil {
		return nil, fmt.Errorf("failed to save part batch: %w", err)
	}
	return stats, nil
}
