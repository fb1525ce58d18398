package usecase

import (
	"context"
	"fmt"
	"time"

	"metasync-import-service/internal/contextkeys"
	"metasync-import-service/internal/core/domain"
	"metasync-import-service/internal/core/port"
)

// ErrRunAlreadyActive - запуск этого типа уже выполняется
var ErrRunAlreadyActive = domain.ErrRunAlreadyActive

// Дата отсечки для полного импорта: источник отдает все записи
var fullImportSince = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// ImportOptions - параметры запуска импорта
type ImportOptions struct {
	FullImport bool
	// Since переопределяет дату отсечки; nil - вычислить по журналу
	Since *time.Time
}

// ImportVehiclesUseCase - импорт изменений автомобилей из внешнего источника
type ImportVehiclesUseCase struct {
	source    port.MetasyncSourcePort
	vehicles  port.VehicleStoragePort
	parts     port.PartStoragePort
	ledger    port.ImportLedgerPort
	apiConfig port.ApiConfigPort
	events    port.RunEventsPublisherPort
	walkOpts  WalkOptions
}

func NewImportVehiclesUseCase(
	source port.MetasyncSourcePort,
	vehicles port.VehicleStoragePort,
	parts port.PartStoragePort,
	ledger port.ImportLedgerPort,
	apiConfig port.ApiConfigPort,
	events port.RunEventsPublisherPort,
	walkOpts WalkOptions,
) *ImportVehiclesUseCase {
	return &ImportVehiclesUseCase{
		source:    source,
		vehicles:  vehicles,
		parts:     parts,
		ledger:    ledger,
		apiConfig: apiConfig,
		events:    events,
		walkOpts:  walkOpts,
	}
}

// Execute выполняет один запуск импорта автомобилей и возвращает финальную
// запись журнала. Одновременно допустим только один активный запуск типа.
func (uc *ImportVehiclesUseCase) Execute(ctx context.Context, opts ImportOptions) (*domain.ImportRun, error) {
	logger := contextkeys.LoggerFromContext(ctx)

	if err := ensureNoActiveRun(ctx, uc.ledger, domain.KindVehicles); err != nil {
		return nil, err
	}

	run := domain.NewImportRun(domain.KindVehicles, opts.FullImport)
	if err := uc.ledger.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run record: %w", err)
	}

	creds, err := loadApiConfig(ctx, uc.apiConfig)
	if err != nil {
		failRunOnSetup(ctx, uc.ledger, uc.events, run, err)
		return run, err
	}

	if err := startRun(ctx, uc.ledger, uc.events, run, "fetching vehicle changes"); err != nil {
		return run, err
	}

	since := resolveSince(ctx, uc.ledger, domain.KindVehicles, opts)
	logger.Info("Vehicle import started", port.Fields{
		"run_id": run.ID.String(),
		"since":  since.Format(time.RFC3339),
		"full":   opts.FullImport,
	})

	fetch := func(ctx context.Context, q port.FetchQuery) (*port.SourceBatch, error) {
		return uc.source.FetchVehicles(ctx, creds, q)
	}

	result, walkErr := WalkPages(ctx, fetch, since, 0, uc.walkOpts, func(ctx context.Context, batch *port.SourceBatch) error {
		stats, err := uc.vehicles.SaveBatch(ctx, batch.Vehicles)
		if err != nil {
			return fmt.Errorf("failed to save vehicle batch: %w", err)
		}

		delta := domain.RunCounters{
			Processed: len(batch.Vehicles),
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

	// автомобили появились - дозаполняем запчасти, ждавшие свои машины
	if resolved, err := uc.parts.ResolvePendingVehicleData(ctx); err != nil {
		run.AppendError(fmt.Sprintf("failed to resolve pending vehicle data: %v", err))
		run.Counters.Errors++
	} else if resolved > 0 {
		logger.Info("Resolved pending vehicle data on parts", port.Fields{"parts": resolved})
	}

	return finishRun(ctx, uc.ledger, uc.events, run, result, walkErr)
}

// ensureNoActiveRun запрещает параллельные запуски одного типа
func ensureNoActiveRun(ctx context.Context, ledger port.ImportLedgerPort, kind domain.ImportKind) error {
	active, err := ledger.FindActive(ctx, kind)
	if err != nil {
		return fmt.Errorf("failed to check active runs: %w", err)
	}
	if active != nil {
		return fmt.Errorf("%w: %s run %s", ErrRunAlreadyActive, kind, active.ID)
	}
	return nil
}

// loadApiConfig загружает и валидирует учетные данные источника на запуск
func loadApiConfig(ctx context.Context, configs port.ApiConfigPort) (*domain.ApiConfig, error) {
	creds, err := configs.GetActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load api configuration: %w", err)
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	return creds, nil
}

// failRunOnSetup финализирует запуск, проваленный до первой партии
func failRunOnSetup(ctx context.Context, ledger port.ImportLedgerPort, events port.RunEventsPublisherPort, run *domain.ImportRun, cause error) {
	logger := contextkeys.LoggerFromContext(ctx)

	run.AppendError(cause.Error())
	if err := run.Finish(domain.RunFailed); err != nil {
		logger.Error("Failed to finalize run", err, port.Fields{"run_id": run.ID.String()})
		return
	}
	if err := ledger.Update(ctx, run); err != nil {
		logger.Error("Failed to persist failed run", err, port.Fields{"run_id": run.ID.String()})
	}
	publishRunEvent(ctx, events, "run.finished", run)
}

func startRun(ctx context.Context, ledger port.ImportLedgerPort, events port.RunEventsPublisherPort, run *domain.ImportRun, step string) error {
	if err := run.Start(); err != nil {
		return err
	}
	run.CurrentStep = step
	if err := ledger.Update(ctx, run); err != nil {
		return fmt.Errorf("failed to persist run start: %w", err)
	}
	publishRunEvent(ctx, events, "run.started", run)
	return nil
}

// finishRun выбирает терминальный статус по итогам обхода и финализирует запись.
// Если хоть какие-то партии прошли, сбой источника дает partial, не failed.
func finishRun(ctx context.Context, ledger port.ImportLedgerPort, events port.RunEventsPublisherPort, run *domain.ImportRun, result *WalkResult, walkErr error) (*domain.ImportRun, error) {
	logger := contextkeys.LoggerFromContext(ctx)

	status := domain.RunCompleted
	switch {
	case walkErr != nil && run.Counters.Processed == 0:
		status = domain.RunFailed
		run.AppendError(walkErr.Error())
	case walkErr != nil:
		status = domain.RunPartial
		run.AppendError(walkErr.Error())
	case result.Partial:
		status = domain.RunPartial
	}

	run.CurrentStep = "finished"
	if err := run.Finish(status); err != nil {
		return run, err
	}
	if err := ledger.Update(ctx, run); err != nil {
		return run, fmt.Errorf("failed to persist run result: %w", err)
	}
	publishRunEvent(ctx, events, "run.finished", run)

	logger.Info("Import run finished", port.Fields{
		"run_id":    run.ID.String(),
		"kind":      string(run.Kind),
		"status":    string(run.Status),
		"processed": run.Counters.Processed,
		"inserted":  run.Counters.Inserted,
		"updated":   run.Counters.Updated,
		"errors":    run.Counters.Errors,
	})
	return run, walkErr
}

// resolveSince вычисляет дату отсечки: явная дата, затем последний успешный
// запуск того же типа, затем полная история
func resolveSince(ctx context.Context, ledger port.ImportLedgerPort, kind domain.ImportKind, opts ImportOptions) time.Time {
	if opts.Since != nil {
		return *opts.Since
	}
	if opts.FullImport {
		return fullImportSince
	}
	last, err := ledger.FindLastCompleted(ctx, kind)
	if err == nil && last != nil && last.StartedAt != nil {
		return *last.StartedAt
	}
	return fullImportSince
}

func publishRunEvent(ctx context.Context, events port.RunEventsPublisherPort, event string, run *domain.ImportRun) {
	if events == nil {
		return
	}
	if err := events.PublishRunEvent(ctx, event, run); err != nil {
		contextkeys.LoggerFromContext(ctx).Warn("Failed to publish run event", port.Fields{
			"event": event,
			"error": err.Error(),
		})
	}
}
