package usecase

import (
	"context"
	"errors"
	"fmt"

	"time"

	"metasync-import-service/internal/contextkeys"
	"metasync-import-service/internal/core/domain"
	"metasync-import-service/internal/core/port"

	"github.com/google/uuid"
)

// ErrPhaseTimeout - зависимая фаза не завершилась за отведенное время
var ErrPhaseTimeout = errors.New("import phase did not finish in time")

// runExecutor - одна фаза составного импорта
type runExecutor interface {
	Execute(ctx context.Context, opts ImportOptions) (*domain.ImportRun, error)
}

// ImportAllUseCase - составной импорт: строгая последовательность
// автомобили -> запчасти -> перестройка связей. Следующая фаза стартует
// только после терминального статуса предыдущей: корреляция запчастей
// зависит от свежих данных автомобилей.
type ImportAllUseCase struct {
	vehicles  runExecutor
	parts     runExecutor
	relations port.RelationsPort
	ledger    port.ImportLedgerPort
	events    port.RunEventsPublisherPort

	// PhaseTimeout ограничивает ожидание каждой фазы; истечение дает partial,
	// а не молчаливый старт следующей фазы на устаревших данных
	phaseTimeout time.Duration
}

func NewImportAllUseCase(
	vehicles runExecutor,
	parts runExecutor,
	relations port.RelationsPort,
	ledger port.ImportLedgerPort,
	events port.RunEventsPublisherPort,
	phaseTimeout time.Duration,
) *ImportAllUseCase {
	if phaseTimeout <= 0 {
		phaseTimeout = 2 * time.Hour
	}
	return &ImportAllUseCase{
		vehicles:     vehicles,
		parts:        parts,
		relations:    relations,
		ledger:       ledger,
		events:       events,
		phaseTimeout: phaseTimeout,
	}
}

// Execute выполняет составной импорт и возвращает мастер-запись журнала
func (uc *ImportAllUseCase) Execute(ctx context.Context, opts ImportOptions) (*domain.ImportRun, error) {
	logger := contextkeys.LoggerFromContext(ctx)

	if err := ensureNoActiveRun(ctx, uc.ledger, domain.KindAll); err != nil {
		return nil, err
	}

	master := domain.NewImportRun(domain.KindAll, opts.FullImport)
	if err := uc.ledger.Create(ctx, master); err != nil {
		return nil, fmt.Errorf("failed to create master run record: %w", err)
	}
	if err := startRun(ctx, uc.ledger, uc.events, master, "vehicles phase"); err != nil {
		return master, err
	}

	worst := domain.RunCompleted

	vehiclesRun, err := uc.runPhase(ctx, master, "vehicles", uc.vehicles, opts)
	if err != nil && vehiclesRun == nil {
		return uc.finishMaster(ctx, master, domain.RunFailed, err)
	}
	worst = worseStatus(worst, vehiclesRun.Status)
	accumulate(master, vehiclesRun)
	switch {
	case errors.Is(err, ErrPhaseTimeout) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// продолжать на незавершенных данных автомобилей нельзя
		return uc.finishMaster(ctx, master, domain.RunPartial, err)
	case vehiclesRun.Status == domain.RunFailed:
		// запчасти без свежих автомобилей не коррелируются
		return uc.finishMaster(ctx, master, domain.RunFailed, fmt.Errorf("vehicles phase failed"))
	}

	partsRun, err := uc.runPhase(ctx, master, "parts", uc.parts, opts)
	if err != nil && partsRun == nil {
		return uc.finishMaster(ctx, master, domain.RunFailed, err)
	}
	worst = worseStatus(worst, partsRun.Status)
	accumulate(master, partsRun)
	switch {
	case errors.Is(err, ErrPhaseTimeout) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return uc.finishMaster(ctx, master, domain.RunPartial, err)
	case partsRun.Status == domain.RunFailed:
		return uc.finishMaster(ctx, master, domain.RunFailed, fmt.Errorf("parts phase failed"))
	}

	master.CurrentStep = "rebuilding relations"
	master.Details["phase"] = "relations"
	if err := uc.ledger.Update(ctx, master); err != nil {
		logger.Warn("Failed to persist master run phase", port.Fields{"run_id": master.ID.String(), "error": err.Error()})
	}
	if rebuilt, err := uc.relations.Rebuild(ctx); err != nil {
		master.AppendError(fmt.Sprintf("relations rebuild failed: %v", err))
		worst = worseStatus(worst, domain.RunPartial)
	} else {
		logger.Info("Vehicle-part relations rebuilt", port.Fields{"relations": rebuilt})
	}

	return uc.finishMaster(ctx, master, worst, nil)
}

// runPhase запускает фазу в отдельной горутине и ждет ее терминальной записи
// не дольше phaseTimeout. Таймаут оставляет фазу дорабатывать, но мастер
// при этом терминируется как partial.
func (uc *ImportAllUseCase) runPhase(ctx context.Context, master *domain.ImportRun, phase string, exec runExecutor, opts ImportOptions) (*domain.ImportRun, error) {
	logger := contextkeys.LoggerFromContext(ctx)

	master.CurrentStep = phase + " phase"
	master.Details["phase"] = phase
	if err := uc.ledger.Update(ctx, master); err != nil {
		logger.Warn("Failed to persist master run phase", port.Fields{"run_id": master.ID.String(), "error": err.Error()})
	}

	type phaseResult struct {
		run *domain.ImportRun
		err error
	}
	done := make(chan phaseResult, 1)
	// фаза переживает отмену ожидания, но наследует логгер и трассировку
	phaseCtx := context.WithoutCancel(ctx)
	go func() {
		run, err := exec.Execute(phaseCtx, opts)
		done <- phaseResult{run: run, err: err}
	}()

	timer := time.NewTimer(uc.phaseTimeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.run == nil {
			return nil, res.err
		}
		return res.run, res.err
	case <-timer.C:
		return &domain.ImportRun{Kind: domain.ImportKind(phase), Status: domain.RunPartial},
			fmt.Errorf("%w: %s", ErrPhaseTimeout, phase)
	case <-ctx.Done():
		return &domain.ImportRun{Kind: domain.ImportKind(phase), Status: domain.RunPartial}, ctx.Err()
	}
}

func (uc *ImportAllUseCase) finishMaster(ctx context.Context, master *domain.ImportRun, status domain.RunStatus, cause error) (*domain.ImportRun, error) {
	logger := contextkeys.LoggerFromContext(ctx)

	if cause != nil {
		master.AppendError(cause.Error())
	}
	master.CurrentStep = "finished"
	if err := master.Finish(status); err != nil {
		return master, err
	}
	if err := uc.ledger.Update(ctx, master); err != nil {
		logger.Error("Failed to persist master run result", err, port.Fields{"run_id": master.ID.String()})
	}
	publishRunEvent(ctx, uc.events, "run.finished", master)
	return master, cause
}

// accumulate переносит счетчики и ошибки фазы в мастер-запись. У синтетической
// записи сорвавшейся по таймауту фазы нет настоящего запуска, ссылка на него
// в мастере не появляется.
func accumulate(master *domain.ImportRun, phase *domain.ImportRun) {
	master.Counters.Add(phase.Counters)
	master.ErrorList = append(master.ErrorList, phase.ErrorList...)
	if phase.ID != uuid.Nil {
		master.Details[string(phase.Kind)+"_run_id"] = phase.ID.String()
	}
	master.RecalcProgress()
}

// worseStatus выбирает худший из двух терминальных статусов
func worseStatus(a, b domain.RunStatus) domain.RunStatus {
	rank := map[domain.RunStatus]int{
		domain.RunCompleted: 0,
		domain.RunPartial:   1,
		domain.RunFailed:    2,
	}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
