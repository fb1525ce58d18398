package usecase

import (
	"context"
	"errors"
	"time"

	"metasync-import-service/internal/contextkeys"
	"metasync-import-service/internal/core/domain"
	"metasync-import-service/internal/core/port"
)

// SchedulerService запускает импорты по персистентным расписаниям.
// Просроченные расписания (сервис был выключен в момент startTime)
// выполняются при ближайшей проверке.
type SchedulerService struct {
	schedules  port.SchedulePort
	ledger     port.ImportLedgerPort
	dispatcher *ImportDispatcher
	logger     port.LoggerPort

	checkInterval    time.Duration
	maxRetryAttempts int
	// stuckThreshold - порог, после которого висящий in_progress запуск
	// признается мертвым
	stuckThreshold time.Duration
}

func NewSchedulerService(
	schedules port.SchedulePort,
	ledger port.ImportLedgerPort,
	dispatcher *ImportDispatcher,
	logger port.LoggerPort,
) *SchedulerService {
	return &SchedulerService{
		schedules:        schedules,
		ledger:           ledger,
		dispatcher:       dispatcher,
		logger:           logger.WithFields(port.Fields{"component": "scheduler"}),
		checkInterval:    time.Minute,
		maxRetryAttempts: 3,
		stuckThreshold:   2 * time.Hour,
	}
}

// Run крутит цикл планировщика до отмены контекста
func (s *SchedulerService) Run(ctx context.Context) {
	if err := s.schedules.SeedDefaults(ctx); err != nil {
		s.logger.Error("Failed to seed default schedules", err, nil)
	}

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	s.logger.Info("Scheduler started", port.Fields{"check_interval": s.checkInterval.String()})

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped", nil)
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *SchedulerService) tick(ctx context.Context) {
	// сторожок: запуски, зависшие дольше порога, закрываются как failed
	if failed, err := s.ledger.FailStuck(ctx, s.stuckThreshold); err != nil {
		s.logger.Error("Failed to check stuck runs", err, nil)
	} else if failed > 0 {
		s.logger.Warn("Marked stuck runs as failed", port.Fields{"runs": failed})
	}

	due, err := s.schedules.FindDue(ctx)
	if err != nil {
		s.logger.Error("Failed to query due schedules", err, nil)
		return
	}

	for _, schedule := range due {
		s.execute(ctx, schedule)
	}
}

func (s *SchedulerService) execute(ctx context.Context, schedule *domain.ImportSchedule) {
	logger := s.logger.WithFields(port.Fields{
		"schedule_id": schedule.ID,
		"kind":        string(schedule.Kind),
	})
	runCtx := contextkeys.ContextWithLogger(ctx, logger)

	opts := ImportOptions{FullImport: schedule.FullImport}

	var lastErr error
	for attempt := 1; attempt <= s.maxRetryAttempts; attempt++ {
		run, err := s.dispatcher.Trigger(runCtx, schedule.Kind, opts)
		if err == nil || (run != nil && run.Status != domain.RunFailed) {
			lastErr = nil
			break
		}
		lastErr = err
		if errors.Is(err, ErrRunAlreadyActive) {
			// запуск уже идет, расписание свое дело сделало
			lastErr = nil
			break
		}
		// провал на этапе подготовки не ретраится без оператора
		if errors.Is(err, domain.ErrNoActiveApiConfig) {
			break
		}
		logger.Warn("Scheduled import attempt failed", port.Fields{
			"attempt": attempt,
			"error":   err.Error(),
		})
	}
	if lastErr != nil {
		logger.Error("Scheduled import failed after retries", lastErr, port.Fields{
			"attempts": s.maxRetryAttempts,
		})
	}

	now := time.Now()
	schedule.LastRunAt = &now
	if next, err := schedule.ComputeNextRun(now); err != nil {
		logger.Error("Failed to compute next run time, disabling schedule", err, nil)
		schedule.Active = false
	} else {
		schedule.NextRunAt = &next
	}
	if err := s.schedules.Save(ctx, schedule); err != nil {
		logger.Error("Failed to persist schedule state", err, nil)
	}
}
