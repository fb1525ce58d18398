package port

import (
	"context"
	"time"

	"metasync-import-service/internal/core/domain"

	"github.com/google/uuid"
)

// ImportLedgerPort - персистентный журнал запусков импорта
type ImportLedgerPort interface {
	Create(ctx context.Context, run *domain.ImportRun) error
	// Update сохраняет текущее состояние запуска. Переходы статуса валидирует
	// домен, адаптер лишь отказывается перезаписывать терминальные записи.
	Update(ctx context.Context, run *domain.ImportRun) error
	// IncrementCounters атомарно прибавляет дельту счетчиков
	IncrementCounters(ctx context.Context, id uuid.UUID, delta domain.RunCounters) error

	FindByID(ctx context.Context, id uuid.UUID) (*domain.ImportRun, error)
	FindRecent(ctx context.Context, limit, offset int) ([]*domain.ImportRun, error)
	// FindLastCompleted возвращает последний успешный запуск данного типа
	// (для вычисления инкрементальной даты since); nil, если таких нет
	FindLastCompleted(ctx context.Context, kind domain.ImportKind) (*domain.ImportRun, error)
	// FindActive возвращает запуск данного типа в статусе pending/in_progress;
	// nil, если активных нет. Используется для запрета параллельных запусков
	// одного типа.
	FindActive(ctx context.Context, kind domain.ImportKind) (*domain.ImportRun, error)
	// FailStuck помечает failed запуски, висящие in_progress дольше порога
	FailStuck(ctx context.Context, olderThan time.Duration) (int64, error)
}

// RunEventsPublisherPort публикует события жизненного цикла запусков
type RunEventsPublisherPort interface {
	PublishRunEvent(ctx context.Context, event string, run *domain.ImportRun) error
}
