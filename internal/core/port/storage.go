package port

import (
	"context"

	"metasync-import-service/internal/core/domain"
)

// VehicleStoragePort - хранилище автомобилей
type VehicleStoragePort interface {
	// SaveBatch идемпотентно сохраняет партию по натуральному ключу local_id
	SaveBatch(ctx context.Context, vehicles []*domain.Vehicle) (*domain.BatchSaveStats, error)
	// FindByLocalIDs возвращает найденные автомобили картой по local_id
	FindByLocalIDs(ctx context.Context, ids []int64) (map[int64]*domain.Vehicle, error)
	// UpdateActivePartsCounters пересчитывает счетчики активных запчастей
	UpdateActivePartsCounters(ctx context.Context) (int64, error)
	CountAll(ctx context.Context) (int64, error)
}

// PartStoragePort - хранилище запчастей
type PartStoragePort interface {
	// SaveBatch идемпотентно сохраняет партию по натуральному ключу ref_local.
	// Пустые входящие значения не затирают ранее сохраненные непустые.
	SaveBatch(ctx context.Context, parts []*domain.Part) (*domain.BatchSaveStats, error)
	// MarkUnavailableExcept снимает флаг available_in_source у запчастей,
	// отсутствующих в receivedRefs. Возвращает число затронутых записей.
	// Превышение safety-порога доли изменяемых записей - ошибка.
	MarkUnavailableExcept(ctx context.Context, receivedRefs []int64) (int64, error)
	// ResolvePendingVehicleData дозаполняет снимки автомобилей у запчастей,
	// чей автомобиль появился в хранилище позже самой запчасти
	ResolvePendingVehicleData(ctx context.Context) (int64, error)
	CountAll(ctx context.Context) (int64, error)
}

// RelationsPort - производный индекс автомобиль-запчасть. Кэш: безопасно
// полностью сбрасывается и строится заново из основных таблиц.
type RelationsPort interface {
	Rebuild(ctx context.Context) (int64, error)
}

// ApiConfigPort - доступ к сохраненным учетным данным внешнего API
type ApiConfigPort interface {
	GetActive(ctx context.Context) (*domain.ApiConfig, error)
	Update(ctx context.Context, cfg *domain.ApiConfig) error
}

// SchedulePort - хранилище расписаний импорта
type SchedulePort interface {
	List(ctx context.Context) ([]*domain.ImportSchedule, error)
	Save(ctx context.Context, schedule *domain.ImportSchedule) error
	// SeedDefaults создает расписания по умолчанию, если таблица пуста
	SeedDefaults(ctx context.Context) error
	FindDue(ctx context.Context) ([]*domain.ImportSchedule, error)
}
