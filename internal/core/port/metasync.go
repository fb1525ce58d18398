package port

import (
	"context"
	"fmt"
	"time"

	"metasync-import-service/internal/core/domain"
)

// FetchQuery - параметры запроса одной страницы к внешнему источнику
type FetchQuery struct {
	Since    time.Time
	LastID   int64
	PageSize int
}

// SourceBatch - одна страница нормализованных данных источника.
// Эндпоинт запчастей отдает параллельный массив автомобилей, поэтому
// обе коллекции присутствуют в одной партии.
type SourceBatch struct {
	Vehicles []*domain.Vehicle
	Parts    []*domain.Part

	// Total - количество записей по данным сервера (0, если не сообщено)
	Total int
	// NextCursor - курсор, предложенный сервером (0, если не сообщен)
	NextCursor int64
	// HasMore - явный признак конца потока; nil, если сервер его не шлет
	HasMore *bool
	// MaxLocalID - максимальный натуральный ключ в партии, запасной вариант
	// продвижения курсора
	MaxLocalID int64
}

// Size возвращает число записей в партии
func (b *SourceBatch) Size() int {
	return len(b.Vehicles) + len(b.Parts)
}

// PageFetcher запрашивает одну страницу у источника
type PageFetcher func(ctx context.Context, q FetchQuery) (*SourceBatch, error)

// MetasyncSourcePort - внешний пагинируемый источник данных
type MetasyncSourcePort interface {
	// FetchVehicles читает страницу изменений автомобилей
	FetchVehicles(ctx context.Context, creds *domain.ApiConfig, q FetchQuery) (*SourceBatch, error)
	// FetchParts читает страницу изменений запчастей вместе с параллельным
	// массивом автомобилей
	FetchParts(ctx context.Context, creds *domain.ApiConfig, q FetchQuery) (*SourceBatch, error)
}

// SourceError - ошибка обращения к источнику с признаком временности
type SourceError struct {
	StatusCode int
	Err        error
}

func (e *SourceError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("source request failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("source request failed: %v", e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Transient сообщает, имеет ли смысл повторять запрос
func (e *SourceError) Transient() bool {
	if e.StatusCode == 0 {
		// сетевые ошибки и таймауты
		return true
	}
	return e.StatusCode == 429 || e.StatusCode >= 500
}
