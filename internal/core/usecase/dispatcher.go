package usecase

import (
	"context"
	"fmt"

	"metasync-import-service/internal/core/domain"
)

// ImportDispatcher выбирает исполнителя по типу импорта. Единая точка входа
// для REST-слоя и планировщика.
type ImportDispatcher struct {
	vehicles runExecutor
	parts    runExecutor
	all      runExecutor
}

func NewImportDispatcher(vehicles, parts, all runExecutor) *ImportDispatcher {
	return &ImportDispatcher{vehicles: vehicles, parts: parts, all: all}
}

// Trigger запускает импорт указанного типа
func (d *ImportDispatcher) Trigger(ctx context.Context, kind domain.ImportKind, opts ImportOptions) (*domain.ImportRun, error) {
	switch kind {
	case domain.KindVehicles:
		return d.vehicles.Execute(ctx, opts)
	case domain.KindParts:
		return d.parts.Execute(ctx, opts)
	case domain.KindAll:
		return d.all.Execute(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown import kind %q", kind)
	}
}
