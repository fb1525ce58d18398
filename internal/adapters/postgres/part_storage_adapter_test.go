package postgres

import (
	"testing"

	"metasync-import-service/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestDemotedAfterResolveAppliesCatalogRules(t *testing.T) {
	resolved := []resolvedPart{
		{Ref: 1, VehicleID: 100, Price: "25.00", ArticleDesc: "FARO DELANTERO", VehicleBrand: "RENAULT", Active: true},
		{Ref: 2, VehicleID: 100, Price: "25.00", ArticleDesc: "MOTOR SIN IDENTIFICAR", VehicleBrand: "RENAULT", Active: true},
		{Ref: 3, VehicleID: 100, Price: "25.00", ArticleDesc: "PUERTA", VehicleBrand: "NO IDENTIFICADO", Active: true},
		// уже неактивные строки не трогаем, их статус решил SQL-предикат
		{Ref: 4, VehicleID: 100, Price: "0", ArticleDesc: "MOTOR SIN IDENTIFICAR", VehicleBrand: "RENAULT", Active: false},
	}

	assert.Equal(t, []int64{2, 3}, demotedAfterResolve(resolved))
}

func TestDemotedAfterResolveIgnoresDiacriticsAndCase(t *testing.T) {
	resolved := []resolvedPart{
		{Ref: 7, VehicleID: 200, Price: "10.00", ArticleDesc: "pieza sín identificár", VehicleBrand: "SEAT", Active: true},
	}

	assert.Equal(t, []int64{7}, demotedAfterResolve(resolved))
}

func TestDedupePartsCountsDroppedRecords(t *testing.T) {
	parts := []*domain.Part{
		{RefLocal: 1, Price: "5.00"},
		{RefLocal: 2, Price: "1.00"},
		{RefLocal: 2, Price: "2.00"},
		{RefLocal: 0},
		nil,
	}

	out, dupes, invalid := dedupeParts(parts)

	assert.Len(t, out, 2)
	assert.Equal(t, 1, dupes)
	assert.Equal(t, 2, invalid)
	// последний дубликат выигрывает
	assert.Equal(t, "2.00", out[1].Price)
	// партия сходится: сохраненные + дубликаты + брак
	assert.Equal(t, len(parts), len(out)+dupes+invalid)
}

func TestDedupeVehiclesCountsDroppedRecords(t *testing.T) {
	vehicles := []*domain.Vehicle{
		{LocalID: 10, Brand: "SEAT"},
		{LocalID: 10, Brand: "RENAULT"},
		{LocalID: 0},
	}

	out, dupes, invalid := dedupeVehicles(vehicles)

	assert.Len(t, out, 1)
	assert.Equal(t, 1, dupes)
	assert.Equal(t, 1, invalid)
	assert.Equal(t, "RENAULT", out[0].Brand)
}
