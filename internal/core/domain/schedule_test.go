package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeNextRun(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

	s := &ImportSchedule{Kind: KindVehicles, Frequency: 12 * time.Hour, StartTime: "02:00"}
	next, err := s.ComputeNextRun(now)
	require.NoError(t, err)
	// слоты 02:00 и 14:00 уже не строго в будущем, следующий - 02:00 завтра
	assert.Equal(t, time.Date(2025, 3, 11, 2, 0, 0, 0, time.UTC), next)

	early := time.Date(2025, 3, 10, 1, 0, 0, 0, time.UTC)
	next, err = s.ComputeNextRun(early)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 2, 0, 0, 0, time.UTC), next)
}

func TestComputeNextRunRejectsBadInput(t *testing.T) {
	_, err := (&ImportSchedule{Frequency: time.Hour, StartTime: "25:00"}).ComputeNextRun(time.Now())
	assert.Error(t, err)

	_, err = (&ImportSchedule{Frequency: time.Hour, StartTime: "nope"}).ComputeNextRun(time.Now())
	assert.Error(t, err)

	_, err = (&ImportSchedule{Frequency: 0, StartTime: "02:00"}).ComputeNextRun(time.Now())
	assert.Error(t, err)
}

func TestIsDue(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	assert.False(t, (&ImportSchedule{Active: false}).IsDue(now))
	assert.True(t, (&ImportSchedule{Active: true}).IsDue(now))
	assert.True(t, (&ImportSchedule{Active: true, NextRunAt: &past}).IsDue(now))
	assert.True(t, (&ImportSchedule{Active: true, NextRunAt: &now}).IsDue(now))
	assert.False(t, (&ImportSchedule{Active: true, NextRunAt: &future}).IsDue(now))
}

func TestDefaultSchedules(t *testing.T) {
	defaults := DefaultSchedules()
	require.Len(t, defaults, 3)

	byKind := map[ImportKind]*ImportSchedule{}
	for _, s := range defaults {
		byKind[s.Kind] = s
	}

	require.Contains(t, byKind, KindVehicles)
	require.Contains(t, byKind, KindParts)
	require.Contains(t, byKind, KindAll)

	assert.True(t, byKind[KindVehicles].Active)
	assert.True(t, byKind[KindParts].Active)
	// составной полный импорт тяжелый, по умолчанию выключен
	assert.False(t, byKind[KindAll].Active)
	assert.True(t, byKind[KindAll].FullImport)
}
