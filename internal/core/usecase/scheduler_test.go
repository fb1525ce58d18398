package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"metasync-import-service/internal/contextkeys"
	"metasync-import-service/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSchedules struct {
	mu sync.Mutex

	due    []*domain.ImportSchedule
	saved  []*domain.ImportSchedule
	seeded bool
}

func (s *fakeSchedules) List(ctx context.Context) ([]*domain.ImportSchedule, error) {
	return s.due, nil
}

func (s *fakeSchedules) Save(ctx context.Context, schedule *domain.ImportSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, schedule)
	return nil
}

func (s *fakeSchedules) SeedDefaults(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeded = true
	return nil
}

func (s *fakeSchedules) FindDue(ctx context.Context) ([]*domain.ImportSchedule, error) {
	return s.due, nil
}

func newTestScheduler(schedules *fakeSchedules, ledger *fakeLedger, vehicles, parts, all runExecutor) *SchedulerService {
	dispatcher := NewImportDispatcher(vehicles, parts, all)
	logger := contextkeys.LoggerFromContext(context.Background())
	return NewSchedulerService(schedules, ledger, dispatcher, logger)
}

func TestSchedulerExecutesDueScheduleAndAdvancesNextRun(t *testing.T) {
	schedules := &fakeSchedules{
		due: []*domain.ImportSchedule{
			{ID: 1, Kind: domain.KindVehicles, Frequency: 12 * time.Hour, StartTime: "02:00", Active: true},
		},
	}
	vehicles := &fakePhase{kind: domain.KindVehicles, status: domain.RunCompleted}

	s := newTestScheduler(schedules, newFakeLedger(), vehicles, &fakePhase{}, &fakePhase{})
	s.tick(context.Background())

	assert.Equal(t, 1, vehicles.callCount())
	require.Len(t, schedules.saved, 1)
	saved := schedules.saved[0]
	require.NotNil(t, saved.LastRunAt)
	require.NotNil(t, saved.NextRunAt)
	assert.True(t, saved.NextRunAt.After(time.Now()))
	assert.True(t, saved.Active)
}

func TestSchedulerRetriesFailedRuns(t *testing.T) {
	schedules := &fakeSchedules{
		due: []*domain.ImportSchedule{
			{ID: 1, Kind: domain.KindParts, Frequency: time.Hour, StartTime: "02:00", Active: true},
		},
	}
	parts := &fakePhase{kind: domain.KindParts, status: domain.RunFailed, err: context.DeadlineExceeded}

	s := newTestScheduler(schedules, newFakeLedger(), &fakePhase{}, parts, &fakePhase{})
	s.tick(context.Background())

	assert.Equal(t, s.maxRetryAttempts, parts.callCount())
	require.Len(t, schedules.saved, 1)
}

func TestSchedulerTreatsActiveRunAsSuccess(t *testing.T) {
	schedules := &fakeSchedules{
		due: []*domain.ImportSchedule{
			{ID: 1, Kind: domain.KindVehicles, Frequency: time.Hour, StartTime: "02:00", Active: true},
		},
	}
	ledger := newFakeLedger()

	// реальный use case сам откажет из-за активного запуска
	ledger.active[domain.KindVehicles] = domain.NewImportRun(domain.KindVehicles, false)
	vehicles := NewImportVehiclesUseCase(&fakeSource{}, newFakeVehicleStorage(), &fakePartStorage{},
		ledger, validApiConfigs(), nil, testWalkOptions())

	s := newTestScheduler(schedules, ledger, vehicles, &fakePhase{}, &fakePhase{})
	s.tick(context.Background())

	// расписание продвинуто, повторов не было
	require.Len(t, schedules.saved, 1)
	assert.NotNil(t, schedules.saved[0].NextRunAt)
}

func TestSchedulerDoesNotRetryMissingApiConfig(t *testing.T) {
	schedules := &fakeSchedules{
		due: []*domain.ImportSchedule{
			{ID: 1, Kind: domain.KindVehicles, Frequency: time.Hour, StartTime: "02:00", Active: true},
		},
	}
	ledger := newFakeLedger()

	configs := &fakeApiConfigs{err: domain.ErrNoActiveApiConfig}
	vehicles := NewImportVehiclesUseCase(&fakeSource{}, newFakeVehicleStorage(), &fakePartStorage{},
		ledger, configs, nil, testWalkOptions())

	s := newTestScheduler(schedules, ledger, vehicles, &fakePhase{}, &fakePhase{})
	s.tick(context.Background())

	// ровно одна созданная запись запуска: повторных попыток не было
	assert.Len(t, ledger.created, 1)
}

func TestSchedulerDisablesScheduleWithBrokenStartTime(t *testing.T) {
	schedules := &fakeSchedules{
		due: []*domain.ImportSchedule{
			{ID: 1, Kind: domain.KindVehicles, Frequency: time.Hour, StartTime: "broken", Active: true},
		},
	}
	vehicles := &fakePhase{kind: domain.KindVehicles, status: domain.RunCompleted}

	s := newTestScheduler(schedules, newFakeLedger(), vehicles, &fakePhase{}, &fakePhase{})
	s.tick(context.Background())

	require.Len(t, schedules.saved, 1)
	assert.False(t, schedules.saved[0].Active)
}
