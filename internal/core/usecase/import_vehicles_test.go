package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"metasync-import-service/internal/core/domain"
	"metasync-import-service/internal/core/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportVehiclesHappyPath(t *testing.T) {
	ledger := newFakeLedger()
	vehicles := newFakeVehicleStorage()
	parts := &fakePartStorage{}
	events := &fakeEvents{}

	source := &fakeSource{
		vehiclePages: func(q port.FetchQuery) (*port.SourceBatch, error) {
			if q.LastID == 0 {
				b := makeVehiclesPage(1, 10)
				b.Total = 13
				return b, nil
			}
			return makeVehiclesPage(q.LastID+1, 3), nil
		},
	}

	uc := NewImportVehiclesUseCase(source, vehicles, parts, ledger, validApiConfigs(), events, testWalkOptions())
	run, err := uc.Execute(context.Background(), ImportOptions{FullImport: true})

	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, 13, run.Counters.Processed)
	assert.Equal(t, 13, run.Counters.Inserted)
	assert.Equal(t, 2, run.Counters.Batches)
	assert.Equal(t, 100, run.Progress)
	assert.Len(t, vehicles.saved, 13)
	assert.Equal(t, 1, parts.resolveCalls)
	assert.Equal(t, []string{"run.started", "run.finished"}, events.events)
	assert.Len(t, ledger.increments, 2)
	// учетные данные источника прокинуты в каждый запрос
	for _, c := range source.creds {
		assert.Equal(t, "key", c.ApiKey)
	}
}

func TestImportVehiclesRejectsConcurrentRun(t *testing.T) {
	ledger := newFakeLedger()
	ledger.active[domain.KindVehicles] = domain.NewImportRun(domain.KindVehicles, false)

	uc := NewImportVehiclesUseCase(&fakeSource{}, newFakeVehicleStorage(), &fakePartStorage{},
		ledger, validApiConfigs(), nil, testWalkOptions())
	run, err := uc.Execute(context.Background(), ImportOptions{})

	assert.ErrorIs(t, err, ErrRunAlreadyActive)
	assert.Nil(t, run)
	assert.Empty(t, ledger.created)
}

func TestImportVehiclesSimultaneousTriggersCreateOneRun(t *testing.T) {
	ledger := newFakeLedger()

	// обе горутины проходят предварительную проверку FindActive раньше, чем
	// первая успевает вставить запись: единственность обязана дать сама вставка
	var gate sync.WaitGroup
	gate.Add(2)
	ledger.createHook = func() {
		gate.Done()
		gate.Wait()
	}

	source := &fakeSource{
		vehiclePages: func(q port.FetchQuery) (*port.SourceBatch, error) {
			return makeVehiclesPage(1, 3), nil
		},
	}
	uc := NewImportVehiclesUseCase(source, newFakeVehicleStorage(), &fakePartStorage{},
		ledger, validApiConfigs(), nil, testWalkOptions())

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := uc.Execute(context.Background(), ImportOptions{})
			results <- err
		}()
	}

	var succeeded, rejected int
	for i := 0; i < 2; i++ {
		switch err := <-results; {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrRunAlreadyActive):
			rejected++
		default:
			t.Fatalf("unexpected execute error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)
	assert.Len(t, ledger.created, 1)
}

func TestImportVehiclesFailsWithoutApiConfig(t *testing.T) {
	ledger := newFakeLedger()
	events := &fakeEvents{}

	uc := NewImportVehiclesUseCase(&fakeSource{}, newFakeVehicleStorage(), &fakePartStorage{},
		ledger, &fakeApiConfigs{err: domain.ErrNoActiveApiConfig}, events, testWalkOptions())
	run, err := uc.Execute(context.Background(), ImportOptions{})

	require.Error(t, err)
	require.NotNil(t, run)
	assert.Equal(t, domain.RunFailed, run.Status)
	assert.Zero(t, run.Counters.Processed)
	assert.NotEmpty(t, run.ErrorList)
	assert.Equal(t, []string{"run.finished"}, events.events)
}

func TestImportVehiclesSourceFailureMidStreamIsPartial(t *testing.T) {
	ledger := newFakeLedger()
	vehicles := newFakeVehicleStorage()

	source := &fakeSource{
		vehiclePages: func(q port.FetchQuery) (*port.SourceBatch, error) {
			if q.LastID == 0 {
				return makeVehiclesPage(1, 10), nil
			}
			return nil, &port.SourceError{StatusCode: 401, Err: errors.New("key revoked")}
		},
	}

	uc := NewImportVehiclesUseCase(source, vehicles, &fakePartStorage{}, ledger, validApiConfigs(), nil, testWalkOptions())
	run, err := uc.Execute(context.Background(), ImportOptions{})

	require.Error(t, err)
	assert.Equal(t, domain.RunPartial, run.Status)
	assert.Equal(t, 10, run.Counters.Processed)
	assert.NotEmpty(t, run.ErrorList)
}

func TestImportVehiclesSourceFailureUpfrontIsFailed(t *testing.T) {
	ledger := newFakeLedger()

	source := &fakeSource{
		vehiclePages: func(q port.FetchQuery) (*port.SourceBatch, error) {
			return nil, &port.SourceError{StatusCode: 403, Err: errors.New("forbidden")}
		},
	}

	uc := NewImportVehiclesUseCase(source, newFakeVehicleStorage(), &fakePartStorage{},
		ledger, validApiConfigs(), nil, testWalkOptions())
	run, err := uc.Execute(context.Background(), ImportOptions{})

	require.Error(t, err)
	assert.Equal(t, domain.RunFailed, run.Status)
	assert.Zero(t, run.Counters.Processed)
}

func TestResolveSince(t *testing.T) {
	ledger := newFakeLedger()

	explicit := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	got := resolveSince(context.Background(), ledger, domain.KindVehicles, ImportOptions{Since: &explicit})
	assert.Equal(t, explicit, got)

	// полный импорт игнорирует историю запусков
	got = resolveSince(context.Background(), ledger, domain.KindVehicles, ImportOptions{FullImport: true})
	assert.Equal(t, fullImportSince, got)

	// без истории инкрементальный импорт тоже идет от начала времен
	got = resolveSince(context.Background(), ledger, domain.KindVehicles, ImportOptions{})
	assert.Equal(t, fullImportSince, got)

	last := domain.NewImportRun(domain.KindVehicles, false)
	started := time.Date(2025, 5, 10, 3, 0, 0, 0, time.UTC)
	last.StartedAt = &started
	ledger.lastCompleted[domain.KindVehicles] = last

	got = resolveSince(context.Background(), ledger, domain.KindVehicles, ImportOptions{})
	assert.Equal(t, started, got)
}
