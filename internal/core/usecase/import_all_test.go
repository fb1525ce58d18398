package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"metasync-import-service/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePhase - управляемая фаза составного импорта
type fakePhase struct {
	kind   domain.ImportKind
	status domain.RunStatus
	err    error
	delay  time.Duration

	mu    sync.Mutex
	calls int
	order *[]string
}

func (f *fakePhase) Execute(ctx context.Context, opts ImportOptions) (*domain.ImportRun, error) {
	f.mu.Lock()
	f.calls++
	if f.order != nil {
		*f.order = append(*f.order, string(f.kind))
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil && f.status == "" {
		return nil, f.err
	}

	run := domain.NewImportRun(f.kind, opts.FullImport)
	run.Status = f.status
	run.Counters = domain.RunCounters{Processed: 5, Inserted: 5, Batches: 1}
	return run, f.err
}

func (f *fakePhase) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestImportAllRunsPhasesInOrder(t *testing.T) {
	ledger := newFakeLedger()
	relations := &fakeRelations{}
	events := &fakeEvents{}

	var order []string
	vehicles := &fakePhase{kind: domain.KindVehicles, status: domain.RunCompleted, order: &order}
	parts := &fakePhase{kind: domain.KindParts, status: domain.RunCompleted, order: &order}

	uc := NewImportAllUseCase(vehicles, parts, relations, ledger, events, time.Second)
	master, err := uc.Execute(context.Background(), ImportOptions{FullImport: true})

	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, master.Status)
	assert.Equal(t, []string{"vehicles", "parts"}, order)
	assert.Equal(t, 1, relations.rebuilds)
	assert.Equal(t, 10, master.Counters.Processed)
	assert.Contains(t, master.Details, "vehicles_run_id")
	assert.Contains(t, master.Details, "parts_run_id")
	assert.Equal(t, []string{"run.started", "run.finished"}, events.events)
}

func TestImportAllStopsWhenVehiclesPhaseFails(t *testing.T) {
	ledger := newFakeLedger()
	relations := &fakeRelations{}

	vehicles := &fakePhase{kind: domain.KindVehicles, status: domain.RunFailed}
	parts := &fakePhase{kind: domain.KindParts, status: domain.RunCompleted}

	uc := NewImportAllUseCase(vehicles, parts, relations, ledger, nil, time.Second)
	master, err := uc.Execute(context.Background(), ImportOptions{})

	require.Error(t, err)
	assert.Equal(t, domain.RunFailed, master.Status)
	assert.Zero(t, parts.callCount())
	assert.Zero(t, relations.rebuilds)
}

func TestImportAllPartialPhasePropagates(t *testing.T) {
	ledger := newFakeLedger()

	vehicles := &fakePhase{kind: domain.KindVehicles, status: domain.RunCompleted}
	parts := &fakePhase{kind: domain.KindParts, status: domain.RunPartial}

	uc := NewImportAllUseCase(vehicles, parts, &fakeRelations{}, ledger, nil, time.Second)
	master, err := uc.Execute(context.Background(), ImportOptions{})

	require.NoError(t, err)
	assert.Equal(t, domain.RunPartial, master.Status)
}

func TestImportAllPhaseTimeoutMakesMasterPartial(t *testing.T) {
	ledger := newFakeLedger()

	vehicles := &fakePhase{kind: domain.KindVehicles, status: domain.RunCompleted, delay: 200 * time.Millisecond}
	parts := &fakePhase{kind: domain.KindParts, status: domain.RunCompleted}

	uc := NewImportAllUseCase(vehicles, parts, &fakeRelations{}, ledger, nil, 10*time.Millisecond)
	master, err := uc.Execute(context.Background(), ImportOptions{})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPhaseTimeout)
	assert.Equal(t, domain.RunPartial, master.Status)
	// запчасти на незавершенных данных автомобилей не запускаются
	assert.Zero(t, parts.callCount())
	// у сорвавшейся фазы нет настоящего запуска, ссылаться не на что
	assert.NotContains(t, master.Details, "vehicles_run_id")
}

func TestImportAllRelationsFailureIsPartial(t *testing.T) {
	ledger := newFakeLedger()

	vehicles := &fakePhase{kind: domain.KindVehicles, status: domain.RunCompleted}
	parts := &fakePhase{kind: domain.KindParts, status: domain.RunCompleted}
	relations := &fakeRelations{err: errors.New("truncate deadlock")}

	uc := NewImportAllUseCase(vehicles, parts, relations, ledger, nil, time.Second)
	master, err := uc.Execute(context.Background(), ImportOptions{})

	require.NoError(t, err)
	assert.Equal(t, domain.RunPartial, master.Status)
	assert.NotEmpty(t, master.ErrorList)
}

func TestImportAllRejectsConcurrentRun(t *testing.T) {
	ledger := newFakeLedger()
	ledger.active[domain.KindAll] = domain.NewImportRun(domain.KindAll, false)

	uc := NewImportAllUseCase(&fakePhase{}, &fakePhase{}, &fakeRelations{}, ledger, nil, time.Second)
	master, err := uc.Execute(context.Background(), ImportOptions{})

	assert.ErrorIs(t, err, ErrRunAlreadyActive)
	assert.Nil(t, master)
}
