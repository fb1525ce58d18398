package usecase

import (
	"context"
	"sync"
	"time"

	"metasync-import-service/internal/core/domain"
	"metasync-import-service/internal/core/port"

	"github.com/google/uuid"
)

// Ин-мемори дублеры портов для тестов сценариев импорта.

type fakeLedger struct {
	mu sync.Mutex

	created       []*domain.ImportRun
	statusUpdates []domain.RunStatus
	increments    []domain.RunCounters

	active        map[domain.ImportKind]*domain.ImportRun
	lastCompleted map[domain.ImportKind]*domain.ImportRun
	activeKinds   map[domain.ImportKind]uuid.UUID
	createErr     error

	// createHook вызывается перед вставкой, до захвата мьютекса
	createHook func()
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		active:        map[domain.ImportKind]*domain.ImportRun{},
		lastCompleted: map[domain.ImportKind]*domain.ImportRun{},
		activeKinds:   map[domain.ImportKind]uuid.UUID{},
	}
}

// Create повторяет поведение частичного уникального индекса журнала: второй
// активный запуск того же типа отклоняется на вставке
func (l *fakeLedger) Create(ctx context.Context, run *domain.ImportRun) error {
	if l.createHook != nil {
		l.createHook()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.createErr != nil {
		return l.createErr
	}
	if _, busy := l.activeKinds[run.Kind]; busy || l.active[run.Kind] != nil {
		return domain.ErrRunAlreadyActive
	}
	l.activeKinds[run.Kind] = run.ID
	l.created = append(l.created, run)
	return nil
}

func (l *fakeLedger) Update(ctx context.Context, run *domain.ImportRun) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statusUpdates = append(l.statusUpdates, run.Status)
	if run.IsTerminal() && l.activeKinds[run.Kind] == run.ID {
		delete(l.activeKinds, run.Kind)
	}
	return nil
}

func (l *fakeLedger) IncrementCounters(ctx context.Context, id uuid.UUID, delta domain.RunCounters) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.increments = append(l.increments, delta)
	return nil
}

func (l *fakeLedger) FindByID(ctx context.Context, id uuid.UUID) (*domain.ImportRun, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, run := range l.created {
		if run.ID == id {
			return run, nil
		}
	}
	return nil, domain.ErrRunNotFound
}

func (l *fakeLedger) FindRecent(ctx context.Context, limit, offset int) ([]*domain.ImportRun, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.created, nil
}

func (l *fakeLedger) FindLastCompleted(ctx context.Context, kind domain.ImportKind) (*domain.ImportRun, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastCompleted[kind], nil
}

func (l *fakeLedger) FindActive(ctx context.Context, kind domain.ImportKind) (*domain.ImportRun, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active[kind], nil
}

func (l *fakeLedger) FailStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

type fakeSource struct {
	vehiclePages func(q port.FetchQuery) (*port.SourceBatch, error)
	partPages    func(q port.FetchQuery) (*port.SourceBatch, error)

	mu    sync.Mutex
	creds []*domain.ApiConfig
}

func (s *fakeSource) FetchVehicles(ctx context.Context, creds *domain.ApiConfig, q port.FetchQuery) (*port.SourceBatch, error) {
	s.mu.Lock()
	s.creds = append(s.creds, creds)
	s.mu.Unlock()
	return s.vehiclePages(q)
}

func (s *fakeSource) FetchParts(ctx context.Context, creds *domain.ApiConfig, q port.FetchQuery) (*port.SourceBatch, error) {
	s.mu.Lock()
	s.creds = append(s.creds, creds)
	s.mu.Unlock()
	return s.partPages(q)
}

type fakeVehicleStorage struct {
	mu sync.Mutex

	saved        []*domain.Vehicle
	stored       map[int64]*domain.Vehicle
	lookups      [][]int64
	counterCalls int
	saveErr      error
}

func newFakeVehicleStorage() *fakeVehicleStorage {
	return &fakeVehicleStorage{stored: map[int64]*domain.Vehicle{}}
}

func (s *fakeVehicleStorage) SaveBatch(ctx context.Context, vehicles []*domain.Vehicle) (*domain.BatchSaveStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return nil, s.saveErr
	}
	s.saved = append(s.saved, vehicles...)
	return &domain.BatchSaveStats{Inserted: len(vehicles)}, nil
}

func (s *fakeVehicleStorage) FindByLocalIDs(ctx context.Context, ids []int64) (map[int64]*domain.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups = append(s.lookups, ids)
	found := map[int64]*domain.Vehicle{}
	for _, id := range ids {
		if v, ok := s.stored[id]; ok {
			found[id] = v
		}
	}
	return found, nil
}

func (s *fakeVehicleStorage) UpdateActivePartsCounters(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counterCalls++
	return 0, nil
}

func (s *fakeVehicleStorage) CountAll(ctx context.Context) (int64, error) { return 0, nil }

type fakePartStorage struct {
	mu sync.Mutex

	saved        []*domain.Part
	markCalls    [][]int64
	markResult   int64
	markErr      error
	resolveCalls int
	saveErr      error
}

func (s *fakePartStorage) SaveBatch(ctx context.Context, parts []*domain.Part) (*domain.BatchSaveStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return nil, s.saveErr
	}
	s.saved = append(s.saved, parts...)
	return &domain.BatchSaveStats{Inserted: len(parts)}, nil
}

func (s *fakePartStorage) MarkUnavailableExcept(ctx context.Context, receivedRefs []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markCalls = append(s.markCalls, receivedRefs)
	if s.markErr != nil {
		return 0, s.markErr
	}
	return s.markResult, nil
}

func (s *fakePartStorage) ResolvePendingVehicleData(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolveCalls++
	return 0, nil
}

func (s *fakePartStorage) CountAll(ctx context.Context) (int64, error) { return 0, nil }

type fakeApiConfigs struct {
	cfg *domain.ApiConfig
	err error
}

func (c *fakeApiConfigs) GetActive(ctx context.Context) (*domain.ApiConfig, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.cfg, nil
}

func (c *fakeApiConfigs) Update(ctx context.Context, cfg *domain.ApiConfig) error { return nil }

func validApiConfigs() *fakeApiConfigs {
	return &fakeApiConfigs{cfg: &domain.ApiConfig{ID: 1, ApiKey: "key", CompanyID: 7, Channel: "web", Active: true}}
}

type fakeEvents struct {
	mu     sync.Mutex
	events []string
}

func (e *fakeEvents) PublishRunEvent(ctx context.Context, event string, run *domain.ImportRun) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

type fakeRelations struct {
	mu       sync.Mutex
	rebuilds int
	err      error
}

func (r *fakeRelations) Rebuild(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rebuilds++
	if r.err != nil {
		return 0, r.err
	}
	return 42, nil
}
