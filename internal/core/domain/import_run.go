package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ImportKind - тип запуска импорта
type ImportKind string

const (
	KindVehicles ImportKind = "vehicles"
	KindParts    ImportKind = "parts"
	KindAll      ImportKind = "all"
)

// ParseImportKind разбирает строковое представление типа импорта
func ParseImportKind(s string) (ImportKind, error) {
	switch ImportKind(s) {
	case KindVehicles, KindParts, KindAll:
		return ImportKind(s), nil
	default:
		return "", fmt.Errorf("unknown import kind %q", s)
	}
}

// RunStatus - перечисление статусов запуска
type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
	RunPartial    RunStatus = "partial"
)

var (
	ErrRunNotFound = errors.New("import run not found")
	// ErrInvalidTransition возвращается при попытке нарушить монотонность статусов
	ErrInvalidTransition = errors.New("invalid run status transition")
	// ErrRunAlreadyActive - активный запуск этого типа уже существует.
	// Гарантию дает частичный уникальный индекс журнала, а не проверка в коде.
	ErrRunAlreadyActive = errors.New("an import run of this kind is already active")
)

// RunCounters - счетчики прогресса одного запуска
type RunCounters struct {
	Total       int `json:"total"`
	Processed   int `json:"processed"`
	Inserted    int `json:"inserted"`
	Updated     int `json:"updated"`
	Deactivated int `json:"deactivated"`
	Errors      int `json:"errors"`
	Batches     int `json:"batches"`
}

// Add суммирует счетчики (используется при пакетном обновлении журнала)
func (c *RunCounters) Add(d RunCounters) {
	c.Total += d.Total
	c.Processed += d.Processed
	c.Inserted += d.Inserted
	c.Updated += d.Updated
	c.Deactivated += d.Deactivated
	c.Errors += d.Errors
	c.Batches += d.Batches
}

// Details - произвольные детали запуска (фаза составного импорта и т.п.)
type Details map[string]interface{}

// ImportRun - запись журнала импортов. Статусы меняются строго монотонно:
// pending -> in_progress -> {completed|failed|partial}; терминальная запись
// неизменяема.
type ImportRun struct {
	ID         uuid.UUID  `json:"id"`
	Kind       ImportKind `json:"kind"`
	Status     RunStatus  `json:"status"`
	FullImport bool       `json:"full_import"`

	Counters RunCounters `json:"counters"`
	Progress int         `json:"progress"`

	LastCursor  int64    `json:"last_cursor"`
	CurrentStep string   `json:"current_step"`
	ErrorList   []string `json:"error_list"`
	Details     Details  `json:"details"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
}

// NewImportRun - конструктор для создания нового запуска
func NewImportRun(kind ImportKind, fullImport bool) *ImportRun {
	return &ImportRun{
		ID:         uuid.New(),
		Kind:       kind,
		Status:     RunPending,
		FullImport: fullImport,
		ErrorList:  []string{},
		Details:    make(Details),
		CreatedAt:  time.Now().UTC(),
	}
}

// IsTerminal сообщает, достиг ли запуск конечного состояния
func (r *ImportRun) IsTerminal() bool {
	switch r.Status {
	case RunCompleted, RunFailed, RunPartial:
		return true
	}
	return false
}

// CanTransitionTo проверяет допустимость перехода статуса
func (r *ImportRun) CanTransitionTo(next RunStatus) bool {
	if r.IsTerminal() {
		return false
	}
	switch r.Status {
	case RunPending:
		// запуск может провалиться на этапе подготовки, не начав работу
		return next == RunInProgress || next == RunFailed
	case RunInProgress:
		return next == RunCompleted || next == RunFailed || next == RunPartial
	}
	return false
}

// Start переводит запуск в in_progress
func (r *ImportRun) Start() error {
	if !r.CanTransitionTo(RunInProgress) {
		return ErrInvalidTransition
	}
	now := time.Now().UTC()
	r.Status = RunInProgress
	r.StartedAt = &now
	return nil
}

// Finish переводит запуск в терминальный статус ровно один раз
func (r *ImportRun) Finish(status RunStatus) error {
	if status != RunCompleted && status != RunFailed && status != RunPartial {
		return ErrInvalidTransition
	}
	if !r.CanTransitionTo(status) {
		return ErrInvalidTransition
	}
	now := time.Now().UTC()
	r.Status = status
	r.FinishedAt = &now
	if status == RunCompleted {
		r.Progress = 100
	}
	return nil
}

// AppendError добавляет сообщение в список ошибок запуска
func (r *ImportRun) AppendError(msg string) {
	r.ErrorList = append(r.ErrorList, msg)
}

// RecalcProgress пересчитывает процент выполнения. Если total неизвестен,
// прогресс не убывает и остается как есть.
func (r *ImportRun) RecalcProgress() {
	if r.Counters.Total <= 0 {
		return
	}
	p := r.Counters.Processed * 100 / r.Counters.Total
	if p > 100 {
		p = 100
	}
	if p > r.Progress {
		r.Progress = p
	}
}
