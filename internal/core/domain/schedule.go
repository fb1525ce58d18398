package domain

import (
	"fmt"
	"time"
)

// ImportSchedule - расписание автоматического запуска импорта
type ImportSchedule struct {
	ID   int64      `json:"id"`
	Kind ImportKind `json:"kind"`
	// Frequency - интервал между запусками (12h, 24h, ...)
	Frequency time.Duration `json:"frequency"`
	// StartTime - время суток первого запуска, "HH:MM"
	StartTime  string     `json:"start_time"`
	Active     bool       `json:"active"`
	FullImport bool       `json:"full_import"`
	LastRunAt  *time.Time `json:"last_run_at"`
	NextRunAt  *time.Time `json:"next_run_at"`
}

// DefaultSchedules - расписания, создаваемые при первом старте сервиса
func DefaultSchedules() []*ImportSchedule {
	return []*ImportSchedule{
		{Kind: KindVehicles, Frequency: 12 * time.Hour, StartTime: "02:00", Active: true},
		{Kind: KindParts, Frequency: 12 * time.Hour, StartTime: "02:30", Active: true},
		{Kind: KindAll, Frequency: 24 * time.Hour, StartTime: "01:00", Active: false, FullImport: true},
	}
}

// IsDue сообщает, пора ли запускать расписание
func (s *ImportSchedule) IsDue(now time.Time) bool {
	if !s.Active {
		return false
	}
	if s.NextRunAt == nil {
		return true
	}
	return !now.Before(*s.NextRunAt)
}

// ComputeNextRun вычисляет следующий момент запуска: ближайшее время
// StartTime в будущем, затем шаги по Frequency
func (s *ImportSchedule) ComputeNextRun(now time.Time) (time.Time, error) {
	var hh, mm int
	if _, err := fmt.Sscanf(s.StartTime, "%d:%d", &hh, &mm); err != nil {
		return time.Time{}, fmt.Errorf("invalid start time %q: %w", s.StartTime, err)
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return time.Time{}, fmt.Errorf("invalid start time %q", s.StartTime)
	}
	if s.Frequency <= 0 {
		return time.Time{}, fmt.Errorf("invalid frequency %s", s.Frequency)
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location())
	for !next.After(now) {
		next = next.Add(s.Frequency)
	}
	return next, nil
}
