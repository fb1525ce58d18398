package domain

import "errors"

// ErrSafetyThreshold - синхронизация доступности затронула бы слишком большую
// долю каталога; запуск обязан остановиться вместо массового скрытия данных
var ErrSafetyThreshold = errors.New("availability sync exceeds safety threshold")

// BatchSaveStats - результат сохранения одной партии записей
type BatchSaveStats struct {
	Inserted      int
	Updated       int
	Errors        int
	ErrorMessages []string
}

// Merge суммирует статистику нескольких чанков
func (s *BatchSaveStats) Merge(other *BatchSaveStats) {
	if other == nil {
		return
	}
	s.Inserted += other.Inserted
	s.Updated += other.Updated
	s.Errors += other.Errors
	s.ErrorMessages = append(s.ErrorMessages, other.ErrorMessages...)
}
