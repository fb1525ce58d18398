package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"metasync-import-service/internal/contextkeys"
	"metasync-import-service/internal/core/port"
)

// ErrCursorStalled - источник не дал способа безопасно продвинуть курсор
var ErrCursorStalled = errors.New("pagination cursor cannot advance")

// WalkOptions - настройки обхода страниц источника
type WalkOptions struct {
	PageSize int
	// MaxBatches - жесткий потолок числа страниц, защита от зацикливания
	// на некорректном источнике
	MaxBatches int
	// MaxRetries - число повторов одного окна при временных сбоях
	MaxRetries int
	// MaxConsecutiveFailures - после скольких подряд пропущенных окон обход
	// прерывается
	MaxConsecutiveFailures int
	// RetryBaseDelay - база экспоненциального backoff между повторами
	RetryBaseDelay time.Duration
}

// DefaultWalkOptions - значения, выверенные по поведению источника
func DefaultWalkOptions() WalkOptions {
	return WalkOptions{
		PageSize:               1000,
		MaxBatches:             200,
		MaxRetries:             3,
		MaxConsecutiveFailures: 3,
		RetryBaseDelay:         time.Second,
	}
}

// WalkResult - итог обхода
type WalkResult struct {
	Batches int
	// Partial - часть потока пропущена или обход прерван досрочно
	Partial        bool
	SkippedWindows int
	LastCursor     int64
}

// BatchHandler обрабатывает одну страницу. Ошибка обработчика фатальна для
// обхода: если не пишется хранилище, продолжать нет смысла.
type BatchHandler func(ctx context.Context, batch *port.SourceBatch) error

// WalkPages обходит пагинируемый источник от startCursor до конца потока.
// Конец определяется по любому из признаков: пустая партия, явный флаг
// "больше нет данных", партия короче страницы, потолок MaxBatches.
// Временные сбои окна повторяются с backoff; исчерпав повторы, обход
// пропускает окно (курсор вперед на размер страницы) и помечает результат
// частичным. Невременная ошибка источника прерывает обход сразу.
func WalkPages(ctx context.Context, fetch port.PageFetcher, since time.Time, startCursor int64, opts WalkOptions, handle BatchHandler) (*WalkResult, error) {
	logger := contextkeys.LoggerFromContext(ctx)

	result := &WalkResult{LastCursor: startCursor}
	cursor := startCursor
	consecutiveFailures := 0

	for result.Batches+result.SkippedWindows < opts.MaxBatches {
		if err := ctx.Err(); err != nil {
			result.Partial = true
			return result, err
		}

		q := port.FetchQuery{Since: since, LastID: cursor, PageSize: opts.PageSize}
		batch, err := fetchWithRetry(ctx, fetch, q, opts)
		if err != nil {
			var srcErr *port.SourceError
			if !errors.As(err, &srcErr) || !srcErr.Transient() {
				result.Partial = result.Batches > 0
				return result, err
			}

			// окно источника временно недоступно: пропускаем его и идем дальше
			result.Partial = true
			result.SkippedWindows++
			consecutiveFailures++
			logger.Warn("Skipping source window after exhausted retries", port.Fields{
				"cursor":               cursor,
				"consecutive_failures": consecutiveFailures,
			})
			if consecutiveFailures >= opts.MaxConsecutiveFailures {
				return result, fmt.Errorf("walk aborted after %d consecutive failed windows: %w", consecutiveFailures, err)
			}
			cursor += int64(opts.PageSize)
			result.LastCursor = cursor
			continue
		}
		consecutiveFailures = 0

		size := batch.Size()
		if size == 0 {
			return result, nil
		}

		result.Batches++
		if err := handle(ctx, batch); err != nil {
			result.Partial = true
			return result, err
		}

		next := batch.NextCursor
		if next <= cursor {
			// сервер курсор не сообщил, двигаемся по максимальному ключу партии
			if batch.MaxLocalID > cursor {
				next = batch.MaxLocalID + 1
			} else {
				result.Partial = true
				return result, ErrCursorStalled
			}
		}
		cursor = next
		result.LastCursor = cursor

		if batch.HasMore != nil && !*batch.HasMore {
			return result, nil
		}
		if size < opts.PageSize {
			// партия короче страницы - эвристический конец потока
			return result, nil
		}
	}

	// потолок страниц: поток мог не исчерпаться
	result.Partial = true
	logger.Warn("Walk stopped at batch cap", port.Fields{"max_batches": opts.MaxBatches})
	return result, nil
}

// fetchWithRetry повторяет запрос окна с экспоненциальным backoff,
// пока ошибка временная
func fetchWithRetry(ctx context.Context, fetch port.PageFetcher, q port.FetchQuery, opts WalkOptions) (*port.SourceBatch, error) {
	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := opts.RetryBaseDelay * time.Duration(1<<(attempt-1))
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
		}

		batch, err := fetch(ctx, q)
		if err == nil {
			return batch, nil
		}
		lastErr = err

		var srcErr *port.SourceError
		if !errors.As(err, &srcErr) || !srcErr.Transient() {
			return nil, err
		}
	}
	return nil, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
