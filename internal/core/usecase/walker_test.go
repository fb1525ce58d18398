package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"metasync-import-service/internal/core/domain"
	"metasync-import-service/internal/core/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWalkOptions() WalkOptions {
	return WalkOptions{
		PageSize:               10,
		MaxBatches:             50,
		MaxRetries:             2,
		MaxConsecutiveFailures: 3,
		RetryBaseDelay:         time.Millisecond,
	}
}

// makeVehiclesPage строит партию из n автомобилей с ключами от firstID
func makeVehiclesPage(firstID int64, n int) *port.SourceBatch {
	batch := &port.SourceBatch{}
	for i := 0; i < n; i++ {
		id := firstID + int64(i)
		batch.Vehicles = append(batch.Vehicles, &domain.Vehicle{LocalID: id})
		if id > batch.MaxLocalID {
			batch.MaxLocalID = id
		}
	}
	return batch
}

// scriptedFetcher отдает заранее подготовленные ответы по очереди
func scriptedFetcher(responses []func(q port.FetchQuery) (*port.SourceBatch, error)) (port.PageFetcher, *[]port.FetchQuery) {
	var calls []port.FetchQuery
	i := 0
	fetch := func(ctx context.Context, q port.FetchQuery) (*port.SourceBatch, error) {
		calls = append(calls, q)
		if i >= len(responses) {
			return &port.SourceBatch{}, nil
		}
		resp := responses[i]
		i++
		return resp(q)
	}
	return fetch, &calls
}

func TestWalkPagesStopsOnShortBatch(t *testing.T) {
	fetch, calls := scriptedFetcher([]func(q port.FetchQuery) (*port.SourceBatch, error){
		func(q port.FetchQuery) (*port.SourceBatch, error) { return makeVehiclesPage(1, 10), nil },
		func(q port.FetchQuery) (*port.SourceBatch, error) { return makeVehiclesPage(11, 3), nil },
	})

	var handled int
	result, err := WalkPages(context.Background(), fetch, time.Time{}, 0, testWalkOptions(),
		func(ctx context.Context, batch *port.SourceBatch) error {
			handled += batch.Size()
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, 2, result.Batches)
	assert.False(t, result.Partial)
	assert.Equal(t, 13, handled)
	require.Len(t, *calls, 2)
	// без серверного курсора следующая страница идет от максимального ключа
	assert.Equal(t, int64(11), (*calls)[1].LastID)
}

func TestWalkPagesStopsOnEmptyBatch(t *testing.T) {
	fetch, _ := scriptedFetcher([]func(q port.FetchQuery) (*port.SourceBatch, error){
		func(q port.FetchQuery) (*port.SourceBatch, error) { return makeVehiclesPage(1, 10), nil },
		func(q port.FetchQuery) (*port.SourceBatch, error) { return &port.SourceBatch{}, nil },
	})

	result, err := WalkPages(context.Background(), fetch, time.Time{}, 0, testWalkOptions(),
		func(ctx context.Context, batch *port.SourceBatch) error { return nil })

	require.NoError(t, err)
	assert.Equal(t, 1, result.Batches)
	assert.False(t, result.Partial)
}

func TestWalkPagesHonorsHasMoreFlag(t *testing.T) {
	noMore := false
	fetch, calls := scriptedFetcher([]func(q port.FetchQuery) (*port.SourceBatch, error){
		func(q port.FetchQuery) (*port.SourceBatch, error) {
			batch := makeVehiclesPage(1, 10)
			batch.HasMore = &noMore
			return batch, nil
		},
	})

	result, err := WalkPages(context.Background(), fetch, time.Time{}, 0, testWalkOptions(),
		func(ctx context.Context, batch *port.SourceBatch) error { return nil })

	require.NoError(t, err)
	assert.Equal(t, 1, result.Batches)
	assert.False(t, result.Partial)
	assert.Len(t, *calls, 1)
}

func TestWalkPagesPrefersServerCursor(t *testing.T) {
	fetch, calls := scriptedFetcher([]func(q port.FetchQuery) (*port.SourceBatch, error){
		func(q port.FetchQuery) (*port.SourceBatch, error) {
			batch := makeVehiclesPage(1, 10)
			batch.NextCursor = 500
			return batch, nil
		},
		func(q port.FetchQuery) (*port.SourceBatch, error) { return &port.SourceBatch{}, nil },
	})

	_, err := WalkPages(context.Background(), fetch, time.Time{}, 0, testWalkOptions(),
		func(ctx context.Context, batch *port.SourceBatch) error { return nil })

	require.NoError(t, err)
	require.Len(t, *calls, 2)
	assert.Equal(t, int64(500), (*calls)[1].LastID)
}

func TestWalkPagesCursorStalled(t *testing.T) {
	fetch, _ := scriptedFetcher([]func(q port.FetchQuery) (*port.SourceBatch, error){
		func(q port.FetchQuery) (*port.SourceBatch, error) {
			// полная страница без курсора и без ключей: продвинуться не по чему
			return &port.SourceBatch{Parts: make([]*domain.Part, 10)}, nil
		},
	})

	result, err := WalkPages(context.Background(), fetch, time.Time{}, 0, testWalkOptions(),
		func(ctx context.Context, batch *port.SourceBatch) error { return nil })

	assert.ErrorIs(t, err, ErrCursorStalled)
	assert.True(t, result.Partial)
}

func TestWalkPagesRetriesTransientErrors(t *testing.T) {
	attempts := 0
	fetch := func(ctx context.Context, q port.FetchQuery) (*port.SourceBatch, error) {
		attempts++
		if attempts < 3 {
			return nil, &port.SourceError{StatusCode: 503, Err: errors.New("upstream unavailable")}
		}
		return makeVehiclesPage(1, 3), nil
	}

	result, err := WalkPages(context.Background(), fetch, time.Time{}, 0, testWalkOptions(),
		func(ctx context.Context, batch *port.SourceBatch) error { return nil })

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 1, result.Batches)
	assert.False(t, result.Partial)
}

func TestWalkPagesSkipsWindowAfterExhaustedRetries(t *testing.T) {
	var calls []int64
	fetch := func(ctx context.Context, q port.FetchQuery) (*port.SourceBatch, error) {
		calls = append(calls, q.LastID)
		if q.LastID == 0 {
			return nil, &port.SourceError{StatusCode: 500, Err: errors.New("boom")}
		}
		return makeVehiclesPage(q.LastID+1, 3), nil
	}

	opts := testWalkOptions()
	result, err := WalkPages(context.Background(), fetch, time.Time{}, 0, opts,
		func(ctx context.Context, batch *port.SourceBatch) error { return nil })

	require.NoError(t, err)
	assert.True(t, result.Partial)
	assert.Equal(t, 1, result.SkippedWindows)
	assert.Equal(t, 1, result.Batches)
	// окно 0 повторяется MaxRetries+1 раз, затем курсор прыгает на размер страницы
	assert.Equal(t, []int64{0, 0, 0, 10}, calls)
}

func TestWalkPagesAbortsAfterConsecutiveFailures(t *testing.T) {
	fetch := func(ctx context.Context, q port.FetchQuery) (*port.SourceBatch, error) {
		return nil, &port.SourceError{StatusCode: 502, Err: errors.New("bad gateway")}
	}

	opts := testWalkOptions()
	result, err := WalkPages(context.Background(), fetch, time.Time{}, 0, opts,
		func(ctx context.Context, batch *port.SourceBatch) error { return nil })

	require.Error(t, err)
	assert.True(t, result.Partial)
	assert.Equal(t, opts.MaxConsecutiveFailures, result.SkippedWindows)
}

func TestWalkPagesNonTransientErrorIsFatal(t *testing.T) {
	srcErr := &port.SourceError{StatusCode: 401, Err: errors.New("bad api key")}
	fetch := func(ctx context.Context, q port.FetchQuery) (*port.SourceBatch, error) {
		return nil, srcErr
	}

	result, err := WalkPages(context.Background(), fetch, time.Time{}, 0, testWalkOptions(),
		func(ctx context.Context, batch *port.SourceBatch) error { return nil })

	var gotErr *port.SourceError
	require.ErrorAs(t, err, &gotErr)
	assert.Equal(t, 401, gotErr.StatusCode)
	assert.Equal(t, 0, result.Batches)
	assert.False(t, result.Partial)
}

func TestWalkPagesHandlerErrorIsFatal(t *testing.T) {
	fetch, _ := scriptedFetcher([]func(q port.FetchQuery) (*port.SourceBatch, error){
		func(q port.FetchQuery) (*port.SourceBatch, error) { return makeVehiclesPage(1, 10), nil },
	})

	handlerErr := fmt.Errorf("storage write failed")
	result, err := WalkPages(context.Background(), fetch, time.Time{}, 0, testWalkOptions(),
		func(ctx context.Context, batch *port.SourceBatch) error { return handlerErr })

	assert.ErrorIs(t, err, handlerErr)
	assert.True(t, result.Partial)
}

func TestWalkPagesStopsAtBatchCap(t *testing.T) {
	fetch := func(ctx context.Context, q port.FetchQuery) (*port.SourceBatch, error) {
		return makeVehiclesPage(q.LastID+1, 10), nil
	}

	opts := testWalkOptions()
	opts.MaxBatches = 3
	result, err := WalkPages(context.Background(), fetch, time.Time{}, 0, opts,
		func(ctx context.Context, batch *port.SourceBatch) error { return nil })

	require.NoError(t, err)
	assert.Equal(t, 3, result.Batches)
	assert.True(t, result.Partial)
}

func TestSourceErrorTransient(t *testing.T) {
	assert.True(t, (&port.SourceError{StatusCode: 0}).Transient())
	assert.True(t, (&port.SourceError{StatusCode: 429}).Transient())
	assert.True(t, (&port.SourceError{StatusCode: 500}).Transient())
	assert.True(t, (&port.SourceError{StatusCode: 503}).Transient())
	assert.False(t, (&port.SourceError{StatusCode: 400}).Transient())
	assert.False(t, (&port.SourceError{StatusCode: 401}).Transient())
	assert.False(t, (&port.SourceError{StatusCode: 404}).Transient())
}
