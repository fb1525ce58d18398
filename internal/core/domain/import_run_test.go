package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportRunLifecycle(t *testing.T) {
	run := NewImportRun(KindVehicles, true)
	require.Equal(t, RunPending, run.Status)
	require.NotEqual(t, "", run.ID.String())
	assert.True(t, run.FullImport)
	assert.NotNil(t, run.ErrorList)
	assert.NotNil(t, run.Details)

	require.NoError(t, run.Start())
	assert.Equal(t, RunInProgress, run.Status)
	require.NotNil(t, run.StartedAt)

	require.NoError(t, run.Finish(RunCompleted))
	assert.Equal(t, RunCompleted, run.Status)
	assert.Equal(t, 100, run.Progress)
	require.NotNil(t, run.FinishedAt)
	assert.True(t, run.IsTerminal())
}

func TestImportRunTerminalIsImmutable(t *testing.T) {
	run := NewImportRun(KindParts, false)
	require.NoError(t, run.Start())
	require.NoError(t, run.Finish(RunFailed))

	assert.ErrorIs(t, run.Start(), ErrInvalidTransition)
	assert.ErrorIs(t, run.Finish(RunCompleted), ErrInvalidTransition)
	assert.ErrorIs(t, run.Finish(RunPartial), ErrInvalidTransition)
}

func TestImportRunPendingCanFailWithoutStart(t *testing.T) {
	run := NewImportRun(KindAll, false)
	require.NoError(t, run.Finish(RunFailed))
	assert.Equal(t, RunFailed, run.Status)
}

func TestImportRunPendingCannotComplete(t *testing.T) {
	run := NewImportRun(KindVehicles, false)
	assert.ErrorIs(t, run.Finish(RunCompleted), ErrInvalidTransition)
	assert.ErrorIs(t, run.Finish(RunPartial), ErrInvalidTransition)
}

func TestImportRunFinishRejectsNonTerminalStatus(t *testing.T) {
	run := NewImportRun(KindVehicles, false)
	require.NoError(t, run.Start())
	assert.ErrorIs(t, run.Finish(RunInProgress), ErrInvalidTransition)
	assert.ErrorIs(t, run.Finish(RunPending), ErrInvalidTransition)
}

func TestRecalcProgress(t *testing.T) {
	run := NewImportRun(KindParts, false)

	// без известного total прогресс не трогаем
	run.Counters.Processed = 50
	run.RecalcProgress()
	assert.Equal(t, 0, run.Progress)

	run.Counters.Total = 200
	run.RecalcProgress()
	assert.Equal(t, 25, run.Progress)

	// прогресс монотонный, даже если total внезапно вырос
	run.Counters.Total = 1000
	run.RecalcProgress()
	assert.Equal(t, 25, run.Progress)

	run.Counters.Processed = 2000
	run.RecalcProgress()
	assert.Equal(t, 100, run.Progress)
}

func TestRunCountersAdd(t *testing.T) {
	c := RunCounters{Total: 10, Processed: 5, Inserted: 3, Updated: 2, Errors: 1, Batches: 1}
	c.Add(RunCounters{Total: 10, Processed: 5, Inserted: 1, Updated: 4, Deactivated: 2, Batches: 1})

	assert.Equal(t, RunCounters{
		Total: 20, Processed: 10, Inserted: 4, Updated: 6, Deactivated: 2, Errors: 1, Batches: 2,
	}, c)
}

func TestParseImportKind(t *testing.T) {
	for _, s := range []string{"vehicles", "parts", "all"} {
		kind, err := ParseImportKind(s)
		require.NoError(t, err)
		assert.Equal(t, ImportKind(s), kind)
	}

	_, err := ParseImportKind("everything")
	assert.Error(t, err)
}
