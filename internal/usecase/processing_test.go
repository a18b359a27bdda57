package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/pncp-ingest/internal/entity"
	"github.com/user/pncp-ingest/internal/repository"
)

func newTestProcessing(t *testing.T, store *fakeCandidates) ProcessingStateMachine {
	t.Helper()
	return NewProcessingStateMachine(store, nil, zaptest.NewLogger(t))
}

func TestProcessing_ThreeFailuresMarkRecordFailed(t *testing.T) {
	ctx := context.Background()
	store := newFakeCandidates()
	id := store.seed("k-1", entity.StatePending, 0)
	sm := newTestProcessing(t, store)

	for attempt := 1; attempt <= entity.MaxAttempts; attempt++ {
		batch, err := sm.SelectBatch(ctx, 10)
		require.NoError(t, err)
		require.Len(t, batch, 1, "attempt %d", attempt)

		st, err := sm.ReportOutcome(ctx, id, false, errors.New("render timeout"))
		require.NoError(t, err)
		assert.Equal(t, attempt, st.AttemptCount)
	}

	st := store.status(id)
	assert.Equal(t, entity.StateFailed, st.State)
	assert.Equal(t, entity.MaxAttempts, st.AttemptCount)
	require.NotNil(t, st.LastError)
	assert.Equal(t, "render timeout", *st.LastError)

	batch, err := sm.SelectBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestProcessing_SuccessClearsErrorAndKeepsAttempts(t *testing.T) {
	ctx := context.Background()
	store := newFakeCandidates()
	id := store.seed("k-1", entity.StatePending, 0)
	sm := newTestProcessing(t, store)

	_, err := sm.SelectBatch(ctx, 1)
	require.NoError(t, err)
	_, err = sm.ReportOutcome(ctx, id, false, errors.New("navigation failed"))
	require.NoError(t, err)

	_, err = sm.SelectBatch(ctx, 1)
	require.NoError(t, err)
	st, err := sm.ReportOutcome(ctx, id, true, nil)
	require.NoError(t, err)

	assert.Equal(t, entity.StateSuccess, st.State)
	assert.Equal(t, 1, st.AttemptCount)
	assert.Nil(t, st.LastError)
	assert.NotNil(t, st.ProcessedAt)

	stored := store.status(id)
	assert.Equal(t, entity.StateSuccess, stored.State)
	assert.Nil(t, stored.LastError)
}

func TestProcessing_SelectBatchSkipsUnselectableStates(t *testing.T) {
	ctx := context.Background()
	store := newFakeCandidates()
	store.seed("processing", entity.StateProcessing, 0)
	store.seed("success", entity.StateSuccess, 0)
	store.seed("failed", entity.StateFailed, 3)
	pending := store.seed("pending", entity.StatePending, 0)
	retry := store.seed("error", entity.StateError, 2)
	sm := newTestProcessing(t, store)

	batch, err := sm.SelectBatch(ctx, 10)
	require.NoError(t, err)

	var ids []int64
	for _, c := range batch {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []int64{pending, retry}, ids)
	assert.Equal(t, entity.StateProcessing, store.status(pending).State)
	assert.Equal(t, 2, store.status(retry).AttemptCount)

	again, err := sm.SelectBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestProcessing_SelectBatchRespectsLimitOldestFirst(t *testing.T) {
	store := newFakeCandidates()
	first := store.seed("a", entity.StatePending, 0)
	second := store.seed("b", entity.StatePending, 0)
	store.seed("c", entity.StatePending, 0)
	sm := newTestProcessing(t, store)

	batch, err := sm.SelectBatch(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, first, batch[0].ID)
	assert.Equal(t, second, batch[1].ID)
}

func TestProcessing_ReportOutcomeOnTerminalRecord(t *testing.T) {
	store := newFakeCandidates()
	id := store.seed("k", entity.StateSuccess, 0)
	sm := newTestProcessing(t, store)

	_, err := sm.ReportOutcome(context.Background(), id, false, errors.New("boom"))
	assert.ErrorIs(t, err, entity.ErrInvalidTransition)
	assert.Equal(t, entity.StateSuccess, store.status(id).State)
}

func TestProcessing_ReportOutcomeUnknownRecord(t *testing.T) {
	sm := newTestProcessing(t, newFakeCandidates())
	_, err := sm.ReportOutcome(context.Background(), 42, true, nil)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestProcessing_PersistenceFailureLeavesCountersAlone(t *testing.T) {
	ctx := context.Background()
	store := newFakeCandidates()
	id := store.seed("k", entity.StatePending, 0)
	sm := newTestProcessing(t, store)

	_, err := sm.SelectBatch(ctx, 1)
	require.NoError(t, err)

	store.updateErr = repository.ErrPersistence
	_, err = sm.ReportOutcome(ctx, id, true, nil)
	require.ErrorIs(t, err, repository.ErrPersistence)

	report, err := sm.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Snapshot.Processed)
	assert.Zero(t, report.Snapshot.Errors)
	assert.Equal(t, entity.StateProcessing, store.status(id).State)
}

func TestProcessing_RecoverInterrupted(t *testing.T) {
	store := newFakeCandidates()
	fresh := store.seed("fresh", entity.StateProcessing, 0)
	retried := store.seed("retried", entity.StateProcessing, 1)
	done := store.seed("done", entity.StateSuccess, 0)
	sm := newTestProcessing(t, store)

	n, err := sm.RecoverInterrupted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, entity.StatePending, store.status(fresh).State)
	assert.Equal(t, entity.StateError, store.status(retried).State)
	assert.Equal(t, 1, store.status(retried).AttemptCount)
	assert.Equal(t, entity.StateSuccess, store.status(done).State)
}

func TestProcessing_Reset(t *testing.T) {
	ctx := context.Background()
	store := newFakeCandidates()
	failed := store.seed("failed", entity.StateFailed, 3)
	otherFailed := store.seed("failed-2", entity.StateFailed, 3)
	done := store.seed("done", entity.StateSuccess, 1)
	sm := newTestProcessing(t, store)

	n, err := sm.Reset(ctx, []int64{failed, done, 999})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	st := store.status(failed)
	assert.Equal(t, entity.StatePending, st.State)
	assert.Zero(t, st.AttemptCount)
	assert.Nil(t, st.LastError)
	assert.Equal(t, entity.StateSuccess, store.status(done).State)
	assert.Equal(t, entity.StateFailed, store.status(otherFailed).State)

	n, err = sm.Reset(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, entity.StatePending, store.status(otherFailed).State)
}

func TestProcessing_StatusSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newFakeCandidates()
	a := store.seed("a", entity.StatePending, 0)
	b := store.seed("b", entity.StatePending, 0)
	c := store.seed("c", entity.StatePending, 0)
	store.seed("d", entity.StateSuccess, 0)
	sm := newTestProcessing(t, store)

	_, err := sm.SelectBatch(ctx, 3)
	require.NoError(t, err)
	sm.MarkCurrent("https://pncp.gov.br/app/editais/1/2025/1")
	_, err = sm.ReportOutcome(ctx, a, true, nil)
	require.NoError(t, err)
	_, err = sm.ReportOutcome(ctx, b, false, errors.New("timeout"))
	require.NoError(t, err)

	report, err := sm.Status(ctx)
	require.NoError(t, err)
	assert.True(t, report.Snapshot.Running)
	assert.Equal(t, 3, report.Snapshot.Total)
	assert.Equal(t, 1, report.Snapshot.Processed)
	assert.Equal(t, 1, report.Snapshot.Errors)
	assert.Equal(t, "https://pncp.gov.br/app/editais/1/2025/1", report.Snapshot.CurrentURL)
	assert.InDelta(t, 66.67, report.Snapshot.Progress(), 0.01)
	assert.Equal(t, 2, report.ByState[entity.StateSuccess])
	assert.Equal(t, 1, report.ByState[entity.StateError])
	assert.Equal(t, 1, report.ByState[entity.StateProcessing])

	sm.Abandon(c, repository.ErrPersistence)
	sm.Finish()
	report, err = sm.Status(ctx)
	require.NoError(t, err)
	assert.False(t, report.Snapshot.Running)
	assert.Empty(t, report.Snapshot.CurrentURL)
	assert.Equal(t, 2, report.Snapshot.Errors)
	assert.NotNil(t, report.Snapshot.FinishedAt)
}
