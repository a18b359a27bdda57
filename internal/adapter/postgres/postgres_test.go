package postgres

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/pncp-ingest/internal/entity"
	"github.com/user/pncp-ingest/internal/repository"
)

func TestSelectPendingQuery(t *testing.T) {
	query, args, err := selectPendingQuery(25)
	require.NoError(t, err)

	assert.Contains(t, query, "FROM candidates")
	assert.Contains(t, query, "state IN ($1,$2)")
	assert.Contains(t, query, "attempt_count < $3")
	assert.Contains(t, query, "ORDER BY created_at ASC")
	assert.Contains(t, query, "LIMIT 25")
	assert.Equal(t, []any{"pending", "error", entity.MaxAttempts}, args)
}

func TestExistingKeysQuery(t *testing.T) {
	query, args, err := existingKeysQuery([]string{"a-2025-1", "b-2025-2"})
	require.NoError(t, err)

	assert.Equal(t, "SELECT external_key FROM candidates WHERE external_key IN ($1,$2)", query)
	assert.Equal(t, []any{"a-2025-1", "b-2025-2"}, args)
}

func TestUpdateStatusQuery_ClearsError(t *testing.T) {
	state := entity.StateSuccess
	empty := ""
	now := time.Date(2025, 3, 11, 6, 0, 0, 0, time.UTC)

	query, args, err := updateStatusQuery(42, entity.ProcessingStatusPatch{
		State:       &state,
		LastError:   &empty,
		ProcessedAt: &now,
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(query, "UPDATE candidates SET updated_at = NOW()"))
	assert.Contains(t, query, "state = $1")
	assert.Contains(t, query, "last_error = $2")
	assert.Contains(t, query, "processed_at = $3")
	assert.Contains(t, query, "WHERE id = $4")
	assert.Equal(t, []any{"success", nil, now, int64(42)}, args)
}

func TestUpsertRecordSQL_ReplacesOnConflict(t *testing.T) {
	assert.Contains(t, upsertRecordSQL, "ON CONFLICT (external_key) DO UPDATE SET")
	assert.Contains(t, insertCandidateSQL, "ON CONFLICT (external_key) DO NOTHING")
}

func TestUpsertRecordArgs(t *testing.T) {
	value := 1234.56
	rec := &entity.CompleteRecord{
		CandidateRecord: entity.CandidateRecord{
			ID:          7,
			ExternalKey: "83102277000152-2025-408",
			OrgTaxID:    "83102277000152",
			Year:        2025,
			Sequence:    408,
		},
		Title:          "Pregão Eletrônico nº 408/2025",
		EstimatedValue: &value,
		Items: []entity.Item{{SequenceNumber: 1, Description: "Papel A4"}},
	}

	args, err := upsertRecordArgs(rec)
	require.NoError(t, err)
	require.Len(t, args, strings.Count(upsertRecordSQL, "$"))

	require.NotNil(t, args[0])
	assert.Equal(t, int64(7), *args[0].(*int64))
	assert.Equal(t, "83102277000152-2025-408", args[1])

	var items []entity.Item
	require.NoError(t, json.Unmarshal(args[27].([]byte), &items))
	assert.Equal(t, "Papel A4", items[0].Description)
	assert.JSONEq(t, "[]", string(args[28].([]byte)))
	assert.JSONEq(t, "[]", string(args[29].([]byte)))
}

func TestSchedulerQueries(t *testing.T) {
	runAt := "08:00"
	enabled := true

	query, args, err := updateSchedulerQuery(entity.SchedulerConfigPatch{RunAt: &runAt, Enabled: &enabled})
	require.NoError(t, err)
	assert.Contains(t, query, "UPDATE scheduler_config SET")
	assert.Contains(t, query, "WHERE id = $")
	assert.Contains(t, args, "08:00")

	query, _, err = updateSchedulerQuery(entity.SchedulerConfigPatch{})
	require.NoError(t, err)
	assert.Empty(t, query)

	_, _, err = insertSchedulerQuery(entity.SchedulerConfigPatch{RunAt: &runAt})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSchemaDefinesTables(t *testing.T) {
	for _, table := range []string{"candidates", "complete_records", "execution_audit", "scheduler_config"} {
		assert.Contains(t, schemaSQL, "CREATE TABLE IF NOT EXISTS "+table)
	}
}
