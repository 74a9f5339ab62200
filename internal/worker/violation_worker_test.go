package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViolationRows(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	ev := &model.ViolationEvent{
		SessionID:  uuid.New(),
		TestID:     uuid.New(),
		LearnerID:  12,
		Kind:       "visibility_hidden",
		Ordinal:    3,
		Forced:     true,
		RecordedAt: at,
	}

	rows := violationRows([]*model.ViolationEvent{ev})
	require.Len(t, rows, 1)
	require.Len(t, rows[0], len(violationColumns))
	assert.Equal(t, []interface{}{ev.SessionID, ev.TestID, 12, "visibility_hidden", 3, true, at}, rows[0])
}

func TestRequeue(t *testing.T) {
	requeueBackoff = 0
	mr, rdb := newTestRedis(t)

	items := []*model.ViolationEvent{{LearnerID: 1, Ordinal: 1}, {LearnerID: 2, Ordinal: 2}}
	requeue(context.Background(), rdb, "violations", items, zerolog.Nop())

	list, err := mr.List("violations")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	requeue(context.Background(), rdb, "violations", []*model.ViolationEvent{}, zerolog.Nop())
	list, err = mr.List("violations")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestViolationWorker_FallbackSortsFailures(t *testing.T) {
	requeueBackoff = 0
	mr, rdb := newTestRedis(t)

	db := &fakeDB{
		copyErr: errors.New("copy failed"),
		execErrs: []error{
			nil,
			&pgconn.PgError{Code: "23503"},
			errors.New("i/o timeout"),
		},
	}
	w := &ViolationWorker{db: db, rdb: rdb, log: zerolog.Nop()}

	batch := []*model.ViolationEvent{
		{SessionID: uuid.New(), LearnerID: 1, Ordinal: 1},
		{SessionID: uuid.New(), LearnerID: 2, Ordinal: 1},
		{SessionID: uuid.New(), LearnerID: 3, Ordinal: 2},
	}
	w.flushSafe(context.Background(), batch)

	assert.Equal(t, 1, db.copies)
	assert.Len(t, db.execArgs, 3)

	retry, err := mr.List(config.WorkerKey.PersistViolationsQueue)
	require.NoError(t, err)
	require.Len(t, retry, 1)
	var ev model.ViolationEvent
	require.NoError(t, json.Unmarshal([]byte(retry[0]), &ev))
	assert.Equal(t, batch[2].SessionID, ev.SessionID)

	dead, err := mr.List(config.WorkerKey.DeadViolationsQueue)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	require.NoError(t, json.Unmarshal([]byte(dead[0]), &ev))
	assert.Equal(t, batch[1].SessionID, ev.SessionID)
}
