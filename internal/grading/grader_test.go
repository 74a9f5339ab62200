package grading

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	m := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return m, rdb
}

func TestQueueGrader_SubmitOnce(t *testing.T) {
	m, rdb := newRedis(t)
	g := NewQueueGrader(rdb, NewPublisher(rdb), zerolog.Nop())

	sub := model.Submission{
		SessionID:   uuid.New(),
		TestID:      uuid.New(),
		LearnerID:   9,
		Answers:     map[string]string{"q1": "a"},
		Reason:      model.ReasonTimeout,
		CompletedAt: time.Now().UTC().Truncate(time.Second),
	}

	ctx := context.Background()
	require.NoError(t, g.Submit(ctx, sub))
	require.NoError(t, g.Submit(ctx, sub))

	items, err := m.List(config.WorkerKey.PersistSubmissionsQueue)
	require.NoError(t, err)
	require.Len(t, items, 1)

	var got model.Submission
	require.NoError(t, json.Unmarshal([]byte(items[0]), &got))
	assert.Equal(t, sub.SessionID, got.SessionID)
	assert.Equal(t, sub.Answers, got.Answers)
	assert.Equal(t, model.ReasonTimeout, got.Reason)
	assert.True(t, m.Exists(config.CacheKey.SubmittedSessionKey(sub.SessionID.String())))
}

func TestViolationRecorder_QueuesAndPublishes(t *testing.T) {
	m, rdb := newRedis(t)
	sessionID, testID := uuid.New(), uuid.New()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub := rdb.Subscribe(ctx, config.CacheKey.TestMonitorChannel(testID.String()))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	r := NewViolationRecorder(rdb, NewPublisher(rdb), sessionID, testID, 5, zerolog.Nop())
	r.RecordViolation(proctor.ViolationVisibilityHidden, 2, false)

	items, err := m.List(config.WorkerKey.PersistViolationsQueue)
	require.NoError(t, err)
	require.Len(t, items, 1)

	var ev model.ViolationEvent
	require.NoError(t, json.Unmarshal([]byte(items[0]), &ev))
	assert.Equal(t, sessionID, ev.SessionID)
	assert.Equal(t, "visibility_hidden", ev.Kind)
	assert.Equal(t, 2, ev.Ordinal)
	assert.False(t, ev.Forced)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var monitor MonitorEvent
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &monitor))
	assert.Equal(t, EventViolation, monitor.Type)
	assert.Equal(t, 5, monitor.LearnerID)
	assert.Equal(t, 2, monitor.ViolationCount)
}
