package grading

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

const recordTimeout = 2 * time.Second

// ViolationRecorder queues the violations of one session for auditing and
// announces them on the live monitor. Failures are logged and never reach
// the session.
type ViolationRecorder struct {
	rdb       *redis.Client
	publisher *Publisher
	sessionID uuid.UUID
	testID    uuid.UUID
	learnerID int
	log       zerolog.Logger
}

// NewViolationRecorder creates a recorder bound to one session.
func NewViolationRecorder(rdb *redis.Client, publisher *Publisher, sessionID, testID uuid.UUID, learnerID int, log zerolog.Logger) *ViolationRecorder {
	return &ViolationRecorder{
		rdb:       rdb,
		publisher: publisher,
		sessionID: sessionID,
		testID:    testID,
		learnerID: learnerID,
		log:       log.With().Str("component", "violation_recorder").Str("session_id", sessionID.String()).Logger(),
	}
}

// RecordViolation implements proctor.ViolationRecorder.
func (r *ViolationRecorder) RecordViolation(kind proctor.ViolationKind, count int, forced bool) {
	ev := model.ViolationEvent{
		SessionID:  r.sessionID,
		TestID:     r.testID,
		LearnerID:  r.learnerID,
		Kind:       string(kind),
		Ordinal:    count,
		Forced:     forced,
		RecordedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		r.log.Error().Err(err).Msg("Marshal violation failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	pipe := r.rdb.Pipeline()
	pipe.RPush(ctx, config.WorkerKey.PersistViolationsQueue, payload)
	if err := r.publisher.publish(ctx, pipe, r.testID, MonitorEvent{
		Type:           EventViolation,
		SessionID:      r.sessionID,
		LearnerID:      r.learnerID,
		Kind:           string(kind),
		ViolationCount: count,
		Timestamp:      ev.RecordedAt.Unix(),
	}); err != nil {
		r.log.Error().Err(err).Msg("Queue violation event failed")
		return
	}
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Error().Err(err).Str("kind", string(kind)).Int("count", count).Msg("Failed to record violation")
	}
}
