package grading

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// submittedTTL bounds how long a session id is remembered for deduplication.
const submittedTTL = 24 * time.Hour

// QueueGrader hands completed sessions to the submission worker through Redis.
// Scoring happens in the worker, against the answer key the learner never sees.
type QueueGrader struct {
	rdb       *redis.Client
	publisher *Publisher
	log       zerolog.Logger
}

// NewQueueGrader creates a new QueueGrader.
func NewQueueGrader(rdb *redis.Client, publisher *Publisher, log zerolog.Logger) *QueueGrader {
	return &QueueGrader{
		rdb:       rdb,
		publisher: publisher,
		log:       log.With().Str("component", "queue_grader").Logger(),
	}
}

// Submit enqueues sub once per session id. A repeated call for the same
// session is acknowledged without enqueueing again.
func (g *QueueGrader) Submit(ctx context.Context, sub model.Submission) error {
	payload, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal submission: %w", err)
	}

	first, err := g.rdb.SetNX(ctx, config.CacheKey.SubmittedSessionKey(sub.SessionID.String()), 1, submittedTTL).Result()
	if err != nil {
		return fmt.Errorf("mark submitted: %w", err)
	}
	if !first {
		g.log.Warn().Str("session_id", sub.SessionID.String()).Msg("Duplicate submission ignored")
		return nil
	}

	pipe := g.rdb.TxPipeline()
	pipe.RPush(ctx, config.WorkerKey.PersistSubmissionsQueue, payload)
	if err := g.publisher.publish(ctx, pipe, sub.TestID, MonitorEvent{
		Type:           EventSubmitted,
		SessionID:      sub.SessionID,
		LearnerID:      sub.LearnerID,
		Reason:         string(sub.Reason),
		ViolationCount: sub.ViolationCount,
		Answered:       len(sub.Answers),
		Timestamp:      sub.CompletedAt.Unix(),
	}); err != nil {
		return fmt.Errorf("queue monitor event: %w", err)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		// Allow a retry to enqueue.
		g.rdb.Del(context.Background(), config.CacheKey.SubmittedSessionKey(sub.SessionID.String()))
		return fmt.Errorf("enqueue submission: %w", err)
	}

	g.log.Debug().
		Str("session_id", sub.SessionID.String()).
		Str("reason", string(sub.Reason)).
		Msg("Submission queued")
	return nil
}
