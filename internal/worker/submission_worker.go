package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/grading"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// answerKeySource resolves the answer key of a test.
type answerKeySource interface {
	GetAnswerKey(ctx context.Context, testID uuid.UUID) (model.AnswerKey, error)
}

// SubmissionWorker scores completed sessions and persists them to
// test_submissions. A session id is stored at most once.
type SubmissionWorker struct {
	db   database
	rdb  *redis.Client
	keys answerKeySource
	log  zerolog.Logger
}

func NewSubmissionWorker(pool *pgxpool.Pool, rdb *redis.Client, keys answerKeySource, log zerolog.Logger) *SubmissionWorker {
	return &SubmissionWorker{
		db:   pool,
		rdb:  rdb,
		keys: keys,
		log:  log.With().Str("component", "submission_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *SubmissionWorker) Start(ctx context.Context) {
	w.log.Info().Msg("SubmissionWorker started")

	batch := make([]*model.Submission, 0, BatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.flushSafe(shutdownCtx, batch)
			cancel()
			return
		default:
		}

		raw, ok, err := pop(ctx, w.rdb, config.WorkerKey.PersistSubmissionsQueue)
		if err != nil {
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}
		if !ok {
			continue
		}

		var sub model.Submission
		if err := json.Unmarshal([]byte(raw), &sub); err != nil {
			w.log.Error().Err(err).Str("data", raw).Msg("Discarding malformed JSON")
			continue
		}
		batch = append(batch, &sub)
	}
}

// ----------------------------------------------------------------
// Scoring
// ----------------------------------------------------------------

// scoredBatch splits a batch by scoring outcome. subs and results are
// index-aligned.
type scoredBatch struct {
	subs    []*model.Submission
	results []model.SubmissionResult
	retry   []*model.Submission // key lookup failed, may succeed later
	dead    []*model.Submission // test no longer exists
}

// scoreBatch grades every submission on its own, fetching each test's answer
// key once. A failed lookup only affects the submissions of that test.
func (w *SubmissionWorker) scoreBatch(ctx context.Context, batch []*model.Submission) scoredBatch {
	keys := make(map[uuid.UUID]model.AnswerKey)
	keyErrs := make(map[uuid.UUID]error)
	out := scoredBatch{results: make([]model.SubmissionResult, 0, len(batch))}

	for _, sub := range batch {
		key, ok := keys[sub.TestID]
		err := keyErrs[sub.TestID]
		if !ok && err == nil {
			key, err = w.keys.GetAnswerKey(ctx, sub.TestID)
			if err != nil {
				keyErrs[sub.TestID] = err
				w.log.Error().Err(err).Str("test_id", sub.TestID.String()).Msg("Answer key lookup failed")
			} else {
				keys[sub.TestID] = key
			}
		}

		switch {
		case errors.Is(err, service.ErrTestNotFound):
			out.dead = append(out.dead, sub)
			continue
		case err != nil:
			out.retry = append(out.retry, sub)
			continue
		}

		r := grading.Score(sub.Answers, key)
		out.subs = append(out.subs, sub)
		out.results = append(out.results, model.SubmissionResult{
			SessionID:      sub.SessionID,
			TestID:         sub.TestID,
			LearnerID:      sub.LearnerID,
			Reason:         sub.Reason,
			Correct:        r.Correct,
			Total:          r.Total,
			Score:          r.Score,
			ViolationCount: sub.ViolationCount,
			CompletedAt:    sub.CompletedAt,
		})
	}
	return out
}

// ----------------------------------------------------------------
// Persistence: bulk, then row-by-row, then requeue or dead-letter
// ----------------------------------------------------------------

func (w *SubmissionWorker) flushSafe(ctx context.Context, batch []*model.Submission) {
	if len(batch) == 0 {
		return
	}

	scored := w.scoreBatch(ctx, batch)
	dead := scored.dead
	retry := scored.retry

	if len(scored.subs) > 0 {
		if err := w.bulkInsert(ctx, scored.subs, scored.results); err != nil {
			w.log.Warn().Err(err).Int("count", len(scored.subs)).Msg("Bulk submission insert failed, using fallback")

			for i, sub := range scored.subs {
				err := w.insertSingle(ctx, sub, scored.results[i])
				switch {
				case err == nil:
				case isPermanent(err):
					w.log.Error().Err(err).Str("session_id", sub.SessionID.String()).Msg("Submission rejected by database")
					dead = append(dead, sub)
				default:
					w.log.Error().Err(err).Str("session_id", sub.SessionID.String()).Msg("insertSingle failed, requeueing")
					retry = append(retry, sub)
				}
			}
		} else {
			w.log.Debug().Int("count", len(scored.subs)).Msg("Submissions persisted")
		}
	}

	deadLetter(ctx, w.rdb, config.WorkerKey.DeadSubmissionsQueue, dead, w.log)
	requeue(ctx, w.rdb, config.WorkerKey.PersistSubmissionsQueue, retry, w.log)
}

func (w *SubmissionWorker) bulkInsert(ctx context.Context, batch []*model.Submission, results []model.SubmissionResult) error {
	n := len(batch)
	sessionIDs := make([]uuid.UUID, n)
	testIDs := make([]uuid.UUID, n)
	learners := make([]int, n)
	reasons := make([]string, n)
	answers := make([]string, n)
	correct := make([]int, n)
	totals := make([]int, n)
	scores := make([]float64, n)
	violations := make([]int, n)
	remaining := make([]int, n)
	completedAts := make([]time.Time, n)

	for i, sub := range batch {
		raw, err := json.Marshal(sub.Answers)
		if err != nil {
			return err
		}
		r := results[i]
		sessionIDs[i] = sub.SessionID
		testIDs[i] = sub.TestID
		learners[i] = sub.LearnerID
		reasons[i] = string(sub.Reason)
		answers[i] = string(raw)
		correct[i] = r.Correct
		totals[i] = r.Total
		scores[i] = r.Score
		violations[i] = sub.ViolationCount
		remaining[i] = sub.RemainingSeconds
		completedAts[i] = sub.CompletedAt
	}

	query := `
		INSERT INTO test_submissions (
			session_id, test_id, learner_id, reason, answers,
			correct, total, score, violation_count, remaining_seconds, completed_at
		)
		SELECT
			u.session_id, u.test_id, u.learner_id, u.reason, u.answers::jsonb,
			u.correct, u.total, u.score, u.violation_count, u.remaining_seconds, u.completed_at
		FROM UNNEST(
			$1::uuid[],
			$2::uuid[],
			$3::int[],
			$4::text[],
			$5::text[],
			$6::int[],
			$7::int[],
			$8::float8[],
			$9::int[],
			$10::int[],
			$11::timestamptz[]
		) AS u (session_id, test_id, learner_id, reason, answers,
		        correct, total, score, violation_count, remaining_seconds, completed_at)
		ON CONFLICT (session_id) DO NOTHING
	`

	_, err := w.db.Exec(ctx, query,
		sessionIDs, testIDs, learners, reasons, answers,
		correct, totals, scores, violations, remaining, completedAts,
	)
	return err
}

func (w *SubmissionWorker) insertSingle(ctx context.Context, sub *model.Submission, r model.SubmissionResult) error {
	raw, err := json.Marshal(sub.Answers)
	if err != nil {
		return err
	}

	_, err = w.db.Exec(ctx,
		`INSERT INTO test_submissions (
			session_id, test_id, learner_id, reason, answers,
			correct, total, score, violation_count, remaining_seconds, completed_at
		 ) VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (session_id) DO NOTHING`,
		sub.SessionID, sub.TestID, sub.LearnerID, string(sub.Reason), string(raw),
		r.Correct, r.Total, r.Score, sub.ViolationCount, sub.RemainingSeconds, sub.CompletedAt,
	)
	return err
}
