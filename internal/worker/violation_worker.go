package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ViolationWorker drains recorded integrity violations into proctor_violations.
type ViolationWorker struct {
	db  database
	rdb *redis.Client
	log zerolog.Logger
}

func NewViolationWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ViolationWorker {
	return &ViolationWorker{
		db:  pool,
		rdb: rdb,
		log: log.With().Str("component", "violation_worker").Logger(),
	}
}

var violationColumns = []string{"session_id", "test_id", "learner_id", "kind", "ordinal", "forced", "recorded_at"}

func (w *ViolationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ViolationWorker started")

	buffer := make([]*model.ViolationEvent, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		// 1. Check Flush Conditions (Time or Size)
		if len(buffer) > 0 {
			if len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlushTime = time.Now()
			}
		}

		// 2. Check Context (Graceful Shutdown)
		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// 3. Fetch from Redis
		raw, ok, err := pop(ctx, w.rdb, config.WorkerKey.PersistViolationsQueue)
		if err != nil {
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}
		if !ok {
			continue
		}

		// 4. Process Data
		var ev model.ViolationEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			// Malformed JSON can never succeed; discard it.
			w.log.Error().Err(err).Str("data", raw).Msg("Discarding malformed JSON")
			continue
		}
		buffer = append(buffer, &ev)
	}
}

// flushSafe attempts bulk insert, then fallback insert, then requeue
func (w *ViolationWorker) flushSafe(ctx context.Context, batch []*model.ViolationEvent) {
	if len(batch) == 0 {
		return
	}
	if err := w.bulkInsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
	}
}

func violationRows(batch []*model.ViolationEvent) [][]interface{} {
	rows := make([][]interface{}, 0, len(batch))
	for _, ev := range batch {
		rows = append(rows, []interface{}{
			ev.SessionID, ev.TestID, ev.LearnerID, ev.Kind, ev.Ordinal, ev.Forced, ev.RecordedAt,
		})
	}
	return rows
}

func (w *ViolationWorker) bulkInsert(ctx context.Context, batch []*model.ViolationEvent) error {
	_, err := w.db.CopyFrom(
		ctx,
		pgx.Identifier{"proctor_violations"},
		violationColumns,
		pgx.CopyFromRows(violationRows(batch)),
	)
	return err
}

func (w *ViolationWorker) fallbackInsert(ctx context.Context, batch []*model.ViolationEvent) {
	requeueList := make([]*model.ViolationEvent, 0)
	deadList := make([]*model.ViolationEvent, 0)

	for _, ev := range batch {
		_, err := w.db.Exec(ctx,
			`INSERT INTO proctor_violations (session_id, test_id, learner_id, kind, ordinal, forced, recorded_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			ev.SessionID, ev.TestID, ev.LearnerID, ev.Kind, ev.Ordinal, ev.Forced, ev.RecordedAt,
		)
		switch {
		case err == nil:
		case isPermanent(err):
			w.log.Error().Err(err).Str("session_id", ev.SessionID.String()).Msg("Violation rejected by database")
			deadList = append(deadList, ev)
		default:
			w.log.Error().Err(err).Str("session_id", ev.SessionID.String()).Msg("Insert failed, requeueing")
			requeueList = append(requeueList, ev)
		}
	}

	deadLetter(ctx, w.rdb, config.WorkerKey.DeadViolationsQueue, deadList, w.log)
	requeue(ctx, w.rdb, config.WorkerKey.PersistViolationsQueue, requeueList, w.log)
}

func (w *ViolationWorker) shutdown(buffer []*model.ViolationEvent) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	w.flushSafe(shutdownCtx, buffer)
}
