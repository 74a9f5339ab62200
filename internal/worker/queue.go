package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// requeueBackoff throttles the loop when the database is down hard.
var requeueBackoff = 2 * time.Second

// database is the part of *pgxpool.Pool the workers use.
type database interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// requeue pushes items back onto queue in one pipeline.
func requeue[T any](ctx context.Context, rdb *redis.Client, queue string, items []T, log zerolog.Logger) {
	if len(items) == 0 {
		return
	}
	if err := push(ctx, rdb, queue, items, log); err != nil {
		log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
		return
	}
	log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
	time.Sleep(requeueBackoff)
}

// deadLetter parks items that can never succeed so they stop cycling
// through the work queue but stay available for inspection.
func deadLetter[T any](ctx context.Context, rdb *redis.Client, queue string, items []T, log zerolog.Logger) {
	if len(items) == 0 {
		return
	}
	if err := push(ctx, rdb, queue, items, log); err != nil {
		log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to dead-letter items. Data loss occurred.")
		return
	}
	log.Warn().Int("count", len(items)).Str("queue", queue).Msg("Moved unprocessable items to dead-letter queue")
}

func push[T any](ctx context.Context, rdb *redis.Client, queue string, items []T, log zerolog.Logger) error {
	pipe := rdb.Pipeline()
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			log.Error().Err(err).Msg("Dropping unencodable item")
			continue
		}
		pipe.RPush(ctx, queue, data)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// isPermanent reports whether a write failed on the data itself, so that
// retrying the same row can never succeed: integrity constraint violations
// (class 23, e.g. a foreign key to a deleted test) and data exceptions
// (class 22).
func isPermanent(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || len(pgErr.Code) < 2 {
		return false
	}
	switch pgErr.Code[:2] {
	case "22", "23":
		return true
	}
	return false
}

// pop waits up to PollTimeout for one raw item. An empty poll or a cancelled
// context is not an error.
func pop(ctx context.Context, rdb *redis.Client, queue string) (raw string, ok bool, err error) {
	result, err := rdb.BLPop(ctx, PollTimeout, queue).Result()
	if err != nil {
		if err == redis.Nil || ctx.Err() != nil {
			return "", false, nil
		}
		return "", false, err
	}
	if len(result) < 2 {
		return "", false, nil
	}
	return result[1], true, nil
}
