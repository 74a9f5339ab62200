package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// Domain Errors
var (
	ErrTestNotFound     = errors.New("test not found")
	ErrNoQuestions      = errors.New("test has no questions")
	ErrInvalidAnswerKey = errors.New("each question needs exactly one correct option")
)

// TestService serves question papers and answer keys, cache-first.
type TestService struct {
	testRepo *repository.TestRepository
	rdb      *redis.Client
	log      zerolog.Logger
}

// NewTestService creates a new TestService.
func NewTestService(testRepo *repository.TestRepository, rdb *redis.Client, log zerolog.Logger) *TestService {
	return &TestService{
		testRepo: testRepo,
		rdb:      rdb,
		log:      log.With().Str("component", "test_service").Logger(),
	}
}

// GetPaper returns the learner-facing paper. On a cache miss it loads the test
// from PostgreSQL and re-warms the cache.
func (s *TestService) GetPaper(ctx context.Context, testID uuid.UUID) (*model.TestPaper, error) {
	data, err := s.rdb.Get(ctx, config.CacheKey.TestPaperKey(testID.String())).Bytes()
	if err == nil {
		var paper model.TestPaper
		if err := json.Unmarshal(data, &paper); err == nil {
			return &paper, nil
		}
		s.log.Warn().Str("test_id", testID.String()).Msg("Corrupt cached paper, reloading")
	} else if !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Str("test_id", testID.String()).Msg("Paper cache read failed")
	}

	test, key, err := s.testRepo.GetWithAnswerKey(ctx, testID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("get test: %w", err)
	}

	if err := s.WarmCache(ctx, test, key); err != nil {
		s.log.Warn().Err(err).Str("test_id", testID.String()).Msg("Self-heal cache warm failed")
	}
	return test.Paper(), nil
}

// GetAnswerKey returns the answer key, cache-first with a PostgreSQL fallback.
func (s *TestService) GetAnswerKey(ctx context.Context, testID uuid.UUID) (model.AnswerKey, error) {
	result, err := s.rdb.HGetAll(ctx, config.CacheKey.TestAnswerKey(testID.String())).Result()
	if err == nil && len(result) > 0 {
		return model.AnswerKey(result), nil
	}
	if err != nil {
		s.log.Warn().Err(err).Str("test_id", testID.String()).Msg("Answer key cache read failed")
	}

	test, key, err := s.testRepo.GetWithAnswerKey(ctx, testID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("get answer key: %w", err)
	}
	if err := s.WarmCache(ctx, test, key); err != nil {
		s.log.Warn().Err(err).Str("test_id", testID.String()).Msg("Self-heal cache warm failed")
	}
	return key, nil
}

// WarmCache stores the paper and answer key of a test in Redis.
func (s *TestService) WarmCache(ctx context.Context, test *model.Test, key model.AnswerKey) error {
	if len(test.Questions) == 0 {
		return ErrNoQuestions
	}

	paperJSON, err := json.Marshal(test.Paper())
	if err != nil {
		return fmt.Errorf("marshal paper: %w", err)
	}

	keyFields := make(map[string]interface{}, len(key))
	for q, o := range key {
		keyFields[q] = o
	}

	id := test.ID.String()
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.TestPaperKey(id), paperJSON, 0)
	pipe.Del(ctx, config.CacheKey.TestAnswerKey(id))
	if len(keyFields) > 0 {
		pipe.HSet(ctx, config.CacheKey.TestAnswerKey(id), keyFields)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("test_id", id).
		Int("questions", len(test.Questions)).
		Msg("Cache warmed")
	return nil
}

// PrewarmAllCaches loads every stored test into Redis on application startup.
func (s *TestService) PrewarmAllCaches(ctx context.Context) error {
	ids, err := s.testRepo.ListIDs(ctx)
	if err != nil {
		return fmt.Errorf("list tests: %w", err)
	}

	if len(ids) == 0 {
		s.log.Info().Msg("No tests to prewarm")
		return nil
	}

	s.log.Info().Int("count", len(ids)).Msg("Prewarming tests...")

	warmed := 0
	for _, id := range ids {
		test, key, err := s.testRepo.GetWithAnswerKey(ctx, id)
		if err == nil {
			err = s.WarmCache(ctx, test, key)
		}
		if err != nil {
			s.log.Warn().Err(err).Str("test_id", id.String()).Msg("Failed to warm test, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(ids)).
		Msg("Prewarming complete")
	return nil
}

// Import validates an uploaded question set, stores it and warms the cache.
func (s *TestService) Import(ctx context.Context, upload *model.QuestionSetUpload) (*model.Test, error) {
	test, key, err := BuildTest(upload)
	if err != nil {
		return nil, err
	}

	if err := s.testRepo.Create(ctx, test, key); err != nil {
		return nil, fmt.Errorf("create test: %w", err)
	}

	if err := s.WarmCache(ctx, test, key); err != nil {
		s.log.Warn().Err(err).Str("test_id", test.ID.String()).Msg("Cache warm after import failed")
	}

	s.log.Info().
		Str("test_id", test.ID.String()).
		Str("title", test.Title).
		Int("questions", len(test.Questions)).
		Msg("Test imported")
	return test, nil
}

// BuildTest converts the upload format into a test and its answer key.
func BuildTest(upload *model.QuestionSetUpload) (*model.Test, model.AnswerKey, error) {
	if err := validator.Struct(upload); err != nil {
		return nil, nil, err
	}

	test := &model.Test{
		ID:               uuid.New(),
		Title:            upload.Title,
		Description:      upload.Description,
		TimeLimitSeconds: upload.TimeLimit * 60,
		Questions:        make([]model.Question, 0, len(upload.Questions)),
	}
	key := make(model.AnswerKey, len(upload.Questions))

	for _, uq := range upload.Questions {
		q := model.Question{
			ID:      uq.ID,
			Prompt:  uq.Text,
			Options: make([]model.Option, 0, len(uq.Options)),
		}
		correct := 0
		for _, uo := range uq.Options {
			q.Options = append(q.Options, model.Option{ID: uo.ID, Text: uo.Text})
			if uo.IsCorrect {
				correct++
				key[uq.ID] = uo.ID
			}
		}
		if correct != 1 {
			return nil, nil, fmt.Errorf("question %q: %w", uq.ID, ErrInvalidAnswerKey)
		}
		test.Questions = append(test.Questions, q)
	}

	return test, key, nil
}
