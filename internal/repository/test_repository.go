package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// TestRepository handles test (question set) data access.
type TestRepository struct {
	pool *pgxpool.Pool
}

// NewTestRepository creates a new TestRepository.
func NewTestRepository(pool *pgxpool.Pool) *TestRepository {
	return &TestRepository{pool: pool}
}

// GetByID retrieves a test with its questions. The answer key is not loaded.
func (r *TestRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Test, error) {
	t := &model.Test{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, description, time_limit_seconds, questions, created_at
		 FROM tests WHERE id = $1`, id,
	).Scan(&t.ID, &t.Title, &t.Description, &t.TimeLimitSeconds, &t.Questions, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetWithAnswerKey retrieves a test together with its answer key.
func (r *TestRepository) GetWithAnswerKey(ctx context.Context, id uuid.UUID) (*model.Test, model.AnswerKey, error) {
	t := &model.Test{}
	var key model.AnswerKey
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, description, time_limit_seconds, questions, answer_key, created_at
		 FROM tests WHERE id = $1`, id,
	).Scan(&t.ID, &t.Title, &t.Description, &t.TimeLimitSeconds, &t.Questions, &key, &t.CreatedAt)
	if err != nil {
		return nil, nil, err
	}
	return t, key, nil
}

// ListIDs returns the ids of all stored tests, newest first.
func (r *TestRepository) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM tests ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Create inserts a test with its answer key. CreatedAt is filled from the database.
func (r *TestRepository) Create(ctx context.Context, t *model.Test, key model.AnswerKey) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO tests (id, title, description, time_limit_seconds, questions, answer_key)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		t.ID, t.Title, t.Description, t.TimeLimitSeconds, t.Questions, key,
	).Scan(&t.CreatedAt)
}
