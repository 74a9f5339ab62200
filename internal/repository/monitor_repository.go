package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MonitorRepository provides aggregate reads for the live test monitor.
type MonitorRepository struct {
	pool *pgxpool.Pool
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool) *MonitorRepository {
	return &MonitorRepository{pool: pool}
}

// LearnerSubmission is the persisted outcome of one learner's session.
type LearnerSubmission struct {
	LearnerID      int     `json:"learner_id"`
	Reason         string  `json:"reason"`
	Score          float64 `json:"score"`
	ViolationCount int     `json:"violation_count"`
}

// GetSubmissions returns every graded submission for the given test.
func (r *MonitorRepository) GetSubmissions(ctx context.Context, testID uuid.UUID) ([]LearnerSubmission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT learner_id, reason, score, violation_count
		 FROM test_submissions
		 WHERE test_id = $1
		 ORDER BY completed_at`,
		testID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LearnerSubmission
	for rows.Next() {
		var s LearnerSubmission
		if err := rows.Scan(&s.LearnerID, &s.Reason, &s.Score, &s.ViolationCount); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetViolationCounts returns the number of violations recorded for each learner in the given test.
func (r *MonitorRepository) GetViolationCounts(ctx context.Context, testID uuid.UUID) (map[int]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT learner_id, COUNT(*)
		 FROM proctor_violations
		 WHERE test_id = $1
		 GROUP BY learner_id`,
		testID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int64)
	for rows.Next() {
		var lid int
		var count int64
		if err := rows.Scan(&lid, &count); err != nil {
			return nil, err
		}
		counts[lid] = count
	}

	return counts, rows.Err()
}
