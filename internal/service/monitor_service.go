package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// MonitorService builds the persisted side of the live test monitor.
type MonitorService struct {
	monitorRepo *repository.MonitorRepository
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(monitorRepo *repository.MonitorRepository) *MonitorService {
	return &MonitorService{monitorRepo: monitorRepo}
}

// MonitorStats aggregates a test's outcomes so far.
type MonitorStats struct {
	TotalSubmitted  int            `json:"total_submitted"`
	ByReason        map[string]int `json:"by_reason"`
	AverageScore    float64        `json:"average_score"`
	TotalViolations int64          `json:"total_violations"`
}

// TestProgressSnapshot holds the graded submissions and violation counts of a test.
type TestProgressSnapshot struct {
	Submissions     []repository.LearnerSubmission `json:"submissions"`
	ViolationCounts map[int]int64                  `json:"violation_counts"` // learner_id → violations
	Stats           MonitorStats                   `json:"stats"`
}

// GetTestProgress fetches submissions and violation counts concurrently.
func (s *MonitorService) GetTestProgress(ctx context.Context, testID uuid.UUID) (*TestProgressSnapshot, error) {
	var (
		submissions     []repository.LearnerSubmission
		violationCounts map[int]int64
		submissionsErr  error
		violationsErr   error
		wg              sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		submissions, submissionsErr = s.monitorRepo.GetSubmissions(ctx, testID)
	}()
	go func() {
		defer wg.Done()
		violationCounts, violationsErr = s.monitorRepo.GetViolationCounts(ctx, testID)
	}()
	wg.Wait()

	// Submissions are critical; violation counts are best-effort
	if submissionsErr != nil {
		return nil, submissionsErr
	}
	if violationsErr != nil {
		violationCounts = nil
	}

	return buildProgressSnapshot(submissions, violationCounts), nil
}

func buildProgressSnapshot(subs []repository.LearnerSubmission, counts map[int]int64) *TestProgressSnapshot {
	snapshot := &TestProgressSnapshot{
		Submissions:     subs,
		ViolationCounts: counts,
		Stats: MonitorStats{
			TotalSubmitted: len(subs),
			ByReason: map[string]int{
				string(model.ReasonManualSubmit): 0,
				string(model.ReasonTimeout):      0,
				string(model.ReasonPolicyForced): 0,
			},
		},
	}
	if snapshot.Submissions == nil {
		snapshot.Submissions = []repository.LearnerSubmission{}
	}
	if snapshot.ViolationCounts == nil {
		snapshot.ViolationCounts = make(map[int]int64)
	}

	var scoreSum float64
	for _, sub := range subs {
		snapshot.Stats.ByReason[sub.Reason]++
		scoreSum += sub.Score
	}
	if len(subs) > 0 {
		snapshot.Stats.AverageScore = scoreSum / float64(len(subs))
	}
	for _, n := range snapshot.ViolationCounts {
		snapshot.Stats.TotalViolations += n
	}
	return snapshot
}
