package model

import (
	"time"

	"github.com/google/uuid"
)

// CompletionReason records which signal ended a session.
type CompletionReason string

const (
	ReasonManualSubmit CompletionReason = "MANUAL_SUBMIT"
	ReasonTimeout      CompletionReason = "TIMEOUT"
	ReasonPolicyForced CompletionReason = "POLICY_FORCED"
)

// Submission is the hand-off record produced exactly once per completed session.
type Submission struct {
	SessionID        uuid.UUID         `json:"session_id"`
	TestID           uuid.UUID         `json:"test_id"`
	LearnerID        int               `json:"learner_id"`
	Answers          map[string]string `json:"answers"`
	Reason           CompletionReason  `json:"reason"`
	ViolationCount   int               `json:"violation_count"`
	RemainingSeconds int               `json:"remaining_seconds"`
	CompletedAt      time.Time         `json:"completed_at"`
}

// SubmissionResult is a graded submission as stored in PostgreSQL.
type SubmissionResult struct {
	SessionID      uuid.UUID        `json:"session_id"`
	TestID         uuid.UUID        `json:"test_id"`
	LearnerID      int              `json:"learner_id"`
	Reason         CompletionReason `json:"reason"`
	Correct        int              `json:"correct"`
	Total          int              `json:"total"`
	Score          float64          `json:"score"`
	ViolationCount int              `json:"violation_count"`
	CompletedAt    time.Time        `json:"completed_at"`
}

// ViolationEvent is one integrity anomaly recorded for auditing.
type ViolationEvent struct {
	SessionID  uuid.UUID `json:"session_id"`
	TestID     uuid.UUID `json:"test_id"`
	LearnerID  int       `json:"learner_id"`
	Kind       string    `json:"kind"`
	Ordinal    int       `json:"ordinal"`
	Forced     bool      `json:"forced"`
	RecordedAt time.Time `json:"recorded_at"`
}
