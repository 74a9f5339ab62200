package model

import (
	"time"

	"github.com/google/uuid"
)

// Option is one selectable answer of a multiple-choice question.
type Option struct {
	ID   string `json:"id" validate:"required,max=64"`
	Text string `json:"text" validate:"required"`
}

// Question is immutable once a session has been created from it.
// Option order is the display order.
type Question struct {
	ID      string   `json:"id" validate:"required,max=64"`
	Prompt  string   `json:"prompt" validate:"required"`
	Options []Option `json:"options" validate:"required,min=2,unique=ID,dive"`
}

// Test is a stored question set.
type Test struct {
	ID               uuid.UUID  `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	TimeLimitSeconds int        `json:"time_limit_seconds"`
	Questions        []Question `json:"questions"`
	CreatedAt        time.Time  `json:"created_at"`
}

// TestPaper is what a learner receives: the questions without the answer key.
type TestPaper struct {
	ID               uuid.UUID  `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	TimeLimitSeconds int        `json:"time_limit_seconds"`
	QuestionCount    int        `json:"question_count"`
	Questions        []Question `json:"questions"`
}

// AnswerKey maps question id to the correct option id.
type AnswerKey map[string]string

// Paper strips storage-only fields.
func (t *Test) Paper() *TestPaper {
	return &TestPaper{
		ID:               t.ID,
		Title:            t.Title,
		Description:      t.Description,
		TimeLimitSeconds: t.TimeLimitSeconds,
		QuestionCount:    len(t.Questions),
		Questions:        t.Questions,
	}
}
