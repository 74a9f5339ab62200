package proctor

import (
	"fmt"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Snapshot is a copy of the answer ledger. Mutating it does not affect the ledger.
type Snapshot map[string]string

// Progress reports how many questions have an answer.
type Progress struct {
	Answered int `json:"answered"`
	Total    int `json:"total"`
}

// Percent returns the answered share in the range [0, 100].
func (p Progress) Percent() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Answered) / float64(p.Total) * 100
}

// AnswerLedger maps question ids to chosen option ids. Entries can be
// overwritten but never removed.
type AnswerLedger struct {
	options map[string]map[string]struct{}
	answers map[string]string
}

// NewAnswerLedger indexes the valid question and option ids of a question set.
func NewAnswerLedger(questions []model.Question) *AnswerLedger {
	l := &AnswerLedger{
		options: make(map[string]map[string]struct{}, len(questions)),
		answers: make(map[string]string, len(questions)),
	}
	for _, q := range questions {
		opts := make(map[string]struct{}, len(q.Options))
		for _, o := range q.Options {
			opts[o.ID] = struct{}{}
		}
		l.options[q.ID] = opts
	}
	return l
}

// SetAnswer records optionID as the answer to questionID, replacing any earlier choice.
func (l *AnswerLedger) SetAnswer(questionID, optionID string) error {
	opts, ok := l.options[questionID]
	if !ok {
		return fmt.Errorf("question %q: %w", questionID, ErrInvalidReference)
	}
	if _, ok := opts[optionID]; !ok {
		return fmt.Errorf("option %q of question %q: %w", optionID, questionID, ErrInvalidReference)
	}
	l.answers[questionID] = optionID
	return nil
}

// Answer returns the option chosen for questionID, if any.
func (l *AnswerLedger) Answer(questionID string) (string, bool) {
	o, ok := l.answers[questionID]
	return o, ok
}

// Progress returns answered and total question counts.
func (l *AnswerLedger) Progress() Progress {
	return Progress{Answered: len(l.answers), Total: len(l.options)}
}

// Snapshot returns a copy of all recorded answers.
func (l *AnswerLedger) Snapshot() Snapshot {
	out := make(Snapshot, len(l.answers))
	for q, o := range l.answers {
		out[q] = o
	}
	return out
}
