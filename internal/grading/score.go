package grading

import "github.com/stemsi/exstem-proctor/internal/model"

// Result is the outcome of scoring one answer set.
type Result struct {
	Correct int     `json:"correct"`
	Total   int     `json:"total"`
	Score   float64 `json:"score"`
}

// Score counts answers matching the key. Unanswered questions count as wrong
// and answers to questions missing from the key are ignored.
func Score(answers map[string]string, key model.AnswerKey) Result {
	r := Result{Total: len(key)}
	for qID, correct := range key {
		if got, ok := answers[qID]; ok && got == correct {
			r.Correct++
		}
	}
	if r.Total > 0 {
		r.Score = float64(r.Correct) / float64(r.Total) * 100
	}
	return r
}
