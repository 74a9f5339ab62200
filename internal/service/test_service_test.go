package service

import (
	"testing"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleUpload() *model.QuestionSetUpload {
	return &model.QuestionSetUpload{
		Title:     "Physics quiz",
		TimeLimit: 30,
		Questions: []model.UploadQuestion{
			{ID: "q1", Text: "Unit of force?", Marks: 1, Options: []model.UploadOption{
				{ID: "a", Text: "Newton", IsCorrect: true},
				{ID: "b", Text: "Joule"},
			}},
			{ID: "q2", Text: "Unit of energy?", Marks: 1, Options: []model.UploadOption{
				{ID: "a", Text: "Newton"},
				{ID: "b", Text: "Joule", IsCorrect: true},
			}},
		},
	}
}

func TestBuildTest(t *testing.T) {
	test, key, err := BuildTest(sampleUpload())
	require.NoError(t, err)

	assert.Equal(t, 1800, test.TimeLimitSeconds)
	require.Len(t, test.Questions, 2)
	assert.Equal(t, "Unit of force?", test.Questions[0].Prompt)
	assert.Equal(t, []model.Option{{ID: "a", Text: "Newton"}, {ID: "b", Text: "Joule"}}, test.Questions[0].Options)
	assert.Equal(t, model.AnswerKey{"q1": "a", "q2": "b"}, key)

	paper := test.Paper()
	assert.Equal(t, 2, paper.QuestionCount)
}

func TestBuildTest_RequiresExactlyOneCorrect(t *testing.T) {
	none := sampleUpload()
	none.Questions[0].Options[0].IsCorrect = false
	_, _, err := BuildTest(none)
	assert.ErrorIs(t, err, ErrInvalidAnswerKey)

	two := sampleUpload()
	two.Questions[1].Options[0].IsCorrect = true
	_, _, err = BuildTest(two)
	assert.ErrorIs(t, err, ErrInvalidAnswerKey)
}

func TestBuildTest_Validation(t *testing.T) {
	dup := sampleUpload()
	dup.Questions[1].ID = "q1"
	_, _, err := BuildTest(dup)
	assert.Error(t, err)

	noLimit := sampleUpload()
	noLimit.TimeLimit = 0
	_, _, err = BuildTest(noLimit)
	assert.Error(t, err)

	dupOption := sampleUpload()
	dupOption.Questions[0].Options[1].ID = "a"
	_, _, err = BuildTest(dupOption)
	assert.Error(t, err)
}
