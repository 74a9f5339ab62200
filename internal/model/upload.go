package model

// UploadOption mirrors the question-set upload format used by test authors.
type UploadOption struct {
	ID        string `json:"id" validate:"required,max=64"`
	Text      string `json:"text" validate:"required"`
	IsCorrect bool   `json:"isCorrect"`
}

// UploadQuestion is one question of an uploaded question set.
type UploadQuestion struct {
	ID      string         `json:"id" validate:"required,max=64"`
	Text    string         `json:"text" validate:"required"`
	Options []UploadOption `json:"options" validate:"required,min=2,unique=ID,dive"`
	Marks   int            `json:"marks" validate:"min=0"`
}

// QuestionSetUpload is the JSON document accepted by the import tool.
// TimeLimit is expressed in minutes.
type QuestionSetUpload struct {
	Title       string           `json:"title" validate:"required,max=200"`
	Description string           `json:"description" validate:"max=2000"`
	TimeLimit   int              `json:"timeLimit" validate:"required,min=1,max=600"`
	Questions   []UploadQuestion `json:"questions" validate:"required,min=1,unique=ID,dive"`
}
