package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*gin.Engine, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := NewTestHandler(service.NewTestService(nil, rdb, zerolog.Nop()), nil, zerolog.Nop())
	r := gin.New()
	r.GET("/api/v1/learner/tests/:test_id/paper", h.GetPaper)
	r.POST("/api/v1/proctor/tests", h.ImportTest)
	return r, mr
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestGetPaper(t *testing.T) {
	r, mr := newTestRouter(t)

	testID := uuid.New()
	paper := model.TestPaper{
		ID:               testID,
		Title:            "Physics quiz",
		TimeLimitSeconds: 600,
		QuestionCount:    1,
		Questions: []model.Question{{
			ID: "q1", Prompt: "Unit of force?",
			Options: []model.Option{{ID: "a", Text: "Newton"}, {ID: "b", Text: "Joule"}},
		}},
	}
	data, err := json.Marshal(paper)
	require.NoError(t, err)
	require.NoError(t, mr.Set(config.CacheKey.TestPaperKey(testID.String()), string(data)))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/learner/tests/"+testID.String()+"/paper", nil))

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.Nil(t, resp.Error)
	body := resp.Data.(map[string]interface{})
	assert.Equal(t, "Physics quiz", body["title"])
	assert.NotContains(t, w.Body.String(), "isCorrect")
	assert.NotContains(t, w.Body.String(), "answer_key")
}

func TestGetPaper_InvalidID(t *testing.T) {
	r, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/learner/tests/not-a-uuid/paper", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.ErrInvalidID, decodeResponse(t, w).Error.Code)
}

func TestImportTest_Rejections(t *testing.T) {
	r, _ := newTestRouter(t)

	tests := []struct {
		name   string
		body   string
		status int
		code   response.ErrCode
	}{
		{
			name:   "malformed json",
			body:   `{"title":`,
			status: http.StatusBadRequest,
			code:   response.ErrInvalidPayload,
		},
		{
			name:   "missing title",
			body:   `{"timeLimit":10,"questions":[{"id":"q1","text":"?","options":[{"id":"a","text":"A","isCorrect":true},{"id":"b","text":"B"}]}]}`,
			status: http.StatusUnprocessableEntity,
			code:   response.ErrValidation,
		},
		{
			name:   "no correct option",
			body:   `{"title":"Quiz","timeLimit":10,"questions":[{"id":"q1","text":"?","options":[{"id":"a","text":"A"},{"id":"b","text":"B"}]}]}`,
			status: http.StatusUnprocessableEntity,
			code:   response.ErrValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/proctor/tests", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			resp := decodeResponse(t, w)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.NotEmpty(t, resp.Error.Fields)
		})
	}
}
