package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// TestHandler serves question papers to learners and the test catalog to proctors.
type TestHandler struct {
	testService    *service.TestService
	monitorService *service.MonitorService
	log            zerolog.Logger
}

// NewTestHandler creates a new TestHandler.
func NewTestHandler(testService *service.TestService, monitorService *service.MonitorService, log zerolog.Logger) *TestHandler {
	return &TestHandler{
		testService:    testService,
		monitorService: monitorService,
		log:            log.With().Str("component", "test_handler").Logger(),
	}
}

// GetPaper godoc
// GET /api/v1/learner/tests/:test_id/paper
// Returns the questions of a test without the answer key.
func (h *TestHandler) GetPaper(c *gin.Context) {
	testID, err := uuid.Parse(c.Param("test_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	paper, err := h.testService.GetPaper(c.Request.Context(), testID)
	if err != nil {
		if errors.Is(err, service.ErrTestNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		h.log.Error().Err(err).Str("test_id", testID.String()).Msg("Failed to load paper")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, paper)
}

// ImportTest godoc
// POST /api/v1/proctor/tests
// Accepts a question set in the upload format and stores it as a new test.
func (h *TestHandler) ImportTest(c *gin.Context) {
	var upload model.QuestionSetUpload
	if err := c.ShouldBindJSON(&upload); err != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidPayload, validator.TranslateErrors(err))
		return
	}

	test, err := h.testService.Import(c.Request.Context(), &upload)
	if err != nil {
		switch {
		case validator.IsValidationError(err):
			response.FailWithFields(c, http.StatusUnprocessableEntity, response.ErrValidation, validator.TranslateErrors(err))
		case errors.Is(err, service.ErrInvalidAnswerKey):
			response.FailWithFields(c, http.StatusUnprocessableEntity, response.ErrValidation, map[string]string{"questions": err.Error()})
		default:
			h.log.Error().Err(err).Msg("Failed to import test")
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusCreated, test.Paper())
}

// GetProgress godoc
// GET /api/v1/proctor/tests/:test_id/progress
// Returns persisted submissions and violation counts of a test.
func (h *TestHandler) GetProgress(c *gin.Context) {
	testID, err := uuid.Parse(c.Param("test_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	snapshot, err := h.monitorService.GetTestProgress(c.Request.Context(), testID)
	if err != nil {
		h.log.Error().Err(err).Str("test_id", testID.String()).Msg("Failed to load progress")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, snapshot)
}
