package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

var pingPayload = []byte(`{"type":"ping"}`)

type MonitorHandler struct {
	rdb            *redis.Client
	testService    *service.TestService
	monitorService *service.MonitorService
	log            zerolog.Logger
}

func NewMonitorHandler(
	rdb *redis.Client,
	testService *service.TestService,
	monitorService *service.MonitorService,
	log zerolog.Logger,
) *MonitorHandler {
	return &MonitorHandler{
		rdb:            rdb,
		testService:    testService,
		monitorService: monitorService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorTestSSE godoc
// GET /api/v1/proctor/tests/:test_id/monitor
// Streams a snapshot of persisted outcomes, then relays live session events.
func (h *MonitorHandler) MonitorTestSSE(c *gin.Context) {
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
		h.log.Error().Err(err).Str("test_id", testID.String()).Msg("Failed to load test for monitor")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	// Subscribe before the snapshot so no event falls between the two.
	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.TestMonitorChannel(testID.String()))
	defer pubsub.Close()
	ch := pubsub.Channel()

	h.sendSnapshot(c, reqCtx, testID, paper)

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	// Skip refreshes until something has happened on the channel.
	dirty := false

	h.log.Info().Str("test_id", testID.String()).Msg("Proctor attached to live monitor SSE")

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("test_id", testID.String()).Msg("Proctor disconnected from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Forward raw JSON directly, no deserialization needed
			writeSSEData(c, []byte(msg.Payload))
			dirty = true

		case <-refreshTicker.C:
			if !dirty {
				continue
			}
			dirty = false
			h.sendRefresh(c, reqCtx, testID)

		case <-keepAliveTicker.C:
			writeSSEData(c, pingPayload)
		}
	}
}

func (h *MonitorHandler) sendSnapshot(c *gin.Context, ctx context.Context, testID uuid.UUID, paper *model.TestPaper) {
	fetchCtx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	data := gin.H{
		"test": gin.H{
			"id":                 testID.String(),
			"title":              paper.Title,
			"time_limit_seconds": paper.TimeLimitSeconds,
			"total_questions":    paper.QuestionCount,
		},
	}
	if progress, err := h.monitorService.GetTestProgress(fetchCtx, testID); err == nil {
		data["stats"] = progress.Stats
		data["submissions"] = progress.Submissions
		data["violation_counts"] = progress.ViolationCounts
	} else {
		h.log.Warn().Err(err).Str("test_id", testID.String()).Msg("Failed to fetch progress for snapshot")
	}

	c.SSEvent("message", gin.H{"type": "snapshot", "data": data})
	c.Writer.Flush()
}

func (h *MonitorHandler) sendRefresh(c *gin.Context, parentCtx context.Context, testID uuid.UUID) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	progress, err := h.monitorService.GetTestProgress(ctx, testID)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to fetch progress for refresh")
		return
	}

	c.SSEvent("message", gin.H{
		"type":             "refresh",
		"stats":            progress.Stats,
		"violation_counts": progress.ViolationCounts,
	})
	c.Writer.Flush()
}

func writeSSEData(c *gin.Context, payload []byte) {
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(payload)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
