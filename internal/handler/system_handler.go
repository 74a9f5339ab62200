package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
)

const metricsInterval = 7 * time.Second

// sessionCounter reports the sessions open on this instance.
type sessionCounter interface {
	ActiveCount() int
}

// SystemHandler streams runtime metrics and grading queue depth via SSE.
type SystemHandler struct {
	rdb       *redis.Client
	sessions  sessionCounter
	startTime time.Time
	log       zerolog.Logger
}

func NewSystemHandler(rdb *redis.Client, sessions sessionCounter, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		rdb:       rdb,
		sessions:  sessions,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type systemMetrics struct {
	Timestamp int64  `json:"timestamp"`
	Uptime    string `json:"uptime"`

	Goroutines  int    `json:"goroutines"`
	HeapAlloc   uint64 `json:"heap_alloc"`
	HeapSys     uint64 `json:"heap_sys"`
	NumGC       uint32 `json:"num_gc"`
	AppRSSBytes uint64 `json:"app_rss_bytes"`
	GoVersion   string `json:"go_version"`
	NumCPU      int    `json:"num_cpu"`

	ActiveSessions   int   `json:"active_sessions"`
	QueueSubmissions int64 `json:"queue_submissions"`
	QueueViolations  int64 `json:"queue_violations"`
}

// SystemMetricsSSE godoc
// GET /api/v1/proctor/system/metrics
func (h *SystemHandler) SystemMetricsSSE(c *gin.Context) {
	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.log.Info().Msg("Proctor connected to system metrics SSE")

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	h.writeMetrics(c)

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Msg("Proctor disconnected from system metrics SSE")
			return
		case <-ticker.C:
			h.writeMetrics(c)
		}
	}
}

func (h *SystemHandler) writeMetrics(c *gin.Context) {
	data, err := json.Marshal(h.collect(c.Request.Context()))
	if err != nil {
		return
	}
	writeSSEData(c, data)
}

func (h *SystemHandler) collect(ctx context.Context) systemMetrics {
	m := systemMetrics{
		Timestamp:      time.Now().Unix(),
		Uptime:         formatDuration(time.Since(h.startTime)),
		GoVersion:      runtime.Version(),
		NumCPU:         runtime.NumCPU(),
		Goroutines:     runtime.NumGoroutine(),
		ActiveSessions: h.sessions.ActiveCount(),
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.HeapAlloc = ms.HeapAlloc
	m.HeapSys = ms.Sys
	m.NumGC = ms.NumGC

	m.AppRSSBytes, _ = readProcessRSS()

	// ── Worker Queues (pipelined LLEN) ──
	pipe := h.rdb.Pipeline()
	submissionsCmd := pipe.LLen(ctx, config.WorkerKey.PersistSubmissionsQueue)
	violationsCmd := pipe.LLen(ctx, config.WorkerKey.PersistViolationsQueue)
	if _, err := pipe.Exec(ctx); err == nil {
		m.QueueSubmissions, _ = submissionsCmd.Result()
		m.QueueViolations, _ = violationsCmd.Result()
	} else {
		h.log.Debug().Err(err).Msg("Queue depth read failed")
	}

	return m
}

// readProcessRSS reads VmRSS from /proc/self/status.
func readProcessRSS() (uint64, error) {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		// Format: "VmRSS:     123456 kB"
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, err
		}
		return kb * 1024, nil
	}
	return 0, fmt.Errorf("VmRSS not found")
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
