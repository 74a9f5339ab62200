package handler

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedCounter int

func (n fixedCounter) ActiveCount() int { return int(n) }

func TestSystemHandler_Collect(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	_, err := mr.RPush(config.WorkerKey.PersistSubmissionsQueue, "a", "b")
	require.NoError(t, err)
	_, err = mr.RPush(config.WorkerKey.PersistViolationsQueue, "c")
	require.NoError(t, err)

	h := NewSystemHandler(rdb, fixedCounter(4), zerolog.Nop())
	m := h.collect(context.Background())

	assert.Equal(t, 4, m.ActiveSessions)
	assert.Equal(t, int64(2), m.QueueSubmissions)
	assert.Equal(t, int64(1), m.QueueViolations)
	assert.Positive(t, m.Goroutines)
	assert.NotEmpty(t, m.GoVersion)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0m 42s", formatDuration(42*time.Second))
	assert.Equal(t, "1h 2m 3s", formatDuration(time.Hour+2*time.Minute+3*time.Second))
	assert.Equal(t, "2d 0h 0m 5s", formatDuration(48*time.Hour+5*time.Second))
}
