package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/response"
)

// RateLimiter is a fixed-window limiter shared across instances through Redis.
// Requests are keyed by the authenticated user when claims are present,
// otherwise by client IP.
type RateLimiter struct {
	rdb    *redis.Client
	name   string
	limit  int64
	window time.Duration
	log    zerolog.Logger
}

// NewRateLimiter allows limit requests per window (e.g., 10 per minute).
func NewRateLimiter(rdb *redis.Client, name string, limit int, window time.Duration, log zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		rdb:    rdb,
		name:   name,
		limit:  int64(limit),
		window: window,
		log:    log.With().Str("component", "rate_limiter").Str("limiter", name).Logger(),
	}
}

// Middleware returns a Gin middleware that rejects requests over the limit.
// Redis failures let the request through.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rl.key(c, time.Now())

		pipe := rl.rdb.TxPipeline()
		incr := pipe.Incr(c.Request.Context(), key)
		pipe.Expire(c.Request.Context(), key, rl.window)
		if _, err := pipe.Exec(c.Request.Context()); err != nil {
			rl.log.Warn().Err(err).Msg("Rate limit check failed, allowing request")
			c.Next()
			return
		}

		if incr.Val() > rl.limit {
			c.Header("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) key(c *gin.Context, now time.Time) string {
	subject := "ip:" + c.ClientIP()
	if claims := GetClaims(c); claims != nil {
		subject = fmt.Sprintf("%s:%d", claims.TokenType, claims.UserID)
	}
	bucket := now.UnixNano() / int64(rl.window)
	return fmt.Sprintf("ratelimit:%s:%s:%d", rl.name, subject, bucket)
}
