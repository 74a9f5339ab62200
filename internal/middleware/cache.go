package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

// PrivateCache lets the learner's browser reuse a response for maxAgeSeconds
// while keeping it out of shared caches.
func PrivateCache(maxAgeSeconds int) gin.HandlerFunc {
	value := fmt.Sprintf("private, max-age=%d", maxAgeSeconds)
	return func(c *gin.Context) {
		c.Header("Cache-Control", value)
		c.Next()
	}
}

// NoStore forbids caching. Proctor views change with every submission.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}
