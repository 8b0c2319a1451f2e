package middleware

import (
	"github.com/gin-gonic/gin"
)

// SecurityHeaders sets headers for a JSON API that serves patient data:
// no framing, no sniffing, and no caching by intermediaries.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}
