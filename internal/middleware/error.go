package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/healthbridge/pkg/httputil"
)

// ErrorHandler answers requests where a handler recorded an error with
// c.Error but wrote nothing.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		httputil.RespondWithError(c, c.Errors.Last().Err)
	}
}
