package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/deemkeen/rendezvous/activitypub"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ValidateIntegrity rejects requests whose Date, Content-Length or Digest
// headers do not match the clock and the body. The body is buffered and
// handed on unchanged.
func ValidateIntegrity(skew time.Duration, log *zap.Logger) gin.HandlerFunc {
	if skew <= 0 {
		skew = activitypub.DefaultDateSkew
	}
	return func(c *gin.Context) {
		var body []byte
		if c.Request.Body != nil {
			var err error
			body, err = io.ReadAll(c.Request.Body)
			if err != nil {
				var maxErr *http.MaxBytesError
				if errors.As(err, &maxErr) {
					c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
					return
				}
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Could not read body"})
				return
			}
			c.Request.Body.Close()
		}

		if err := activitypub.CheckIntegrity(c.Request.Header, body, time.Now(), skew); err != nil {
			log.Info("integrity check failed",
				zap.String("path", c.Request.URL.Path),
				zap.String("remote", c.ClientIP()),
				zap.Error(err))
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}
