package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/paybridge/internal/callback"
)

const maxCallbackBody = 1 << 20

// handleCallback takes a raw provider callback. Providers retry on anything
// but a 2xx, so verified-but-stale signals still acknowledge with "success".
func (s *Server) handleCallback(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil || len(raw) == 0 {
		AbortWithError(c, callback.ErrUnverifiedCallback)
		return
	}

	if err := s.callbacks.Handle(c.Request.Context(), c.Param("provider"), raw); err != nil {
		AbortWithError(c, err)
		return
	}
	c.String(http.StatusOK, "success")
}
