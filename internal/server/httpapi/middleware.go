package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/gin-gonic/gin"
)

const tokenKey = "token"

// bearerToken reads "Authorization: Bearer <jwt>", falling back to the
// access_token header.
func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	return strings.TrimSpace(c.GetHeader(common.AccessTokenHeaderName))
}

func requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := bearerToken(c)
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "missing token", Code: "MISSING_TOKEN"})
			return
		}
		c.Set(tokenKey, tok)
		c.Next()
	}
}

func requestLogger(l logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		l.Info(c.Request.Context(), "request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start))
	}
}

func recovery(l logging.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, rec any) {
		l.Error(c.Request.Context(), "panic", "path", c.Request.URL.Path, "panic", rec)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{Error: "internal error", Code: "INTERNAL_ERROR"})
	})
}
