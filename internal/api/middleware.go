package api

import (
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

var errNotFound = errors.New("not found")

// LimitBody caps the request body at n bytes. Reads past the cap fail with
// *http.MaxBytesError. n <= 0 leaves the body unbounded.
func LimitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if n > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

// ValidIDs answers 404 for any path parameter outside [a-zA-Z0-9-]+
func ValidIDs() gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, p := range c.Params {
			if !idPattern.MatchString(p.Value) {
				RespondError(c, http.StatusNotFound, "not_found", errNotFound)
				return
			}
		}
		c.Next()
	}
}

// RequestLogger logs one line per request at a level chosen by status
func RequestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		fields := []any{
			"method", strings.ToUpper(c.Request.Method),
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}

		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}

// CORS allows browser dashboards on the listed origins to call the API
func CORS(origins []string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type", "X-Requested-With"},
		ExposeHeaders: []string{"Location", HeaderAgentCount},
	})
}
