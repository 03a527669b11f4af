// Package web holds the gin plumbing shared by the store server and the
// completion proxy: middleware and graceful serving.
package web

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-go-golems/chatsync/pkg/metrics"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

// NewEngine returns a gin engine with recovery, request logging and, when m
// is non-nil, request metrics and a /metrics endpoint. /healthz is always
// served.
func NewEngine(m *metrics.Metrics) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger())
	if m != nil {
		r.Use(RequestMetrics(m))
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

// RequestLogger logs one line per request. Bodies are not logged, they carry
// conversation content and credentials.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := log.Debug()
		if status >= http.StatusInternalServerError {
			ev = log.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}

func RequestMetrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" header.
func BearerToken(c *gin.Context) (string, bool) {
	const bearerPrefix = "Bearer "
	h := c.GetHeader("Authorization")
	if !strings.HasPrefix(h, bearerPrefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(h, bearerPrefix)), true
}

// TokenEqual compares a presented token against the expected one in constant
// time. An empty expected token never matches.
func TokenEqual(presented, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}

// Serve runs srv until ctx is cancelled, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return errors.Wrapf(err, "serving on %s", srv.Addr)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Str("addr", srv.Addr).Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutting down server")
	}
	return nil
}
