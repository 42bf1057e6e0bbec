// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package server

import (
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/go-core-stack/mortgage-gateway/pkg/metrics"
	"github.com/go-core-stack/mortgage-gateway/pkg/proxy"
)

const requestIDKey = "request_id"

// requestID reuses an inbound X-Request-ID or generates one, echoes it on the
// response, and stores it in the request context for the upstream call.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(proxy.RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		c.Set(requestIDKey, id)
		c.Request = c.Request.WithContext(proxy.ContextWithRequestID(c.Request.Context(), id))
		c.Header(proxy.RequestIDHeader, id)

		c.Next()
	}
}

// accessLog emits one structured line per request and counts it.
func accessLog(logger zerolog.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveHTTP(c.Request.Method, route, strconv.Itoa(status))

		var event *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError:
			event = logger.Error()
		case status >= http.StatusBadRequest:
			event = logger.Warn()
		default:
			event = logger.Info()
		}
		if len(c.Errors) > 0 {
			event = event.Err(c.Errors.Last().Err)
		}

		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("remote_addr", c.Request.RemoteAddr).
			Str("request_id", c.GetString(requestIDKey)).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	}
}

// recovery turns a panic into the generic 500 body.
func recovery(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error().
					Interface("panic", err).
					Str("method", c.Request.Method).
					Str("path", c.Request.URL.Path).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")
				abortWithStatus(c, http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}
