// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package server

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/go-core-stack/mortgage-gateway/pkg/config"
	"github.com/go-core-stack/mortgage-gateway/pkg/proxy"
)

const (
	// BasePath prefixes every mortgage route.
	BasePath = config.BasePath

	// Greeting is the fixed body of the hello route.
	Greeting = "Hello from a Testing Mortgage Optimizer Backend!"
	// AppName is reported by the status route.
	AppName = "Mortgage Optimizer Backend"
)

// Forwarder relays a payload to an upstream path and returns its reply.
// *proxy.Client is the production implementation.
type Forwarder interface {
	Forward(ctx context.Context, path string, payload proxy.Payload) (*proxy.Response, error)
}

// ForwardRoute maps a local POST route onto a prediction service route.
type ForwardRoute struct {
	Path     string
	Upstream string
}

var forwardRoutes = [...]ForwardRoute{
	{Path: "/approval", Upstream: "/predict/approval"},
	{Path: "/strategy", Upstream: "/predict/strategy"},
}

// ForwardRoutes returns a copy of the fixed forwarding table.
func ForwardRoutes() []ForwardRoute {
	out := make([]ForwardRoute, len(forwardRoutes))
	copy(out, forwardRoutes[:])
	return out
}

// statusBody keeps the documented field order on the wire.
type statusBody struct {
	Status string `json:"status"`
	App    string `json:"app"`
}

func handleHello(c *gin.Context) {
	c.String(http.StatusOK, Greeting)
}

func handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, statusBody{Status: "running", App: AppName})
}

// forwardHandler relays the JSON body to route.Upstream and writes back the
// upstream object unchanged. Every upstream failure becomes a generic 500.
func forwardHandler(fwd Forwarder, route ForwardRoute, logger zerolog.Logger) gin.HandlerFunc {
	logger = logger.With().Str("route", BasePath+route.Path).Logger()

	return func(c *gin.Context) {
		if !isJSONContentType(c.GetHeader("Content-Type")) {
			abortWithStatus(c, http.StatusUnsupportedMediaType)
			return
		}

		payload, err := proxy.DecodePayload(c.Request.Body)
		if err != nil {
			_ = c.Error(err)
			logger.Debug().Err(err).Msg("rejecting request body")
			abortWithStatus(c, http.StatusBadRequest)
			return
		}

		resp, err := fwd.Forward(c.Request.Context(), route.Upstream, payload)
		if err != nil {
			_ = c.Error(err)
			var upErr *proxy.UpstreamError
			if errors.As(err, &upErr) {
				logger.Error().Err(err).Int("upstream_status", upErr.Status).Msg("forward failed")
			} else {
				logger.Error().Err(err).Msg("forward failed")
			}
			abortWithStatus(c, http.StatusInternalServerError)
			return
		}

		c.PureJSON(resp.Status, resp.Body)
	}
}

// isJSONContentType accepts application/json with optional parameters.
// Vendor types such as application/vnd.x+json are refused.
func isJSONContentType(header string) bool {
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return false
	}
	return strings.EqualFold(mediaType, "application/json")
}

// abortWithStatus writes the generic error body used for every failure.
func abortWithStatus(c *gin.Context, status int) {
	c.AbortWithStatusJSON(status, gin.H{"error": http.StatusText(status)})
}
