// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package server wires the mortgage routes, CORS allow-list and middleware
// onto a gin engine.
package server

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/go-core-stack/mortgage-gateway/pkg/config"
	"github.com/go-core-stack/mortgage-gateway/pkg/metrics"
)

// corsMaxAge is how long browsers may cache a preflight answer.
const corsMaxAge = 30 * time.Minute

var ginModeOnce sync.Once

// New builds the gateway handler. fwd is the shared upstream client; when
// gatherer is non-nil and metrics are enabled it is exposed at cfg.MetricsPath.
func New(cfg config.Config, fwd Forwarder, m *metrics.Metrics, gatherer prometheus.Gatherer) (http.Handler, error) {
	if fwd == nil {
		return nil, errors.New("forwarder is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	logger := log.With().Str("component", "gateway").Logger()

	corsConfig := cors.Config{
		AllowOrigins:  cfg.AllowedOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"*"},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        corsMaxAge,
	}
	if err := corsConfig.Validate(); err != nil {
		return nil, err
	}

	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.Use(
		recovery(logger),
		requestID(),
		accessLog(logger, m),
		cors.New(corsConfig),
	)

	api := engine.Group(BasePath)
	api.GET("/hello", handleHello)
	api.GET("/status", handleStatus)
	for _, route := range ForwardRoutes() {
		api.POST(route.Path, forwardHandler(fwd, route, logger))
	}

	if cfg.MetricsEnabled && gatherer != nil {
		engine.GET(cfg.MetricsPath, gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return engine, nil
}
