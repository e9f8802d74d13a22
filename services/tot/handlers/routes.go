// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RegisterRoutes registers the /v1/tot endpoints on rg.
//
// Endpoints:
//
//	GET  /v1/tot/health - Liveness
//	GET  /v1/tot/tasks  - Registered tasks and their sizes
//	GET  /v1/tot/usage  - Token usage and cost since start
//	POST /v1/tot/solve  - Solve one task instance
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	tot := rg.Group("/tot")
	tot.GET("/health", h.HandleHealth)
	tot.GET("/tasks", h.HandleTasks)
	tot.GET("/usage", h.HandleUsage)
	tot.POST("/solve", h.HandleSolve)
}

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// ServiceName names the server in request spans.
	ServiceName string

	// Metrics serves GET /metrics when non-nil.
	Metrics http.Handler

	// AccessLog logs every request at info level.
	AccessLog bool
}

// NewRouter returns a gin engine with recovery, request tracing and the
// /v1/tot routes installed.
func NewRouter(h *Handlers, cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		router.Use(otelgin.Middleware(cfg.ServiceName))
	}
	if cfg.AccessLog {
		router.Use(accessLog(h.logger))
	}

	RegisterRoutes(router.Group("/v1"), h)
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}
	return router
}

func accessLog(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)))
	}
}
