// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/dealdesk/dealdesk/services/agent/observability"
)

// SetupRoutes registers all agent endpoints on the router.
func SetupRoutes(router *gin.Engine, app *App) {
	router.Use(otelgin.Middleware("dealdesk-agent"))

	router.GET("/healthz", HandleHealth(app))
	router.GET("/metrics", gin.WrapH(observability.MetricsHandler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/chat", HandleChat(app))
		v1.POST("/chat/stream", HandleChatStream(app))
		v1.POST("/approvals/decision", HandleApprovalDecision(app))
		v1.GET("/threads/:thread", HandleThreadState(app))
		v1.GET("/tool-results/*ref", HandleToolResult(app))
	}
}
