/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
    "context"

    "github.com/example/boardpulse/internal/config"
    "github.com/gin-gonic/gin"
    "github.com/rs/zerolog"
)

func NewRouter(cfg config.Config, log zerolog.Logger, svc any) *gin.Engine {
    if cfg.AppEnv != "dev" { gin.SetMode(gin.ReleaseMode) }
    r := gin.New()
    r.Use(gin.Recovery())
    r.Use(func(c *gin.Context) {
        c.Next()
        log.Info().Str("m", c.Request.Method).Str("p", c.FullPath()).Int("s", c.Writer.Status()).Msg("http")
    })

    h := NewHandlers(cfg, log, svc)

    r.GET("/healthz", h.Healthz)

    api := r.Group("/api")
    api.GET("/report", h.Report)
    api.GET("/cycle-time", h.CycleTime)
    api.GET("/capacity", h.Capacity)
    api.GET("/dependencies", h.Dependencies)
    api.GET("/workflow", h.Workflow)

    r.GET("/admin/last-run", h.LastRun)
    r.POST("/admin/refresh", h.Refresh)
    r.POST("/admin/run", func(c *gin.Context) {
        go func() { _ = h.svc.RunWeeklyDigest(context.Background()) }()
        c.JSON(202, gin.H{"status": "queued"})
    })
    // Support both header-authenticated and path-secret webhook endpoints
    r.POST("/telegram/webhook", h.TelegramWebhook)
    r.POST("/telegram/webhook/:secret", h.TelegramWebhook)

    return r
}
