/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
    "context"
    "net/http"
    "strconv"

    "github.com/example/boardpulse/internal/config"
    "github.com/example/boardpulse/internal/services"
    "github.com/gin-gonic/gin"
    "github.com/rs/zerolog"
)

type service interface {
    BuildReport(ctx context.Context, iterationID int) (*services.Report, error)
    RefreshSnapshot(ctx context.Context) error
    RunWeeklyDigest(ctx context.Context) error
    RunOnDemandDigest(ctx context.Context, chatID int64) error
    SendHelp(ctx context.Context, chatID int64) error
    GetLastRun(ctx context.Context) (any, error)
}

type Handlers struct {
    cfg config.Config
    log zerolog.Logger
    svc service
}

func NewHandlers(cfg config.Config, log zerolog.Logger, svc any) *Handlers {
    return &Handlers{cfg: cfg, log: log, svc: svc.(service)}
}

func (h *Handlers) Healthz(c *gin.Context) {
    c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) report(c *gin.Context) (*services.Report, bool) {
    iterationID, _ := strconv.Atoi(c.Query("iteration"))
    rep, err := h.svc.BuildReport(c.Request.Context(), iterationID)
    if err != nil {
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
        return nil, false
    }
    return rep, true
}

func (h *Handlers) Report(c *gin.Context) {
    rep, ok := h.report(c)
    if !ok { return }
    c.JSON(http.StatusOK, rep)
}

func (h *Handlers) CycleTime(c *gin.Context) {
    rep, ok := h.report(c)
    if !ok { return }
    c.JSON(http.StatusOK, gin.H{
        "generated_at": rep.GeneratedAt,
        "summary":      rep.Summary,
        "diagnostics":  rep.Diagnostics,
        "distribution": rep.Distribution,
        "lead_chart":   rep.LeadChart,
        "cycle_chart":  rep.CycleChart,
        "bottlenecks":  rep.Bottlenecks,
    })
}

func (h *Handlers) Capacity(c *gin.Context) {
    rep, ok := h.report(c)
    if !ok { return }
    c.JSON(http.StatusOK, gin.H{
        "generated_at": rep.GeneratedAt,
        "iteration":    rep.Iteration,
        "capacity":     rep.Capacity,
        "proposals":    rep.Proposals,
    })
}

func (h *Handlers) Dependencies(c *gin.Context) {
    rep, ok := h.report(c)
    if !ok { return }
    c.JSON(http.StatusOK, gin.H{
        "generated_at": rep.GeneratedAt,
        "dependencies": rep.Dependencies,
    })
}

func (h *Handlers) Workflow(c *gin.Context) {
    rep, ok := h.report(c)
    if !ok { return }
    c.JSON(http.StatusOK, gin.H{
        "generated_at":     rep.GeneratedAt,
        "workflow":         rep.Workflow,
        "suggestions":      rep.Suggestions,
        "efficiency_score": rep.Efficiency,
    })
}

func (h *Handlers) LastRun(c *gin.Context) {
    lr, err := h.svc.GetLastRun(c.Request.Context())
    if err != nil {
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
        return
    }
    c.JSON(http.StatusOK, lr)
}

func (h *Handlers) Refresh(c *gin.Context) {
    // Run in background detached from the HTTP request to avoid context cancellation
    go func() { _ = h.svc.RefreshSnapshot(context.Background()) }()
    c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (h *Handlers) TelegramWebhook(c *gin.Context) {
    headerSecret := c.GetHeader("X-Telegram-Bot-Api-Secret-Token")
    pathSecret := c.Param("secret")
    // Accept either header secret (preferred) or path secret
    if headerSecret != h.cfg.TelegramWebhookSecret && pathSecret != h.cfg.TelegramWebhookSecret {
        c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
        return
    }
    h.log.Info().Str("ip", c.ClientIP()).Str("ua", c.GetHeader("User-Agent")).Msg("telegram webhook received")

    var upd struct {
        Message *struct {
            Chat struct {
                ID int64 `json:"id"`
            } `json:"chat"`
            Text string `json:"text"`
        } `json:"message"`
    }
    if err := c.ShouldBindJSON(&upd); err == nil && upd.Message != nil {
        chatID := upd.Message.Chat.ID
        text := upd.Message.Text
        // accept only configured chats if provided
        allowed := len(h.cfg.TelegramChatIDs) == 0
        if !allowed {
            for _, id := range h.cfg.TelegramChatIDs {
                if id == chatID { allowed = true; break }
            }
        }
        if allowed {
            switch text {
            case "/report":
                go func() { _ = h.svc.RunOnDemandDigest(context.Background(), chatID) }()
            case "/start", "/help":
                go func() { _ = h.svc.SendHelp(context.Background(), chatID) }()
            }
        }
    }

    c.JSON(http.StatusOK, gin.H{"ok": true})
}
