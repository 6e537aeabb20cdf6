package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mindcompanion/internal/locale"
	"github.com/mindcompanion/internal/middleware"
	"github.com/mindcompanion/internal/service"
)

type chatMessageRequest struct {
	Message string `json:"message"`
}

// SendChatMessage 处理一轮对话。
func (a *API) SendChatMessage(c *gin.Context) {
	var req chatMessageRequest
	if !bindJSON(c, &req) {
		return
	}

	reply, err := a.conversations.SendMessage(c.Request.Context(), middleware.UserID(c), req.Message)
	if err != nil {
		a.respondServiceError(c, err, "failed to process message")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"aiResponse":     reply.AIResponse,
		"aiResponseHtml": reply.AIResponseHTML,
		"riskTier":       reply.RiskTier,
		"fallback":       reply.Fallback,
		"timestamp":      reply.Entry.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// GetChatHistory 分页返回对话记录。
func (a *API) GetChatHistory(c *gin.Context) {
	limit, err := parseIntQuery(c, "limit", 0)
	if err != nil {
		respondError(c, http.StatusBadRequest, service.CodeInvalidLimit, err.Error())
		return
	}
	offset, err := parseIntQuery(c, "offset", 0)
	if err != nil {
		respondError(c, http.StatusBadRequest, service.CodeInvalidLimit, err.Error())
		return
	}

	entries, err := a.conversations.History(c.Request.Context(), middleware.UserID(c), limit, offset)
	if err != nil {
		a.respondServiceError(c, err, "failed to fetch chat history")
		return
	}

	items := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		items = append(items, gin.H{
			"id":         entry.ID,
			"message":    entry.Message,
			"aiResponse": entry.AIResponse,
			"riskTier":   entry.RiskTier,
			"fallback":   entry.Fallback,
			"createdAt":  entry.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"conversations": items})
}

// GetChatStarter 返回一句开场白。
func (a *API) GetChatStarter(c *gin.Context) {
	language := locale.Resolve(c.Query("language"), c.GetHeader("Accept-Language"))
	c.JSON(http.StatusOK, gin.H{
		"starter":   a.conversations.Starter(language),
		"language":  language,
		"languages": service.StarterLanguages(),
	})
}
