package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mindcompanion/internal/db"
	"github.com/mindcompanion/internal/middleware"
	"github.com/mindcompanion/internal/service"
)

type activityRequest struct {
	ActivityType   string          `json:"activityType"`
	ActivityData   json.RawMessage `json:"activityData"`
	PointsEarned   int             `json:"pointsEarned"`
	IdempotencyKey string          `json:"idempotencyKey"`
}

// RecordActivity 记录一条日常活动。
func (a *API) RecordActivity(c *gin.Context) {
	var req activityRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := a.engagement.RecordActivity(c.Request.Context(), service.RecordActivityInput{
		UserID:         middleware.UserID(c),
		ActivityType:   req.ActivityType,
		ActivityData:   req.ActivityData,
		PointsEarned:   req.PointsEarned,
		IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
	})
	if err != nil {
		a.respondServiceError(c, err, "failed to log activity")
		return
	}

	c.Header(idempotencyHeader, result.Log.IdempotencyKey)
	c.JSON(activityStatus(result), gin.H{
		"activityId":     result.Log.ID,
		"pointsEarned":   result.Log.PointsEarned,
		"idempotencyKey": result.Log.IdempotencyKey,
		"replayed":       result.Replayed,
		"foldPending":    result.FoldPending,
		"insights":       serializeInsights(result.Insights),
	})
}

// GetTodayReport 返回当天日报。
func (a *API) GetTodayReport(c *gin.Context) {
	view, err := a.engagement.TodayReport(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		a.respondServiceError(c, err, "failed to fetch daily report")
		return
	}

	payload := dailyViewToPayload(view)
	payload["realTimeStats"] = view.RealTimeStats
	c.JSON(http.StatusOK, payload)
}

// GetReportForDate 返回指定日期的日报，没有数据时 report 为 null。
func (a *API) GetReportForDate(c *gin.Context) {
	view, err := a.engagement.ReportForDate(c.Request.Context(), middleware.UserID(c), c.Param("date"))
	if err != nil {
		a.respondServiceError(c, err, "failed to fetch daily report")
		return
	}
	if view == nil {
		c.JSON(http.StatusOK, gin.H{"report": nil, "message": "no data found for this date"})
		return
	}
	c.JSON(http.StatusOK, dailyViewToPayload(view))
}

// GetWeeklySummary 返回最近 7 天的汇总。
func (a *API) GetWeeklySummary(c *gin.Context) {
	summary, err := a.engagement.WeeklySummary(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		a.respondServiceError(c, err, "failed to fetch weekly summary")
		return
	}
	c.JSON(http.StatusOK, summary)
}

// MarkInsightRead 标记提示为已读。
func (a *API) MarkInsightRead(c *gin.Context) {
	id, err := parseUintParam(c, "insightId")
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	insight, err := a.engagement.MarkInsightRead(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		a.respondServiceError(c, err, "failed to update insight")
		return
	}
	c.JSON(http.StatusOK, gin.H{"insight": insightToPayload(*insight)})
}

func dailyViewToPayload(view *service.DailyView) gin.H {
	activities := make([]gin.H, 0, len(view.Activities))
	for _, entry := range view.Activities {
		activities = append(activities, gin.H{
			"id":           entry.ID,
			"activityType": entry.ActivityType,
			"activityData": json.RawMessage(entry.ActivityData),
			"pointsEarned": entry.PointsEarned,
			"createdAt":    entry.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	return gin.H{
		"report":       reportToPayload(view.Report),
		"activities":   activities,
		"insights":     serializeInsights(view.Insights),
		"gameSessions": serializeSessions(view.GameSessions),
	}
}

func reportToPayload(report db.DailyReport) gin.H {
	return gin.H{
		"id":                report.ID,
		"reportDate":        report.ReportDate,
		"gamesPlayed":       report.GamesPlayed,
		"totalPointsEarned": report.TotalPointsEarned,
		"totalPlayTime":     report.TotalPlayTimeMinutes,
		"focusScore":        report.FocusScore,
		"moodScore":         report.MoodScore,
		"streakMaintained":  report.StreakMaintained,
	}
}

func insightToPayload(insight db.Insight) gin.H {
	return gin.H{
		"id":          insight.ID,
		"insightType": insight.InsightType,
		"title":       insight.Title,
		"description": insight.Description,
		"insightDate": insight.InsightDate,
		"isRead":      insight.IsRead,
		"createdAt":   insight.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func serializeInsights(insights []db.Insight) []gin.H {
	items := make([]gin.H, 0, len(insights))
	for _, insight := range insights {
		items = append(items, insightToPayload(insight))
	}
	return items
}
