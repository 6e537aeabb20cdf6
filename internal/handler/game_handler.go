package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mindcompanion/internal/db"
	"github.com/mindcompanion/internal/middleware"
	"github.com/mindcompanion/internal/service"
)

type gameSessionRequest struct {
	GameKind       string `json:"gameKind"`
	GameID         string `json:"gameId"`
	Score          *int   `json:"score"`
	PointsEarned   *int   `json:"pointsEarned"`
	IdempotencyKey string `json:"idempotencyKey"`
}

func (r gameSessionRequest) kind() string {
	if kind := strings.TrimSpace(r.GameKind); kind != "" {
		return kind
	}
	return strings.TrimSpace(r.GameID)
}

type completeGameRequest struct {
	GameKind string `json:"gameKind"`
	GameID   string `json:"gameId"`
}

// RecordGameSession 记录一局游戏。
func (a *API) RecordGameSession(c *gin.Context) {
	var req gameSessionRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.kind() == "" || req.Score == nil || req.PointsEarned == nil {
		respondError(c, http.StatusBadRequest, service.CodeMissingField, "missing required fields: gameKind, score, pointsEarned")
		return
	}

	result, err := a.engagement.RecordGameSession(c.Request.Context(), service.GameSessionInput{
		UserID:         middleware.UserID(c),
		GameKind:       req.kind(),
		Score:          *req.Score,
		PointsEarned:   *req.PointsEarned,
		IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
	})
	if err != nil {
		a.respondServiceError(c, err, "failed to record game session")
		return
	}

	c.Header(idempotencyHeader, result.Activity.Log.IdempotencyKey)
	c.JSON(activityStatus(result.Activity), gin.H{
		"pointsEarned":   result.PointsEarned,
		"score":          result.Score,
		"gameKind":       req.kind(),
		"activityId":     result.Activity.Log.ID,
		"idempotencyKey": result.Activity.Log.IdempotencyKey,
		"replayed":       result.Activity.Replayed,
		"foldPending":    result.Activity.FoldPending,
		"progress":       progressToPayload(result.Progress),
		"insights":       serializeInsights(result.Activity.Insights),
	})
}

// CompleteGame 标记游戏完成。
func (a *API) CompleteGame(c *gin.Context) {
	var req completeGameRequest
	if !bindJSON(c, &req) {
		return
	}
	kind := strings.TrimSpace(req.GameKind)
	if kind == "" {
		kind = strings.TrimSpace(req.GameID)
	}
	if kind == "" {
		respondError(c, http.StatusBadRequest, service.CodeMissingField, "missing required field: gameKind")
		return
	}

	progress, err := a.engagement.CompleteGame(c.Request.Context(), middleware.UserID(c), kind)
	if err != nil {
		a.respondServiceError(c, err, "failed to mark game as completed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"gamesCompleted": progress.GamesCompleted})
}

// GetGameStats 返回当前用户的游戏统计。
func (a *API) GetGameStats(c *gin.Context) {
	stats, err := a.engagement.GameStats(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		a.respondServiceError(c, err, "failed to fetch game statistics")
		return
	}

	games := make([]gin.H, 0, len(stats.Games))
	for _, stat := range stats.Games {
		games = append(games, gin.H{
			"gameKind":     stat.GameKind,
			"totalPlays":   stat.TotalPlays,
			"totalPoints":  stat.TotalPoints,
			"bestScore":    stat.BestScore,
			"isCompleted":  stat.IsCompleted,
			"lastPlayedAt": stat.LastPlayedAt.UTC().Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"userStats":      progressToPayload(stats.Progress),
		"gameStats":      games,
		"recentSessions": serializeSessions(stats.RecentSessions),
	})
}

// GetLeaderboard 返回积分排行榜。
func (a *API) GetLeaderboard(c *gin.Context) {
	limit, err := parseIntQuery(c, "limit", 0)
	if err != nil {
		respondError(c, http.StatusBadRequest, service.CodeInvalidLimit, err.Error())
		return
	}

	entries, err := a.engagement.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		a.respondServiceError(c, err, "failed to fetch leaderboard")
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": entries})
}

func progressToPayload(progress db.UserProgress) gin.H {
	item := gin.H{
		"totalPoints":    progress.TotalPoints,
		"gamesCompleted": progress.GamesCompleted,
		"currentStreak":  progress.CurrentStreak,
		"longestStreak":  progress.LongestStreak,
		"lastActiveDate": nil,
	}
	if progress.LastActiveDate != "" {
		item["lastActiveDate"] = progress.LastActiveDate
	}
	return item
}

func serializeSessions(sessions []db.GameSession) []gin.H {
	items := make([]gin.H, 0, len(sessions))
	for _, session := range sessions {
		items = append(items, gin.H{
			"id":           session.ID,
			"gameKind":     session.GameKind,
			"score":        session.Score,
			"pointsEarned": session.PointsEarned,
			"completedAt":  session.CompletedAt.UTC().Format(time.RFC3339),
		})
	}
	return items
}
