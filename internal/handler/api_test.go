package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mindcompanion/internal/cache"
	"github.com/mindcompanion/internal/db"
	"github.com/mindcompanion/internal/middleware"
	"github.com/mindcompanion/internal/service"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var handlerDBSeq atomic.Int64

type failingResponder struct{}

func (failingResponder) Respond(context.Context, string, []service.ConversationTurn) (string, error) {
	return "", errors.New("provider unavailable")
}

func setupHandlerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handler-%d?mode=memory&cache=shared", handlerDBSeq.Add(1))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return gdb
}

// newTestEngine 挂载处理器，并以 X-Test-User 头模拟已登录用户。
func newTestEngine(t *testing.T, opts Options) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	gdb := setupHandlerTestDB(t)
	if opts.Cache == nil {
		opts.Cache = cache.NewMemory()
	}
	api := NewAPI(gdb, opts)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserIDKey, c.GetHeader("X-Test-User"))
		c.Next()
	})
	r.POST("/games/session", api.RecordGameSession)
	r.POST("/games/complete", api.CompleteGame)
	r.GET("/games/stats", api.GetGameStats)
	r.GET("/games/leaderboard", api.GetLeaderboard)
	r.POST("/reports/activity", api.RecordActivity)
	r.GET("/reports/today", api.GetTodayReport)
	r.GET("/reports/date/:date", api.GetReportForDate)
	r.GET("/reports/weekly", api.GetWeeklySummary)
	r.PUT("/reports/insights/:insightId/read", api.MarkInsightRead)
	r.POST("/chat/message", api.SendChatMessage)
	r.GET("/chat/history", api.GetChatHistory)
	r.GET("/chat/starter", api.GetChatStarter)
	return r, gdb
}

func doJSON(t *testing.T, r http.Handler, method, path, user string, body any, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", user)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var decoded map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", w.Body.String(), err)
		}
	}
	return w, decoded
}

func TestRecordGameSessionEndpoint(t *testing.T) {
	r, _ := newTestEngine(t, Options{})

	body := gin.H{"gameKind": "puzzle", "score": 90, "pointsEarned": 15}
	w, resp := doJSON(t, r, http.MethodPost, "/games/session", "u1", body, "Idempotency-Key", "evt-1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp["pointsEarned"].(float64) != 15 || resp["score"].(float64) != 90 || resp["replayed"].(bool) {
		t.Fatalf("unexpected response: %v", resp)
	}
	if insights := resp["insights"].([]any); len(insights) != 1 {
		t.Fatalf("expected high score insight, got %v", insights)
	}

	w, resp = doJSON(t, r, http.MethodPost, "/games/session", "u1", body, "Idempotency-Key", "evt-1")
	if w.Code != http.StatusOK || !resp["replayed"].(bool) {
		t.Fatalf("expected replayed response, got %d %v", w.Code, resp)
	}
	progress := resp["progress"].(map[string]any)
	if progress["totalPoints"].(float64) != 15 {
		t.Fatalf("replay must not add points: %v", progress)
	}
}

func TestRecordGameSessionValidation(t *testing.T) {
	r, _ := newTestEngine(t, Options{})

	cases := []struct {
		name string
		body gin.H
		code string
	}{
		{"missing score", gin.H{"gameKind": "puzzle", "pointsEarned": 1}, service.CodeMissingField},
		{"missing kind", gin.H{"score": 1, "pointsEarned": 1}, service.CodeMissingField},
		{"negative points", gin.H{"gameId": "puzzle", "score": 1, "pointsEarned": -5}, service.CodeInvalidPoints},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, resp := doJSON(t, r, http.MethodPost, "/games/session", "u1", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
			if resp["code"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, resp["code"])
			}
		})
	}
}

func TestReportEndpoints(t *testing.T) {
	now := time.Now().UTC()
	r, gdb := newTestEngine(t, Options{Now: func() time.Time { return now }})

	w, resp := doJSON(t, r, http.MethodPost, "/reports/activity", "u1", gin.H{
		"activityType": "streak_milestone",
		"activityData": gin.H{"streak": 7},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp["activityId"].(float64) == 0 {
		t.Fatalf("expected activity id, got %v", resp)
	}

	w, resp = doJSON(t, r, http.MethodPost, "/reports/activity", "u1", gin.H{"activityType": "dance"})
	if w.Code != http.StatusBadRequest || resp["code"] != service.CodeInvalidActivityType {
		t.Fatalf("expected invalid type, got %d %v", w.Code, resp)
	}

	w, resp = doJSON(t, r, http.MethodGet, "/reports/today", "u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	report := resp["report"].(map[string]any)
	if report["streakMaintained"] != true || report["reportDate"] != now.Format("2006-01-02") {
		t.Fatalf("unexpected report: %v", report)
	}
	if _, ok := resp["realTimeStats"].(map[string]any); !ok {
		t.Fatalf("expected realTimeStats, got %v", resp)
	}
	insights := resp["insights"].([]any)
	if len(insights) != 1 {
		t.Fatalf("expected streak insight, got %v", insights)
	}

	var insight db.Insight
	if err := gdb.First(&insight).Error; err != nil {
		t.Fatalf("load insight: %v", err)
	}
	w, _ = doJSON(t, r, http.MethodPut, fmt.Sprintf("/reports/insights/%d/read", insight.ID), "someone-else", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign insight, got %d", w.Code)
	}
	w, resp = doJSON(t, r, http.MethodPut, fmt.Sprintf("/reports/insights/%d/read", insight.ID), "u1", nil)
	if w.Code != http.StatusOK || resp["insight"].(map[string]any)["isRead"] != true {
		t.Fatalf("expected insight marked read, got %d %v", w.Code, resp)
	}

	w, resp = doJSON(t, r, http.MethodGet, "/reports/date/2001-01-01", "u1", nil)
	if w.Code != http.StatusOK || resp["report"] != nil {
		t.Fatalf("expected no data marker, got %d %v", w.Code, resp)
	}
	w, resp = doJSON(t, r, http.MethodGet, "/reports/date/yesterday", "u1", nil)
	if w.Code != http.StatusBadRequest || resp["code"] != service.CodeInvalidDate {
		t.Fatalf("expected invalid date, got %d %v", w.Code, resp)
	}

	w, resp = doJSON(t, r, http.MethodGet, "/reports/weekly", "u1", nil)
	if w.Code != http.StatusOK || resp["daysTracked"].(float64) != 1 {
		t.Fatalf("unexpected weekly summary: %d %v", w.Code, resp)
	}
}

func TestGameStatsAndLeaderboardEndpoints(t *testing.T) {
	r, _ := newTestEngine(t, Options{})

	for _, user := range []string{"u1", "u2"} {
		w, _ := doJSON(t, r, http.MethodPost, "/games/session", user, gin.H{"gameKind": "memory", "score": 10, "pointsEarned": len(user) * 3})
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
	}

	w, resp := doJSON(t, r, http.MethodGet, "/games/stats", "u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if games := resp["gameStats"].([]any); len(games) != 1 {
		t.Fatalf("expected one game stat, got %v", games)
	}

	w, resp = doJSON(t, r, http.MethodPost, "/games/complete", "u1", gin.H{"gameKind": "memory"})
	if w.Code != http.StatusOK || resp["gamesCompleted"].(float64) != 1 {
		t.Fatalf("unexpected complete response: %d %v", w.Code, resp)
	}
	w, resp = doJSON(t, r, http.MethodPost, "/games/complete", "u1", gin.H{"gameKind": "chess"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown game, got %d %v", w.Code, resp)
	}

	w, resp = doJSON(t, r, http.MethodGet, "/games/leaderboard?limit=5", "", nil)
	if w.Code != http.StatusOK || len(resp["leaderboard"].([]any)) != 2 {
		t.Fatalf("unexpected leaderboard: %d %v", w.Code, resp)
	}
	w, _ = doJSON(t, r, http.MethodGet, "/games/leaderboard?limit=abc", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", w.Code)
	}
}

func TestChatEndpointsFallback(t *testing.T) {
	r, _ := newTestEngine(t, Options{Responder: failingResponder{}})

	w, resp := doJSON(t, r, http.MethodPost, "/chat/message", "u1", gin.H{"message": "I feel so lonely"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp["aiResponse"] != service.FallbackReply || resp["riskTier"] != string(service.RiskLow) || resp["fallback"] != true {
		t.Fatalf("unexpected fallback response: %v", resp)
	}

	w, resp = doJSON(t, r, http.MethodPost, "/chat/message", "u1", gin.H{"message": "   "})
	if w.Code != http.StatusBadRequest || resp["code"] != service.CodeMissingField {
		t.Fatalf("expected missing message, got %d %v", w.Code, resp)
	}

	w, resp = doJSON(t, r, http.MethodGet, "/chat/history?limit=10", "u1", nil)
	if w.Code != http.StatusOK || len(resp["conversations"].([]any)) != 1 {
		t.Fatalf("unexpected history: %d %v", w.Code, resp)
	}

	w, resp = doJSON(t, r, http.MethodGet, "/chat/starter?language=hinglish", "u1", nil)
	if w.Code != http.StatusOK || resp["starter"] == "" || resp["language"] != "hinglish" {
		t.Fatalf("unexpected starter: %d %v", w.Code, resp)
	}

	w, resp = doJSON(t, r, http.MethodGet, "/chat/starter", "u1", nil, "Accept-Language", "hi-IN,hi;q=0.9")
	if w.Code != http.StatusOK || resp["language"] != "hindi" {
		t.Fatalf("expected Accept-Language to pick hindi, got %d %v", w.Code, resp)
	}
}

func TestRecordGameSessionReturnsKeyWhenFoldIsDeferred(t *testing.T) {
	r, gdb := newTestEngine(t, Options{})

	var fail atomic.Bool
	fail.Store(true)
	err := gdb.Callback().Update().Before("gorm:update").Register("test:fail_report_updates", func(tx *gorm.DB) {
		if fail.Load() && tx.Statement.Table == "daily_reports" {
			_ = tx.AddError(errors.New("report update failed"))
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	body := gin.H{"gameKind": "puzzle", "score": 30, "pointsEarned": 8}
	w, resp := doJSON(t, r, http.MethodPost, "/games/session", "u1", body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for deferred fold, got %d: %s", w.Code, w.Body.String())
	}
	key, _ := resp["idempotencyKey"].(string)
	if key == "" || w.Header().Get("Idempotency-Key") != key {
		t.Fatalf("expected the effective idempotency key in body and header, got %q / %q", key, w.Header().Get("Idempotency-Key"))
	}
	if resp["foldPending"] != true {
		t.Fatalf("expected foldPending flag, got %v", resp)
	}

	fail.Store(false)
	w, resp = doJSON(t, r, http.MethodPost, "/games/session", "u1", body, "Idempotency-Key", key)
	if w.Code != http.StatusOK || resp["replayed"] != true || resp["foldPending"] != false {
		t.Fatalf("expected replayed completion, got %d %v", w.Code, resp)
	}
	if points := resp["progress"].(map[string]any)["totalPoints"].(float64); points != 8 {
		t.Fatalf("retry must not credit twice, got %v", points)
	}

	var report db.DailyReport
	if err := gdb.Where("user_id = ?", "u1").First(&report).Error; err != nil {
		t.Fatalf("load report: %v", err)
	}
	if report.GamesPlayed != 1 || report.TotalPointsEarned != 8 {
		t.Fatalf("unexpected report after retry: %+v", report)
	}
}
