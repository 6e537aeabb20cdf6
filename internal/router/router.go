package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mindcompanion/internal/handler"
	"github.com/mindcompanion/internal/logging"
	"github.com/mindcompanion/internal/middleware"
	"go.uber.org/zap"
)

// Options 配置路由层中间件。
type Options struct {
	JWTSecret         string
	AllowedOrigins    []string
	ChatRatePerMinute int
	Logger            *zap.Logger
}

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(api *handler.API, opts Options) *gin.Engine {
	logger := logging.OrNop(opts.Logger)

	r := gin.New()
	r.Use(middleware.RequestLogger(logger.Named("http")), middleware.Recovery(logger))
	r.Use(cors.New(corsConfig(opts.AllowedOrigins)))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	apiGroup := r.Group("/api")
	// 排行榜公开访问
	apiGroup.GET("/games/leaderboard", api.GetLeaderboard)

	auth := apiGroup.Group("")
	auth.Use(middleware.AuthRequired(opts.JWTSecret))
	{
		games := auth.Group("/games")
		games.POST("/session", api.RecordGameSession)
		games.POST("/complete", api.CompleteGame)
		games.GET("/stats", api.GetGameStats)

		reports := auth.Group("/reports")
		reports.POST("/activity", api.RecordActivity)
		reports.GET("/today", api.GetTodayReport)
		reports.GET("/date/:date", api.GetReportForDate)
		reports.GET("/weekly", api.GetWeeklySummary)
		reports.PUT("/insights/:insightId/read", api.MarkInsightRead)

		chatLimiter := middleware.NewRateLimiter(opts.ChatRatePerMinute)
		chat := auth.Group("/chat")
		chat.POST("/message", chatLimiter.PerUser(), api.SendChatMessage)
		chat.GET("/history", api.GetChatHistory)
		chat.GET("/starter", api.GetChatStarter)
	}

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Idempotency-Key"},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader, "Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
