package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig 汇总运行服务所需的基础配置。
type AppConfig struct {
	ListenAddr     string
	Port           string
	GinMode        string
	DatabaseDriver string
	DatabaseDSN    string
	JWTSecret      string
	AllowedOrigins []string

	// Redis 为空时缓存降级为直接读库
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool

	AIProvider  string
	AIBaseURL   string
	AIModel     string
	AIAPIKey    string
	AITimeout   time.Duration
	ChatHistory int

	ChatRatePerMinute int
}

// Load 从环境变量读取应用配置，并为缺失项提供安全的默认值。
func Load() AppConfig {
	port := envOr("PORT", "8080")

	listenAddr := strings.TrimSpace(os.Getenv("LISTEN_ADDR"))
	if listenAddr == "" {
		listenAddr = fmt.Sprintf(":%s", port)
	}

	return AppConfig{
		ListenAddr:     listenAddr,
		Port:           port,
		GinMode:        envOr("GIN_MODE", "release"),
		DatabaseDriver: envOr("DATABASE_DRIVER", "sqlite"),
		DatabaseDSN:    envOr("DATABASE_DSN", "data/mindcompanion.db"),
		JWTSecret:      envOr("JWT_SECRET", "mindcompanion-dev-secret"),
		AllowedOrigins: splitList(envOr("ALLOWED_ORIGINS", "http://localhost:5173")),

		RedisAddr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword: strings.TrimSpace(os.Getenv("REDIS_PASSWORD")),
		RedisDB:       envInt("REDIS_DB", 0),
		CacheTTL:      time.Duration(envInt("CACHE_TTL_SECONDS", 60)) * time.Second,

		LogLevel:      envOr("LOG_LEVEL", "info"),
		LogPath:       strings.TrimSpace(os.Getenv("LOG_PATH")),
		LogMaxSizeMB:  envInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: envInt("LOG_MAX_BACKUPS", 3),
		LogMaxAgeDays: envInt("LOG_MAX_AGE_DAYS", 7),
		LogCompress:   envBool("LOG_COMPRESS", false),

		AIProvider:  envOr("AI_PROVIDER", "openai"),
		AIBaseURL:   strings.TrimSpace(os.Getenv("AI_BASE_URL")),
		AIModel:     strings.TrimSpace(os.Getenv("AI_MODEL")),
		AIAPIKey:    strings.TrimSpace(os.Getenv("AI_API_KEY")),
		AITimeout:   time.Duration(envInt("AI_TIMEOUT_SECONDS", 30)) * time.Second,
		ChatHistory: envInt("CHAT_CONTEXT_TURNS", 5),

		ChatRatePerMinute: envInt("CHAT_RATE_PER_MINUTE", 20),
	}
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
