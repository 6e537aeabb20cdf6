package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/mindcompanion/internal/config"
	"github.com/mindcompanion/internal/middleware"
)

// 为本地联调签发访问令牌，密钥与服务端共用 JWT_SECRET。
func main() {
	userID := flag.String("user", "demo-user", "user id written into the token")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	cfg := config.Load()
	token, err := middleware.IssueToken(cfg.JWTSecret, *userID, *ttl)
	if err != nil {
		log.Fatal("签发令牌失败:", err)
	}

	fmt.Println(token)
}
