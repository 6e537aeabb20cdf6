package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/mindcompanion/internal/config"
	"github.com/mindcompanion/internal/db"
	"github.com/mindcompanion/internal/logging"
	"github.com/mindcompanion/internal/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var demoGames = []string{"breathing", "memory", "gratitude"}

// 演示数据生成器：为一个用户回填若干天的对局与冥想记录。
func main() {
	userID := flag.String("user", "demo-user", "user id to seed")
	days := flag.Int("days", 7, "number of days to backfill, ending today")
	flag.Parse()

	cfg := config.Load()
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel})
	if err != nil {
		log.Fatal("日志初始化失败:", err)
	}
	defer func() { _ = logger.Sync() }()

	gdb, err := db.Open(db.Options{Driver: cfg.DatabaseDriver, DSN: cfg.DatabaseDSN, LogLevel: "silent"})
	if err != nil {
		logger.Fatal("数据库初始化失败", zap.Error(err))
	}

	fmt.Println("开始生成演示数据...")

	end := time.Now().UTC()
	seeded, err := seedDemo(context.Background(), gdb, logger, *userID, end, *days)
	if err != nil {
		logger.Fatal("生成演示数据失败", zap.Error(err))
	}

	fmt.Printf("演示数据生成完成！用户: %s，共 %d 条记录\n", *userID, seeded)
}

// seedDemo 从 end 往前 days 天逐日写入数据，每天的时钟固定在当日正午。
// 幂等键按用户与日期生成，重复执行不会重复记分。
func seedDemo(ctx context.Context, gdb *gorm.DB, logger *zap.Logger, userID string, end time.Time, days int) (int, error) {
	if days <= 0 {
		return 0, fmt.Errorf("days must be positive, got %d", days)
	}

	current := end
	svc := service.NewEngagementService(gdb, service.EngagementOptions{
		Logger: logger,
		Now:    func() time.Time { return current },
	})

	start := end.AddDate(0, 0, -(days - 1))
	seeded := 0
	for i := 0; i < days; i++ {
		day := start.AddDate(0, 0, i)
		current = time.Date(day.Year(), day.Month(), day.Day(), 12, 0, 0, 0, time.UTC)
		date := service.DayKey(current)

		game := demoGames[i%len(demoGames)]
		score := 60 + (i*7)%40
		if _, err := svc.RecordGameSession(ctx, service.GameSessionInput{
			UserID:         userID,
			GameKind:       game,
			Score:          score,
			PointsEarned:   score / 10,
			IdempotencyKey: fmt.Sprintf("seed-game-%s-%s", userID, date),
		}); err != nil {
			return seeded, fmt.Errorf("seed game on %s: %w", date, err)
		}
		seeded++

		if i%2 == 0 {
			data := fmt.Appendf(nil, `{"duration":%d}`, 5+i%3*5)
			if _, err := svc.RecordActivity(ctx, service.RecordActivityInput{
				UserID:         userID,
				ActivityType:   string(service.ActivityMeditationCompleted),
				ActivityData:   data,
				IdempotencyKey: fmt.Sprintf("seed-meditation-%s-%s", userID, date),
			}); err != nil {
				return seeded, fmt.Errorf("seed meditation on %s: %w", date, err)
			}
			seeded++
		}
	}

	return seeded, nil
}
