package main

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mindcompanion/internal/db"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupSeedTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", t.Name())), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return gdb
}

func TestSeedDemoBackfillsStreakAndIsRepeatable(t *testing.T) {
	gdb := setupSeedTestDB(t)
	end := time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)

	seeded, err := seedDemo(context.Background(), gdb, zap.NewNop(), "demo", end, 7)
	if err != nil {
		t.Fatalf("seedDemo returned error: %v", err)
	}
	if seeded != 11 {
		t.Fatalf("expected 11 seeded records, got %d", seeded)
	}

	var progress db.UserProgress
	if err := gdb.Where("user_id = ?", "demo").First(&progress).Error; err != nil {
		t.Fatalf("failed to load progress: %v", err)
	}
	if progress.CurrentStreak != 7 {
		t.Fatalf("expected streak 7 after a week of play, got %d", progress.CurrentStreak)
	}
	if progress.TotalPoints != 50 {
		t.Fatalf("expected 50 total points, got %d", progress.TotalPoints)
	}

	var reports int64
	gdb.Model(&db.DailyReport{}).Where("user_id = ?", "demo").Count(&reports)
	if reports != 7 {
		t.Fatalf("expected one report per day, got %d", reports)
	}

	if _, err := seedDemo(context.Background(), gdb, zap.NewNop(), "demo", end, 7); err != nil {
		t.Fatalf("second seed returned error: %v", err)
	}
	if err := gdb.Where("user_id = ?", "demo").First(&progress).Error; err != nil {
		t.Fatalf("failed to reload progress: %v", err)
	}
	if progress.TotalPoints != 50 {
		t.Fatalf("expected replayed seed to keep 50 points, got %d", progress.TotalPoints)
	}

	var logs int64
	gdb.Model(&db.ActivityLog{}).Where("user_id = ?", "demo").Count(&logs)
	if logs != 11 {
		t.Fatalf("expected 11 activity logs after replay, got %d", logs)
	}
}

func TestSeedDemoRejectsNonPositiveDays(t *testing.T) {
	gdb := setupSeedTestDB(t)
	if _, err := seedDemo(context.Background(), gdb, zap.NewNop(), "demo", time.Now(), 0); err == nil {
		t.Fatalf("expected error for zero days")
	}
}
