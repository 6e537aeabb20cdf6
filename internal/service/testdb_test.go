package service

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mindcompanion/internal/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBSeq atomic.Int64

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:service-%d?mode=memory&cache=shared&_busy_timeout=5000", testDBSeq.Add(1))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
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

// testClock 是可手动推进的时钟。
type testClock struct {
	current atomic.Int64
}

func newTestClock(start time.Time) *testClock {
	c := &testClock{}
	c.current.Store(start.UnixNano())
	return c
}

func (c *testClock) Now() time.Time {
	return time.Unix(0, c.current.Load()).UTC()
}

func (c *testClock) Advance(d time.Duration) {
	c.current.Add(int64(d))
}

func (c *testClock) Set(t time.Time) {
	c.current.Store(t.UnixNano())
}
