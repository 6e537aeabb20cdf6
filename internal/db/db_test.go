package db

import (
	"path/filepath"
	"testing"

	"gorm.io/gorm/logger"
)

func TestWithSQLiteDefaults(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
		want string
	}{
		{name: "plain path", dsn: "data/app.db", want: "data/app.db?_busy_timeout=5000&_txlock=immediate"},
		{name: "existing query", dsn: "file:x?mode=memory", want: "file:x?mode=memory&_busy_timeout=5000&_txlock=immediate"},
		{name: "already configured", dsn: "app.db?_busy_timeout=100&_txlock=deferred", want: "app.db?_busy_timeout=100&_txlock=deferred"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := withSQLiteDefaults(tt.dsn); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestToGormLogLevel(t *testing.T) {
	cases := map[string]logger.LogLevel{
		"debug":  logger.Info,
		"ERROR":  logger.Error,
		"silent": logger.Silent,
		"info":   logger.Warn,
		"":       logger.Warn,
	}
	for in, want := range cases {
		if got := toGormLogLevel(in); got != want {
			t.Fatalf("toGormLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestOpenSQLiteEnforcesUniqueDailyReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "test.db")
	gdb, err := Open(Options{Driver: "sqlite", DSN: path, LogLevel: "silent"})
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	sqlDB, _ := gdb.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := gdb.Create(&DailyReport{UserID: "u1", ReportDate: "2024-01-01"}).Error; err != nil {
		t.Fatalf("create report: %v", err)
	}
	if err := gdb.Create(&DailyReport{UserID: "u1", ReportDate: "2024-01-01"}).Error; err == nil {
		t.Fatal("expected unique violation for duplicate daily report")
	}
	if err := gdb.Create(&DailyReport{UserID: "u1", ReportDate: "2024-01-02"}).Error; err != nil {
		t.Fatalf("different day should be allowed: %v", err)
	}

	log := ActivityLog{UserID: "u1", ActivityDate: "2024-01-01", IdempotencyKey: "k", ActivityType: "mood_logged", ActivityData: []byte(`{}`)}
	if err := gdb.Create(&log).Error; err != nil {
		t.Fatalf("create log: %v", err)
	}
	dup := log
	dup.ID = 0
	if err := gdb.Create(&dup).Error; err == nil {
		t.Fatal("expected unique violation for duplicate idempotency key")
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(Options{Driver: "oracle"}); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if _, err := Open(Options{Driver: "postgres"}); err == nil {
		t.Fatal("expected error for empty postgres dsn")
	}
}
