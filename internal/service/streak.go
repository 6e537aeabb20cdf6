package service

import (
	"time"

	"github.com/mindcompanion/internal/db"
)

// NextStreak 计算新的连续天数，按 UTC 日历日比较：
// 无记录为 1，同一天不变，前一天加 1，其余情况（间隔两天以上或日期在未来）重置为 1。
func NextStreak(lastActive *time.Time, current int, today time.Time) int {
	if lastActive == nil {
		return 1
	}

	last := startOfDay(*lastActive)
	day := startOfDay(today)

	switch {
	case last.Equal(day):
		return current
	case last.AddDate(0, 0, 1).Equal(day):
		return current + 1
	default:
		return 1
	}
}

// applyStreak 在进度行上执行连续天数计算，并维护 LongestStreak >= CurrentStreak。
func applyStreak(progress *db.UserProgress, now time.Time) {
	var lastActive *time.Time
	if progress.LastActiveDate != "" {
		if parsed, err := time.ParseInLocation(DateLayout, progress.LastActiveDate, time.UTC); err == nil {
			lastActive = &parsed
		}
	}

	progress.CurrentStreak = NextStreak(lastActive, progress.CurrentStreak, now)
	progress.LongestStreak = max(progress.LongestStreak, progress.CurrentStreak)
	progress.LastActiveDate = DayKey(now)
}
