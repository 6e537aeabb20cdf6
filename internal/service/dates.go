package service

import (
	"strings"
	"time"
)

// DateLayout 为报表日期的存储与传输格式。
// 所有日历日均以 UTC 零点为边界，避免服务器时区与夏令时造成的歧义。
const DateLayout = "2006-01-02"

// DayKey 返回时间点所在的 UTC 日历日。
func DayKey(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDay 解析 YYYY-MM-DD，返回该日 UTC 零点。
func ParseDay(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, validationError(CodeMissingField, "date is required")
	}
	t, err := time.ParseInLocation(DateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, validationError(CodeInvalidDate, "invalid date %q, use YYYY-MM-DD", value)
	}
	return t, nil
}

func startOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
