package service

import (
	"context"
	"fmt"
	"time"

	"github.com/mindcompanion/internal/cache"
	"github.com/mindcompanion/internal/db"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

const (
	weeklyWindowDays      = 7
	weeklyCacheSpace      = "weekly"
	weeklyGenerationSpace = "weekly-gen"
)

// WeeklyTotals 汇总一段日期内的日报。
type WeeklyTotals struct {
	TotalGames    int     `json:"totalGames"`
	TotalPoints   int64   `json:"totalPoints"`
	TotalPlayTime int     `json:"totalPlayTime"`
	AvgFocusScore float64 `json:"avgFocusScore"`
	AvgMoodScore  float64 `json:"avgMoodScore"`
	StreakDays    int     `json:"streakDays"`
}

// DayReport 是周报中的单日数据。
type DayReport struct {
	ReportDate           string  `json:"reportDate"`
	GamesPlayed          int     `json:"gamesPlayed"`
	TotalPointsEarned    int64   `json:"totalPointsEarned"`
	TotalPlayTimeMinutes int     `json:"totalPlayTime"`
	FocusScore           float64 `json:"focusScore"`
	MoodScore            float64 `json:"moodScore"`
	StreakMaintained     bool    `json:"streakMaintained"`
}

// WeeklySummary 为周报响应。
type WeeklySummary struct {
	From         string       `json:"from"`
	To           string       `json:"to"`
	WeeklyData   []DayReport  `json:"weeklyData"`
	WeeklyTotals WeeklyTotals `json:"weeklyTotals"`
	DaysTracked  int          `json:"daysTracked"`
}

// SummarizeReports 对日报行求和与求平均；没有行时平均值为 0。
func SummarizeReports(reports []db.DailyReport) WeeklyTotals {
	var totals WeeklyTotals
	var focusSum, moodSum float64
	for _, report := range reports {
		totals.TotalGames += report.GamesPlayed
		totals.TotalPoints += report.TotalPointsEarned
		totals.TotalPlayTime += report.TotalPlayTimeMinutes
		focusSum += report.FocusScore
		moodSum += report.MoodScore
		if report.StreakMaintained {
			totals.StreakDays++
		}
	}
	if n := len(reports); n > 0 {
		totals.AvgFocusScore = focusSum / float64(n)
		totals.AvgMoodScore = moodSum / float64(n)
	}
	return totals
}

// WeeklySummaryBuilder 读取日报并生成区间汇总，结果按用户缓存。
type WeeklySummaryBuilder struct {
	db    *gorm.DB
	cache cache.Store
	ttl   time.Duration
	group singleflight.Group
}

// NewWeeklySummaryBuilder 构造周报生成器，store 为空时不缓存。
func NewWeeklySummaryBuilder(gdb *gorm.DB, store cache.Store, ttl time.Duration) *WeeklySummaryBuilder {
	if store == nil {
		store = cache.Noop{}
	}
	return &WeeklySummaryBuilder{db: gdb, cache: store, ttl: cache.ClampTTL(ttl)}
}

// Summarize 汇总 [from, to] 闭区间内的日报，日期按 UTC 日历日比较。
func (b *WeeklySummaryBuilder) Summarize(ctx context.Context, userID string, from, to time.Time) (*WeeklySummary, error) {
	fromKey, toKey := DayKey(from), DayKey(to)
	if fromKey > toKey {
		return nil, validationError(CodeInvalidDate, "from %s is after to %s", fromKey, toKey)
	}

	// 版本号须在查库前读取，查询期间发生的失效会让本次写入落到不再被读取的旧键上
	gen := cache.Generation(ctx, b.cache, cache.Key(weeklyGenerationSpace, userID))
	key := cache.Key(weeklyCacheSpace, userID, gen, fromKey, toKey)
	var cached WeeklySummary
	if b.cache.GetJSON(ctx, key, &cached) {
		return &cached, nil
	}

	value, err, _ := b.group.Do(key, func() (any, error) {
		var reports []db.DailyReport
		if err := b.db.WithContext(ctx).
			Where("user_id = ? AND report_date BETWEEN ? AND ?", userID, fromKey, toKey).
			Order("report_date DESC").
			Find(&reports).Error; err != nil {
			return nil, fmt.Errorf("load daily reports: %w", err)
		}

		summary := &WeeklySummary{
			From:         fromKey,
			To:           toKey,
			WeeklyData:   make([]DayReport, 0, len(reports)),
			WeeklyTotals: SummarizeReports(reports),
			DaysTracked:  len(reports),
		}
		for _, report := range reports {
			summary.WeeklyData = append(summary.WeeklyData, toDayReport(report))
		}
		b.cache.SetJSON(ctx, key, summary, b.ttl)
		return summary, nil
	})
	if err != nil {
		return nil, err
	}
	summary := *value.(*WeeklySummary)
	return &summary, nil
}

// Invalidate 使用户的周报缓存失效，须在日报变化提交之后调用。
func (b *WeeklySummaryBuilder) Invalidate(ctx context.Context, userID string) {
	cache.Bump(ctx, b.cache, cache.Key(weeklyGenerationSpace, userID))
	b.cache.DeletePrefix(ctx, cache.Key(weeklyCacheSpace, userID)+":")
}

// WeekWindow 返回以 today 结尾的 7 个 UTC 日历日。
func WeekWindow(today time.Time) (time.Time, time.Time) {
	end := startOfDay(today)
	return end.AddDate(0, 0, -(weeklyWindowDays - 1)), end
}

func toDayReport(report db.DailyReport) DayReport {
	return DayReport{
		ReportDate:           report.ReportDate,
		GamesPlayed:          report.GamesPlayed,
		TotalPointsEarned:    report.TotalPointsEarned,
		TotalPlayTimeMinutes: report.TotalPlayTimeMinutes,
		FocusScore:           report.FocusScore,
		MoodScore:            report.MoodScore,
		StreakMaintained:     report.StreakMaintained,
	}
}
