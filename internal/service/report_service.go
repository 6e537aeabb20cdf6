package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mindcompanion/internal/db"
	"github.com/mindcompanion/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxIdempotencyKeyLength = 64

// ActivityInput 描述一次待记录的活动。
type ActivityInput struct {
	UserID         string
	Date           time.Time
	Payload        ActivityPayload
	PointsEarned   int
	IdempotencyKey string
}

// ActivityResult 为记录活动的结果；Replayed 表示幂等键命中了已有日志。
// FoldPending 表示日志与记账已提交但尚未累加进日报，后续读取或同键重放时补做。
type ActivityResult struct {
	Log         db.ActivityLog
	Payload     ActivityPayload
	Replayed    bool
	FoldPending bool
	Insights    []db.Insight
}

// appendHook 在写入活动日志的同一事务内执行，用于同步记账。
type appendHook func(tx *gorm.DB, entry db.ActivityLog) error

// RealTimeStats 为当日的实时统计。MoodScore 为 nil 表示当天未记录心情分。
type RealTimeStats struct {
	GamesPlayed     int      `json:"gamesPlayed"`
	PointsEarned    int64    `json:"pointsEarned"`
	TotalActivities int64    `json:"totalActivities"`
	CurrentStreak   int      `json:"currentStreak"`
	MoodScore       *float64 `json:"moodScore"`
}

// DailyView 聚合单日的日报、活动、提示与对局。
type DailyView struct {
	Report        db.DailyReport
	Activities    []db.ActivityLog
	Insights      []db.Insight
	GameSessions  []db.GameSession
	RealTimeStats *RealTimeStats
}

// ReportService 维护日报：追加活动日志，将其累加进当日报表并触发提示生成。
type ReportService struct {
	db       *gorm.DB
	locks    *userLocks
	now      func() time.Time
	attempts int
	insights *InsightGenerator
	weekly   *WeeklySummaryBuilder
	logger   *zap.Logger
}

// NewReportService 构造 ReportService，weekly 为空时不做缓存失效。
func NewReportService(gdb *gorm.DB, insights *InsightGenerator, weekly *WeeklySummaryBuilder, logger *zap.Logger) *ReportService {
	if insights == nil {
		insights = NewInsightGenerator()
	}
	return &ReportService{
		db:       gdb,
		locks:    newUserLocks(),
		now:      time.Now,
		attempts: defaultTxAttempts,
		insights: insights,
		weekly:   weekly,
		logger:   logging.OrNop(logger),
	}
}

// WithClock 替换时间来源。
func (s *ReportService) WithClock(now func() time.Time) *ReportService {
	if now != nil {
		s.now = now
	}
	return s
}

// RecordActivity 追加活动日志并累加到日报。
// 日志写入成功后即视为持久化；累加失败时仍返回成功并置 FoldPending，
// 调用方不得换新幂等键重试，否则会重复记分。
func (s *ReportService) RecordActivity(ctx context.Context, input ActivityInput) (*ActivityResult, error) {
	return s.recordActivity(ctx, input, nil)
}

func (s *ReportService) recordActivity(ctx context.Context, input ActivityInput, hook appendHook) (*ActivityResult, error) {
	input, err := normalizeActivityInput(input)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(input.UserID)
	defer unlock()

	now := s.now()
	day := now
	if !input.Date.IsZero() {
		day = input.Date
	}
	dayKey := DayKey(day)

	data, err := encodePayload(input.Payload)
	if err != nil {
		return nil, err
	}

	result := &ActivityResult{Payload: input.Payload}
	err = runWithRetry(ctx, s.attempts, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := ensureDailyReport(tx, input.UserID, dayKey); err != nil {
				return err
			}

			var existing db.ActivityLog
			lookup := tx.Where("user_id = ? AND idempotency_key = ?", input.UserID, input.IdempotencyKey).Limit(1).Find(&existing)
			if lookup.Error != nil {
				return fmt.Errorf("lookup activity: %w", lookup.Error)
			}
			if lookup.RowsAffected > 0 {
				result.Log = existing
				result.Replayed = true
				return nil
			}

			entry := db.ActivityLog{
				UserID:         input.UserID,
				ActivityDate:   dayKey,
				IdempotencyKey: input.IdempotencyKey,
				ActivityType:   string(input.Payload.Type()),
				ActivityData:   data,
				PointsEarned:   input.PointsEarned,
				CreatedAt:      now,
			}
			if err := tx.Create(&entry).Error; err != nil {
				if isDuplicateKeyError(err) {
					// 另一实例已用同一幂等键写入，重跑事务走重放分支
					return fmt.Errorf("append activity: %w: %v", errConcurrentInsert, err)
				}
				return fmt.Errorf("append activity: %w", err)
			}
			if hook != nil {
				if err := hook(tx, entry); err != nil {
					return err
				}
			}
			result.Log = entry
			result.Replayed = false
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if result.Replayed {
		payload, err := DecodeActivityPayload(ActivityType(result.Log.ActivityType), result.Log.ActivityData)
		if err != nil {
			return nil, fmt.Errorf("decode stored activity %d: %w", result.Log.ID, err)
		}
		result.Payload = payload
		s.logger.Debug("activity replayed", zap.String("user_id", input.UserID), zap.Uint("activity_id", result.Log.ID))
	}

	if err := s.foldWithRetry(ctx, result.Log.ID, result.Payload); err != nil {
		s.logger.Warn("fold activity deferred", zap.String("user_id", input.UserID), zap.Uint("activity_id", result.Log.ID), zap.Error(err))
		result.FoldPending = true
		return result, nil
	}

	s.generateInsights(ctx, result)
	s.invalidate(ctx, input.UserID)
	return result, nil
}

// FoldPending 补做尚未累加的活动日志，返回本次累加的条数。
func (s *ReportService) FoldPending(ctx context.Context, userID string) (int, error) {
	unlock := s.locks.lock(userID)
	defer unlock()

	var pending []db.ActivityLog
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND folded = ?", userID, false).
		Order("id ASC").
		Find(&pending).Error; err != nil {
		return 0, fmt.Errorf("load pending activities: %w", err)
	}

	folded := 0
	for _, entry := range pending {
		payload, err := DecodeActivityPayload(ActivityType(entry.ActivityType), entry.ActivityData)
		if err != nil {
			s.logger.Warn("skip undecodable activity", zap.Uint("activity_id", entry.ID), zap.Error(err))
			continue
		}
		if err := s.foldWithRetry(ctx, entry.ID, payload); err != nil {
			return folded, err
		}
		folded++
		s.generateInsights(ctx, &ActivityResult{Log: entry, Payload: payload})
	}
	if folded > 0 {
		s.invalidate(ctx, userID)
	}
	return folded, nil
}

func (s *ReportService) foldPendingBestEffort(ctx context.Context, userID string) {
	if _, err := s.FoldPending(ctx, userID); err != nil {
		s.logger.Warn("fold pending activities failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *ReportService) foldWithRetry(ctx context.Context, activityID uint, payload ActivityPayload) error {
	return runWithRetry(ctx, s.attempts, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return foldActivity(tx, activityID, payload)
		})
	})
}

// foldActivity 锁定日志与日报行，按活动类型原子累加计数器并标记已累加。
func foldActivity(tx *gorm.DB, activityID uint, payload ActivityPayload) error {
	var entry db.ActivityLog
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&entry, activityID).Error; err != nil {
		return fmt.Errorf("lock activity %d: %w", activityID, err)
	}
	if entry.Folded {
		return nil
	}

	updates := reportIncrements(payload, entry.PointsEarned)
	if len(updates) > 0 {
		report, err := lockOrCreate(tx,
			&db.DailyReport{UserID: entry.UserID, ReportDate: entry.ActivityDate},
			[]string{"user_id", "report_date"},
			"user_id = ? AND report_date = ?", entry.UserID, entry.ActivityDate)
		if err != nil {
			return fmt.Errorf("lock daily report: %w", err)
		}
		if err := tx.Model(&db.DailyReport{}).Where("id = ?", report.ID).UpdateColumns(updates).Error; err != nil {
			return fmt.Errorf("update daily report: %w", err)
		}
	}

	return tx.Model(&db.ActivityLog{}).Where("id = ?", entry.ID).UpdateColumn("folded", true).Error
}

// reportIncrements 返回活动对日报的增量；返回空表示只记录日志。
func reportIncrements(payload ActivityPayload, points int) map[string]any {
	switch p := payload.(type) {
	case GamePlayed:
		return map[string]any{
			"games_played":        gorm.Expr("games_played + ?", 1),
			"total_points_earned": gorm.Expr("total_points_earned + ?", points),
		}
	case MeditationCompleted:
		return map[string]any{
			"total_play_time_minutes": gorm.Expr("total_play_time_minutes + ?", p.Minutes()),
		}
	case StreakMilestone:
		return map[string]any{"streak_maintained": true}
	default:
		return nil
	}
}

func ensureDailyReport(tx *gorm.DB, userID, dayKey string) error {
	report := db.DailyReport{UserID: userID, ReportDate: dayKey}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "report_date"}},
		DoNothing: true,
	}).Create(&report).Error
	if err != nil {
		return fmt.Errorf("ensure daily report: %w", err)
	}
	return nil
}

func (s *ReportService) generateInsights(ctx context.Context, result *ActivityResult) {
	created, err := s.insights.Generate(s.db.WithContext(ctx), result.Log, result.Payload)
	if err != nil {
		s.logger.Warn("generate insights failed", zap.Uint("activity_id", result.Log.ID), zap.Error(err))
	}
	result.Insights = append(result.Insights, created...)
}

func (s *ReportService) invalidate(ctx context.Context, userID string) {
	if s.weekly != nil {
		s.weekly.Invalidate(ctx, userID)
	}
}

// TodayReport 返回当天日报，不存在时创建空行；读取前会尽力补做未累加的日志。
func (s *ReportService) TodayReport(ctx context.Context, userID string) (*DailyView, error) {
	s.foldPendingBestEffort(ctx, userID)

	dayKey := DayKey(s.now())
	var report db.DailyReport
	err := runWithRetry(ctx, s.attempts, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := ensureDailyReport(tx, userID, dayKey); err != nil {
				return err
			}
			return tx.Where("user_id = ? AND report_date = ?", userID, dayKey).First(&report).Error
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load today report: %w", err)
	}

	view, err := s.loadDay(ctx, report)
	if err != nil {
		return nil, err
	}
	view.RealTimeStats = s.realTimeStats(ctx, view)
	return view, nil
}

// ReportForDate 返回指定日期的日报，该日没有数据时返回 nil。
func (s *ReportService) ReportForDate(ctx context.Context, userID, date string) (*DailyView, error) {
	day, err := ParseDay(date)
	if err != nil {
		return nil, err
	}
	s.foldPendingBestEffort(ctx, userID)

	var report db.DailyReport
	err = s.db.WithContext(ctx).Where("user_id = ? AND report_date = ?", userID, DayKey(day)).First(&report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load report: %w", err)
	}
	return s.loadDay(ctx, report)
}

// MarkInsightRead 将提示标记为已读，提示不属于该用户时返回未找到。
func (s *ReportService) MarkInsightRead(ctx context.Context, userID string, insightID uint) (*db.Insight, error) {
	var insight db.Insight
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", insightID, userID).First(&insight).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFoundError(fmt.Errorf("%w: %d", ErrInsightNotFound, insightID))
	}
	if err != nil {
		return nil, fmt.Errorf("load insight: %w", err)
	}
	if insight.IsRead {
		return &insight, nil
	}
	if err := s.db.WithContext(ctx).Model(&insight).Update("is_read", true).Error; err != nil {
		return nil, fmt.Errorf("mark insight read: %w", err)
	}
	insight.IsRead = true
	return &insight, nil
}

func (s *ReportService) loadDay(ctx context.Context, report db.DailyReport) (*DailyView, error) {
	view := &DailyView{Report: report}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.db.WithContext(gctx).
			Where("user_id = ? AND activity_date = ?", report.UserID, report.ReportDate).
			Order("created_at DESC, id DESC").
			Find(&view.Activities).Error
	})
	g.Go(func() error {
		return s.db.WithContext(gctx).
			Where("user_id = ? AND insight_date = ?", report.UserID, report.ReportDate).
			Order("created_at DESC, id DESC").
			Find(&view.Insights).Error
	})
	g.Go(func() error {
		return s.db.WithContext(gctx).
			Where("user_id = ? AND session_date = ?", report.UserID, report.ReportDate).
			Order("completed_at DESC, id DESC").
			Find(&view.GameSessions).Error
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load day %s: %w", report.ReportDate, err)
	}
	return view, nil
}

// realTimeStats 只读汇总，失败时记录日志并返回零值。
func (s *ReportService) realTimeStats(ctx context.Context, view *DailyView) *RealTimeStats {
	stats := &RealTimeStats{
		GamesPlayed:     len(view.GameSessions),
		TotalActivities: int64(len(view.Activities)),
	}
	for _, session := range view.GameSessions {
		stats.PointsEarned += int64(session.PointsEarned)
	}
	if view.Report.MoodScore > 0 {
		mood := view.Report.MoodScore
		stats.MoodScore = &mood
	}

	var progress db.UserProgress
	err := s.db.WithContext(ctx).Where("user_id = ?", view.Report.UserID).Limit(1).Find(&progress).Error
	if err != nil {
		s.logger.Warn("load progress for stats failed", zap.String("user_id", view.Report.UserID), zap.Error(err))
		return stats
	}
	stats.CurrentStreak = progress.CurrentStreak
	return stats
}

func normalizeActivityInput(input ActivityInput) (ActivityInput, error) {
	input.UserID = strings.TrimSpace(input.UserID)
	input.IdempotencyKey = strings.TrimSpace(input.IdempotencyKey)
	if input.UserID == "" {
		return input, validationError(CodeMissingField, "user id is required")
	}
	if input.Payload == nil {
		return input, validationError(CodeMissingField, "activity data is required")
	}
	if err := input.Payload.validate(); err != nil {
		return input, err
	}
	if input.PointsEarned < 0 {
		return input, InvalidPointsError(input.PointsEarned)
	}
	if len(input.IdempotencyKey) > maxIdempotencyKeyLength {
		return input, validationError(CodeInvalidActivityData, "idempotency key must be at most %d characters", maxIdempotencyKeyLength)
	}
	if input.IdempotencyKey == "" {
		input.IdempotencyKey = uuid.NewString()
	}
	return input, nil
}
