package service

import (
	"context"
	"strconv"
	"time"

	"github.com/mindcompanion/internal/cache"
	"github.com/mindcompanion/internal/db"
	"github.com/mindcompanion/internal/logging"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	leaderboardCacheSpace      = "leaderboard"
	leaderboardGenerationSpace = "leaderboard-gen"
)

// EngagementOptions 配置 EngagementService。
type EngagementOptions struct {
	Cache    cache.Store
	CacheTTL time.Duration
	Insights *InsightGenerator
	Logger   *zap.Logger
	Now      func() time.Time
}

// GameSessionInput 为一局游戏的上报数据。
type GameSessionInput struct {
	UserID         string
	GameKind       string
	Score          int
	PointsEarned   int
	IdempotencyKey string
}

// GameSessionResult 为记录对局后的结果。
type GameSessionResult struct {
	PointsEarned int
	Score        int
	Activity     *ActivityResult
	Progress     db.UserProgress
}

// RecordActivityInput 为原始活动上报，ActivityData 在服务内按类型解析。
type RecordActivityInput struct {
	UserID         string
	ActivityType   string
	ActivityData   []byte
	PointsEarned   int
	IdempotencyKey string
}

// EngagementService 编排积分账本、日报与周报，是游戏与报表接口的入口。
type EngagementService struct {
	ledger  *PointsLedger
	reports *ReportService
	weekly  *WeeklySummaryBuilder
	cache   cache.Store
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// NewEngagementService 构造各子服务，并让它们共享同一组用户锁。
func NewEngagementService(gdb *gorm.DB, opts EngagementOptions) *EngagementService {
	store := opts.Cache
	if store == nil {
		store = cache.Noop{}
	}
	ttl := cache.ClampTTL(opts.CacheTTL)
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := logging.OrNop(opts.Logger)

	locks := newUserLocks()
	ledger := NewPointsLedger(gdb, logger).WithClock(now)
	ledger.locks = locks
	weekly := NewWeeklySummaryBuilder(gdb, store, ttl)
	reports := NewReportService(gdb, opts.Insights, weekly, logger).WithClock(now)
	reports.locks = locks

	return &EngagementService{
		ledger:  ledger,
		reports: reports,
		weekly:  weekly,
		cache:   store,
		ttl:     ttl,
		now:     now,
		logger:  logger,
	}
}

// Ledger 暴露积分账本。
func (s *EngagementService) Ledger() *PointsLedger { return s.ledger }

// Reports 暴露日报服务。
func (s *EngagementService) Reports() *ReportService { return s.reports }

// RecordGameSession 记录一局游戏：积分记账与活动日志在同一事务内写入，随后累加到当日日报。
// 相同幂等键的重放不会重复记账。
func (s *EngagementService) RecordGameSession(ctx context.Context, input GameSessionInput) (*GameSessionResult, error) {
	award, err := normalizeGameAward(GameAward{
		UserID:   input.UserID,
		GameKind: input.GameKind,
		Points:   input.PointsEarned,
		Score:    input.Score,
	})
	if err != nil {
		return nil, err
	}

	var ledgerResult *LedgerResult
	hook := func(tx *gorm.DB, entry db.ActivityLog) error {
		applied, err := applyGameAward(tx, award, entry.CreatedAt)
		if err != nil {
			return err
		}
		ledgerResult = &applied
		return nil
	}

	activity, err := s.reports.recordActivity(ctx, ActivityInput{
		UserID:         award.UserID,
		Payload:        GamePlayed{Game: award.GameKind, Score: award.Score},
		PointsEarned:   award.Points,
		IdempotencyKey: input.IdempotencyKey,
	}, hook)
	if activity == nil {
		return nil, err
	}
	s.invalidateLeaderboard(ctx)

	result := &GameSessionResult{
		PointsEarned: activity.Log.PointsEarned,
		Score:        award.Score,
		Activity:     activity,
	}
	if game, ok := activity.Payload.(GamePlayed); ok {
		result.Score = game.Score
	}
	if ledgerResult != nil {
		result.Progress = ledgerResult.Progress
	} else if progress, perr := s.ledger.Progress(ctx, award.UserID); perr == nil {
		result.Progress = progress
	}
	return result, err
}

// RecordActivity 解析并记录一条活动；带积分或属于游戏与冥想的活动会同步计入总积分与连续天数。
func (s *EngagementService) RecordActivity(ctx context.Context, input RecordActivityInput) (*ActivityResult, error) {
	activityType, err := ParseActivityType(input.ActivityType)
	if err != nil {
		return nil, err
	}
	payload, err := DecodeActivityPayload(activityType, input.ActivityData)
	if err != nil {
		return nil, err
	}

	var hook appendHook
	if input.PointsEarned > 0 || qualifiesForStreak(activityType) {
		hook = func(tx *gorm.DB, entry db.ActivityLog) error {
			_, err := s.ledger.creditWithin(tx, entry.UserID, entry.PointsEarned, entry.CreatedAt)
			return err
		}
	}

	result, err := s.reports.recordActivity(ctx, ActivityInput{
		UserID:         input.UserID,
		Payload:        payload,
		PointsEarned:   input.PointsEarned,
		IdempotencyKey: input.IdempotencyKey,
	}, hook)
	if result != nil && hook != nil {
		s.invalidateLeaderboard(ctx)
	}
	return result, err
}

// TodayReport 返回当天日报视图。
func (s *EngagementService) TodayReport(ctx context.Context, userID string) (*DailyView, error) {
	return s.reports.TodayReport(ctx, userID)
}

// ReportForDate 返回指定日期的日报视图，没有数据时返回 nil。
func (s *EngagementService) ReportForDate(ctx context.Context, userID, date string) (*DailyView, error) {
	return s.reports.ReportForDate(ctx, userID, date)
}

// WeeklySummary 汇总截至今天的最近 7 个 UTC 日历日。
func (s *EngagementService) WeeklySummary(ctx context.Context, userID string) (*WeeklySummary, error) {
	s.reports.foldPendingBestEffort(ctx, userID)
	from, to := WeekWindow(s.now())
	return s.weekly.Summarize(ctx, userID, from, to)
}

// MarkInsightRead 标记提示为已读。
func (s *EngagementService) MarkInsightRead(ctx context.Context, userID string, insightID uint) (*db.Insight, error) {
	return s.reports.MarkInsightRead(ctx, userID, insightID)
}

// CompleteGame 标记游戏完成。
func (s *EngagementService) CompleteGame(ctx context.Context, userID, gameKind string) (*db.UserProgress, error) {
	progress, err := s.ledger.CompleteGame(ctx, userID, gameKind)
	if err != nil {
		return nil, err
	}
	s.invalidateLeaderboard(ctx)
	return progress, nil
}

// GameStats 返回用户的游戏统计。
func (s *EngagementService) GameStats(ctx context.Context, userID string) (*GameStatsView, error) {
	return s.ledger.Stats(ctx, userID)
}

// Leaderboard 返回排行榜，结果按 limit 缓存。
func (s *EngagementService) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	gen := cache.Generation(ctx, s.cache, leaderboardGenerationSpace)
	key := cache.Key(leaderboardCacheSpace, gen, strconv.Itoa(limit))
	var cached []LeaderboardEntry
	if s.cache.GetJSON(ctx, key, &cached) {
		return cached, nil
	}

	entries, err := s.ledger.Leaderboard(ctx, limit)
	if err != nil {
		return nil, err
	}
	s.cache.SetJSON(ctx, key, entries, s.ttl)
	return entries, nil
}

func (s *EngagementService) invalidateLeaderboard(ctx context.Context) {
	cache.Bump(ctx, s.cache, leaderboardGenerationSpace)
	s.cache.DeletePrefix(ctx, leaderboardCacheSpace+":")
}

func qualifiesForStreak(activityType ActivityType) bool {
	return activityType == ActivityGamePlayed || activityType == ActivityMeditationCompleted
}
