package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mindcompanion/internal/db"
	"github.com/mindcompanion/internal/logging"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PointsLedger 维护用户总积分、单游戏统计与连续天数。
// 一次记账的全部子更新在同一事务内完成，任何写失败都会整体回滚。
type PointsLedger struct {
	db       *gorm.DB
	locks    *userLocks
	now      func() time.Time
	attempts int
	logger   *zap.Logger
}

// GameAward 描述一局游戏带来的积分变动。
type GameAward struct {
	UserID   string
	GameKind string
	Points   int
	Score    int
}

// LedgerResult 返回记账后的最新状态。
type LedgerResult struct {
	Progress db.UserProgress
	GameStat db.GameStat
	Session  db.GameSession
}

// NewPointsLedger 构造 PointsLedger。
func NewPointsLedger(gdb *gorm.DB, logger *zap.Logger) *PointsLedger {
	return &PointsLedger{
		db:       gdb,
		locks:    newUserLocks(),
		now:      time.Now,
		attempts: defaultTxAttempts,
		logger:   logging.OrNop(logger),
	}
}

// WithClock 替换时间来源，主要用于测试跨日场景。
func (l *PointsLedger) WithClock(now func() time.Time) *PointsLedger {
	if now != nil {
		l.now = now
	}
	return l
}

// ApplyPoints 为一局游戏记账：更新游戏统计、累加总积分并重新计算连续天数。
func (l *PointsLedger) ApplyPoints(ctx context.Context, userID, gameKind string, points, score int) (*LedgerResult, error) {
	award, err := normalizeGameAward(GameAward{UserID: userID, GameKind: gameKind, Points: points, Score: score})
	if err != nil {
		return nil, err
	}

	unlock := l.locks.lock(award.UserID)
	defer unlock()

	now := l.now()
	var result LedgerResult
	err = runWithRetry(ctx, l.attempts, func() error {
		return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			applied, err := applyGameAward(tx, award, now)
			if err != nil {
				return err
			}
			result = applied
			return nil
		})
	})
	if err != nil {
		l.logger.Warn("apply points failed", zap.String("user_id", award.UserID), zap.String("game", award.GameKind), zap.Error(err))
		return nil, err
	}
	return &result, nil
}

// Credit 为非游戏活动累加积分并更新连续天数。
func (l *PointsLedger) Credit(ctx context.Context, userID string, points int) (*db.UserProgress, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, validationError(CodeMissingField, "user id is required")
	}
	if points < 0 {
		return nil, InvalidPointsError(points)
	}

	unlock := l.locks.lock(userID)
	defer unlock()

	now := l.now()
	var progress db.UserProgress
	err := runWithRetry(ctx, l.attempts, func() error {
		return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			updated, err := l.creditWithin(tx, userID, points, now)
			if err != nil {
				return err
			}
			progress = updated
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &progress, nil
}

// CompleteGame 将游戏标记为已完成，并重新统计用户完成的游戏数。
func (l *PointsLedger) CompleteGame(ctx context.Context, userID, gameKind string) (*db.UserProgress, error) {
	userID = strings.TrimSpace(userID)
	gameKind = strings.TrimSpace(gameKind)
	if userID == "" || gameKind == "" {
		return nil, validationError(CodeMissingField, "user id and game kind are required")
	}

	unlock := l.locks.lock(userID)
	defer unlock()

	var progress db.UserProgress
	err := runWithRetry(ctx, l.attempts, func() error {
		return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			result := tx.Model(&db.GameStat{}).
				Where("user_id = ? AND game_kind = ?", userID, gameKind).
				Update("is_completed", true)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return notFoundError(fmt.Errorf("%w: %s", ErrGameStatNotFound, gameKind))
			}

			var completed int64
			if err := tx.Model(&db.GameStat{}).
				Where("user_id = ? AND is_completed = ?", userID, true).
				Count(&completed).Error; err != nil {
				return err
			}

			row, err := lockOrCreate(tx, &db.UserProgress{UserID: userID}, []string{"user_id"}, "user_id = ?", userID)
			if err != nil {
				return err
			}
			row.GamesCompleted = int(completed)
			if err := tx.Save(&row).Error; err != nil {
				return err
			}
			progress = row
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &progress, nil
}

// Progress 返回用户进度，从未活跃的用户返回零值。
func (l *PointsLedger) Progress(ctx context.Context, userID string) (db.UserProgress, error) {
	var progress db.UserProgress
	err := l.db.WithContext(ctx).Where("user_id = ?", userID).First(&progress).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.UserProgress{UserID: userID}, nil
	}
	if err != nil {
		return progress, fmt.Errorf("load progress: %w", err)
	}
	return progress, nil
}

func normalizeGameAward(award GameAward) (GameAward, error) {
	award.UserID = strings.TrimSpace(award.UserID)
	award.GameKind = strings.TrimSpace(award.GameKind)
	if award.UserID == "" {
		return award, validationError(CodeMissingField, "user id is required")
	}
	if award.GameKind == "" {
		return award, validationError(CodeMissingField, "game kind is required")
	}
	if award.Points < 0 {
		return award, InvalidPointsError(award.Points)
	}
	if award.Score < 0 {
		return award, validationError(CodeInvalidScore, "score must not be negative")
	}
	return award, nil
}

// applyGameAward 在调用方事务内执行游戏记账，调用方负责加锁与重试。
func applyGameAward(tx *gorm.DB, award GameAward, now time.Time) (LedgerResult, error) {
	var result LedgerResult

	stat, err := lockOrCreate(tx,
		&db.GameStat{UserID: award.UserID, GameKind: award.GameKind, LastPlayedAt: now},
		[]string{"user_id", "game_kind"},
		"user_id = ? AND game_kind = ?", award.UserID, award.GameKind)
	if err != nil {
		return result, fmt.Errorf("lock game stat: %w", err)
	}

	stat.TotalPlays++
	stat.TotalPoints += int64(award.Points)
	stat.BestScore = max(stat.BestScore, award.Score)
	stat.LastPlayedAt = now
	if err := tx.Save(&stat).Error; err != nil {
		return result, fmt.Errorf("save game stat: %w", err)
	}

	session := db.GameSession{
		UserID:       award.UserID,
		SessionDate:  DayKey(now),
		GameKind:     award.GameKind,
		Score:        award.Score,
		PointsEarned: award.Points,
		CompletedAt:  now,
	}
	if err := tx.Create(&session).Error; err != nil {
		return result, fmt.Errorf("append game session: %w", err)
	}

	progress, err := creditProgress(tx, award.UserID, award.Points, now)
	if err != nil {
		return result, err
	}

	result.Progress = progress
	result.GameStat = stat
	result.Session = session
	return result, nil
}

// creditWithin 在调用方事务内执行 Credit 的记账部分，调用方需已持有该用户的锁。
func (l *PointsLedger) creditWithin(tx *gorm.DB, userID string, points int, at time.Time) (db.UserProgress, error) {
	if points < 0 {
		return db.UserProgress{}, InvalidPointsError(points)
	}
	return creditProgress(tx, userID, points, at)
}

func creditProgress(tx *gorm.DB, userID string, points int, now time.Time) (db.UserProgress, error) {
	progress, err := lockOrCreate(tx, &db.UserProgress{UserID: userID}, []string{"user_id"}, "user_id = ?", userID)
	if err != nil {
		return progress, fmt.Errorf("lock user progress: %w", err)
	}

	progress.TotalPoints += int64(points)
	applyStreak(&progress, now)

	if err := tx.Save(&progress).Error; err != nil {
		return progress, fmt.Errorf("save user progress: %w", err)
	}
	return progress, nil
}

const (
	defaultLeaderboardSize = 10
	maxLeaderboardSize     = 100
	recentSessionLimit     = 10
)

// GameStatsView 汇总用户整体进度、各游戏统计与最近对局。
type GameStatsView struct {
	Progress       db.UserProgress
	Games          []db.GameStat
	RecentSessions []db.GameSession
}

// LeaderboardEntry 为排行榜中的一行。
type LeaderboardEntry struct {
	UserID         string `json:"userId"`
	TotalPoints    int64  `json:"totalPoints"`
	GamesCompleted int    `json:"gamesCompleted"`
	CurrentStreak  int    `json:"currentStreak"`
}

// Stats 返回用户的游戏统计，最近对局最多 10 条。
func (l *PointsLedger) Stats(ctx context.Context, userID string) (*GameStatsView, error) {
	progress, err := l.Progress(ctx, userID)
	if err != nil {
		return nil, err
	}

	view := &GameStatsView{Progress: progress}
	if err := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_played_at DESC").
		Find(&view.Games).Error; err != nil {
		return nil, fmt.Errorf("load game stats: %w", err)
	}
	if err := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("completed_at DESC, id DESC").
		Limit(recentSessionLimit).
		Find(&view.RecentSessions).Error; err != nil {
		return nil, fmt.Errorf("load recent sessions: %w", err)
	}
	return view, nil
}

// Leaderboard 按总积分降序返回积分大于 0 的用户。
func (l *PointsLedger) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit == 0 {
		limit = defaultLeaderboardSize
	}
	if limit < 0 || limit > maxLeaderboardSize {
		return nil, validationError(CodeInvalidLimit, "limit must be between 1 and %d", maxLeaderboardSize)
	}

	var rows []db.UserProgress
	if err := l.db.WithContext(ctx).
		Where("total_points > ?", 0).
		Order("total_points DESC, user_id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load leaderboard: %w", err)
	}

	entries := make([]LeaderboardEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, LeaderboardEntry{
			UserID:         row.UserID,
			TotalPoints:    row.TotalPoints,
			GamesCompleted: row.GamesCompleted,
			CurrentStreak:  row.CurrentStreak,
		})
	}
	return entries, nil
}
