package db

import "time"

// UserProgress 汇总用户的积分与连续打卡天数，每个用户一行。
// LastActiveDate 使用 UTC 日历日 YYYY-MM-DD，空字符串表示从未活跃。
// 仅由积分账本和连续天数计算修改，除显式重置外从不回退。
type UserProgress struct {
	ID             uint   `gorm:"primaryKey"`
	UserID         string `gorm:"size:64;uniqueIndex;not null"`
	TotalPoints    int64  `gorm:"not null;default:0"`
	GamesCompleted int    `gorm:"not null;default:0"`
	CurrentStreak  int    `gorm:"not null;default:0"`
	LongestStreak  int    `gorm:"not null;default:0"`
	LastActiveDate string `gorm:"size:10"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName 指定自定义表名。
func (UserProgress) TableName() string {
	return "user_progress"
}

// GameStat 记录用户在单个游戏上的累计数据。
// user_id + game_kind 唯一；BestScore 只增不减。
type GameStat struct {
	ID           uint   `gorm:"primaryKey"`
	UserID       string `gorm:"size:64;not null;uniqueIndex:idx_game_stat_user_kind,priority:1"`
	GameKind     string `gorm:"size:64;not null;uniqueIndex:idx_game_stat_user_kind,priority:2"`
	TotalPlays   int    `gorm:"not null;default:0"`
	TotalPoints  int64  `gorm:"not null;default:0"`
	BestScore    int    `gorm:"not null;default:0"`
	IsCompleted  bool   `gorm:"not null;default:false"`
	LastPlayedAt time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName 指定自定义表名。
func (GameStat) TableName() string {
	return "game_stats"
}

// GameSession 为每局游戏追加一条记录，用于当日实时统计和最近对局列表。
type GameSession struct {
	ID           uint   `gorm:"primaryKey"`
	UserID       string `gorm:"size:64;not null;index:idx_game_session_user_date,priority:1"`
	SessionDate  string `gorm:"size:10;not null;index:idx_game_session_user_date,priority:2"`
	GameKind     string `gorm:"size:64;not null"`
	Score        int    `gorm:"not null;default:0"`
	PointsEarned int    `gorm:"not null;default:0"`
	CompletedAt  time.Time
}

// TableName 指定自定义表名。
func (GameSession) TableName() string {
	return "game_sessions"
}
