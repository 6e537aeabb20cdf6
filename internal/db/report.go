package db

import (
	"time"

	"gorm.io/datatypes"
)

// DailyReport 是用户单日的聚合行，首次活动时惰性创建。
// user_id + report_date 唯一索引保证同一天只有一行。
type DailyReport struct {
	ID                   uint   `gorm:"primaryKey"`
	UserID               string `gorm:"size:64;not null;uniqueIndex:idx_daily_report_user_date,priority:1"`
	ReportDate           string `gorm:"size:10;not null;uniqueIndex:idx_daily_report_user_date,priority:2"`
	GamesPlayed          int    `gorm:"not null;default:0"`
	TotalPointsEarned    int64  `gorm:"not null;default:0"`
	TotalPlayTimeMinutes int    `gorm:"not null;default:0"`
	FocusScore           float64
	MoodScore            float64
	StreakMaintained     bool `gorm:"not null;default:false"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// TableName 指定自定义表名。
func (DailyReport) TableName() string {
	return "daily_reports"
}

// ActivityLog 为追加写入的活动日志，写入后除 Folded 标记外不再修改。
// IdempotencyKey 在用户维度唯一，客户端重试同一事件时复用已有记录；
// Folded 与日报累加在同一事务内置为 true，保证每条日志只累加一次。
type ActivityLog struct {
	ID             uint           `gorm:"primaryKey"`
	UserID         string         `gorm:"size:64;not null;index:idx_activity_user_date,priority:1;uniqueIndex:idx_activity_user_key,priority:1"`
	ActivityDate   string         `gorm:"size:10;not null;index:idx_activity_user_date,priority:2"`
	IdempotencyKey string         `gorm:"size:64;not null;uniqueIndex:idx_activity_user_key,priority:2"`
	ActivityType   string         `gorm:"size:32;not null"`
	ActivityData   datatypes.JSON `gorm:"not null"`
	PointsEarned   int            `gorm:"not null;default:0"`
	Folded         bool           `gorm:"not null;default:false;index"`
	CreatedAt      time.Time
}

// TableName 指定自定义表名。
func (ActivityLog) TableName() string {
	return "activity_logs"
}

// Insight 是规则生成的提示信息，只会被标记为已读，不会删除。
// ActivityLogID + Rule 唯一，重放同一事件不会产生重复提示。
type Insight struct {
	ID            uint   `gorm:"primaryKey"`
	UserID        string `gorm:"size:64;not null;index:idx_insight_user_date,priority:1"`
	InsightDate   string `gorm:"size:10;not null;index:idx_insight_user_date,priority:2"`
	ActivityLogID uint   `gorm:"not null;uniqueIndex:idx_insight_source_rule,priority:1"`
	Rule          string `gorm:"size:64;not null;uniqueIndex:idx_insight_source_rule,priority:2"`
	InsightType   string `gorm:"size:32;not null"`
	Title         string `gorm:"size:255;not null"`
	Description   string `gorm:"type:text"`
	IsRead        bool   `gorm:"not null;default:false"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TableName 指定自定义表名。
func (Insight) TableName() string {
	return "insights"
}
