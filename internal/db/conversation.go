package db

import "time"

// ConversationEntry 记录一轮对话，追加写入。
type ConversationEntry struct {
	ID         uint      `gorm:"primaryKey"`
	UserID     string    `gorm:"size:64;not null;index:idx_conversation_user_created,priority:1"`
	Message    string    `gorm:"type:text;not null"`
	AIResponse string    `gorm:"type:text;not null"`
	RiskTier   string    `gorm:"size:16;not null"`
	Fallback   bool      `gorm:"not null;default:false"`
	CreatedAt  time.Time `gorm:"index:idx_conversation_user_created,priority:2"`
}

// TableName 指定自定义表名。
func (ConversationEntry) TableName() string {
	return "conversation_entries"
}
