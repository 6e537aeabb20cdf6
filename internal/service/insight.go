package service

import (
	"fmt"

	"github.com/mindcompanion/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InsightType 枚举提示的类别。
type InsightType string

const (
	InsightAchievement  InsightType = "achievement"
	InsightCelebration  InsightType = "celebration"
	InsightImprovement  InsightType = "improvement"
	InsightMotivational InsightType = "motivational"
)

const (
	highScoreThreshold      = 80
	streakCelebrationLength = 7
)

// InsightDraft 是规则产出的待写入提示。
type InsightDraft struct {
	Type        InsightType
	Title       string
	Description string
}

// InsightRule 针对单条活动判断是否产生提示。Name 参与去重键，写入后不应修改。
type InsightRule struct {
	Name     string
	Evaluate func(payload ActivityPayload) (InsightDraft, bool)
}

// DefaultInsightRules 返回内置规则：高分表现与连续打卡里程碑。
func DefaultInsightRules() []InsightRule {
	return []InsightRule{
		{
			Name: "high_score",
			Evaluate: func(payload ActivityPayload) (InsightDraft, bool) {
				game, ok := payload.(GamePlayed)
				if !ok || game.Score <= highScoreThreshold {
					return InsightDraft{}, false
				}
				return InsightDraft{
					Type:        InsightAchievement,
					Title:       "Great Performance!",
					Description: fmt.Sprintf("You scored %d points! Keep up the excellent work!", game.Score),
				}, true
			},
		},
		{
			Name: "streak_celebration",
			Evaluate: func(payload ActivityPayload) (InsightDraft, bool) {
				milestone, ok := payload.(StreakMilestone)
				if !ok || milestone.Streak < streakCelebrationLength {
					return InsightDraft{}, false
				}
				return InsightDraft{
					Type:        InsightCelebration,
					Title:       "Amazing Streak!",
					Description: fmt.Sprintf("You've maintained a %d-day streak! Your consistency is inspiring!", milestone.Streak),
				}, true
			},
		},
	}
}

// InsightGenerator 对一条活动日志执行全部规则并写入提示。
type InsightGenerator struct {
	rules []InsightRule
}

// NewInsightGenerator 使用给定规则构造生成器，rules 为空时使用内置规则。
func NewInsightGenerator(rules ...InsightRule) *InsightGenerator {
	if len(rules) == 0 {
		rules = DefaultInsightRules()
	}
	return &InsightGenerator{rules: rules}
}

// Evaluate 返回命中的规则名与草稿，不访问数据库。
func (g *InsightGenerator) Evaluate(payload ActivityPayload) map[string]InsightDraft {
	drafts := make(map[string]InsightDraft)
	for _, rule := range g.rules {
		if draft, ok := rule.Evaluate(payload); ok {
			drafts[rule.Name] = draft
		}
	}
	return drafts
}

// Generate 为活动日志写入提示；同一日志与规则只会写入一次。
func (g *InsightGenerator) Generate(tx *gorm.DB, entry db.ActivityLog, payload ActivityPayload) ([]db.Insight, error) {
	var created []db.Insight
	for _, rule := range g.rules {
		draft, ok := rule.Evaluate(payload)
		if !ok {
			continue
		}

		insight := db.Insight{
			UserID:        entry.UserID,
			InsightDate:   entry.ActivityDate,
			ActivityLogID: entry.ID,
			Rule:          rule.Name,
			InsightType:   string(draft.Type),
			Title:         draft.Title,
			Description:   draft.Description,
		}
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "activity_log_id"}, {Name: "rule"}},
			DoNothing: true,
		}).Create(&insight)
		if result.Error != nil {
			return created, fmt.Errorf("create insight %s: %w", rule.Name, result.Error)
		}
		if result.RowsAffected > 0 {
			created = append(created, insight)
		}
	}
	return created, nil
}
