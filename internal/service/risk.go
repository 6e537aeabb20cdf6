package service

import "strings"

// RiskTier 是聊天消息的粗粒度风险等级，仅用于触发前端的支持性提示。
type RiskTier string

const (
	RiskCritical RiskTier = "critical"
	RiskHigh     RiskTier = "high"
	RiskMedium   RiskTier = "medium"
	RiskLow      RiskTier = "low"
)

type riskRule struct {
	tier     RiskTier
	keywords []string
}

// 按优先级排列，命中即返回。
var riskRules = []riskRule{
	{tier: RiskCritical, keywords: []string{
		"kill myself", "suicide", "end my life", "not worth living",
		"hurt myself", "self harm", "cut myself", "overdose",
	}},
	{tier: RiskHigh, keywords: []string{
		"depressed", "hopeless", "worthless", "empty", "numb",
		"can't go on", "giving up", "no point", "hate myself",
		"anxiety", "panic", "scared", "overwhelmed",
	}},
	{tier: RiskMedium, keywords: []string{
		"sad", "lonely", "stressed", "worried", "tired",
		"frustrated", "angry", "confused", "lost",
	}},
}

// ClassifyRisk 对消息做大小写不敏感的子串匹配，返回第一个命中的等级，默认 low。
func ClassifyRisk(message string) RiskTier {
	lower := strings.ToLower(message)
	for _, rule := range riskRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(lower, keyword) {
				return rule.tier
			}
		}
	}
	return RiskLow
}
