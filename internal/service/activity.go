package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ActivityType 枚举可记录的活动类型。
type ActivityType string

const (
	ActivityGamePlayed          ActivityType = "game_played"
	ActivityMeditationCompleted ActivityType = "meditation_completed"
	ActivityMoodLogged          ActivityType = "mood_logged"
	ActivityStreakMilestone     ActivityType = "streak_milestone"
	ActivityAchievementUnlocked ActivityType = "achievement_unlocked"
)

// defaultMeditationMinutes 为冥想未上报时长时计入的分钟数。
const defaultMeditationMinutes = 5

// ActivityPayload 是按活动类型区分的结构化数据，每种类型有各自的必填字段。
type ActivityPayload interface {
	Type() ActivityType
	validate() error
}

// GamePlayed 对应 game_played。
type GamePlayed struct {
	Game  string `json:"game,omitempty"`
	Score int    `json:"score"`
}

// MeditationCompleted 对应 meditation_completed，Duration 单位为分钟，0 表示使用默认值。
type MeditationCompleted struct {
	Duration int `json:"duration,omitempty"`
}

// MoodLogged 对应 mood_logged，Mood 取值 1-10。
type MoodLogged struct {
	Mood int    `json:"mood"`
	Note string `json:"note,omitempty"`
}

// StreakMilestone 对应 streak_milestone。
type StreakMilestone struct {
	Streak int `json:"streak"`
}

// AchievementUnlocked 对应 achievement_unlocked。
type AchievementUnlocked struct {
	Achievement string `json:"achievement"`
}

func (GamePlayed) Type() ActivityType          { return ActivityGamePlayed }
func (MeditationCompleted) Type() ActivityType { return ActivityMeditationCompleted }
func (MoodLogged) Type() ActivityType          { return ActivityMoodLogged }
func (StreakMilestone) Type() ActivityType     { return ActivityStreakMilestone }
func (AchievementUnlocked) Type() ActivityType { return ActivityAchievementUnlocked }

func (p GamePlayed) validate() error {
	if p.Score < 0 {
		return validationError(CodeInvalidScore, "score must not be negative")
	}
	return nil
}

func (p MeditationCompleted) validate() error {
	if p.Duration < 0 {
		return validationError(CodeInvalidActivityData, "duration must not be negative")
	}
	return nil
}

// Minutes 返回计入日报的冥想时长。
func (p MeditationCompleted) Minutes() int {
	if p.Duration <= 0 {
		return defaultMeditationMinutes
	}
	return p.Duration
}

func (p MoodLogged) validate() error {
	if p.Mood < 1 || p.Mood > 10 {
		return validationError(CodeInvalidActivityData, "mood must be between 1 and 10")
	}
	return nil
}

func (p StreakMilestone) validate() error {
	if p.Streak < 0 {
		return validationError(CodeInvalidActivityData, "streak must not be negative")
	}
	return nil
}

func (p AchievementUnlocked) validate() error {
	if strings.TrimSpace(p.Achievement) == "" {
		return validationError(CodeMissingField, "achievement is required")
	}
	return nil
}

var payloadDecoders = map[ActivityType]func([]byte) (ActivityPayload, error){
	ActivityGamePlayed:          decodeInto[GamePlayed],
	ActivityMeditationCompleted: decodeInto[MeditationCompleted],
	ActivityMoodLogged:          decodeInto[MoodLogged],
	ActivityStreakMilestone:     decodeInto[StreakMilestone],
	ActivityAchievementUnlocked: decodeInto[AchievementUnlocked],
}

// ParseActivityType 校验活动类型字符串。
func ParseActivityType(raw string) (ActivityType, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", validationError(CodeMissingField, "activity type is required")
	}
	activityType := ActivityType(trimmed)
	if _, ok := payloadDecoders[activityType]; !ok {
		return "", validationError(CodeInvalidActivityType, "unsupported activity type %q", trimmed)
	}
	return activityType, nil
}

// DecodeActivityPayload 按活动类型解析 JSON，空值视为 {}。
func DecodeActivityPayload(activityType ActivityType, raw []byte) (ActivityPayload, error) {
	decode, ok := payloadDecoders[activityType]
	if !ok {
		return nil, validationError(CodeInvalidActivityType, "unsupported activity type %q", activityType)
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}

	payload, err := decode(trimmed)
	if err != nil {
		return nil, err
	}
	if err := payload.validate(); err != nil {
		return nil, err
	}
	return payload, nil
}

func decodeInto[T ActivityPayload](raw []byte) (ActivityPayload, error) {
	var payload T
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, validationError(CodeInvalidActivityData, "invalid activity data: %v", err)
	}
	return payload, nil
}

func encodePayload(payload ActivityPayload) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode activity payload: %w", err)
	}
	return data, nil
}
