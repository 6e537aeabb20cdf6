package service

import (
	"context"
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mindcompanion/internal/db"
	"github.com/mindcompanion/internal/locale"
	"github.com/mindcompanion/internal/logging"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultContextTurns = 5
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	maxMessageRunes     = 4000
)

// FallbackReply 在模型不可用时返回给用户。
const FallbackReply = "I understand you're reaching out, and I want to help. Sometimes technical issues can interrupt our conversation, but please know that your feelings and thoughts are important. Would you like to try again, or is there something specific you'd like to talk about?"

// ConversationTurn 为一轮对话，用作模型上下文。
type ConversationTurn struct {
	Message    string
	AIResponse string
	RiskTier   RiskTier
	CreatedAt  time.Time
}

// Responder 根据消息与最近上下文生成回复。
type Responder interface {
	Respond(ctx context.Context, message string, history []ConversationTurn) (string, error)
}

// ChatReply 为一次对话的结果。
type ChatReply struct {
	Entry          db.ConversationEntry
	AIResponse     string
	AIResponseHTML string
	RiskTier       RiskTier
	Fallback       bool
}

// ConversationService 记录对话并拼装模型上下文。
type ConversationService struct {
	db           *gorm.DB
	responder    Responder
	renderer     *ReplyRenderer
	contextTurns int
	now          func() time.Time
	logger       *zap.Logger
}

// NewConversationService 构造对话服务，responder 为空时始终使用兜底回复。
func NewConversationService(gdb *gorm.DB, responder Responder, contextTurns int, logger *zap.Logger) *ConversationService {
	if contextTurns <= 0 {
		contextTurns = defaultContextTurns
	}
	return &ConversationService{
		db:           gdb,
		responder:    responder,
		renderer:     NewReplyRenderer(),
		contextTurns: contextTurns,
		now:          time.Now,
		logger:       logging.OrNop(logger),
	}
}

// WithClock 替换时间来源。
func (s *ConversationService) WithClock(now func() time.Time) *ConversationService {
	if now != nil {
		s.now = now
	}
	return s
}

// SendMessage 分级风险、请求模型回复并记录本轮对话。
// 模型失败时使用兜底回复且风险等级为 low，本轮对话仍会写入。
func (s *ConversationService) SendMessage(ctx context.Context, userID, message string) (*ChatReply, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, validationError(CodeMissingField, "user id is required")
	}
	cleaned := s.renderer.CleanInput(message)
	if cleaned == "" {
		return nil, validationError(CodeMissingField, "message is required")
	}
	if utf8.RuneCountInString(cleaned) > maxMessageRunes {
		return nil, validationError(CodeMessageTooLong, "message must be at most %d characters", maxMessageRunes)
	}

	tier := ClassifyRisk(message)
	history, err := s.RecentContext(ctx, userID, s.contextTurns)
	if err != nil {
		return nil, err
	}

	reply, fallback := s.respond(ctx, userID, cleaned, history)
	if fallback {
		tier = RiskLow
	}

	entry, err := s.LogTurn(ctx, userID, cleaned, reply, tier, fallback)
	if err != nil {
		return nil, err
	}
	return &ChatReply{
		Entry:          *entry,
		AIResponse:     reply,
		AIResponseHTML: s.renderer.RenderReply(reply),
		RiskTier:       tier,
		Fallback:       fallback,
	}, nil
}

func (s *ConversationService) respond(ctx context.Context, userID, message string, history []ConversationTurn) (string, bool) {
	if s.responder == nil {
		return FallbackReply, true
	}
	reply, err := s.responder.Respond(ctx, message, history)
	if err != nil {
		s.logger.Warn("responder failed, using fallback reply", zap.String("user_id", userID), zap.Error(err))
		return FallbackReply, true
	}
	if strings.TrimSpace(reply) == "" {
		return FallbackReply, true
	}
	return reply, false
}

// LogTurn 追加一轮对话。
func (s *ConversationService) LogTurn(ctx context.Context, userID, message, aiResponse string, tier RiskTier, fallback bool) (*db.ConversationEntry, error) {
	entry := db.ConversationEntry{
		UserID:     userID,
		Message:    message,
		AIResponse: aiResponse,
		RiskTier:   string(tier),
		Fallback:   fallback,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("log conversation turn: %w", err)
	}
	return &entry, nil
}

// RecentContext 返回最近 limit 轮对话，按时间从早到晚排列。
func (s *ConversationService) RecentContext(ctx context.Context, userID string, limit int) ([]ConversationTurn, error) {
	if limit <= 0 {
		return nil, nil
	}

	var entries []db.ConversationEntry
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("load recent conversation: %w", err)
	}
	slices.Reverse(entries)

	turns := make([]ConversationTurn, 0, len(entries))
	for _, entry := range entries {
		turns = append(turns, ConversationTurn{
			Message:    entry.Message,
			AIResponse: entry.AIResponse,
			RiskTier:   RiskTier(entry.RiskTier),
			CreatedAt:  entry.CreatedAt,
		})
	}
	return turns, nil
}

// History 分页返回对话记录，最新的在前。
func (s *ConversationService) History(ctx context.Context, userID string, limit, offset int) ([]db.ConversationEntry, error) {
	if limit == 0 {
		limit = defaultHistoryLimit
	}
	if limit < 0 || limit > maxHistoryLimit {
		return nil, validationError(CodeInvalidLimit, "limit must be between 1 and %d", maxHistoryLimit)
	}
	if offset < 0 {
		return nil, validationError(CodeInvalidLimit, "offset must not be negative")
	}

	var entries []db.ConversationEntry
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("load conversation history: %w", err)
	}
	return entries, nil
}

var conversationStarters = map[string][]string{
	locale.LanguageEnglish: {
		"Hey! What's up? How's your day going?",
		"Hi there! What's on your mind today?",
		"Hey buddy! How are you feeling?",
		"What's going on? Tell me what's up.",
		"Hey! How's everything? What's happening?",
		"Hi! What's on your mind? I'm here to chat.",
		"Hey there! How's your day treating you?",
		"Hi! How are you doing? What's new?",
	},
	locale.LanguageHindi: {
		"अरे! क्या चल रहा है? कैसे हो?",
		"हैलो! आज कैसा दिन रहा?",
		"क्या हो रहा है? बताओ क्या चल रहा है।",
		"हैलो! सब कुछ कैसा चल रहा है?",
		"नमस्ते! कैसे हैं आप? क्या बात करना चाहते हैं?",
		"हैलो दोस्त! आज कैसा मूड है?",
	},
	locale.LanguageHinglish: {
		"Hey! क्या चल रहा है? How's your day?",
		"Hi! कैसे हो? What's on your mind?",
		"What's up? बताओ क्या हो रहा है।",
		"Hey there! कैसा day रहा?",
		"Hi! कैसे हो? What's new?",
	},
}

// Starter 随机返回一句开场白，language 需已由 locale.Resolve 归一。
func (s *ConversationService) Starter(language string) string {
	starters, ok := conversationStarters[language]
	if !ok {
		starters = conversationStarters[locale.LanguageEnglish]
	}
	return starters[rand.Intn(len(starters))]
}

// StarterLanguages 返回支持的开场白语言。
func StarterLanguages() []string {
	languages := make([]string, 0, len(conversationStarters))
	for language := range conversationStarters {
		languages = append(languages, language)
	}
	slices.Sort(languages)
	return languages
}
