package handler

import (
	"time"

	"github.com/mindcompanion/internal/cache"
	"github.com/mindcompanion/internal/logging"
	"github.com/mindcompanion/internal/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Options 为处理器依赖的可选组件。
type Options struct {
	Cache       cache.Store
	CacheTTL    time.Duration
	Responder   service.Responder
	ChatHistory int
	Logger      *zap.Logger
	Now         func() time.Time
}

// API bundles shared dependencies for HTTP handlers.
type API struct {
	engagement    *service.EngagementService
	conversations *service.ConversationService
	logger        *zap.Logger
}

// NewAPI constructs a handler set with shared services.
func NewAPI(db *gorm.DB, opts Options) *API {
	logger := logging.OrNop(opts.Logger)

	engagement := service.NewEngagementService(db, service.EngagementOptions{
		Cache:    opts.Cache,
		CacheTTL: opts.CacheTTL,
		Logger:   logger.Named("engagement"),
		Now:      opts.Now,
	})
	conversations := service.NewConversationService(db, opts.Responder, opts.ChatHistory, logger.Named("conversation"))
	if opts.Now != nil {
		conversations.WithClock(opts.Now)
	}

	return &API{
		engagement:    engagement,
		conversations: conversations,
		logger:        logger,
	}
}
