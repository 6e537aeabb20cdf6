package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mindcompanion/internal/service"
	"go.uber.org/zap"
)

const idempotencyHeader = "Idempotency-Key"

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": message, "code": code})
}

// respondServiceError 按错误分类选择状态码，未分类的错误只记录日志并返回通用提示。
func (a *API) respondServiceError(c *gin.Context, err error, fallback string) {
	var svcErr *service.Error
	if errors.As(err, &svcErr) {
		switch svcErr.Kind {
		case service.KindValidation:
			respondError(c, http.StatusBadRequest, svcErr.Code, svcErr.Error())
			return
		case service.KindNotFound:
			respondError(c, http.StatusNotFound, svcErr.Code, svcErr.Error())
			return
		}
	}
	if service.IsRetryable(err) {
		c.Header("Retry-After", "1")
		respondError(c, http.StatusServiceUnavailable, service.CodeRetryLater, "please retry the request")
		return
	}

	a.logger.Error(fallback, zap.String("path", c.FullPath()), zap.Error(err))
	respondError(c, http.StatusInternalServerError, "internal", fallback)
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", "invalid request body")
		return false
	}
	return true
}

func parseUintParam(c *gin.Context, key string) (uint, error) {
	raw := c.Param(key)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return uint(id), nil
}

func parseIntQuery(c *gin.Context, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return value, nil
}

// activityStatus 日志已持久化但日报尚未累加时返回 202，重试须沿用响应中的幂等键。
func activityStatus(result *service.ActivityResult) int {
	if result.FoldPending {
		return http.StatusAccepted
	}
	return http.StatusOK
}

// idempotencyKey 优先使用请求头，其次使用请求体字段。
func idempotencyKey(c *gin.Context, bodyKey string) string {
	if key := strings.TrimSpace(c.GetHeader(idempotencyHeader)); key != "" {
		return key
	}
	return strings.TrimSpace(bodyKey)
}
