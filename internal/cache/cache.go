// Package cache 提供读多写少结果的缓存，后端不可用时退化为未命中。
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL 为未显式指定过期时间时使用的缓存时长。
const DefaultTTL = time.Minute

// GenerationTTL 为版本号的存活时间，数据缓存的 TTL 不得超过它。
const GenerationTTL = 24 * time.Hour

// sweepEvery 为 Memory 每写入多少次清理一次过期条目。
const sweepEvery = 256

// Store 是缓存后端的最小接口。
// 所有方法均为尽力而为：出错时 GetJSON 返回 false，写入和失效静默失败并由实现自行记录日志。
type Store interface {
	GetJSON(ctx context.Context, key string, dest any) bool
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration)
	DeletePrefix(ctx context.Context, prefix string)
}

// Key 以冒号拼接缓存键。
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// Generation 返回命名空间当前的版本号，从未失效过时为 "0"。
// 读取方应在查库之前取版本并把它放进数据键，失效后旧版本键下的写入不会再被读到。
func Generation(ctx context.Context, store Store, space string) string {
	var gen string
	if store.GetJSON(ctx, Key(space, "gen"), &gen) && gen != "" {
		return gen
	}
	return "0"
}

// Bump 为命名空间换一个新版本号并返回它。
func Bump(ctx context.Context, store Store, space string) string {
	gen := uuid.NewString()
	store.SetJSON(ctx, Key(space, "gen"), gen, GenerationTTL)
	return gen
}

// ClampTTL 将数据缓存时长限制在 (0, GenerationTTL] 内。
func ClampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	if ttl > GenerationTTL {
		return GenerationTTL
	}
	return ttl
}

// Noop 不缓存任何内容。
type Noop struct{}

func (Noop) GetJSON(context.Context, string, any) bool { return false }
func (Noop) SetJSON(context.Context, string, any, time.Duration) {}
func (Noop) DeletePrefix(context.Context, string) {}

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

// Memory 是进程内缓存，仅适用于单实例部署与测试。
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
	writes  int
}

// NewMemory 创建空的进程内缓存。
func NewMemory() *Memory {
	return &Memory{entries: map[string]memoryEntry{}, now: time.Now}
}

func (m *Memory) GetJSON(_ context.Context, key string, dest any) bool {
	m.mu.Lock()
	entry, ok := m.entries[key]
	if ok && !m.now().Before(entry.expiresAt) {
		delete(m.entries, key)
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	return json.Unmarshal(entry.payload, dest) == nil
}

func (m *Memory) SetJSON(_ context.Context, key string, value any, ttl time.Duration) {
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m.mu.Lock()
	now := m.now()
	m.entries[key] = memoryEntry{payload: payload, expiresAt: now.Add(ttl)}
	m.writes++
	if m.writes%sweepEvery == 0 {
		for k, entry := range m.entries {
			if !now.Before(entry.expiresAt) {
				delete(m.entries, k)
			}
		}
	}
	m.mu.Unlock()
}

func (m *Memory) DeletePrefix(_ context.Context, prefix string) {
	m.mu.Lock()
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
		}
	}
	m.mu.Unlock()
}

// Len 返回当前条目数（含已过期但未清理的条目）。
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
