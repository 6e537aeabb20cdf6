package service

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultTxAttempts = 4
	retryBaseDelay    = 15 * time.Millisecond
	userLockStripes   = 64
)

// 数据库返回的可重试错误特征：sqlite 忙、死锁、序列化失败、锁等待超时。
var transientErrorMarkers = []string{
	"database is locked",
	"database table is locked",
	"sqlite_busy",
	"deadlock",
	"could not serialize",
	"sqlstate 40001",
	"sqlstate 40p01",
	"error 1213",
	"error 1205",
	"lock wait timeout",
}

// 唯一索引冲突的错误特征，驱动未开启 TranslateError 时按文本识别。
var duplicateKeyMarkers = []string{
	"unique constraint failed",
	"duplicate key value",
	"sqlstate 23505",
	"error 1062",
}

// errConcurrentInsert 表示插入与另一写入者撞上唯一索引，重跑事务即可读到对方的行。
var errConcurrentInsert = errors.New("concurrent insert")

func isTransientDBError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errConcurrentInsert) {
		return true
	}
	return containsAny(strings.ToLower(err.Error()), transientErrorMarkers)
}

func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return containsAny(strings.ToLower(err.Error()), duplicateKeyMarkers)
}

func containsAny(msg string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// runWithRetry 执行 fn，遇到并发冲突类错误时退避重试，耗尽后返回可重试错误。
func runWithRetry(ctx context.Context, attempts int, fn func() error) error {
	if attempts <= 0 {
		attempts = defaultTxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isTransientDBError(err) {
			return err
		}
		lastErr = err
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(time.Duration(attempt) * retryBaseDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return conflictError(lastErr)
}

// userLocks 按用户串行化同一进程内的写入，不同用户落在不同分片上互不影响。
type userLocks struct {
	stripes [userLockStripes]sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{}
}

func (l *userLocks) lock(userID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	mu := &l.stripes[h.Sum32()%userLockStripes]
	mu.Lock()
	return mu.Unlock
}

// lockOrCreate 先以 ON CONFLICT DO NOTHING 确保行存在，再加行锁读取最新值。
// sqlite 不支持 FOR UPDATE，由 IMMEDIATE 事务保证写串行。
func lockOrCreate[T any](tx *gorm.DB, seed *T, conflictColumns []string, query string, args ...any) (T, error) {
	columns := make([]clause.Column, 0, len(conflictColumns))
	for _, name := range conflictColumns {
		columns = append(columns, clause.Column{Name: name})
	}

	var row T
	if err := tx.Clauses(clause.OnConflict{Columns: columns, DoNothing: true}).Create(seed).Error; err != nil {
		return row, err
	}
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where(query, args...).First(&row).Error; err != nil {
		return row, err
	}
	return row, nil
}
