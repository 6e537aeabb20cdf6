package service

import (
	"errors"
	"fmt"
)

// ErrorKind 将错误归类，HTTP 层据此选择状态码。
type ErrorKind string

const (
	// KindValidation 表示请求参数不合法，不会产生任何写入。
	KindValidation ErrorKind = "validation"
	// KindNotFound 表示目标记录不存在或不属于当前用户。
	KindNotFound ErrorKind = "not_found"
	// KindConflict 表示并发冲突在有限次重试后仍未解决，调用方可稍后重试。
	KindConflict ErrorKind = "conflict"
)

// 稳定的机器可读错误码。
const (
	CodeMissingField        = "missing_field"
	CodeInvalidPoints       = "invalid_points"
	CodeInvalidScore        = "invalid_score"
	CodeInvalidDate         = "invalid_date"
	CodeInvalidActivityType = "invalid_activity_type"
	CodeInvalidActivityData = "invalid_activity_data"
	CodeInvalidLimit        = "invalid_limit"
	CodeMessageTooLong      = "message_too_long"
	CodeNotFound            = "not_found"
	CodeRetryLater          = "retry_later"
)

var (
	// ErrInvalidPoints 在积分为负数时返回。
	ErrInvalidPoints = errors.New("points must not be negative")
	// ErrInsightNotFound 在提示不存在或不属于当前用户时返回。
	ErrInsightNotFound = errors.New("insight not found")
	// ErrGameStatNotFound 在用户从未玩过该游戏时返回。
	ErrGameStatNotFound = errors.New("game stat not found")
	// ErrRetryLater 表示并发写冲突重试耗尽。
	ErrRetryLater = errors.New("concurrent update conflict, try again")
)

// Error 携带错误分类与错误码。
type Error struct {
	Kind ErrorKind
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// InvalidPointsError 构造负积分校验错误。
func InvalidPointsError(points int) *Error {
	return &Error{Kind: KindValidation, Code: CodeInvalidPoints, Err: fmt.Errorf("%w: got %d", ErrInvalidPoints, points)}
}

func validationError(code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Err: fmt.Errorf(format, args...)}
}

func notFoundError(err error) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Err: err}
}

func conflictError(err error) *Error {
	return &Error{Kind: KindConflict, Code: CodeRetryLater, Err: fmt.Errorf("%w: %v", ErrRetryLater, err)}
}

// KindOf 返回错误分类，非 *Error 时返回空字符串。
func KindOf(err error) ErrorKind {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return ""
}

// IsRetryable 判断调用方是否可以原样重试请求。
func IsRetryable(err error) bool {
	return KindOf(err) == KindConflict
}
