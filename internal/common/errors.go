package common

import (
	"errors"
	"fmt"
	"time"
)

// AppError 应用级错误结构
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WrapError 包装错误
func WrapError(code, message string, err error) error {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewError 创建新错误
func NewError(code, message string) error {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// 错误码常量
const (
	ErrCodeConfig           = "CONFIG_ERROR"
	ErrCodeTransientNetwork = "TRANSIENT_NETWORK"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeDiscoveryFailed  = "DISCOVERY_FAILED"
	ErrCodeBatchTimeout     = "BATCH_TIMEOUT"
	ErrCodeRunRejected      = "RUN_REJECTED"
	ErrCodeInvalidInput     = "INVALID_INPUT"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeDatabase         = "DATABASE_ERROR"
	ErrCodeAIProcessing     = "AI_PROCESSING_ERROR"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// HasCode 判断错误链上是否存在指定错误码的 AppError
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsTransient 判断错误是否可重试 (502/503/网络层失败)
func IsTransient(err error) bool {
	return HasCode(err, ErrCodeTransientNetwork)
}

// RateLimitedError API 限额不足时的暂停信号：携带重置时间，不是失败
type RateLimitedError struct {
	Remaining int
	ResetAt   time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("[%s] GitHub API 限额不足 (剩余 %d 点)，%s 重置",
		ErrCodeRateLimited, e.Remaining, e.ResetAt.Format(time.RFC3339))
}

// RunRejectedError RunGuard 拒绝启动运行 (并发限制或频率限制)，对外表现为 429
type RunRejectedError struct {
	Reason     string
	RetryAfter time.Duration
}

func (e *RunRejectedError) Error() string {
	return fmt.Sprintf("[%s] %s", ErrCodeRunRejected, e.Reason)
}
