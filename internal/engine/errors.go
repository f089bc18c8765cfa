package engine

import (
	"context"
	"errors"
	"fmt"
)

// 错误分级：Transient可重试，Fatal立即上抛；RateLimited是一种
// 需要单独识别的Transient（用于回调调整准入并发）。
// 质量不达标(QualityShortfall)不是错误，见refine.go的Accepted=false。

// TransientError 瞬时失败（超时、5xx等），在发起调用的循环内有限重试
type TransientError struct {
	Reason string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient: %s: %v", e.Reason, e.Err)
	}
	return "transient: " + e.Reason
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError 不可重试失败（非法输入、策略拒绝），直接使所属阶段失败
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fatal: %s: %v", e.Reason, e.Err)
	}
	return "fatal: " + e.Reason
}

func (e *FatalError) Unwrap() error { return e.Err }

// RateLimitedError 外部服务限流，按Transient重试但可被单独识别
type RateLimitedError struct {
	Err error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

func Transientf(format string, args ...interface{}) error {
	return &TransientError{Reason: fmt.Sprintf(format, args...)}
}

func Fatalf(format string, args ...interface{}) error {
	return &FatalError{Reason: fmt.Sprintf(format, args...)}
}

// IsFatal 判断是否应立即上抛。未分级的错误按Transient处理：
// 它们只会消耗有限的重试预算，不会无限重试
func IsFatal(err error) bool {
	var fe *FatalError
	if errors.As(err, &fe) {
		return true
	}
	// 调用方主动取消不属于可重试范畴
	return errors.Is(err, context.Canceled)
}

func IsRateLimited(err error) bool {
	var re *RateLimitedError
	return errors.As(err, &re)
}
