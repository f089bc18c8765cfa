package engine

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig 统一的退避重试参数，生成/评审/渲染调用共用一份语义
type RetryConfig struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetry 小而固定的重试预算
func DefaultRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

func (c RetryConfig) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if c.InitialInterval > 0 {
		b.InitialInterval = c.InitialInterval
	}
	if c.MaxInterval > 0 {
		b.MaxInterval = c.MaxInterval
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, c.MaxRetries), ctx)
}

// Retry 带退避地执行op，Transient（含限流、超时）重试，Fatal立即放弃。
// 这是整个流水线唯一的重试入口，替代散落在各调用点的ad-hoc循环
func Retry[T any](ctx context.Context, cfg RetryConfig, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := backoff.Retry(func() error {
		v, err := op(ctx)
		if err != nil {
			if IsFatal(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = v
		return nil
	}, cfg.newBackOff(ctx))
	return out, err
}

// Poll 轮询外部任务直到done返回true或超时。超时按Transient处理，
// 由外层Retry决定是否再给一次预算
func Poll[T any](ctx context.Context, interval, timeout time.Duration, check func(ctx context.Context) (T, bool, error)) (T, error) {
	var zero T
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			return zero, &TransientError{Reason: "poll timeout", Err: pollCtx.Err()}
		case <-ticker.C:
			v, done, err := check(pollCtx)
			if err != nil {
				return zero, err
			}
			if done {
				return v, nil
			}
		}
	}
}
