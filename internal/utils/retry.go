package utils

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Backoff 指数退避参数
type Backoff struct {
	Initial time.Duration // 第一次重试前的等待
	Max     time.Duration // 等待上限
	Factor  float64       // 每次重试后的放大倍数
	Retries int           // 首次尝试之后的最大重试次数
}

// DefaultBackoff 总线连接使用的默认退避参数
func DefaultBackoff() Backoff {
	return Backoff{
		Initial: 200 * time.Millisecond,
		Max:     5 * time.Second,
		Factor:  1.5,
		Retries: 5,
	}
}

func (b Backoff) next(d time.Duration) time.Duration {
	f := b.Factor
	if f < 1 {
		f = 1.5
	}
	d = time.Duration(float64(d) * f)
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

// Retry 执行operation，失败后按退避参数重试；返回的错误包装最后一次失败的原因
func Retry(ctx context.Context, operationName string, b Backoff, operation func(ctx context.Context) error) error {
	err := operation(ctx)
	if err == nil {
		return nil
	}
	if b.Retries <= 0 {
		return fmt.Errorf("%s failed (no retries): %w", operationName, err)
	}

	wait := b.Initial
	for attempt := 1; attempt <= b.Retries; attempt++ {
		slog.Debug("operation failed, retrying", "operation", operationName, "attempt", attempt, "backoff_ms", wait.Milliseconds(), "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if err = operation(ctx); err == nil {
			slog.Debug("operation successful after retry", "operation", operationName, "attempt", attempt)
			return nil
		}
		wait = b.next(wait)
	}

	slog.Error("operation failed after all retries", "operation", operationName, "retries", b.Retries, "error", err)
	return fmt.Errorf("%s failed after %d retries: %w", operationName, b.Retries, err)
}

// RetryWithBackoff 以1.5倍指数退避重试operation最多maxRetries次
func RetryWithBackoff(ctx context.Context, operationName string, maxRetries int, initialBackoff, maxBackoff time.Duration, operation func() error) error {
	return Retry(ctx, operationName, Backoff{
		Initial: initialBackoff,
		Max:     maxBackoff,
		Factor:  1.5,
		Retries: maxRetries,
	}, func(context.Context) error { return operation() })
}
