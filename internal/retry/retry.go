// 包 retry 提供统一的有界重试执行器：
// - 固定次数上限，线性退避（Delay × 第几次）
// - 等待期间响应 ctx 取消
// - Permanent 标记的错误立即返回，不消耗重试预算
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy 为重试策略。Attempts 为总尝试次数（含首次）。
type Policy struct {
	Attempts int
	Delay    time.Duration
	// OnRetry 在每次失败且仍将重试时回调（用于日志，attempt 从 1 开始）。
	OnRetry func(attempt int, err error)
}

// Default 与下载路径一致：5 次，间隔 3s 起线性增长。
func Default() Policy {
	return Policy{Attempts: 5, Delay: 3 * time.Second}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent 包装一个不应重试的错误；Do 会剥去包装后返回原错误。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent 判断错误是否被标记为不可重试。
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do 执行 fn，失败时按策略等待后重试；返回最后一次错误。
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(i)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err
		if i == attempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(i, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i) * p.Delay):
		}
	}
	return lastErr
}
