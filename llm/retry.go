package llm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// Result 是一次带重试调用的结果；Retries 记录实际发生的重试次数。
type Result struct {
	Text    string
	Retries int
}

// Retrier 给底层客户端加上超时与指数退避重试。
// 生成调用重试耗尽对整轮生成是致命的；摘要/抽取/检查类调用
// 由调用方在收到 TransportError 后降级处理（见 §5）。
type Retrier struct {
	client   Client
	maxTries uint
	timeout  time.Duration
	logger   *zap.SugaredLogger
}

// NewRetrier 构造重试包装；maxRetries 为首次之外允许的重试次数。
func NewRetrier(client Client, maxRetries int, timeout time.Duration, logger *zap.SugaredLogger) *Retrier {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Retrier{
		client:   client,
		maxTries: uint(maxRetries) + 1,
		timeout:  timeout,
		logger:   logger,
	}
}

// Do 执行一次调用，失败时退避重试；耗尽后返回 *TransportError。
func (r *Retrier) Do(ctx context.Context, req Request) (Result, error) {
	attempts := 0
	op := func() (string, error) {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		return r.client.Complete(callCtx, req)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond

	text, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(r.maxTries),
		backoff.WithNotify(func(err error, d time.Duration) {
			r.logger.Warnw("llm call failed, retrying", "error", err, "backoff", d)
		}),
	)
	if err != nil {
		return Result{}, &TransportError{Attempts: attempts, Err: err}
	}
	return Result{Text: text, Retries: attempts - 1}, nil
}
