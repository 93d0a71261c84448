package knowledge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/aihub/docqa/internal/errors"
	"github.com/aihub/docqa/internal/logger"
)

var errEmptyCompletion = errors.New("completion returned no choices")

// linearRetry 第n次失败后等待 backoff*n
type linearRetry struct {
	attempts int
	backoff  time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

func newLinearRetry(attempts int, backoff time.Duration) linearRetry {
	if attempts < 1 {
		attempts = 1
	}
	return linearRetry{attempts: attempts, backoff: backoff, sleep: sleepContext}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do 执行fn直到成功或次数耗尽，耗尽后返回包装了最后一次错误的LLMError
func (r linearRetry) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}

		logger.Warn("LLM request failed",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.attempts),
			zap.Error(lastErr))

		if attempt == r.attempts {
			break
		}
		if err := r.sleep(ctx, r.backoff*time.Duration(attempt)); err != nil {
			lastErr = err
			break
		}
	}
	return apperrors.NewLLMError(fmt.Sprintf("%s failed after %d attempt(s)", op, r.attempts), lastErr)
}
