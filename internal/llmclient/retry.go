package llmclient

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/balatro-agent/api/schemas"
)

// retry runs op with exponential backoff. Errors wrapped in backoff.Permanent
// stop immediately; everything else is retried up to maxRetries times.
func retry(ctx context.Context, maxRetries int, logger *zap.Logger, op func() error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = time.Minute

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxRetries)), ctx)
	return backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		logger.Warn("LLM request failed, retrying", zap.Error(err), zap.Duration("backoff", wait))
	})
}

func describeToolCall(tc schemas.ToolCall) string {
	args, err := json.Marshal(tc.Arguments)
	if err != nil || len(tc.Arguments) == 0 {
		return fmt.Sprintf("[called tool %s]", tc.Name)
	}
	return fmt.Sprintf("[called tool %s with %s]", tc.Name, args)
}

func describeToolResult(tr schemas.ToolResult) string {
	if tr.Error != "" {
		return fmt.Sprintf("[tool %s failed: %s]", tr.Name, tr.Error)
	}
	return fmt.Sprintf("[tool %s result: %s]", tr.Name, tr.Content)
}
