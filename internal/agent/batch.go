// File: internal/agent/batch.go
package agent

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RunBatch executes independent sessions concurrently, at most concurrency at
// a time, and returns them in the order of tasks. Every session owns its own
// state; only the engine's stateless clients are shared.
func (e *Engine) RunBatch(ctx context.Context, tasks []string, concurrency int) []*Session {
	if concurrency <= 0 {
		concurrency = e.cfg.BatchConcurrency
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	sessions := make([]*Session, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	e.logger.Info("Starting batch.", zap.Int("tasks", len(tasks)), zap.Int("concurrency", concurrency))
	for i, task := range tasks {
		g.Go(func() error {
			sessions[i] = e.Run(gctx, task)
			return nil
		})
	}
	// Sessions report failures through their results, never through the group.
	_ = g.Wait()
	return sessions
}
