// File: cmd/components.go
package cmd

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/balatro-agent/api/schemas"
	"github.com/xkilldash9x/balatro-agent/internal/agent"
	"github.com/xkilldash9x/balatro-agent/internal/config"
	"github.com/xkilldash9x/balatro-agent/internal/executor"
	"github.com/xkilldash9x/balatro-agent/internal/llmclient"
	"github.com/xkilldash9x/balatro-agent/internal/metrics"
	"github.com/xkilldash9x/balatro-agent/internal/store"
)

// SessionRunner is the part of the engine the commands depend on.
type SessionRunner interface {
	RunVariant(ctx context.Context, task string, variant config.Variant) *agent.Session
	RunBatch(ctx context.Context, tasks []string, concurrency int) []*agent.Session
}

// Components holds the initialized services of one agent command.
type Components struct {
	Engine   SessionRunner
	LLM      schemas.LLMClient
	Executor *executor.Client
	Metrics  *metrics.Collector
	Store    *store.Store
	DBPool   *pgxpool.Pool

	stopMetrics context.CancelFunc
	metricsWG   sync.WaitGroup
}

// Shutdown releases everything Create acquired. Safe on partially built
// components.
func (c *Components) Shutdown(logger *zap.Logger) {
	var result *multierror.Error
	if c.stopMetrics != nil {
		c.stopMetrics()
		c.metricsWG.Wait()
	}
	if c.LLM != nil {
		if err := c.LLM.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("llm client: %w", err))
		}
	}
	if c.DBPool != nil {
		c.DBPool.Close()
	}
	if err := result.ErrorOrNil(); err != nil {
		logger.Warn("Errors during component shutdown", zap.Error(err))
	}
}

// ComponentFactory builds the services an agent command needs.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

type defaultComponentFactory struct {
	newLLM func(ctx context.Context, cfg config.AgentConfig, logger *zap.Logger) (schemas.LLMClient, error)
}

// NewComponentFactory returns the production factory.
func NewComponentFactory() ComponentFactory {
	return &defaultComponentFactory{newLLM: llmclient.NewClient}
}

// Create wires the model router, the executor client, optional metrics and
// the optional transcript store into an engine. On error the partially built
// components are already shut down.
func (f *defaultComponentFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (comps *Components, err error) {
	comps = &Components{}
	defer func() {
		if err != nil {
			comps.Shutdown(logger)
			comps = nil
		}
	}()

	// 1. Model clients
	llm, err := f.newLLM(ctx, cfg.Agent(), logger)
	if err != nil {
		return comps, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	comps.LLM = llm

	// 2. Action Executor client
	execClient, err := executor.NewClient(cfg.Executor(), logger)
	if err != nil {
		return comps, fmt.Errorf("failed to initialize executor client: %w", err)
	}
	comps.Executor = execClient

	if cfg.Executor().AutoStart {
		req := executor.AutoStartRequest{Deck: cfg.Executor().Deck, Stake: cfg.Executor().Stake, Seed: cfg.Executor().Seed}
		if err := execClient.AutoStart(ctx, req); err != nil {
			return comps, fmt.Errorf("failed to configure auto start: %w", err)
		}
	}

	opts := []agent.Option{}

	// 3. Metrics
	if cfg.Metrics().Enabled {
		comps.Metrics = metrics.NewCollector()
		opts = append(opts, agent.WithRecorder(comps.Metrics))

		metricsCtx, cancel := context.WithCancel(context.Background())
		comps.stopMetrics = cancel
		comps.metricsWG.Add(1)
		go func() {
			defer comps.metricsWG.Done()
			if err := comps.Metrics.Serve(metricsCtx, cfg.Metrics().ListenAddr, logger); err != nil {
				logger.Error("Metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	// 4. Transcript store
	if url := cfg.Database().URL; url != "" {
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			return comps, fmt.Errorf("failed to connect to database: %w", err)
		}
		comps.DBPool = pool

		st, err := store.New(ctx, pool, logger)
		if err != nil {
			return comps, fmt.Errorf("failed to initialize transcript store: %w", err)
		}
		if err := st.EnsureSchema(ctx); err != nil {
			return comps, err
		}
		comps.Store = st
		opts = append(opts, agent.WithTranscriptSink(st))
	}

	// 5. Engine
	engine, err := agent.NewEngine(llm, execClient, cfg, logger, opts...)
	if err != nil {
		return comps, fmt.Errorf("failed to create engine: %w", err)
	}
	comps.Engine = engine
	return comps, nil
}
