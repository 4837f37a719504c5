package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/balatro-agent/api/schemas"
	"github.com/xkilldash9x/balatro-agent/internal/config"
)

// stage runs one state of a machine against the session and returns the route
// chosen by that state's routing function.
type stage func(ctx context.Context, s *Session) Route

// Engine runs orchestration sessions. It holds only stateless collaborators,
// so one Engine can serve many concurrent sessions.
type Engine struct {
	llm      schemas.LLMClient
	exec     Executor
	tools    *Toolset
	cfg      config.SessionConfig
	logger   *zap.Logger
	recorder Recorder
	sink     TranscriptSink
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures optional Engine collaborators.
type Option func(*Engine)

// WithRecorder attaches a telemetry recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithTranscriptSink persists every finished session.
func WithTranscriptSink(sink TranscriptSink) Option {
	return func(e *Engine) { e.sink = sink }
}

// NewEngine creates an engine from the session and executor settings of cfg.
func NewEngine(llm schemas.LLMClient, exec Executor, cfg config.Interface, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if llm == nil {
		return nil, fmt.Errorf("an LLM client is required")
	}
	if exec == nil {
		return nil, fmt.Errorf("an executor is required")
	}
	sessionCfg := cfg.Session()
	if err := sessionCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session configuration: %w", err)
	}

	logger = logger.Named("agent")
	tools, err := NewToolset(cfg.Executor().ControlMode, exec, cfg.Executor().PressDuration, logger)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		llm:      llm,
		exec:     exec,
		tools:    tools,
		cfg:      sessionCfg,
		logger:   logger,
		recorder: nopRecorder{},
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run executes task with the configured variant and blocks until the session
// is done. The returned session always carries a Result.
func (e *Engine) Run(ctx context.Context, task string) *Session {
	return e.RunVariant(ctx, task, e.cfg.Variant)
}

// RunVariant executes task with an explicit variant.
func (e *Engine) RunVariant(ctx context.Context, task string, variant config.Variant) *Session {
	s := NewSession(task, variant)
	logger := e.logger.With(zap.String("session_id", s.ID), zap.String("variant", string(variant)))
	logger.Info("Session started.", zap.String("task", task))
	e.recorder.SessionStarted(string(variant))

	machine, stages := e.machineFor(variant)
	e.execute(ctx, s, machine, stages, logger)

	if !s.Done {
		s.finish(Result{Reason: ReasonError, Iterations: s.Step, Description: s.summarize(ReasonError)})
	}
	e.recorder.SessionFinished(string(variant), string(s.Result.Reason), s.Step)
	logger.Info("Session finished.",
		zap.Bool("success", s.Result.Success),
		zap.String("reason", string(s.Result.Reason)),
		zap.Int("iterations", s.Result.Iterations),
		zap.Int("tool_calls", s.ToolCalls))

	if e.sink != nil {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		if err := e.sink.SaveSession(saveCtx, s); err != nil {
			logger.Warn("Failed to persist session transcript.", zap.Error(err))
		}
		cancel()
	}
	return s
}

func (e *Engine) machineFor(variant config.Variant) (*Machine, map[StateID]stage) {
	if variant == config.VariantHierarchical {
		return HierarchicalMachine, map[StateID]stage{
			StatePlannerCapture: e.visualizeStage,
			StatePlanner:        e.plannerStage,
			StateWorkerCapture:  e.visualizeStage,
			StateWorker:         e.subtaskWorkerStage,
			StateTool:           e.toolStage,
			StateOutput:         e.outputStage,
		}
	}
	return FlatMachine, map[StateID]stage{
		StateCapture:  e.captureStage,
		StateAnalyze:  e.analyzeStage,
		StateWorker:   e.workerStage,
		StateTool:     e.toolStage,
		StateFinalize: e.finalizeStage,
	}
}

// execute walks the machine until its terminal stage has run. Panics and
// cancellation are converted into an error result; the terminal stage still
// runs after cancellation so the session is always closed.
func (e *Engine) execute(ctx context.Context, s *Session, m *Machine, stages map[StateID]stage, logger *zap.Logger) {
	state := m.Initial
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Session stage panicked.", zap.Stringer("state", state), zap.Any("panic", r), zap.Stack("stack"))
			s.finish(Result{
				Reason:      ReasonError,
				Iterations:  s.Step,
				Description: fmt.Sprintf("Task '%s': internal error in %s after %d iterations: %v", s.Task, state, s.Step, r),
			})
		}
	}()

	for {
		if err := ctx.Err(); err != nil && state != m.Terminal {
			s.finish(Result{
				Reason:      ReasonError,
				Iterations:  s.Step,
				Description: fmt.Sprintf("Task '%s': cancelled after %d iterations: %v", s.Task, s.Step, err),
			})
			state = m.Terminal
		}

		run, ok := stages[state]
		if !ok {
			panic(fmt.Sprintf("%s machine has no stage for %s", m.Name, state))
		}
		route := run(ctx, s)
		if state == m.Terminal {
			return
		}

		next, err := m.Next(state, route)
		if err != nil {
			panic(err.Error())
		}
		logger.Debug("Transition.",
			zap.Stringer("from", state),
			zap.Stringer("to", next),
			zap.String("route", string(route)),
			zap.Int("step", s.Step))
		state = next
	}
}

// generate performs one bounded model call.
func (e *Engine) generate(ctx context.Context, s *Session, stageName string, req schemas.GenerationRequest) (*schemas.GenerationResponse, error) {
	callCtx := ctx
	if e.cfg.ModelTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.cfg.ModelTimeout)
		defer cancel()
	}

	resp, err := e.llm.Generate(callCtx, req)
	if err == nil && resp == nil {
		err = fmt.Errorf("model returned an empty response")
	}
	e.recorder.ModelCalled(stageName, err)
	if err != nil {
		e.logger.Warn("Model call failed.",
			zap.String("session_id", s.ID),
			zap.String("stage", stageName),
			zap.Int("step", s.Step),
			zap.Error(err))
		return nil, err
	}
	return resp, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
