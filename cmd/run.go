// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/balatro-agent/internal/agent"
	"github.com/xkilldash9x/balatro-agent/internal/config"
	"github.com/xkilldash9x/balatro-agent/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// sessionReport is the JSON document printed for a finished session.
type sessionReport struct {
	SessionID string         `json:"session_id"`
	Task      string         `json:"task"`
	Variant   config.Variant `json:"variant"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
	ToolCalls int            `json:"tool_calls"`
	Subtasks  []string       `json:"subtasks,omitempty"`
	Result    agent.Result   `json:"result"`
}

func newSessionReport(s *agent.Session) sessionReport {
	r := sessionReport{
		SessionID: s.ID,
		Task:      s.Task,
		Variant:   s.Variant,
		StartedAt: s.StartedAt,
		EndedAt:   s.EndedAt,
		ToolCalls: s.ToolCalls,
	}
	for _, d := range s.Subtasks {
		if d.Action == agent.ActionDelegate {
			r.Subtasks = append(r.Subtasks, d.Subtask)
		}
	}
	if s.Result != nil {
		r.Result = *s.Result
	}
	return r
}

// newRunCmd creates the `run` command: one flat session.
func newRunCmd(factory ComponentFactory) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [task]",
		Short: "Runs a single-agent session that captures, reasons and acts until the task is done",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionCommand(cmd, args, config.VariantFlat, factory)
		},
	}
	addSessionFlags(runCmd)
	runCmd.Flags().Int("max-recursions", 0, "Step ceiling of the session. (Overrides config/env)")
	return runCmd
}

// newPlanCmd creates the `plan` command: one hierarchical session.
func newPlanCmd(factory ComponentFactory) *cobra.Command {
	planCmd := &cobra.Command{
		Use:   "plan [task]",
		Short: "Runs a planner that delegates subtasks to a worker agent",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionCommand(cmd, args, config.VariantHierarchical, factory)
		},
	}
	addSessionFlags(planCmd)
	planCmd.Flags().Int("max-recursions", 0, "Step ceiling of the session. (Overrides config/env)")
	planCmd.Flags().Int("max-worker-steps", 0, "Worker cycles per delegated subtask. (Overrides config/env)")
	planCmd.Flags().Int("max-planner-steps", 0, "Planner decisions per session. (Overrides config/env)")
	return planCmd
}

// addSessionFlags registers the overrides shared by every agent command.
func addSessionFlags(cmd *cobra.Command) {
	cmd.Flags().String("executor-url", "", "Base URL of the Action Executor. (Overrides config/env)")
	cmd.Flags().String("control-mode", "", "Input vocabulary: 'gamepad' or 'mouse'. (Overrides config/env)")
	cmd.Flags().Int("history-window", 0, "Messages kept after history compaction. (Overrides config/env)")
	cmd.Flags().Float64("similarity-threshold", 0, "Word-overlap ratio that counts screens as duplicates. (Overrides config/env)")
	cmd.Flags().StringP("output", "o", "", "Write the JSON result to this file instead of stdout.")
}

// applySessionFlagOverrides copies explicitly set flags onto cfg.
func applySessionFlagOverrides(cmd *cobra.Command, cfg config.Interface) error {
	logger := observability.GetLogger()
	flags := cmd.Flags()

	if flags.Changed("executor-url") {
		u, _ := flags.GetString("executor-url")
		cfg.SetExecutorBaseURL(u)
	}
	if flags.Changed("control-mode") {
		m, _ := flags.GetString("control-mode")
		mode := config.ControlMode(strings.ToLower(strings.TrimSpace(m)))
		switch mode {
		case config.ControlGamepad, config.ControlMouse:
			cfg.SetExecutorControlMode(mode)
		default:
			logger.Warn("Invalid --control-mode value, keeping configured mode",
				zap.String("control_mode", m),
				zap.String("configured", string(cfg.Executor().ControlMode)))
		}
	}
	if flags.Changed("max-recursions") {
		n, _ := flags.GetInt("max-recursions")
		cfg.SetSessionMaxRecursions(n)
	}
	if flags.Changed("max-worker-steps") {
		n, _ := flags.GetInt("max-worker-steps")
		cfg.SetSessionMaxWorkerSteps(n)
	}
	if flags.Changed("max-planner-steps") {
		n, _ := flags.GetInt("max-planner-steps")
		cfg.SetSessionMaxPlannerSteps(n)
	}
	if flags.Changed("history-window") {
		n, _ := flags.GetInt("history-window")
		cfg.SetSessionHistoryWindow(n)
	}
	if flags.Changed("similarity-threshold") {
		f, _ := flags.GetFloat64("similarity-threshold")
		cfg.SetSessionSimilarityThreshold(f)
	}

	sessionCfg := cfg.Session()
	if err := sessionCfg.Validate(); err != nil {
		return fmt.Errorf("invalid session flags: %w", err)
	}
	executorCfg := cfg.Executor()
	if err := executorCfg.Validate(); err != nil {
		return fmt.Errorf("invalid executor flags: %w", err)
	}
	return nil
}

func runSessionCommand(cmd *cobra.Command, args []string, variant config.Variant, factory ComponentFactory) error {
	ctx := cmd.Context()
	cfg, err := getConfigFromContext(ctx)
	if err != nil {
		return err
	}
	if err := applySessionFlagOverrides(cmd, cfg); err != nil {
		return err
	}
	output, _ := cmd.Flags().GetString("output")
	task := strings.Join(args, " ")

	report, err := runSession(ctx, observability.GetLogger(), cfg, task, variant, factory)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return writeOutput(cmd, output, data)
}

// runSession builds the components, runs one session and tears everything
// down. A cancelled context still yields the session's terminal result.
func runSession(ctx context.Context, logger *zap.Logger, cfg config.Interface, task string, variant config.Variant, factory ComponentFactory) (*sessionReport, error) {
	if strings.TrimSpace(task) == "" {
		return nil, errors.New("task must not be empty")
	}

	comps, err := factory.Create(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session components: %w", err)
	}
	defer comps.Shutdown(logger)

	logger.Info("Starting session",
		zap.String("variant", string(variant)),
		zap.String("task", task),
		zap.String("control_mode", string(cfg.Executor().ControlMode)))

	s := comps.Engine.RunVariant(ctx, task, variant)
	report := newSessionReport(s)

	if ctx.Err() != nil {
		logger.Warn("Session interrupted", zap.String("session_id", s.ID), zap.Error(ctx.Err()))
	}
	logger.Info("Session finished",
		zap.String("session_id", s.ID),
		zap.Bool("success", report.Result.Success),
		zap.String("reason", string(report.Result.Reason)),
		zap.Int("iterations", report.Result.Iterations))
	return &report, nil
}
