// File: cmd/batch.go
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/balatro-agent/internal/config"
	"github.com/xkilldash9x/balatro-agent/internal/observability"
)

// batchReport summarizes a batch run.
type batchReport struct {
	Total     int             `json:"total"`
	Succeeded int             `json:"succeeded"`
	Sessions  []sessionReport `json:"sessions"`
}

// newBatchCmd creates the `batch` command: independent sessions run
// concurrently from a task file.
func newBatchCmd(factory ComponentFactory) *cobra.Command {
	batchCmd := &cobra.Command{
		Use:   "batch --tasks <file>",
		Short: "Runs one independent session per line of a task file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if err := applySessionFlagOverrides(cmd, cfg); err != nil {
				return err
			}

			path, _ := cmd.Flags().GetString("tasks")
			concurrency, _ := cmd.Flags().GetInt("concurrency")
			output, _ := cmd.Flags().GetString("output")
			variantFlag, _ := cmd.Flags().GetString("variant")

			variant := cfg.Session().Variant
			if variantFlag != "" {
				variant = config.Variant(strings.ToLower(variantFlag))
			}

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open task file: %w", err)
			}
			tasks, err := readTasks(f)
			f.Close()
			if err != nil {
				return err
			}

			report, err := runBatch(ctx, observability.GetLogger(), cfg, tasks, variant, concurrency, factory)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode batch results: %w", err)
			}
			return writeOutput(cmd, output, data)
		},
	}

	addSessionFlags(batchCmd)
	batchCmd.Flags().Int("max-recursions", 0, "Step ceiling of each session. (Overrides config/env)")
	batchCmd.Flags().StringP("tasks", "t", "", "File with one task per line. Blank lines and lines starting with # are skipped.")
	batchCmd.Flags().IntP("concurrency", "j", 0, "Sessions run at the same time. (Overrides session.batch_concurrency)")
	batchCmd.Flags().String("variant", "", "Session variant: 'flat' or 'hierarchical'. (Overrides session.variant)")
	_ = batchCmd.MarkFlagRequired("tasks")
	return batchCmd
}

// readTasks returns the non-empty, non-comment lines of r.
func readTasks(r io.Reader) ([]string, error) {
	var tasks []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tasks = append(tasks, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}
	if len(tasks) == 0 {
		return nil, errors.New("task file contains no tasks")
	}
	return tasks, nil
}

func runBatch(ctx context.Context, logger *zap.Logger, cfg config.Interface, tasks []string, variant config.Variant, concurrency int, factory ComponentFactory) (*batchReport, error) {
	switch variant {
	case config.VariantFlat, config.VariantHierarchical:
	default:
		return nil, fmt.Errorf("unknown variant %q", variant)
	}

	// RunBatch uses the configured variant for every session.
	cfg.SetSessionVariant(variant)

	comps, err := factory.Create(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize batch components: %w", err)
	}
	defer comps.Shutdown(logger)

	sessions := comps.Engine.RunBatch(ctx, tasks, concurrency)

	report := &batchReport{Total: len(sessions)}
	for _, s := range sessions {
		r := newSessionReport(s)
		if r.Result.Success {
			report.Succeeded++
		}
		report.Sessions = append(report.Sessions, r)
	}
	logger.Info("Batch finished", zap.Int("total", report.Total), zap.Int("succeeded", report.Succeeded))
	return report, nil
}
