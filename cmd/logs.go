// File: cmd/logs.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hpcloud/tail"
	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
)

// newLogsCmd creates the `logs` command, which prints the JSON log file.
func newLogsCmd() *cobra.Command {
	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Prints the agent log file, optionally following new entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			path := cfg.Logger().LogFile
			if cmd.Flags().Changed("file") {
				path, _ = cmd.Flags().GetString("file")
			}
			if path == "" {
				return errors.New("no log file configured (logger.log_file)")
			}
			path, err = homedir.Expand(path)
			if err != nil {
				return err
			}

			follow, _ := cmd.Flags().GetBool("follow")
			level, _ := cmd.Flags().GetString("level")
			session, _ := cmd.Flags().GetString("session")

			filter, err := newLogFilter(level, session)
			if err != nil {
				return err
			}
			return followLog(ctx, cmd.OutOrStdout(), path, follow, filter)
		},
	}

	logsCmd.Flags().BoolP("follow", "f", false, "Keep printing entries as they are written.")
	logsCmd.Flags().String("file", "", "Log file to read. (Overrides logger.log_file)")
	logsCmd.Flags().String("level", "", "Only print entries at or above this level.")
	logsCmd.Flags().String("session", "", "Only print entries of this session id.")
	return logsCmd
}

// logFilter selects JSON log lines. Lines that are not JSON always pass.
type logFilter struct {
	minLevel  zapcore.Level
	useLevel  bool
	sessionID string
}

func newLogFilter(level, sessionID string) (logFilter, error) {
	f := logFilter{sessionID: sessionID}
	if level != "" {
		if err := f.minLevel.UnmarshalText([]byte(level)); err != nil {
			return f, fmt.Errorf("invalid --level %q: %w", level, err)
		}
		f.useLevel = true
	}
	return f, nil
}

func (f logFilter) match(line string) bool {
	if !f.useLevel && f.sessionID == "" {
		return true
	}
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return true
	}
	if f.useLevel {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(jsoniter.Get([]byte(trimmed), "level").ToString())); err == nil && lvl < f.minLevel {
			return false
		}
	}
	if f.sessionID != "" && jsoniter.Get([]byte(trimmed), "session_id").ToString() != f.sessionID {
		return false
	}
	return true
}

// followLog copies matching lines of path to out. Without follow it stops
// at the end of the file; with follow it runs until ctx is cancelled.
func followLog(ctx context.Context, out io.Writer, path string, follow bool, filter logFilter) error {
	t, err := tail.TailFile(path, tail.Config{
		Follow:    follow,
		ReOpen:    follow,
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer t.Cleanup()
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return nil
			}
			if line.Err != nil {
				return fmt.Errorf("error reading log file: %w", line.Err)
			}
			if filter.match(line.Text) {
				if _, err := fmt.Fprintln(out, line.Text); err != nil {
					return err
				}
			}
		}
	}
}
