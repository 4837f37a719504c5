// File: cmd/sessions.go
package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/balatro-agent/internal/config"
	"github.com/xkilldash9x/balatro-agent/internal/observability"
	"github.com/xkilldash9x/balatro-agent/internal/store"
)

// sessionReader is the read side of the transcript store.
type sessionReader interface {
	ListSessions(ctx context.Context, limit int) ([]store.SessionRecord, error)
	GetSession(ctx context.Context, id string) (*store.SessionRecord, error)
}

// storeProvider opens the transcript store. Tests inject a fake instead of
// a live database connection.
type storeProvider interface {
	// Create returns the store and a cleanup function releasing its resources.
	Create(ctx context.Context, cfg config.Interface) (sessionReader, func(), error)
}

type defaultStoreProvider struct{}

// NewStoreProvider returns the PostgreSQL-backed provider.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

func (p *defaultStoreProvider) Create(ctx context.Context, cfg config.Interface) (sessionReader, func(), error) {
	logger := observability.GetLogger()
	if cfg.Database().URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (BALATRO_DATABASE_URL)")
	}

	pool, err := pgxpool.New(ctx, cfg.Database().URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	st, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed.")
	}
	return st, cleanup, nil
}

// newSessionsCmd creates the `sessions` command group over stored transcripts.
func newSessionsCmd(provider storeProvider) *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspects session transcripts saved in the database",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Lists the most recent sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runSessionsList(ctx, observability.GetLogger(), cmd, cfg, limit, provider)
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of sessions to list.")

	showCmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Prints one session transcript as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runSessionsShow(ctx, observability.GetLogger(), cmd, cfg, args[0], provider)
		},
	}

	sessionsCmd.AddCommand(listCmd, showCmd)
	return sessionsCmd
}

func runSessionsList(ctx context.Context, logger *zap.Logger, cmd *cobra.Command, cfg config.Interface, limit int, provider storeProvider) error {
	reader, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	records, err := reader.ListSessions(ctx, limit)
	if err != nil {
		return err
	}
	logger.Debug("Listed sessions", zap.Int("count", len(records)))

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVARIANT\tSUCCESS\tREASON\tITERATIONS\tSTARTED\tTASK")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%d\t%s\t%s\n",
			r.ID, r.Variant, r.Success, r.Reason, r.Iterations, r.StartedAt.Format("2006-01-02 15:04:05"), r.Task)
	}
	return w.Flush()
}

func runSessionsShow(ctx context.Context, logger *zap.Logger, cmd *cobra.Command, cfg config.Interface, id string, provider storeProvider) error {
	reader, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	rec, err := reader.GetSession(ctx, id)
	if err != nil {
		logger.Debug("Session lookup failed", zap.String("session_id", id), zap.Error(err))
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return writeOutput(cmd, "", data)
}
