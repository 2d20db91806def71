package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/ragkasi/BreatheSafe/internal/auth"
	"github.com/ragkasi/BreatheSafe/internal/config"
	"github.com/ragkasi/BreatheSafe/internal/infra"
	"github.com/ragkasi/BreatheSafe/internal/locker"
	"github.com/ragkasi/BreatheSafe/internal/logging"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lockerctl",
		Short:         "Operate the BreatheSafe locker service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newMigrateCmd(), newSeedCmd(), newListCmd(), newTokenCmd())
	return root
}

// newMigrateCmd applies pending schema migrations
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load(cmd)
			if err != nil {
				return err
			}
			return withPool(cmd.Context(), cfg, func(db *pgxpool.Pool) error {
				if err := infra.Migrate(cmd.Context(), db, logger); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations up to date")
				return nil
			})
		},
	}
}

// newSeedCmd provisions free lockers
func newSeedCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Provision free lockers",
		Long: `Provision COUNT new lockers. Lockers are numbered by the database and
start free and unlocked; users claim them by texting START.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if count <= 0 {
				return fmt.Errorf("--count must be positive, got %d", count)
			}
			cfg, _, err := load(cmd)
			if err != nil {
				return err
			}
			return withPool(cmd.Context(), cfg, func(db *pgxpool.Pool) error {
				repo := locker.NewPostgresRepository(db)
				for i := 0; i < count; i++ {
					l, err := repo.Create(cmd.Context())
					if err != nil {
						return fmt.Errorf("create locker: %w", err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "created locker %d\n", l.ID)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&count, "count", 1, "number of lockers to create")
	return cmd
}

// newListCmd prints every locker with its owner and lock state
func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List lockers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := load(cmd)
			if err != nil {
				return err
			}
			return withPool(cmd.Context(), cfg, func(db *pgxpool.Pool) error {
				lockers, err := locker.NewPostgresRepository(db).List(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tLOCKED\tUSER")
				for _, l := range lockers {
					owner := l.UserID
					if l.Free() {
						owner = "-"
					}
					fmt.Fprintf(w, "%d\t%t\t%s\n", l.ID, l.Locked, owner)
				}
				return w.Flush()
			})
		},
	}
}

// newTokenCmd issues an operator bearer token for the direct API
func newTokenCmd() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the direct locker API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if subject == "" {
				return errors.New("--subject is required")
			}
			cfg, _, err := load(cmd)
			if err != nil {
				return err
			}
			token, err := auth.NewManager(cfg.JWTSecret).Issue(subject, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject, e.g. the operator's name")
	cmd.Flags().StringVar(&role, "role", auth.RoleOperator, "role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}

func load(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logging.New(cfg.LogLevel, "lockerctl", cmd.ErrOrStderr()), nil
}

func withPool(ctx context.Context, cfg config.Config, fn func(*pgxpool.Pool) error) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL must be set")
	}
	db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}
