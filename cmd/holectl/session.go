package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"holectl/internal/audit"
	"holectl/internal/session"

	"github.com/spf13/cobra"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or drop the cached appliance session",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show whether a fresh session id is cached",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store := session.NewFileStore(cfg.Session.TokenPath, cfg.Session.Freshness(), logger)
			tok, ok := store.Load(cmd.Context())
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "no fresh session cached (%s)\n", store.Path())
				return nil
			}
			age := tok.Age(time.Now()).Truncate(time.Second)
			fmt.Fprintf(cmd.OutOrStdout(), "session cached %s ago, reusable for %s more (%s)\n",
				age, (cfg.Session.Freshness() - age).Truncate(time.Second), store.Path())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete the cached session id; the next action logs in again",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store := session.NewFileStore(cfg.Session.TokenPath, cfg.Session.Freshness(), logger)
			if err := store.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "session cleared")
			return nil
		},
	})

	return cmd
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the local action log (requires audit.enabled)",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "Show the most recent actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAudit(cmd.Context(), func(ctx context.Context, s *audit.Store) error {
				entries, err := s.Recent(ctx, limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TIME\tACTION\tDOMAIN\tOK\tSTATUS\tKIND\tRETRIED\tMS")
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%d\t%s\t%t\t%d\n",
						e.CreatedAt.Local().Format(time.DateTime), e.Action, e.Domain, e.OK,
						e.Status, e.ErrorKind, e.Retried, e.DurationMS)
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	cmd.AddCommand(list)

	var days int
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete entries older than --days",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 1 {
				return fmt.Errorf("--days must be at least 1")
			}
			return withAudit(cmd.Context(), func(ctx context.Context, s *audit.Store) error {
				n, err := s.Prune(ctx, time.Now().AddDate(0, 0, -days))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d entries\n", n)
				return nil
			})
		},
	}
	prune.Flags().IntVar(&days, "days", 30, "retention in days")
	cmd.AddCommand(prune)

	return cmd
}

func withAudit(ctx context.Context, fn func(context.Context, *audit.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Audit.Enabled {
		return fmt.Errorf("audit log is disabled (holectl config set audit.enabled true)")
	}
	s, err := audit.Open(cfg.Audit.DBPath, logger)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}
