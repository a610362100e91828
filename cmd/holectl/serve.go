package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"holectl/internal/domain"
	"holectl/internal/server"
	"holectl/internal/session"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var (
		addr      string
		pruneDays int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP daemon (POST /v1/actions)",
		Long: `Serves the same actions over HTTP. The session id is kept in memory and
concurrent requests share a single login. Press Ctrl+C to stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if addr == "" {
				addr = cfg.Server.Addr()
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			scfg := server.Config{
				Addr:               addr,
				APIKey:             cfg.Server.APIKey,
				RateLimitPerMinute: float64(cfg.Server.RateLimitPerMinute),
				RateLimitBurst:     cfg.Server.RateLimitBurst,
				Logger:             logger,
			}
			var auditor domain.Auditor
			if auditLog := openAudit(cfg); auditLog != nil {
				defer auditLog.Close()
				auditor = auditLog
				scfg.Audit = auditLog
				if pruneDays > 0 {
					go pruneLoop(ctx, auditLog, time.Duration(pruneDays)*24*time.Hour)
				}
			}

			store := session.NewMemoryStore(cfg.Session.Freshness())
			d, err := newDispatcher(cfg, store, auditor)
			if err != nil {
				return err
			}
			scfg.Dispatcher = d

			if cfg.Server.APIKey == "" {
				logger.Warn("server.apiKey is empty; /v1 is unauthenticated")
			}

			return server.New(scfg).ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.host:server.port)")
	cmd.Flags().IntVar(&pruneDays, "audit-retention-days", 0, "prune audit entries older than this many days, hourly (0 = keep all)")
	return cmd
}

type pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

func pruneLoop(ctx context.Context, p pruner, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		if _, err := p.Prune(ctx, time.Now().Add(-retention)); err != nil {
			logger.Warn("audit prune failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
