package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"holectl/internal/audit"
	"holectl/internal/config"
	"holectl/internal/dispatch"
	"holectl/internal/domain"
	"holectl/internal/request"
	"holectl/internal/session"
	"holectl/internal/transport"

	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Read one JSON action payload from stdin and print one JSON result line",
		Long: `Reads {"configuration":{"parameters":{"action":...,"domain":...,"regex":...,"allow":...,"minutes":...}}}
(or the bare parameters object) from stdin, performs the action and prints the
result envelope as a single JSON line. Exits 1 when the result is not ok.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !runPayload(ctx, cmd.InOrStdin(), cmd.OutOrStdout()) {
				return errActionFailed
			}
			return nil
		},
	}
}

// actionCmds builds one subcommand per action. Flags mirror the payload
// parameters: --domain, --regex, --allow, --minutes.
func actionCmds() []*cobra.Command {
	short := map[domain.Action]string{
		domain.ActionBlock:   "Add a domain rule (deny list unless --allow)",
		domain.ActionUnblock: "Remove a domain rule",
		domain.ActionEnable:  "Enable DNS blocking, optionally for --minutes",
		domain.ActionDisable: "Disable DNS blocking, optionally for --minutes",
		domain.ActionStatus:  "Show the current blocking state",
	}

	var cmds []*cobra.Command
	for a := domain.Action(0); a < domain.NumActions; a++ {
		var p request.Params
		p.Action = a.String()
		cmd := &cobra.Command{
			Use:   a.String(),
			Short: short[a],
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				if !runParams(ctx, p, cmd.OutOrStdout()) {
					return errActionFailed
				}
				return nil
			},
		}
		if a.NeedsDomain() {
			cmd.Flags().StringVarP(&p.Domain, "domain", "d", "", "domain or regular expression")
			cmd.Flags().BoolVar(&p.Regex, "regex", false, "treat --domain as a regular expression")
			cmd.Flags().BoolVar(&p.Allow, "allow", false, "target the allow list instead of the deny list")
		}
		if a == domain.ActionEnable || a == domain.ActionDisable {
			cmd.Flags().IntVarP(&p.Minutes, "minutes", "m", 0, "revert after this many minutes (0 = indefinitely)")
		}
		cmds = append(cmds, cmd)
	}
	return cmds
}

// runPayload is the stdin entry point. It always prints exactly one line.
func runPayload(ctx context.Context, in io.Reader, out io.Writer) (ok bool) {
	defer recoverInto(out, &ok)

	params, err := request.FromPayload(in)
	if err != nil {
		return emit(out, domain.Failed("", err, nil))
	}
	return execute(ctx, params, out)
}

// runParams is the flag entry point. It always prints exactly one line.
func runParams(ctx context.Context, p request.Params, out io.Writer) (ok bool) {
	defer recoverInto(out, &ok)
	return execute(ctx, p, out)
}

func execute(ctx context.Context, p request.Params, out io.Writer) bool {
	req, err := request.Build(p)
	if err != nil {
		return emit(out, domain.Failed(p.Action, err, nil))
	}

	cfg, err := loadConfig()
	if err != nil {
		return emit(out, domain.Failed(req.Action.String(), err, nil))
	}

	var auditor domain.Auditor
	if auditLog := openAudit(cfg); auditLog != nil {
		defer auditLog.Close()
		auditor = auditLog
	}

	store := session.NewFileStore(cfg.Session.TokenPath, cfg.Session.Freshness(), logger)
	d, err := newDispatcher(cfg, store, auditor)
	if err != nil {
		return emit(out, domain.Failed(req.Action.String(), err, nil))
	}
	return emit(out, d.Dispatch(ctx, req))
}

// newDispatcher wires transport and session manager. auditor may be nil.
func newDispatcher(cfg *config.Config, store domain.TokenStore, auditor domain.Auditor) (*dispatch.Dispatcher, error) {
	password, err := config.ResolvePassword(cfg.Appliance)
	if err != nil {
		return nil, &domain.AuthError{Err: err}
	}

	client := transport.New(transport.Config{
		BaseURL:            cfg.Appliance.URL,
		SessionHeader:      cfg.Appliance.SessionHeader,
		Timeout:            cfg.Appliance.Timeout(),
		InsecureSkipVerify: cfg.Appliance.InsecureSkipVerify,
		UserAgent:          "holectl/" + version,
		Logger:             logger,
	})
	sessions := session.NewManager(session.ManagerConfig{
		Store:        store,
		Client:       client,
		Password:     password,
		Freshness:    cfg.Session.Freshness(),
		LoginTimeout: cfg.Appliance.Timeout(),
		Logger:       logger,
	})
	return dispatch.New(dispatch.Config{Sessions: sessions, Client: client, Auditor: auditor, Logger: logger}), nil
}

// openAudit returns nil when auditing is disabled or the database cannot be
// opened; the audit log never blocks an action.
func openAudit(cfg *config.Config) *audit.Store {
	if !cfg.Audit.Enabled {
		return nil
	}
	s, err := audit.Open(cfg.Audit.DBPath, logger)
	if err != nil {
		logger.Warn("audit log unavailable", "path", cfg.Audit.DBPath, "err", err)
		return nil
	}
	return s
}

func recoverInto(out io.Writer, ok *bool) {
	rec := recover()
	if rec == nil {
		return
	}
	res := domain.Failed("", fmt.Errorf("panic: %v", rec), nil).WithTrace(string(debug.Stack()))
	*ok = emit(out, res)
}

// emit writes res as one JSON line and reports res.OK.
func emit(out io.Writer, res domain.Result) bool {
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(res); err != nil {
		logger.Error("cannot write result", "err", err)
	}
	return res.OK
}
