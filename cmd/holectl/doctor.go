package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"holectl/internal/audit"
	"holectl/internal/config"
	"holectl/internal/session"
	"holectl/internal/transport"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	var tryLogin bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your holectl setup",
		Long: `Verifies that the configuration, password source, session cache, audit
database and appliance connectivity are set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfgPath := config.ExpandPath(resolveConfigPath())
			fmt.Fprintf(out, "holectl doctor v%s\n", version)
			fmt.Fprintf(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			r := &report{out: out}

			// 1. Config file
			if _, err := os.Stat(cfgPath); err != nil {
				r.warn("Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
			} else {
				r.pass("Config file", cfgPath)
			}

			cfg, err := loadConfig()
			if err != nil {
				r.fail("Config validation", err.Error())
				return r.summary()
			}
			r.pass("Config validation", "valid")

			// 2. Password source
			password, pwErr := config.ResolvePassword(cfg.Appliance)
			switch {
			case pwErr != nil:
				r.fail("Password", pwErr.Error())
			case password == "":
				r.warn("Password", "empty; only works if the appliance has no password")
			default:
				r.pass("Password", "source "+passwordSourceName(cfg.Appliance.PasswordSource))
			}

			// 3. Session cache directory
			if err := checkWritableDir(filepath.Dir(cfg.Session.TokenPath)); err != nil {
				r.fail("Session cache", err.Error())
			} else {
				r.pass("Session cache", cfg.Session.TokenPath)
			}

			// 4. Audit database
			if cfg.Audit.Enabled {
				if s, err := audit.Open(cfg.Audit.DBPath, logger); err != nil {
					r.fail("Audit database", err.Error())
				} else {
					s.Close()
					r.pass("Audit database", cfg.Audit.DBPath)
				}
			}

			// 5. Appliance reachable
			client := transport.New(transport.Config{
				BaseURL:            cfg.Appliance.URL,
				SessionHeader:      cfg.Appliance.SessionHeader,
				Timeout:            cfg.Appliance.Timeout(),
				InsecureSkipVerify: cfg.Appliance.InsecureSkipVerify,
				UserAgent:          "holectl/" + version,
				Logger:             logger,
			})
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Appliance.Timeout())
			defer cancel()
			if resp, err := client.Do(ctx, transport.Request{Method: http.MethodGet, Path: "/auth"}); err != nil {
				r.fail("Appliance", err.Error())
			} else {
				r.pass("Appliance", fmt.Sprintf("%s answered HTTP %d", cfg.Appliance.URL, resp.Status))
			}
			if cfg.Appliance.InsecureSkipVerify {
				r.warn("TLS", "certificate verification disabled")
			}

			// 6. Login (opt-in, it consumes an appliance session slot)
			if tryLogin && pwErr == nil {
				mgr := session.NewManager(session.ManagerConfig{
					Store:     session.NewMemoryStore(cfg.Session.Freshness()),
					Client:    client,
					Password:  password,
					Freshness: cfg.Session.Freshness(),
					Logger:    logger,
				})
				if _, err := mgr.EnsureSession(ctx); err != nil {
					r.fail("Login", err.Error())
				} else {
					r.pass("Login", "session id issued")
				}
			}

			// 7. Daemon port
			if err := checkPort(cfg.Server.Addr()); err != nil {
				r.warn("Daemon port", fmt.Sprintf("%s may be in use: %v", cfg.Server.Addr(), err))
			} else {
				r.pass("Daemon port", cfg.Server.Addr()+" available")
			}

			// 8. Log file
			if cfg.Log.File != "" {
				if err := checkWritableDir(filepath.Dir(cfg.Log.File)); err != nil {
					r.warn("Log file", err.Error())
				} else {
					r.pass("Log file", cfg.Log.File)
				}
			}

			return r.summary()
		},
	}
	cmd.Flags().BoolVar(&tryLogin, "login", false, "also perform a real login")
	return cmd
}

type report struct {
	out                    io.Writer
	passed, warned, failed int
}

func (r *report) pass(check, detail string) {
	r.passed++
	fmt.Fprintf(r.out, "  [PASS] %-20s %s\n", check, detail)
}

func (r *report) fail(check, detail string) {
	r.failed++
	fmt.Fprintf(r.out, "  [FAIL] %-20s %s\n", check, detail)
}

func (r *report) warn(check, detail string) {
	r.warned++
	fmt.Fprintf(r.out, "  [WARN] %-20s %s\n", check, detail)
}

func (r *report) summary() error {
	fmt.Fprintf(r.out, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(r.out, "Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	return nil
}

func passwordSourceName(s string) string {
	if s == "" {
		return "config"
	}
	return s
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("%s not writable: %w", dir, err)
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return nil
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}
