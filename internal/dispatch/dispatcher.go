// Package dispatch maps the five gateway actions onto appliance API calls.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"holectl/internal/domain"
	"holectl/internal/metrics"
	"holectl/internal/transport"

	"github.com/google/uuid"
)

// Sessions hands out session ids. *session.Manager implements it.
type Sessions interface {
	EnsureSession(ctx context.Context) (domain.SessionToken, error)
	Invalidate(ctx context.Context, stale domain.SessionToken)
}

// Doer executes appliance requests. *transport.Client implements it.
type Doer interface {
	Do(ctx context.Context, req transport.Request) (*transport.Response, error)
}

// Dispatcher runs one action per Dispatch call: one session lookup and one
// appliance call, plus a single re-login and retry when the appliance rejects
// the cached session.
type Dispatcher struct {
	sessions Sessions
	client   Doer
	auditor  domain.Auditor
	logger   *slog.Logger
}

type Config struct {
	Sessions Sessions
	Client   Doer
	Auditor  domain.Auditor // optional
	Logger   *slog.Logger
}

func New(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		sessions: cfg.Sessions,
		client:   cfg.Client,
		auditor:  cfg.Auditor,
		logger:   cfg.Logger,
	}
}

// Dispatch validates req, performs it, and returns the result envelope.
// It never panics on appliance input and never returns a partially built Result.
func (d *Dispatcher) Dispatch(ctx context.Context, req domain.ActionRequest) domain.Result {
	start := time.Now()
	req = req.WithDefaults()

	if err := req.Validate(); err != nil {
		res := domain.Failed(actionName(req.Action), err, nil)
		d.finish(ctx, req, res, false, start)
		return res
	}

	c := routes[req.Action](req)
	resp, retried, err := d.execute(ctx, c)
	if err != nil {
		res := domain.Failed(req.Action.String(), err, nil)
		d.finish(ctx, req, res, retried, start)
		return res
	}

	payload, perr := normalize(resp, c.wantLocation)
	if perr != nil {
		d.logger.Warn("appliance returned a non-JSON body, passing it through",
			"action", req.Action.String(), "status", resp.Status)
	}

	var res domain.Result
	if resp.OK() {
		res = domain.Succeeded(req.Action.String(), payload)
		d.logBlockingState(req.Action, resp.Body)
	} else {
		res = domain.Failed(req.Action.String(), &domain.TransportError{
			Method: c.method,
			Path:   c.path,
			Status: resp.Status,
			Body:   string(resp.Body),
		}, &payload)
	}
	d.finish(ctx, req, res, retried, start)
	return res
}

// execute performs c with a valid session. An auth rejection triggers exactly
// one invalidate/re-login/retry; the retried outcome is returned as is.
func (d *Dispatcher) execute(ctx context.Context, c call) (*transport.Response, bool, error) {
	tok, err := d.sessions.EnsureSession(ctx)
	if err != nil {
		return nil, false, err
	}

	resp, err := d.client.Do(ctx, transport.Request{Method: c.method, Path: c.path, Body: c.body, SID: tok.Value})
	if err != nil {
		return nil, false, err
	}
	if !resp.AuthRejected() {
		return resp, false, nil
	}

	d.logger.Info("appliance rejected cached session, logging in again",
		"method", c.method, "path", c.path, "status", resp.Status)
	metrics.AuthRetries.Inc()
	d.sessions.Invalidate(ctx, tok)

	tok, err = d.sessions.EnsureSession(ctx)
	if err != nil {
		return nil, true, err
	}
	resp, err = d.client.Do(ctx, transport.Request{Method: c.method, Path: c.path, Body: c.body, SID: tok.Value})
	return resp, true, err
}

func (d *Dispatcher) logBlockingState(a domain.Action, body []byte) {
	if a != domain.ActionEnable && a != domain.ActionDisable && a != domain.ActionStatus {
		return
	}
	var st domain.BlockingState
	if err := json.Unmarshal(body, &st); err != nil || st.Blocking == "" {
		return
	}
	attrs := []any{"action", a.String(), "blocking", st.Blocking}
	if st.Timer != nil {
		attrs = append(attrs, "timer", time.Duration(*st.Timer*float64(time.Second)))
	}
	d.logger.Info("blocking state", attrs...)
}

func (d *Dispatcher) finish(ctx context.Context, req domain.ActionRequest, res domain.Result, retried bool, start time.Time) {
	elapsed := time.Since(start)
	outcome := "ok"
	if !res.OK {
		outcome = string(res.Kind)
	}
	metrics.Dispatched(res.Action, outcome)
	metrics.DispatchLatency.Observe(elapsed.Seconds())

	if res.OK {
		d.logger.Info("action done", "action", res.Action, "status", res.Result.Status, "retried", retried, "elapsed", elapsed)
	} else {
		d.logger.Warn("action failed", "action", res.Action, "kind", res.Kind, "err", res.Error, "retried", retried)
	}

	if d.auditor == nil {
		return
	}
	entry := domain.AuditEntry{
		ID:         uuid.NewString(),
		Action:     res.Action,
		Domain:     req.Domain,
		OK:         res.OK,
		ErrorKind:  string(res.Kind),
		Error:      res.Error,
		Retried:    retried,
		DurationMS: elapsed.Milliseconds(),
		CreatedAt:  start,
	}
	if res.Result != nil {
		entry.Status = res.Result.Status
	}
	// Detached so a caller hanging up does not drop its row.
	if err := d.auditor.Record(context.WithoutCancel(ctx), entry); err != nil {
		d.logger.Warn("audit record failed", "err", err)
	}
}

func actionName(a domain.Action) string {
	if a.Valid() {
		return a.String()
	}
	return ""
}
