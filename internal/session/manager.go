// Package session owns the appliance login protocol and the cached session id.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"holectl/internal/domain"
	"holectl/internal/metrics"
	"holectl/internal/transport"

	"golang.org/x/sync/singleflight"
)

// Doer is the subset of *transport.Client the manager needs.
type Doer interface {
	Do(ctx context.Context, req transport.Request) (*transport.Response, error)
}

// Manager hands out a valid session id, logging in only when the store has
// none. At most one login is in flight per Manager; concurrent callers share
// its result.
type Manager struct {
	store        domain.TokenStore
	client       Doer
	password     string
	freshness    time.Duration
	loginTimeout time.Duration
	logger       *slog.Logger

	flight singleflight.Group
	mu     sync.Mutex // serializes Invalidate's compare-and-clear
}

type ManagerConfig struct {
	Store     domain.TokenStore
	Client    Doer
	Password  string
	Freshness time.Duration // local cache window, compared with the appliance's validity

	// LoginTimeout bounds a shared login, which outlives any single caller's
	// context. Zero leaves only the HTTP client timeout.
	LoginTimeout time.Duration
	Logger       *slog.Logger
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		store:        cfg.Store,
		client:       cfg.Client,
		password:     cfg.Password,
		freshness:    cfg.Freshness,
		loginTimeout: cfg.LoginTimeout,
		logger:       cfg.Logger,
	}
}

type authRequest struct {
	Password string `json:"password"`
}

type authResponse struct {
	Session struct {
		Valid    bool    `json:"valid"`
		SID      *string `json:"sid"`
		Validity int     `json:"validity"`
		Message  string  `json:"message"`
	} `json:"session"`
}

// EnsureSession returns a fresh cached session id or performs a login.
// The login is detached from ctx; ctx only bounds how long this caller waits.
func (m *Manager) EnsureSession(ctx context.Context) (domain.SessionToken, error) {
	if tok, ok := m.store.Load(ctx); ok {
		metrics.CacheHits.Inc()
		return tok, nil
	}

	ch := m.flight.DoChan("login", func() (any, error) {
		lctx := context.WithoutCancel(ctx)
		if m.loginTimeout > 0 {
			var cancel context.CancelFunc
			lctx, cancel = context.WithTimeout(lctx, m.loginTimeout)
			defer cancel()
		}
		// A caller that queued behind a finished flight finds its token here.
		if tok, ok := m.store.Load(lctx); ok {
			return tok, nil
		}
		return m.login(lctx)
	})

	select {
	case <-ctx.Done():
		return domain.SessionToken{}, &domain.AuthError{Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return domain.SessionToken{}, res.Err
		}
		if res.Shared {
			m.logger.Debug("joined in-flight login")
		}
		return res.Val.(domain.SessionToken), nil
	}
}

// Invalidate drops the cached session if it is still the one the appliance
// rejected. A newer token saved by a concurrent login is left alone.
func (m *Manager) Invalidate(ctx context.Context, stale domain.SessionToken) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.store.Load(ctx); ok && cur.Value != stale.Value {
		return
	}
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Warn("cannot clear cached session", "err", err)
	}
}

func (m *Manager) login(ctx context.Context) (domain.SessionToken, error) {
	resp, err := m.client.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/auth",
		Body:   authRequest{Password: m.password},
	})
	if err != nil {
		metrics.LoginErrors.Inc()
		return domain.SessionToken{}, &domain.AuthError{Err: err}
	}
	if !resp.OK() {
		metrics.LoginErrors.Inc()
		return domain.SessionToken{}, &domain.AuthError{Status: resp.Status, Body: string(resp.Body)}
	}

	var ar authResponse
	if err := json.Unmarshal(resp.Body, &ar); err != nil {
		metrics.LoginErrors.Inc()
		return domain.SessionToken{}, &domain.AuthError{
			Status: resp.Status,
			Body:   string(resp.Body),
			Err:    &domain.ProtocolError{Status: resp.Status, Raw: string(resp.Body), Err: err},
		}
	}
	if ar.Session.SID == nil || *ar.Session.SID == "" {
		metrics.LoginErrors.Inc()
		reason := "response carries no session id"
		if ar.Session.Message != "" {
			reason = fmt.Sprintf("%s (%s)", reason, ar.Session.Message)
		}
		return domain.SessionToken{}, &domain.AuthError{Status: resp.Status, Body: string(resp.Body), Err: errors.New(reason)}
	}

	tok := domain.SessionToken{Value: *ar.Session.SID, AcquiredAt: time.Now()}
	metrics.LoginsTotal.Inc()

	validity := time.Duration(ar.Session.Validity) * time.Second
	m.logger.Info("logged in to appliance", "validity", validity)
	if validity > 0 && m.freshness > validity {
		// The local window outlives the appliance session; the dispatcher's
		// one-shot retry absorbs the resulting rejections.
		m.logger.Warn("appliance session validity is shorter than the local cache window",
			"validity", validity, "window", m.freshness)
	}

	if err := m.store.Save(ctx, tok); err != nil {
		m.logger.Warn("cannot persist session, next invocation will log in again", "err", err)
	}
	return tok, nil
}
