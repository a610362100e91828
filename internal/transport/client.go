// Package transport issues requests to the appliance's REST API and surfaces
// the status code, headers and raw body of each answer.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"holectl/internal/domain"
)

const maxBodySize = 4 << 20 // 4MB

// Client talks to one appliance.
type Client struct {
	baseURL       string
	sessionHeader string
	userAgent     string
	http          *http.Client
	logger        *slog.Logger
}

type Config struct {
	BaseURL            string // e.g. http://pi.hole/api
	SessionHeader      string // header carrying the session id, e.g. X-FTL-SID
	Timeout            time.Duration
	InsecureSkipVerify bool
	UserAgent          string
	HTTPClient         *http.Client // optional; overrides Timeout/InsecureSkipVerify
	Logger             *slog.Logger
}

func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = NewHTTPClient(cfg.Timeout, cfg.InsecureSkipVerify)
	}
	if cfg.SessionHeader == "" {
		cfg.SessionHeader = "X-FTL-SID"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "holectl"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		sessionHeader: cfg.SessionHeader,
		userAgent:     cfg.UserAgent,
		http:          hc,
		logger:        cfg.Logger,
	}
}

// Request is one call against the appliance. Path is relative to the base URL
// and must already be escaped. Body, when non-nil, is sent as JSON.
type Request struct {
	Method string
	Path   string
	Body   any
	SID    string
}

// Response is the appliance's answer, body fully read.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

// AuthRejected reports whether the appliance refused the session id.
func (r *Response) AuthRejected() bool {
	return r.Status == http.StatusUnauthorized || r.Status == http.StatusForbidden
}

// Do executes req. Any status code is a successful Do; only failures to get
// an answer at all (dial, timeout, truncated read) return *domain.TransportError.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s %s: %w", req.Method, req.Path, err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.SID != "" {
		httpReq.Header.Set(c.sessionHeader, req.SID)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &domain.TransportError{Method: req.Method, Path: req.Path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &domain.TransportError{Method: req.Method, Path: req.Path, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	c.logger.Debug("appliance call",
		"method", req.Method, "path", req.Path,
		"status", resp.StatusCode, "bytes", len(data),
		"elapsed", time.Since(start))

	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}
