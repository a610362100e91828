package domain

import (
	"context"
	"time"
)

// SessionToken is the opaque session id issued by the appliance's auth endpoint.
type SessionToken struct {
	Value      string
	AcquiredAt time.Time
}

// Age reports how long ago the token was acquired.
func (t SessionToken) Age(now time.Time) time.Duration { return now.Sub(t.AcquiredAt) }

// TokenStore is a single-slot session cache. Load reports false for a
// missing, unreadable, or stale record; it never returns an error.
type TokenStore interface {
	Load(ctx context.Context) (SessionToken, bool)
	Save(ctx context.Context, tok SessionToken) error
	Clear(ctx context.Context) error
}

// AuditEntry records one dispatched action.
type AuditEntry struct {
	ID         string
	Action     string
	Domain     string
	OK         bool
	Status     int
	ErrorKind  string
	Error      string
	Retried    bool
	DurationMS int64
	CreatedAt  time.Time
}

// Auditor is an optional side channel. Failures must not affect results.
type Auditor interface {
	Record(ctx context.Context, entry AuditEntry) error
}
