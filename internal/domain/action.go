package domain

import (
	"fmt"
	"strings"
)

// Action is one of the fixed operations the gateway exposes.
// Values index the dispatch table, so NumActions must stay last.
type Action int

const (
	ActionBlock Action = iota
	ActionUnblock
	ActionEnable
	ActionDisable
	ActionStatus
	NumActions
)

var actionNames = [NumActions]string{
	ActionBlock:   "block",
	ActionUnblock: "unblock",
	ActionEnable:  "enable",
	ActionDisable: "disable",
	ActionStatus:  "status",
}

func (a Action) String() string {
	if a < 0 || a >= NumActions {
		return fmt.Sprintf("action(%d)", int(a))
	}
	return actionNames[a]
}

// Valid reports whether a names a known action.
func (a Action) Valid() bool { return a >= 0 && a < NumActions }

// NeedsDomain reports whether the action operates on a single domain rule.
func (a Action) NeedsDomain() bool { return a == ActionBlock || a == ActionUnblock }

// MarshalText encodes the action by name so results echo "block", not 0.
func (a Action) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("unknown action %d", int(a))
	}
	return []byte(a.String()), nil
}

func (a *Action) UnmarshalText(b []byte) error {
	parsed, err := ParseAction(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAction maps a caller-supplied name to an Action.
func ParseAction(s string) (Action, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range actionNames {
		if n == name {
			return Action(i), nil
		}
	}
	return 0, &ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", s)}
}

// ActionNames lists the accepted action names in table order.
func ActionNames() []string {
	out := make([]string, len(actionNames))
	copy(out, actionNames[:])
	return out
}

type MatchMode string

const (
	MatchExact MatchMode = "exact"
	MatchRegex MatchMode = "regex"
)

type ListKind string

const (
	ListAllow ListKind = "allow"
	ListDeny  ListKind = "deny"
)

// ActionRequest is a validated caller intent. Build one through
// request.Build or call Validate before dispatching.
type ActionRequest struct {
	Action          Action    `json:"action"`
	Domain          string    `json:"domain,omitempty"`
	MatchMode       MatchMode `json:"matchMode,omitempty"`
	ListKind        ListKind  `json:"listKind,omitempty"`
	DurationMinutes int       `json:"durationMinutes,omitempty"` // 0 = not supplied
}

// WithDefaults fills MatchMode and ListKind when the caller left them empty.
func (r ActionRequest) WithDefaults() ActionRequest {
	if r.MatchMode == "" {
		r.MatchMode = MatchExact
	}
	if r.ListKind == "" {
		r.ListKind = ListDeny
	}
	r.Domain = strings.TrimSpace(r.Domain)
	return r
}

// Validate checks the request without touching the network.
func (r ActionRequest) Validate() error {
	if !r.Action.Valid() {
		return &ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %d", int(r.Action))}
	}
	if r.Action.NeedsDomain() && strings.TrimSpace(r.Domain) == "" {
		return &ValidationError{Field: "domain", Reason: fmt.Sprintf("required for %s", r.Action)}
	}
	switch r.MatchMode {
	case "", MatchExact, MatchRegex:
	default:
		return &ValidationError{Field: "matchMode", Reason: fmt.Sprintf("must be exact or regex, got %q", r.MatchMode)}
	}
	switch r.ListKind {
	case "", ListAllow, ListDeny:
	default:
		return &ValidationError{Field: "listKind", Reason: fmt.Sprintf("must be allow or deny, got %q", r.ListKind)}
	}
	if r.DurationMinutes < 0 {
		return &ValidationError{Field: "durationMinutes", Reason: "must be positive"}
	}
	return nil
}

// Rule returns the domain rule a block/unblock request targets.
func (r ActionRequest) Rule() DomainRule {
	d := r.WithDefaults()
	return DomainRule{Domain: d.Domain, MatchMode: d.MatchMode, ListKind: d.ListKind}
}

// DomainRule identifies one filter entry on the appliance.
type DomainRule struct {
	Domain    string
	MatchMode MatchMode
	ListKind  ListKind
}

// BlockingState is what the appliance reports for /dns/blocking.
// It is decoded for logging only and never cached.
type BlockingState struct {
	Blocking string   `json:"blocking"`
	Timer    *float64 `json:"timer"`
}
