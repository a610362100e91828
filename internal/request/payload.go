// Package request turns caller input (a stdin JSON payload, an HTTP body or
// CLI flags) into a validated domain.ActionRequest.
package request

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"holectl/internal/domain"
)

const maxPayloadSize = 1 << 20

// Params are the loosely typed caller parameters after coercion.
type Params struct {
	Action  string `json:"action"`
	Domain  string `json:"domain,omitempty"`
	Regex   bool   `json:"regex,omitempty"`
	Allow   bool   `json:"allow,omitempty"`
	Minutes int    `json:"minutes,omitempty"` // 0 = absent
}

type envelope struct {
	Configuration *struct {
		Parameters map[string]json.RawMessage `json:"parameters"`
	} `json:"configuration"`
}

// FromPayload decodes {"configuration":{"parameters":{...}}} or a bare
// parameters object.
func FromPayload(r io.Reader) (Params, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxPayloadSize))
	if err != nil {
		return Params{}, fmt.Errorf("read payload: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Params{}, &domain.ValidationError{Field: "payload", Reason: "empty input"}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Params{}, &domain.ValidationError{Field: "payload", Reason: fmt.Sprintf("not a JSON object: %v", err)}
	}

	var raw map[string]json.RawMessage
	if env.Configuration != nil {
		raw = env.Configuration.Parameters
	} else if err := json.Unmarshal(data, &raw); err != nil {
		return Params{}, &domain.ValidationError{Field: "payload", Reason: fmt.Sprintf("not a JSON object: %v", err)}
	}
	return parseParams(raw)
}

func parseParams(raw map[string]json.RawMessage) (Params, error) {
	var p Params
	var err error
	if p.Action, err = stringField(raw, "action"); err != nil {
		return p, err
	}
	if p.Domain, err = stringField(raw, "domain"); err != nil {
		return p, err
	}
	p.Regex = truthy(raw["regex"])
	p.Allow = truthy(raw["allow"])
	p.Minutes = minutes(raw["minutes"])
	return p, nil
}

func stringField(raw map[string]json.RawMessage, name string) (string, error) {
	v, ok := raw[name]
	if !ok || isNull(v) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", &domain.ValidationError{Field: name, Reason: "must be a string"}
	}
	return s, nil
}

func isNull(v json.RawMessage) bool {
	return len(v) == 0 || string(bytes.TrimSpace(v)) == "null"
}

// truthy accepts JSON booleans and the strings 1/true/yes/on (any case).
// Numbers are judged by their text, so 1 is true and 0 or 2 are not.
func truthy(v json.RawMessage) bool {
	if isNull(v) {
		return false
	}
	var b bool
	if json.Unmarshal(v, &b) == nil {
		return b
	}
	var s string
	if json.Unmarshal(v, &s) != nil {
		s = string(bytes.TrimSpace(v))
	}
	return IsTruthy(s)
}

// IsTruthy reports whether s is one of 1, true, yes, on (case-insensitive).
func IsTruthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// minutes coerces a number or numeric string. Blank, unparseable, fractional
// strings and non-positive values all mean absent.
func minutes(v json.RawMessage) int {
	if isNull(v) {
		return 0
	}
	var n float64
	if json.Unmarshal(v, &n) == nil {
		return positive(n)
	}
	var s string
	if json.Unmarshal(v, &s) != nil {
		return 0
	}
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return positive(float64(i))
}

func positive(n float64) int {
	if math.IsNaN(n) || n < 1 || n > math.MaxInt32 {
		return 0
	}
	return int(n)
}

// Build validates p and converts it to an ActionRequest.
func Build(p Params) (domain.ActionRequest, error) {
	if strings.TrimSpace(p.Action) == "" {
		return domain.ActionRequest{}, &domain.ValidationError{Field: "action", Reason: "required"}
	}
	action, err := domain.ParseAction(p.Action)
	if err != nil {
		return domain.ActionRequest{}, err
	}

	if p.Minutes < 0 {
		p.Minutes = 0
	}
	req := domain.ActionRequest{
		Action:          action,
		Domain:          p.Domain,
		MatchMode:       domain.MatchExact,
		ListKind:        domain.ListDeny,
		DurationMinutes: p.Minutes,
	}
	if p.Regex {
		req.MatchMode = domain.MatchRegex
	}
	if p.Allow {
		req.ListKind = domain.ListAllow
	}
	req = req.WithDefaults()
	if err := req.Validate(); err != nil {
		return domain.ActionRequest{}, err
	}
	return req, nil
}
