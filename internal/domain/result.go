package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Payload is the normalized outcome of one appliance call.
// Body holds the decoded JSON document, or the raw text encoded as a JSON
// string when the appliance answered with something that is not JSON.
type Payload struct {
	Status   int             `json:"status"`
	Body     json.RawMessage `json:"body"`
	Location string          `json:"location,omitempty"`
}

// Result is the single envelope emitted per invocation.
type Result struct {
	OK     bool      `json:"ok"`
	Action string    `json:"action,omitempty"`
	Result *Payload  `json:"result,omitempty"`
	Error  string    `json:"error,omitempty"`
	Kind   ErrorKind `json:"kind,omitempty"`
	Trace  string    `json:"trace,omitempty"`
}

// Succeeded builds an ok envelope.
func Succeeded(action string, p Payload) Result {
	return Result{OK: true, Action: action, Result: &p}
}

// Failed builds a failure envelope. p may be nil when no response was received.
// The trace lists the error chain, outermost first.
func Failed(action string, err error, p *Payload) Result {
	r := Result{OK: false, Action: action, Kind: KindOf(err), Result: p}
	if err != nil {
		r.Error = err.Error()
		r.Trace = ErrorChain(err)
	}
	return r
}

// ErrorChain renders err and every error it wraps, one "type: message" line
// per layer.
func ErrorChain(err error) string {
	var sb strings.Builder
	for ; err != nil; err = errors.Unwrap(err) {
		fmt.Fprintf(&sb, "%T: %v\n", err, err)
	}
	return sb.String()
}

// WithTrace returns a copy of r carrying a diagnostic trace.
func (r Result) WithTrace(trace string) Result {
	r.Trace = trace
	return r
}
