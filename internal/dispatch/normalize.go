package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"

	"holectl/internal/domain"
	"holectl/internal/transport"
)

// normalize turns an appliance answer into the uniform payload. A body that
// is not JSON is passed through as a JSON string; for 2xx answers that case is
// also reported as a *domain.ProtocolError so the caller can log it.
func normalize(resp *transport.Response, wantLocation bool) (domain.Payload, error) {
	p := domain.Payload{Status: resp.Status}
	if wantLocation {
		p.Location = resp.Header.Get("Location")
	}

	body := bytes.TrimSpace(resp.Body)
	switch {
	case len(body) == 0:
		p.Body = json.RawMessage("null")
		return p, nil
	case json.Valid(body):
		p.Body = append(json.RawMessage(nil), body...)
		return p, nil
	}

	raw, _ := json.Marshal(string(resp.Body))
	p.Body = raw
	if !resp.OK() {
		return p, nil
	}
	return p, &domain.ProtocolError{Status: resp.Status, Raw: string(resp.Body), Err: errors.New("body is not JSON")}
}
