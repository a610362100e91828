package dispatch

import (
	"fmt"
	"net/http"
	"strings"

	"holectl/internal/domain"
)

// call is one appliance request derived from an ActionRequest.
type call struct {
	method       string
	path         string
	body         any
	wantLocation bool // echo the Location header of a created rule
}

type route func(req domain.ActionRequest) call

// routes is indexed by domain.Action. init verifies every action has an entry,
// so adding an Action without a route fails at startup, not on first use.
var routes = [domain.NumActions]route{
	domain.ActionBlock:   blockRoute,
	domain.ActionUnblock: unblockRoute,
	domain.ActionEnable:  blockingRoute(true),
	domain.ActionDisable: blockingRoute(false),
	domain.ActionStatus:  statusRoute,
}

func init() {
	for i, r := range routes {
		if r == nil {
			panic(fmt.Sprintf("dispatch: no route for %s", domain.Action(i)))
		}
	}
}

type domainBody struct {
	Domain string `json:"domain"`
}

type blockingBody struct {
	Blocking bool `json:"blocking"`
	Timer    *int `json:"timer,omitempty"` // seconds; omitted = indefinitely
}

func rulePath(rule domain.DomainRule) string {
	return "/domains/" + string(rule.ListKind) + "/" + string(rule.MatchMode)
}

func blockRoute(req domain.ActionRequest) call {
	rule := req.Rule()
	return call{
		method:       http.MethodPost,
		path:         rulePath(rule),
		body:         domainBody{Domain: rule.Domain},
		wantLocation: true,
	}
}

func unblockRoute(req domain.ActionRequest) call {
	rule := req.Rule()
	return call{
		method: http.MethodDelete,
		path:   rulePath(rule) + "/" + escapeSegment(rule.Domain),
	}
}

func blockingRoute(enable bool) route {
	return func(req domain.ActionRequest) call {
		body := blockingBody{Blocking: enable}
		if req.DurationMinutes > 0 {
			secs := req.DurationMinutes * 60
			body.Timer = &secs
		}
		return call{method: http.MethodPost, path: "/dns/blocking", body: body}
	}
}

func statusRoute(domain.ActionRequest) call {
	return call{method: http.MethodGet, path: "/dns/blocking"}
}

// escapeSegment percent-encodes everything except RFC 3986 unreserved
// characters. url.PathEscape leaves sub-delims such as $ and + alone, which
// regex rules are full of.
func escapeSegment(s string) string {
	const hex = "0123456789ABCDEF"
	var sb strings.Builder
	sb.Grow(len(s) * 3)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			sb.WriteByte(c)
		default:
			sb.WriteByte('%')
			sb.WriteByte(hex[c>>4])
			sb.WriteByte(hex[c&0x0f])
		}
	}
	return sb.String()
}
