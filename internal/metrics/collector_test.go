package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounter_SameKeyReturnsSameCounter(t *testing.T) {
	c := NewMetricsCollector()
	a := c.Counter("x_total", "help", `k="v"`)
	b := c.Counter("x_total", "help", `k="v"`)
	a.Inc()
	b.Add(2)
	if a.Value() != 3 {
		t.Fatalf("expected shared counter value 3, got %d", a.Value())
	}
}

func TestRender_CountersAndHistogram(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("demo_total", "Demo counter", `outcome="ok"`).Inc()
	c.Counter("demo_total", "Demo counter", `outcome="auth"`).Add(2)
	c.Gauge("demo_inflight", "Demo gauge", "").Set(4)
	h := c.Histogram("demo_seconds", "Demo latency", "", []float64{1, 0.1})
	h.Observe(0.05)
	h.Observe(5)

	var sb strings.Builder
	c.Render(&sb)
	out := sb.String()

	for _, want := range []string{
		`demo_total{outcome="auth"} 2`,
		`demo_total{outcome="ok"} 1`,
		"demo_inflight 4",
		`demo_seconds_bucket{le="0.1"} 1`,
		`demo_seconds_bucket{le="1"} 1`,
		`demo_seconds_bucket{le="+Inf"} 2`,
		"demo_seconds_count 2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in output:\n%s", want, out)
		}
	}
	if strings.Count(out, "# TYPE demo_total counter") != 1 {
		t.Errorf("expected one TYPE line per metric name:\n%s", out)
	}
	if strings.Index(out, `outcome="auth"`) > strings.Index(out, `outcome="ok"`) {
		t.Error("expected series sorted by labels")
	}
}

func TestHandler_ContentType(t *testing.T) {
	rec := httptest.NewRecorder()
	NewMetricsCollector().Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "holectl_uptime_seconds") {
		t.Fatal("expected uptime gauge")
	}
}

func TestDispatched_LabelsByActionAndOutcome(t *testing.T) {
	Dispatched("block", "ok")
	Dispatched("block", "ok")
	got := Collector.Counter("holectl_dispatch_total", "", `action="block",outcome="ok"`).Value()
	if got < 2 {
		t.Fatalf("expected at least 2, got %d", got)
	}
}
