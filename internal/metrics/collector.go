// Package metrics provides in-process counters and histograms for holectl,
// rendered in Prometheus text exposition format by `holectl serve`.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the global metrics collector.
var Collector = NewMetricsCollector()

// MetricsCollector aggregates counters, gauges, and histograms.
type MetricsCollector struct {
	counters   sync.Map // name -> *Counter
	gauges     sync.Map // name -> *Gauge
	histograms sync.Map // name -> *Histogram
	startTime  time.Time
}

// NewMetricsCollector creates a new collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add increments the counter by n.
func (c *Counter) Add(n int64) { c.value.Add(n) }

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Inc increments the gauge by 1.
func (g *Gauge) Inc() { g.value.Add(1) }

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() { g.value.Add(-1) }

// Value returns the current gauge value.
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of values.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// --- Registration helpers ---

// Counter returns or creates a counter with the given name.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	if v, ok := c.counters.Load(key); ok {
		return v.(*Counter)
	}
	ctr := &Counter{name: name, help: help, labels: labels}
	actual, _ := c.counters.LoadOrStore(key, ctr)
	return actual.(*Counter)
}

// Gauge returns or creates a gauge with the given name.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	key := name + "{" + labels + "}"
	if v, ok := c.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	g := &Gauge{name: name, help: help, labels: labels}
	actual, _ := c.gauges.LoadOrStore(key, g)
	return actual.(*Gauge)
}

// Histogram returns or creates a histogram with the given name.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := name + "{" + labels + "}"
	if v, ok := c.histograms.Load(key); ok {
		return v.(*Histogram)
	}
	bounds := append([]float64(nil), buckets...)
	sort.Float64s(bounds)
	if len(bounds) == 0 || !math.IsInf(bounds[len(bounds)-1], 1) {
		bounds = append(bounds, math.Inf(1))
	}
	hb := make([]histBucket, len(bounds))
	for i, b := range bounds {
		hb[i] = histBucket{le: b}
	}
	h := &Histogram{name: name, help: help, labels: labels, buckets: hb}
	actual, _ := c.histograms.LoadOrStore(key, h)
	return actual.(*Histogram)
}

// --- Prometheus text rendering ---

// Handler returns an http.HandlerFunc that renders metrics in Prometheus text format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		c.Render(w)
	}
}

// Render writes every metric, sorted by name and labels so output is stable.
func (c *MetricsCollector) Render(w io.Writer) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP holectl_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE holectl_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "holectl_uptime_seconds %d\n", int64(c.Uptime().Seconds()))

	var counters []*Counter
	c.counters.Range(func(_, value any) bool {
		counters = append(counters, value.(*Counter))
		return true
	})
	sort.Slice(counters, func(i, j int) bool {
		if counters[i].name != counters[j].name {
			return counters[i].name < counters[j].name
		}
		return counters[i].labels < counters[j].labels
	})
	last := ""
	for _, ctr := range counters {
		if ctr.name != last {
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s counter\n", ctr.name, ctr.help, ctr.name)
			last = ctr.name
		}
		fmt.Fprintf(&sb, "%s %d\n", series(ctr.name, ctr.labels), ctr.Value())
	}

	var gauges []*Gauge
	c.gauges.Range(func(_, value any) bool {
		gauges = append(gauges, value.(*Gauge))
		return true
	})
	sort.Slice(gauges, func(i, j int) bool { return gauges[i].name+gauges[i].labels < gauges[j].name+gauges[j].labels })
	last = ""
	for _, g := range gauges {
		if g.name != last {
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s gauge\n", g.name, g.help, g.name)
			last = g.name
		}
		fmt.Fprintf(&sb, "%s %d\n", series(g.name, g.labels), g.Value())
	}

	var hists []*Histogram
	c.histograms.Range(func(_, value any) bool {
		hists = append(hists, value.(*Histogram))
		return true
	})
	sort.Slice(hists, func(i, j int) bool { return hists[i].name+hists[i].labels < hists[j].name+hists[j].labels })
	for _, h := range hists {
		h.mu.Lock()
		fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name)
		for _, b := range h.buckets {
			le := fmt.Sprintf("%g", b.le)
			if math.IsInf(b.le, 1) {
				le = "+Inf"
			}
			labels := fmt.Sprintf("le=%q", le)
			if h.labels != "" {
				labels = h.labels + "," + labels
			}
			fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_bucket", labels), b.count)
		}
		fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_count", h.labels), h.count)
		fmt.Fprintf(&sb, "%s %f\n", series(h.name+"_sum", h.labels), h.sum)
		h.mu.Unlock()
	}

	io.WriteString(w, sb.String())
}

func series(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

// --- Metrics used across holectl ---

var (
	LoginsTotal = Collector.Counter("holectl_logins_total", "Login exchanges performed against the appliance", `outcome="ok"`)
	LoginErrors = Collector.Counter("holectl_logins_total", "Login exchanges performed against the appliance", `outcome="error"`)
	CacheHits   = Collector.Counter("holectl_session_cache_hits_total", "Session ids reused from the token store", "")
	AuthRetries = Collector.Counter("holectl_auth_retries_total", "Action calls retried after the appliance rejected the session", "")
	RateLimited = Collector.Counter("holectl_rate_limited_total", "Daemon requests refused by the rate limiter", "")

	InflightRequests = Collector.Gauge("holectl_inflight_requests", "Daemon requests currently being dispatched", "")

	DispatchLatency = Collector.Histogram("holectl_dispatch_seconds", "End-to-end dispatch latency in seconds", "",
		[]float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10})
)

// Dispatched counts one finished dispatch by action and outcome ("ok" or an error kind).
func Dispatched(action, outcome string) {
	Collector.Counter("holectl_dispatch_total", "Actions dispatched to the appliance",
		fmt.Sprintf("action=%q,outcome=%q", action, outcome)).Inc()
}
