// Package metrics is a small Prometheus text-format registry for the relay.
package metrics

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Default is the process-wide registry the relay records into.
var Default = NewRegistry()

// Registry holds counters, gauges and histograms keyed by name and labels.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]metric
	started time.Time
}

type metric interface {
	family() (name, help, kind string)
	write(w io.Writer)
}

func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]metric), started: time.Now()}
}

// Uptime returns the time since the registry was created.
func (r *Registry) Uptime() time.Duration { return time.Since(r.started) }

// Counter only goes up.
type Counter struct {
	name, help, labels string
	value              atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

func (c *Counter) family() (string, string, string) { return c.name, c.help, "counter" }

func (c *Counter) write(w io.Writer) {
	fmt.Fprintf(w, "%s%s %d\n", c.name, braces(c.labels), c.Value())
}

// Gauge holds the last value set.
type Gauge struct {
	name, help, labels string
	value              atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Value() int64 { return g.value.Load() }

func (g *Gauge) family() (string, string, string) { return g.name, g.help, "gauge" }

func (g *Gauge) write(w io.Writer) {
	fmt.Fprintf(w, "%s%s %d\n", g.name, braces(g.labels), g.Value())
}

// Histogram counts observations into cumulative buckets.
type Histogram struct {
	name, help, labels string
	bounds             []float64

	mu     sync.Mutex
	counts []int64 // per bound, cumulative
	count  int64
	sum    float64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.counts[i]++
		}
	}
}

func (h *Histogram) family() (string, string, string) { return h.name, h.help, "histogram" }

func (h *Histogram) write(w io.Writer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	prefix := ""
	if h.labels != "" {
		prefix = h.labels + ","
	}
	for i, le := range h.bounds {
		fmt.Fprintf(w, "%s_bucket{%sle=%q} %d\n", h.name, prefix, strconv.FormatFloat(le, 'g', -1, 64), h.counts[i])
	}
	fmt.Fprintf(w, "%s_bucket{%sle=\"+Inf\"} %d\n", h.name, prefix, h.count)
	fmt.Fprintf(w, "%s_sum%s %g\n", h.name, braces(h.labels), h.sum)
	fmt.Fprintf(w, "%s_count%s %d\n", h.name, braces(h.labels), h.count)
}

// Counter returns the counter for name and labels, creating it on first use.
func (r *Registry) Counter(name, help, labels string) *Counter {
	return lookup(r, name, labels, func() *Counter {
		return &Counter{name: name, help: help, labels: labels}
	})
}

func (r *Registry) Gauge(name, help, labels string) *Gauge {
	return lookup(r, name, labels, func() *Gauge {
		return &Gauge{name: name, help: help, labels: labels}
	})
}

// Histogram returns the histogram for name and labels. bounds is only read
// on creation; +Inf is implicit.
func (r *Registry) Histogram(name, help, labels string, bounds []float64) *Histogram {
	return lookup(r, name, labels, func() *Histogram {
		b := make([]float64, 0, len(bounds))
		for _, v := range bounds {
			if !math.IsInf(v, 1) {
				b = append(b, v)
			}
		}
		sort.Float64s(b)
		return &Histogram{name: name, help: help, labels: labels, bounds: b, counts: make([]int64, len(b))}
	})
}

func lookup[M metric](r *Registry, name, labels string, create func() M) M {
	key := name + braces(labels)
	r.mu.RLock()
	m, ok := r.metrics[key]
	r.mu.RUnlock()
	if ok {
		return m.(M)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.metrics[key]; ok {
		return m.(M)
	}
	created := create()
	r.metrics[key] = created
	return created
}

// WriteTo renders every metric in the Prometheus text format, one HELP/TYPE
// block per family, families and series sorted.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	r.mu.RLock()
	keys := make([]string, 0, len(r.metrics))
	for k := range r.metrics {
		keys = append(keys, k)
	}
	series := make(map[string]metric, len(keys))
	for _, k := range keys {
		series[k] = r.metrics[k]
	}
	r.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		ni, _, _ := series[keys[i]].family()
		nj, _, _ := series[keys[j]].family()
		if ni != nj {
			return ni < nj
		}
		return keys[i] < keys[j]
	})

	cw := &countingWriter{w: bufio.NewWriter(w)}
	fmt.Fprintf(cw, "# HELP companion_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(cw, "# TYPE companion_uptime_seconds gauge\n")
	fmt.Fprintf(cw, "companion_uptime_seconds %d\n", int64(r.Uptime().Seconds()))

	last := ""
	for _, k := range keys {
		m := series[k]
		name, help, kind := m.family()
		if name != last {
			fmt.Fprintf(cw, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
			last = name
		}
		m.write(cw)
	}
	if err := cw.w.Flush(); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

// Handler serves the registry at a scrape endpoint.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WriteTo(w)
	})
}

type countingWriter struct {
	w *bufio.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func braces(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}

// --- Relay metrics ---

var (
	InboundTotal    = Default.Counter("companion_inbound_total", "Inbound events received", "")
	RepliesTotal    = Default.Counter("companion_replies_total", "Turns that reached generation", "")
	DuplicatesTotal = Default.Counter("companion_duplicates_total", "Redelivered events acknowledged without processing", "")
	ThrottledTotal  = Default.Counter("companion_throttled_total", "Events answered with the cooldown placeholder", "")
	RejectedTotal   = Default.Counter("companion_rejected_total", "Events rejected by signature or token checks", "")
	FallbacksTotal  = Default.Counter("companion_generation_fallbacks_total", "Replies that used the fallback text", "")
	StorageFaults   = Default.Counter("companion_storage_faults_total", "Message store operations that failed", "")
	RateEntries     = Default.Gauge("companion_rate_limiter_entries", "Users tracked by the cooldown limiter", "")

	GenerationLatency = Default.Histogram("companion_generation_latency_seconds", "Reply generation latency in seconds", "",
		[]float64{0.25, 0.5, 1, 2, 5, 10, 20})
)

// Delivery returns the proactive send counter for status.
func Delivery(status string) *Counter {
	return Default.Counter("companion_deliveries_total", "Proactive sends by outcome", fmt.Sprintf("status=%q", status))
}
