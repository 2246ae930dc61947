// Package metrics is a small Prometheus-text metrics collector. Pipeline
// counters are fed from the event bus.
package metrics

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide collector served by `docchat serve`.
var Collector = NewMetricsCollector()

type kind string

const (
	kindCounter   kind = "counter"
	kindGauge     kind = "gauge"
	kindHistogram kind = "histogram"
)

// family groups the series sharing a metric name.
type family struct {
	name   string
	help   string
	kind   kind
	series map[string]any // labels -> *Counter | *Gauge | *Histogram
}

type MetricsCollector struct {
	started time.Time

	mu       sync.RWMutex
	families map[string]*family
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{started: time.Now(), families: make(map[string]*family)}
}

func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.started)
}

type Counter struct{ v atomic.Int64 }

func (c *Counter) Inc()         { c.v.Add(1) }
func (c *Counter) Add(n int64)  { c.v.Add(n) }
func (c *Counter) Value() int64 { return c.v.Load() }

type Gauge struct{ v atomic.Int64 }

func (g *Gauge) Set(v int64)  { g.v.Store(v) }
func (g *Gauge) Inc()         { g.v.Add(1) }
func (g *Gauge) Dec()         { g.v.Add(-1) }
func (g *Gauge) Value() int64 { return g.v.Load() }

// Histogram keeps per-bucket counts; exposition makes them cumulative.
type Histogram struct {
	bounds []float64 // sorted upper bounds, +Inf excluded

	mu     sync.Mutex
	counts []int64 // len(bounds)+1, last is the +Inf overflow
	sum    float64
}

func (h *Histogram) Observe(v float64) {
	i, _ := slices.BinarySearch(h.bounds, v)
	h.mu.Lock()
	h.counts[i]++
	h.sum += v
	h.mu.Unlock()
}

func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	var n int64
	for _, c := range h.counts {
		n += c
	}
	return n
}

// Label formats a single name="value" pair.
func Label(name, value string) string {
	return name + "=" + strconv.Quote(value)
}

// lookup returns the series for name{labels}, creating it with mk.
func (c *MetricsCollector) lookup(name, help string, k kind, labels string, mk func() any) any {
	c.mu.RLock()
	if f, ok := c.families[name]; ok {
		if m, ok := f.series[labels]; ok {
			c.mu.RUnlock()
			return m
		}
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.families[name]
	if !ok {
		f = &family{name: name, help: help, kind: k, series: make(map[string]any)}
		c.families[name] = f
	}
	if f.kind != k {
		panic(fmt.Sprintf("metrics: %s registered as %s, requested as %s", name, f.kind, k))
	}
	m, ok := f.series[labels]
	if !ok {
		m = mk()
		f.series[labels] = m
	}
	return m
}

// Counter returns or creates the counter name{labels}.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	return c.lookup(name, help, kindCounter, labels, func() any { return new(Counter) }).(*Counter)
}

func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	return c.lookup(name, help, kindGauge, labels, func() any { return new(Gauge) }).(*Gauge)
}

// Histogram returns or creates a histogram; bounds are only used on
// creation and +Inf is implied.
func (c *MetricsCollector) Histogram(name, help, labels string, bounds []float64) *Histogram {
	return c.lookup(name, help, kindHistogram, labels, func() any {
		b := slices.DeleteFunc(slices.Clone(bounds), func(v float64) bool { return math.IsInf(v, 1) })
		slices.Sort(b)
		return &Histogram{bounds: b, counts: make([]int64, len(b)+1)}
	}).(*Histogram)
}

func series(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

func withLabel(labels, extra string) string {
	if labels == "" {
		return extra
	}
	return labels + "," + extra
}

// WriteTo renders every metric in Prometheus text exposition format,
// families and series sorted by name.
func (c *MetricsCollector) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	cw := &countingWriter{w: bw}
	fmt.Fprintf(cw, "# HELP docchat_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(cw, "# TYPE docchat_uptime_seconds gauge\n")
	fmt.Fprintf(cw, "docchat_uptime_seconds %d\n", int64(c.Uptime().Seconds()))

	c.mu.RLock()
	names := make([]string, 0, len(c.families))
	for n := range c.families {
		names = append(names, n)
	}
	slices.Sort(names)
	for _, n := range names {
		f := c.families[n]
		fmt.Fprintf(cw, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, f.kind)
		labelSets := make([]string, 0, len(f.series))
		for l := range f.series {
			labelSets = append(labelSets, l)
		}
		slices.Sort(labelSets)
		for _, l := range labelSets {
			switch m := f.series[l].(type) {
			case *Counter:
				fmt.Fprintf(cw, "%s %d\n", series(f.name, l), m.Value())
			case *Gauge:
				fmt.Fprintf(cw, "%s %d\n", series(f.name, l), m.Value())
			case *Histogram:
				m.writeTo(cw, f.name, l)
			}
		}
	}
	c.mu.RUnlock()

	if err := bw.Flush(); err != nil && cw.err == nil {
		cw.err = err
	}
	return cw.n, cw.err
}

func (h *Histogram) writeTo(w io.Writer, name, labels string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var cum int64
	for i, b := range h.bounds {
		cum += h.counts[i]
		le := Label("le", strconv.FormatFloat(b, 'g', -1, 64))
		fmt.Fprintf(w, "%s %d\n", series(name+"_bucket", withLabel(labels, le)), cum)
	}
	cum += h.counts[len(h.bounds)]
	fmt.Fprintf(w, "%s %d\n", series(name+"_bucket", withLabel(labels, `le="+Inf"`)), cum)
	fmt.Fprintf(w, "%s %d\n", series(name+"_count", labels), cum)
	fmt.Fprintf(w, "%s %f\n", series(name+"_sum", labels), h.sum)
}

type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	if cw.err != nil {
		return 0, cw.err
	}
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	cw.err = err
	return n, err
}

// Handler serves the text exposition.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		c.WriteTo(w)
	}
}
