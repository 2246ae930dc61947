package metrics

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"docchat/internal/bus"
)

func TestCollector_TextFormat(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("docchat_test_total", "Test counter", "").Add(3)
	c.Counter("docchat_labeled_total", "Labeled", Label("stage", "model")).Inc()
	c.Gauge("docchat_open", "Open things", "").Set(7)
	h := c.Histogram("docchat_latency_seconds", "Latency", "", []float64{5, 1})
	h.Observe(0.5)
	h.Observe(3)

	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
	for _, want := range []string{
		"# TYPE docchat_test_total counter\ndocchat_test_total 3\n",
		`docchat_labeled_total{stage="model"} 1`,
		"docchat_open 7\n",
		`docchat_latency_seconds_bucket{le="1"} 1`,
		`docchat_latency_seconds_bucket{le="5"} 2`,
		`docchat_latency_seconds_bucket{le="+Inf"} 2`,
		"docchat_latency_seconds_count 2\n",
		"docchat_latency_seconds_sum 3.500000\n",
		"docchat_uptime_seconds ",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("output missing %q:\n%s", want, body)
		}
	}
}

func TestCollector_SameKeySameMetric(t *testing.T) {
	c := NewMetricsCollector()
	a := c.Counter("x_total", "x", "")
	b := c.Counter("x_total", "x", "")
	if a != b {
		t.Error("expected the same counter instance")
	}
	if c.Counter("x_total", "x", Label("k", "v")) == a {
		t.Error("labels should create a separate series")
	}
}

func TestCollector_KindConflictPanics(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("docchat_things", "things", "")
	defer func() {
		if recover() == nil {
			t.Error("expected a panic when reusing a counter name as a gauge")
		}
	}()
	c.Gauge("docchat_things", "things", "")
}

func TestPipeline_Subscribe(t *testing.T) {
	eb := bus.NewEventBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	p := NewPipeline(NewMetricsCollector())
	p.Subscribe(eb)

	eb.Emit(bus.Event{Type: bus.EventConnected})
	eb.Emit(bus.Event{Type: bus.EventConnected})
	eb.Emit(bus.Event{Type: bus.EventDisconnected})
	eb.Emit(bus.Event{Type: bus.EventMessageReceived, RoomID: "r"})
	eb.Emit(bus.Event{Type: bus.EventMessageRejected})
	eb.Emit(bus.Event{Type: bus.EventAttachmentFailed})
	eb.Emit(bus.Event{Type: bus.EventModelCompleted, Payload: map[string]any{"latency": 1500 * time.Millisecond}})
	eb.Emit(bus.Event{Type: bus.EventModelFailed})
	eb.Emit(bus.Event{Type: bus.EventRenderFailed})
	eb.Emit(bus.Event{Type: bus.EventPersistFailed})
	eb.Emit(bus.Event{Type: bus.EventArtifactPublished, Payload: map[string]any{"format": "excel"}})
	eb.Emit(bus.Event{Type: bus.EventMessageAnswered})

	checks := []struct {
		name string
		got  int64
		want int64
	}{
		{"connections", p.Connections.Value(), 1},
		{"messages", p.Messages.Value(), 1},
		{"rejected", p.Rejected.Value(), 1},
		{"attachments", p.AttachmentFailures.Value(), 1},
		{"latency samples", p.AILatency.Count(), 1},
		{"model failures", p.StageFailures("model").Value(), 1},
		{"render failures", p.StageFailures("render").Value(), 1},
		{"persist failures", p.StageFailures("persist").Value(), 1},
		{"excel artifacts", p.Artifacts("excel").Value(), 1},
		{"answered", p.Answered.Value(), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
}
