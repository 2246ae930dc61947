package metrics

import (
	"time"

	"docchat/internal/bus"
)

// Pipeline holds the message pipeline metrics of one collector.
type Pipeline struct {
	c *MetricsCollector

	Messages           *Counter
	Answered           *Counter
	Rejected           *Counter
	AttachmentFailures *Counter
	Connections        *Gauge
	Users              *Gauge
	AILatency          *Histogram
}

func NewPipeline(c *MetricsCollector) *Pipeline {
	return &Pipeline{
		c:                  c,
		Messages:           c.Counter("docchat_messages_total", "Messages accepted by the pipeline", ""),
		Answered:           c.Counter("docchat_messages_answered_total", "Messages answered by the assistant", ""),
		Rejected:           c.Counter("docchat_messages_rejected_total", "Messages rejected during validation", ""),
		AttachmentFailures: c.Counter("docchat_attachment_failures_total", "Attachments whose text could not be extracted", ""),
		Connections:        c.Gauge("docchat_connections", "Open WebSocket connections", ""),
		Users:              c.Gauge("docchat_users_online", "Distinct users with an open connection", ""),
		AILatency: c.Histogram("docchat_ai_latency_seconds", "Chat completion latency in seconds", "",
			[]float64{0.5, 1, 2, 5, 10, 20, 30}),
	}
}

// StageFailures counts pipeline failures per stage (persist, model, render).
func (p *Pipeline) StageFailures(stage string) *Counter {
	return p.c.Counter("docchat_stage_failures_total", "Pipeline failures by stage", Label("stage", stage))
}

// Artifacts counts published files per format.
func (p *Pipeline) Artifacts(format string) *Counter {
	return p.c.Counter("docchat_artifacts_total", "Generated files published to storage", Label("format", format))
}

// Subscribe updates the metrics from pipeline events.
func (p *Pipeline) Subscribe(eb *bus.EventBus) {
	eb.Subscribe(func(e bus.Event) {
		switch e.Type {
		case bus.EventConnected:
			p.Connections.Inc()
		case bus.EventDisconnected:
			p.Connections.Dec()
		case bus.EventMessageReceived:
			p.Messages.Inc()
		case bus.EventMessageRejected:
			p.Rejected.Inc()
		case bus.EventAttachmentFailed:
			p.AttachmentFailures.Inc()
		case bus.EventModelCompleted:
			if d, ok := e.Payload["latency"].(time.Duration); ok {
				p.AILatency.Observe(d.Seconds())
			}
		case bus.EventModelFailed:
			p.StageFailures("model").Inc()
		case bus.EventRenderFailed:
			p.StageFailures("render").Inc()
		case bus.EventArtifactPublished:
			if f, ok := e.Payload["format"].(string); ok {
				p.Artifacts(f).Inc()
			}
		case bus.EventPersistFailed:
			p.StageFailures("persist").Inc()
		case bus.EventMessageAnswered:
			p.Answered.Inc()
		}
	})
}
