package gateway

import (
	"context"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Jmemon/contextual-clarity-sub001/internal/event"
)

// Exporter turns session events into Prometheus counters. Start subscribes
// it to the bus; Observe is exposed for direct use.
type Exporter struct {
	bus *event.Bus

	sessions    *prometheus.CounterVec
	points      *prometheus.CounterVec
	evaluations *prometheus.CounterVec
	messages    *prometheus.CounterVec
	tangents    *prometheus.CounterVec
	chunks      prometheus.Counter

	mu   sync.Mutex
	sub  *event.Subscription
	done chan struct{}
}

// NewExporter creates the collectors and registers them, together with a
// dropped-events counter read from bus, on reg.
func NewExporter(bus *event.Bus, reg prometheus.Registerer) *Exporter {
	e := &Exporter{
		bus: bus,
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clarity_sessions_total",
			Help: "Session lifecycle transitions by event.",
		}, []string{"event"}),
		points: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clarity_points_resolved_total",
			Help: "Resolved recall points by outcome.",
		}, []string{"success", "forced"}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clarity_evaluations_total",
			Help: "Recall evaluations by whether they qualified and whether they degraded.",
		}, []string{"qualified", "degraded"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clarity_messages_total",
			Help: "Persisted session messages by author.",
		}, []string{"role"}),
		tangents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clarity_tangents_total",
			Help: "Tangent events by action.",
		}, []string{"action"}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clarity_stream_chunks_total",
			Help: "Streamed tutor chunks published.",
		}),
	}
	if reg != nil {
		reg.MustRegister(e.sessions, e.points, e.evaluations, e.messages, e.tangents, e.chunks,
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Name: "clarity_events_dropped_total",
				Help: "Events dropped because a subscriber buffer was full.",
			}, func() float64 { return float64(bus.Dropped()) }),
		)
	}
	return e
}

// Start subscribes to the bus.
func (e *Exporter) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sub != nil {
		return nil
	}
	e.sub = e.bus.Subscribe(event.Buffer(1024))
	e.done = make(chan struct{})
	go func(sub *event.Subscription, done chan struct{}) {
		defer close(done)
		for evt := range sub.C() {
			e.Observe(evt)
		}
	}(e.sub, e.done)
	return nil
}

// Stop unsubscribes and drains.
func (e *Exporter) Stop(ctx context.Context) error {
	e.mu.Lock()
	sub, done := e.sub, e.done
	e.sub, e.done = nil, nil
	e.mu.Unlock()
	if sub == nil {
		return nil
	}
	sub.Close()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Observe records one event.
func (e *Exporter) Observe(evt event.Event) {
	switch evt.Type {
	case event.SessionStarted, event.SessionPaused, event.SessionAbandoned, event.SessionCompleted:
		e.sessions.WithLabelValues(string(evt.Type)).Inc()
	case event.PointRecalled:
		if p, ok := evt.Payload.(event.PointRecalledPayload); ok {
			e.points.WithLabelValues(strconv.FormatBool(p.Success), strconv.FormatBool(p.Forced)).Inc()
		}
	case event.PointEvaluated:
		if p, ok := evt.Payload.(event.PointEvaluatedPayload); ok {
			e.evaluations.WithLabelValues(strconv.FormatBool(p.Qualified), strconv.FormatBool(p.Degraded)).Inc()
		}
	case event.UserMessage:
		e.messages.WithLabelValues("user").Inc()
	case event.AssistantMessage:
		e.messages.WithLabelValues("assistant").Inc()
	case event.AssistantChunk:
		e.chunks.Inc()
	case event.TangentSuggested, event.TangentDeclined, event.TangentEntered, event.TangentExited:
		e.tangents.WithLabelValues(string(evt.Type)).Inc()
	}
}
