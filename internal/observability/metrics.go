package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zhouzirui/doorbell-lab/backend/internal/service/simulation"
)

// LabCollector bundles Prometheus metrics for the lab: choreography events,
// message outcomes, assistant calls, live clients and the HTTP surface.
type LabCollector struct {
	gatherer prometheus.Gatherer

	Events            *prometheus.CounterVec
	Messages          *prometheus.CounterVec
	AssistantRequests *prometheus.CounterVec
	AssistantDuration *prometheus.HistogramVec
	LiveClients       *prometheus.GaugeVec
	MirrorPublishes   *prometheus.CounterVec
	HTTPRequests      *prometheus.CounterVec
	HTTPDurations     *prometheus.HistogramVec
}

// NewLabCollector registers lab metrics against reg, defaulting to the global
// Prometheus registry when nil.
func NewLabCollector(reg prometheus.Registerer) (*LabCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	events, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lab_events_total",
		Help: "Choreography events, labeled by event type.",
	}, []string{"type"}), "lab_events_total")
	if err != nil {
		return nil, err
	}

	messages, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lab_messages_total",
		Help: "Doorbell messages by final outcome (delivered, dropped, lost, aborted).",
	}, []string{"outcome"}), "lab_messages_total")
	if err != nil {
		return nil, err
	}

	assistantRequests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lab_assistant_requests_total",
		Help: "Assistant calls by result (ok, empty, error).",
	}, []string{"result"}), "lab_assistant_requests_total")
	if err != nil {
		return nil, err
	}

	assistantDuration, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lab_assistant_duration_seconds",
		Help:    "Assistant call latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"result"}), "lab_assistant_duration_seconds")
	if err != nil {
		return nil, err
	}

	liveClients, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lab_live_clients",
		Help: "Connected live state subscribers, labeled by transport.",
	}, []string{"transport"}), "lab_live_clients")
	if err != nil {
		return nil, err
	}

	mirrorPublishes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lab_mirror_publishes_total",
		Help: "MQTT mirror publishes by result (ok, error, dropped).",
	}, []string{"result"}), "lab_mirror_publishes_total")
	if err != nil {
		return nil, err
	}

	httpRequests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lab_http_requests_total",
		Help: "Handled HTTP requests, labeled by method, route pattern, and status code.",
	}, []string{"method", "route", "code"}), "lab_http_requests_total")
	if err != nil {
		return nil, err
	}

	httpDurations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lab_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"method", "route"}), "lab_http_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &LabCollector{
		gatherer:          gatherer,
		Events:            events,
		Messages:          messages,
		AssistantRequests: assistantRequests,
		AssistantDuration: assistantDuration,
		LiveClients:       liveClients,
		MirrorPublishes:   mirrorPublishes,
		HTTPRequests:      httpRequests,
		HTTPDurations:     httpDurations,
	}, nil
}

// OnEvent counts choreography events and the message outcomes they imply.
func (c *LabCollector) OnEvent(ev simulation.Event) {
	if c == nil {
		return
	}
	c.Events.WithLabelValues(string(ev.Type)).Inc()

	switch ev.Type {
	case simulation.EventDeliver:
		c.Messages.WithLabelValues("delivered").Inc()
	case simulation.EventDrop:
		c.Messages.WithLabelValues("dropped").Inc()
	case simulation.EventLost:
		c.Messages.WithLabelValues("lost").Inc()
	case simulation.EventAbort:
		c.Messages.WithLabelValues("aborted").Inc()
	}
}

// ObserveAssistant records one assistant call.
func (c *LabCollector) ObserveAssistant(result string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.AssistantRequests.WithLabelValues(result).Inc()
	c.AssistantDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}

// ClientConnected bumps the live client gauge for transport.
func (c *LabCollector) ClientConnected(transport string) {
	if c == nil {
		return
	}
	c.LiveClients.WithLabelValues(transport).Inc()
}

// ClientDisconnected decrements the live client gauge for transport.
func (c *LabCollector) ClientDisconnected(transport string) {
	if c == nil {
		return
	}
	c.LiveClients.WithLabelValues(transport).Dec()
}

// ObserveMirrorPublish records the result of one mirror publish.
func (c *LabCollector) ObserveMirrorPublish(err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.MirrorPublishes.WithLabelValues(result).Inc()
}

// ObserveMirrorDropped records a message dropped because the mirror queue was full.
func (c *LabCollector) ObserveMirrorDropped() {
	if c == nil {
		return
	}
	c.MirrorPublishes.WithLabelValues("dropped").Inc()
}

// Middleware records request counts and durations keyed by the chi route
// pattern, so path parameters do not explode label cardinality.
func (c *LabCollector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		c.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		c.HTTPDurations.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes a ready-to-use /metrics handler.
func (c *LabCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
