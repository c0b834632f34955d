package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/doeshing/hostq/internal/domain"
)

// Metrics holds the answer metrics on a registry private to one sink.
type Metrics struct {
	registry *prometheus.Registry

	Answers     *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
	Reliability prometheus.Histogram
	Dropped     prometheus.Counter
}

func newMetrics(queueDepth func() float64) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	m := &Metrics{
		registry: reg,
		Answers: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hostq_answers_total",
			Help: "Answers produced, by origin tier and reliability label",
		}, []string{"origin", "label"}),
		Duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hostq_answer_duration_seconds",
			Help:    "Time from question to answer, by origin tier",
			Buckets: []float64{0.01, 0.05, 0.15, 0.5, 1, 2, 4, 6, 9, 15},
		}, []string{"origin"}),
		Reliability: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hostq_answer_reliability",
			Help:    "Reliability score of produced answers",
			Buckets: []float64{0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1},
		}),
		Dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "hostq_telemetry_dropped_total",
			Help: "Telemetry events dropped because the queue was full",
		}),
	}
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "hostq_telemetry_queue_depth",
		Help: "Telemetry events waiting for the worker",
	}, queueDepth)
	return m
}

func (m *Metrics) observe(event domain.TelemetryEvent) {
	m.Answers.WithLabelValues(string(event.Origin), string(event.Label)).Inc()
	m.Duration.WithLabelValues(string(event.Origin)).Observe(event.Elapsed.Seconds())
	m.Reliability.Observe(event.Reliability)
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ServeMetrics listens on addr until ctx ends.
func ServeMetrics(ctx context.Context, addr string, handler http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
