// File: internal/metrics/metrics.go
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "balatro_agent"

// Collector records session telemetry. It satisfies agent.Recorder.
type Collector struct {
	registry *prometheus.Registry

	sessionsStarted *prometheus.CounterVec
	sessionOutcomes *prometheus.CounterVec
	sessionSteps    *prometheus.HistogramVec
	toolCalls       *prometheus.CounterVec
	modelCalls      *prometheus.CounterVec
}

// NewCollector creates a collector backed by its own registry, so several
// collectors can coexist in one process (and in tests).
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		sessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Sessions started, by variant.",
		}, []string{"variant"}),
		sessionOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_outcomes_total",
			Help:      "Finished sessions, by variant and termination reason.",
		}, []string{"variant", "reason"}),
		sessionSteps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_steps",
			Help:      "Capture cycles per finished session.",
			Buckets:   []float64{1, 2, 5, 10, 20, 40, 80, 120, 200},
		}, []string{"variant"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Dispatched tool calls, by tool and result code.",
		}, []string{"tool", "code"}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_calls_total",
			Help:      "Model calls, by stage and status.",
		}, []string{"stage", "status"}),
	}
	c.registry.MustRegister(
		c.sessionsStarted,
		c.sessionOutcomes,
		c.sessionSteps,
		c.toolCalls,
		c.modelCalls,
		prometheus.NewGoCollector(),
	)
	return c
}

func (c *Collector) SessionStarted(variant string) {
	c.sessionsStarted.WithLabelValues(variant).Inc()
}

func (c *Collector) SessionFinished(variant, reason string, steps int) {
	c.sessionOutcomes.WithLabelValues(variant, reason).Inc()
	c.sessionSteps.WithLabelValues(variant).Observe(float64(steps))
}

// ToolCalled counts one dispatch. An empty code means the call succeeded.
func (c *Collector) ToolCalled(tool, code string) {
	if code == "" {
		code = "OK"
	}
	c.toolCalls.WithLabelValues(tool, code).Inc()
}

func (c *Collector) ModelCalled(stage string, err error) {
	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		status = "timeout"
	default:
		status = "error"
	}
	c.modelCalls.WithLabelValues(stage, status).Inc()
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the collector in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Metrics endpoint listening.", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
