// Package metrics exposes Prometheus instrumentation for the intent
// pipeline and the HTTP API.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	intentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentguard",
		Name:      "intents_total",
		Help:      "Intents processed by the execution pipeline, by kind and outcome.",
	}, []string{"kind", "chain", "outcome"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentguard",
		Name:      "pipeline_stage_duration_seconds",
		Help:      "Wall time spent in each pipeline stage.",
		Buckets:   []float64{0.001, 0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 15, 60},
	}, []string{"stage"})

	stageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentguard",
		Name:      "pipeline_stage_failures_total",
		Help:      "Pipeline executions that terminated at a given stage, by error code.",
	}, []string{"stage", "code"})

	policyDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentguard",
		Name:      "policy_denials_total",
		Help:      "Intents denied by the policy engine, by policy id.",
	}, []string{"policy"})

	executionsInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentguard",
		Name:      "executions_inflight",
		Help:      "Pipeline executions currently in progress.",
	})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentguard",
		Name:      "http_requests_total",
		Help:      "HTTP requests processed by the API server.",
	}, []string{"handler", "method", "code"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentguard",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"handler", "method"})
)

// ObserveIntent records one completed pipeline run.
func ObserveIntent(kind, chain, outcome string) {
	intentsTotal.WithLabelValues(kind, chain, outcome).Inc()
}

// ObserveStage records how long a pipeline stage ran.
func ObserveStage(stage string, d time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveStageFailure records an execution that terminated at the given stage.
func ObserveStageFailure(stage, code string) {
	stageFailures.WithLabelValues(stage, code).Inc()
}

// ObservePolicyDenial records a denial attributed to a policy.
func ObservePolicyDenial(policyID string) {
	policyDenials.WithLabelValues(policyID).Inc()
}

// ExecutionStarted marks an execution as in flight; the returned func
// marks it finished.
func ExecutionStarted() func() {
	executionsInflight.Inc()
	return executionsInflight.Dec
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// Handler exposes the metrics in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartServer launches a standalone HTTP server exposing /metrics. It
// blocks until ctx is cancelled or the listener fails.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
