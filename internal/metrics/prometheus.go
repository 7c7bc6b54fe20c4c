package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/han0110/zkevm-chain/internal/domain"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Pipeline metrics
	runsStartedTotal   prometheus.Counter
	runsCompletedTotal *prometheus.CounterVec
	runDuration        prometheus.Histogram
	stagesTotal        *prometheus.CounterVec
	stageDuration      *prometheus.HistogramVec
	wakeDuration       prometheus.Histogram
	wakeFailuresTotal  prometheus.Counter

	// Orchestrator metrics
	eventsAdmittedTotal *prometheus.CounterVec
	eventsRejectedTotal *prometheus.CounterVec
	runsPreemptedTotal  prometheus.Counter
	eventsInFlight      prometheus.Gauge

	// Workspace metrics
	cleanupsTotal        prometheus.Counter
	cleanupFailuresTotal prometheus.Counter

	// EventBus metrics
	bufferSize      prometheus.Gauge
	emitErrorsTotal prometheus.Counter
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initPipelineMetrics(reg)
	s.initOrchestratorMetrics(reg)
	s.initWorkspaceMetrics(reg)
	s.initEventBusMetrics(reg)
	return s
}

func (s *PrometheusSink) initPipelineMetrics(reg prometheus.Registerer) {
	s.runsStartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "autogen_runs_started_total",
		Help: "Total number of pipeline runs started.",
	})
	s.runsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autogen_runs_completed_total",
		Help: "Total number of pipeline runs finished, by terminal status.",
	}, []string{"status"})
	s.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "autogen_run_duration_seconds",
		Help:    "End-to-end pipeline run duration in seconds.",
		Buckets: []float64{30, 60, 120, 300, 600, 1200, 1800, 3600},
	})
	s.stagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autogen_stage_completions_total",
		Help: "Total number of stage completions, by stage and success.",
	}, []string{"stage", "success"})
	s.stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "autogen_stage_duration_seconds",
		Help:    "Stage execution duration in seconds, by stage.",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{"stage"})
	s.wakeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "autogen_wake_duration_seconds",
		Help:    "Time until the build host reported ready, in seconds.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})
	s.wakeFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "autogen_wake_failures_total",
		Help: "Total number of failed build host wake attempts.",
	})

	s.register(reg, s.runsStartedTotal, "autogen_runs_started_total")
	s.register(reg, s.runsCompletedTotal, "autogen_runs_completed_total")
	s.register(reg, s.runDuration, "autogen_run_duration_seconds")
	s.register(reg, s.stagesTotal, "autogen_stage_completions_total")
	s.register(reg, s.stageDuration, "autogen_stage_duration_seconds")
	s.register(reg, s.wakeDuration, "autogen_wake_duration_seconds")
	s.register(reg, s.wakeFailuresTotal, "autogen_wake_failures_total")
}

func (s *PrometheusSink) initOrchestratorMetrics(reg prometheus.Registerer) {
	s.eventsAdmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autogen_events_admitted_total",
		Help: "Total number of trigger events admitted to the pipeline, by kind.",
	}, []string{"kind"})
	s.eventsRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autogen_events_rejected_total",
		Help: "Total number of trigger events rejected by the gate, by kind.",
	}, []string{"kind"})
	s.runsPreemptedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "autogen_runs_preempted_total",
		Help: "Total number of runs cancelled in favour of a newer event.",
	})
	s.eventsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "autogen_events_in_flight",
		Help: "Number of events currently being processed.",
	})

	s.register(reg, s.eventsAdmittedTotal, "autogen_events_admitted_total")
	s.register(reg, s.eventsRejectedTotal, "autogen_events_rejected_total")
	s.register(reg, s.runsPreemptedTotal, "autogen_runs_preempted_total")
	s.register(reg, s.eventsInFlight, "autogen_events_in_flight")
}

func (s *PrometheusSink) initWorkspaceMetrics(reg prometheus.Registerer) {
	s.cleanupsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "autogen_cleanups_total",
		Help: "Total number of workspace cleanups.",
	})
	s.cleanupFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "autogen_cleanup_failures_total",
		Help: "Total number of cleanups that hit at least one error.",
	})

	s.register(reg, s.cleanupsTotal, "autogen_cleanups_total")
	s.register(reg, s.cleanupFailuresTotal, "autogen_cleanup_failures_total")
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "autogen_eventbus_buffer_size",
		Help: "Current number of events in the event bus buffer.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "autogen_eventbus_emit_errors_total",
		Help: "Total number of emit errors (buffer full).",
	})

	s.register(reg, s.bufferSize, "autogen_eventbus_buffer_size")
	s.register(reg, s.emitErrorsTotal, "autogen_eventbus_emit_errors_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Pipeline metrics implementation

func (s *PrometheusSink) RunStarted() {
	s.runsStartedTotal.Inc()
}

func (s *PrometheusSink) RunCompleted(status domain.RunStatus, duration time.Duration) {
	s.runsCompletedTotal.WithLabelValues(string(status)).Inc()
	s.runDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) StageCompleted(stage string, success bool, duration time.Duration) {
	s.stagesTotal.WithLabelValues(stage, boolLabel(success)).Inc()
	s.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

func (s *PrometheusSink) WakeCompleted(duration time.Duration, err error) {
	if err != nil {
		s.wakeFailuresTotal.Inc()
		return
	}
	s.wakeDuration.Observe(duration.Seconds())
}

// Orchestrator metrics implementation

func (s *PrometheusSink) EventAdmitted(kind domain.EventKind) {
	s.eventsAdmittedTotal.WithLabelValues(string(kind)).Inc()
}

func (s *PrometheusSink) EventRejected(kind domain.EventKind) {
	s.eventsRejectedTotal.WithLabelValues(string(kind)).Inc()
}

func (s *PrometheusSink) RunPreempted() {
	s.runsPreemptedTotal.Inc()
}

func (s *PrometheusSink) EventsInFlightIncr() {
	s.eventsInFlight.Inc()
}

func (s *PrometheusSink) EventsInFlightDecr() {
	s.eventsInFlight.Dec()
}

// Workspace metrics implementation

func (s *PrometheusSink) CleanupCompleted(failed bool) {
	s.cleanupsTotal.Inc()
	if failed {
		s.cleanupFailuresTotal.Inc()
	}
}

// EventBus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
