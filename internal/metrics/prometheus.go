package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/hamzaKhattat/call-mediator/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type PrometheusMetrics struct {
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
	gatherer   prometheus.Gatherer
	mu         sync.Mutex
	server     *http.Server
}

// NewPrometheusMetrics registers the call mediator's collectors with reg.
// A nil reg uses a fresh registry.
func NewPrometheusMetrics(reg *prometheus.Registry) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	pm := &PrometheusMetrics{
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		gatherer:   reg,
	}
	pm.registerMetrics(reg)
	return pm
}

func (pm *PrometheusMetrics) registerMetrics(reg prometheus.Registerer) {
	// Counters
	pm.counters["calls_added"] = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callmediator_calls_added_total",
			Help: "Calls added to the registry",
		},
		[]string{"direction", "self_managed"},
	)

	pm.counters["calls_removed"] = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callmediator_calls_removed_total",
			Help: "Calls removed from the registry",
		},
		[]string{"direction", "cause"},
	)

	pm.counters["call_state_transitions"] = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callmediator_call_state_transitions_total",
			Help: "Call state transitions",
		},
		[]string{"from", "to"},
	)

	pm.counters["admission_denied"] = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callmediator_admission_denied_total",
			Help: "Calls refused by admission control",
		},
		[]string{"direction", "reason"},
	)

	pm.counters["handovers"] = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callmediator_handovers_total",
			Help: "Handovers by outcome",
		},
		[]string{"outcome"},
	)

	pm.counters["audio_route_changes"] = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callmediator_audio_route_changes_total",
			Help: "Audio route changes by destination route",
		},
		[]string{"route"},
	)

	// Histograms
	pm.histograms["call_duration"] = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "callmediator_call_duration_seconds",
			Help:    "Connected duration of removed calls",
			Buckets: []float64{5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"direction"},
	)

	// Gauges
	pm.gauges["live_calls"] = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "callmediator_live_calls",
			Help: "Calls currently in the registry",
		},
		[]string{},
	)

	pm.gauges["audio_route"] = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "callmediator_audio_route",
			Help: "1 for the current audio route, 0 otherwise",
		},
		[]string{"route"},
	)

	pm.gauges["audio_muted"] = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "callmediator_audio_muted",
			Help: "1 while the microphone is muted",
		},
		[]string{},
	)

	pm.gauges["can_add_call"] = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "callmediator_can_add_call",
			Help: "1 while another call may be added",
		},
		[]string{},
	)

	for _, counter := range pm.counters {
		reg.MustRegister(counter)
	}
	for _, histogram := range pm.histograms {
		reg.MustRegister(histogram)
	}
	for _, gauge := range pm.gauges {
		reg.MustRegister(gauge)
	}
}

func (pm *PrometheusMetrics) IncrementCounter(name string, labels map[string]string) {
	if counter, exists := pm.counters[name]; exists {
		counter.With(prometheus.Labels(labels)).Inc()
	}
}

func (pm *PrometheusMetrics) ObserveHistogram(name string, value float64, labels map[string]string) {
	if histogram, exists := pm.histograms[name]; exists {
		histogram.With(prometheus.Labels(labels)).Observe(value)
	}
}

func (pm *PrometheusMetrics) SetGauge(name string, value float64, labels map[string]string) {
	if gauge, exists := pm.gauges[name]; exists {
		if labels == nil {
			labels = make(map[string]string)
		}
		gauge.With(prometheus.Labels(labels)).Set(value)
	}
}

func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.gatherer, promhttp.HandlerOpts{})
}

// ServeHTTP serves /metrics on port until Shutdown.
func (pm *PrometheusMetrics) ServeHTTP(port int) error {
	router := mux.NewRouter()
	router.Handle("/metrics", pm.Handler()).Methods("GET")

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	pm.mu.Lock()
	pm.server = server
	pm.mu.Unlock()

	logger.WithField("addr", server.Addr).Info("Metrics server started")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts down the metrics server if ServeHTTP started one.
func (pm *PrometheusMetrics) Stop(ctx context.Context) error {
	pm.mu.Lock()
	server := pm.server
	pm.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}
