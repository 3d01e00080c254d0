package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every curator collector. It is separate from the default
// registry so tests can gather it without global side effects.
var Registry = prometheus.NewRegistry()

var (
	indexRecords = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "curator",
		Subsystem: "index",
		Name:      "records",
		Help:      "Mapping records held in the active index.",
	}, []string{"entity_type", "status"})

	suggestionsReturned = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "curator",
		Subsystem: "resolver",
		Name:      "suggestions_returned",
		Help:      "Suggestions returned per unmapped record.",
		Buckets:   []float64{0, 1, 2, 5, 10, 20},
	})

	suggestionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "curator",
		Subsystem: "resolver",
		Name:      "scan_seconds",
		Help:      "Time spent ranking one candidate pool.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
	})

	rebuilds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "curator",
		Name:      "rebuilds_total",
		Help:      "Index rebuilds from rule files by result.",
	}, []string{"result"})

	registrations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "curator",
		Name:      "unmapped_registrations_total",
		Help:      "New unmapped attribute combinations registered.",
	}, []string{"entity_type"})

	corrections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "curator",
		Name:      "corrections_total",
		Help:      "Curator decisions applied by source.",
	}, []string{"source"})

	ontologyTerms = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "curator",
		Subsystem: "ontology",
		Name:      "terms",
		Help:      "Ontology terms stored per entity type.",
	}, []string{"entity_type"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		indexRecords,
		suggestionsReturned,
		suggestionDuration,
		rebuilds,
		registrations,
		corrections,
		ontologyTerms,
	)
}

// ObserveIndex replaces the index gauge with counts[entityType][status].
func ObserveIndex(counts map[string]map[string]int) {
	indexRecords.Reset()
	for entityType, byStatus := range counts {
		for status, n := range byStatus {
			indexRecords.WithLabelValues(entityType, status).Set(float64(n))
		}
	}
}

func ObserveSuggestions(n int, took time.Duration) {
	suggestionsReturned.Observe(float64(n))
	suggestionDuration.Observe(took.Seconds())
}

func RecordRebuild(err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	rebuilds.WithLabelValues(result).Inc()
}

func RecordRegistration(entityType string) {
	registrations.WithLabelValues(entityType).Inc()
}

func RecordCorrections(source string, n int) {
	corrections.WithLabelValues(source).Add(float64(n))
}

func ObserveOntologyTerms(entityType string, n int) {
	ontologyTerms.WithLabelValues(entityType).Set(float64(n))
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
