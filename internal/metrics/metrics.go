package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	uploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pagepicker",
			Name:      "uploads_total",
			Help:      "Document loads by source (upload, ref) and result",
		},
		[]string{"source", "result"},
	)

	specParses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pagepicker",
			Name:      "spec_parses_total",
			Help:      "Page spec validations by outcome (ok, cleared, unvalidated or error kind)",
		},
		[]string{"outcome"},
	)

	extractions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pagepicker",
			Name:      "extractions_total",
			Help:      "Extractions by mode (plain, booklet) and result",
		},
		[]string{"mode", "result"},
	)

	extractLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pagepicker",
			Name:      "extraction_duration_seconds",
			Help:      "Duration of extractions by mode",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	pagesExtracted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pagepicker",
			Name:      "pages_extracted_total",
			Help:      "Total pages written into extracted documents",
		},
	)

	staleResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pagepicker",
			Name:      "stale_results_total",
			Help:      "Results discarded because a newer request superseded them, by operation",
		},
		[]string{"op"},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pagepicker",
			Name:      "active_sessions",
			Help:      "Sessions held in memory",
		},
	)
)

// Init registers collectors.
func Init() {
	prometheus.MustRegister(uploads, specParses, extractions, extractLatency, pagesExtracted, staleResults, activeSessions)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func IncUpload(source, result string) { uploads.WithLabelValues(source, result).Inc() }
func IncSpecParse(outcome string)     { specParses.WithLabelValues(outcome).Inc() }
func IncStale(op string)              { staleResults.WithLabelValues(op).Inc() }
func SetActiveSessions(n int)         { activeSessions.Set(float64(n)) }

func ObserveExtraction(booklet bool, result string, pages int, dur time.Duration) {
	mode := modeLabel(booklet)
	extractions.WithLabelValues(mode, result).Inc()
	extractLatency.WithLabelValues(mode).Observe(dur.Seconds())
	if result == "success" {
		pagesExtracted.Add(float64(pages))
	}
}

func modeLabel(booklet bool) string {
	if booklet {
		return "booklet"
	}
	return "plain"
}
