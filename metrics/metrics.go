package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicketsSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "matchmaking_tickets_submitted_total",
			Help: "Total matchmaking tickets submitted to the provider",
		},
	)

	CancelsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchmaking_cancels_total",
			Help: "Total cancel requests by outcome",
		},
		[]string{"result"}, // cancelled|not_cancelled
	)

	MatchEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchmaking_match_events_total",
			Help: "Total match-success events processed by outcome",
		},
		[]string{"result"}, // success|failure
	)

	MatchEventDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "matchmaking_match_event_duration_seconds",
			Help:    "Duration of match-success event fan-out",
			Buckets: prometheus.DefBuckets,
		},
	)

	PushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchmaking_pushes_total",
			Help: "Total matched notifications pushed by outcome",
		},
		[]string{"result"}, // delivered|gone
	)

	PointersSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "matchmaking_pointers_swept_total",
			Help: "Total stale matching pointers removed by the janitor",
		},
	)
)

func init() {
	prometheus.MustRegister(TicketsSubmitted)
	prometheus.MustRegister(CancelsTotal)
	prometheus.MustRegister(MatchEventsTotal)
	prometheus.MustRegister(MatchEventDuration)
	prometheus.MustRegister(PushesTotal)
	prometheus.MustRegister(PointersSwept)
}

func Register(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
}
