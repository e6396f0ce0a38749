package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PublishedEntriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geocab_publish_entries_total",
		Help: "Driver entries appended to cell buckets",
	})
	BookingsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geocab_bookings_total",
		Help: "Trip bookings by result",
	}, []string{"result"})
	CompletionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geocab_completions_total",
		Help: "Trip completions by result",
	}, []string{"result"})
	FeeChangesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geocab_fee_changes_total",
		Help: "Fee change attempts by result",
	}, []string{"result"})
	MatchCandidates = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "geocab_match_candidates",
		Help:    "Candidates scanned per successful match",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 500},
	})
	NotificationsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geocab_notifications_dropped_total",
		Help: "TripBooked notifications dropped because a client was slow",
	})
)

func init() {
	prometheus.MustRegister(PublishedEntriesTotal)
	prometheus.MustRegister(BookingsTotal)
	prometheus.MustRegister(CompletionsTotal)
	prometheus.MustRegister(FeeChangesTotal)
	prometheus.MustRegister(MatchCandidates)
	prometheus.MustRegister(NotificationsDroppedTotal)
}

// Result maps an error to a metric label.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func Handler() http.Handler {
	return promhttp.Handler()
}
