package offline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	responsesServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ergoquiz_offline_responses_total",
			Help: "Responses served by the offline manager, by strategy and source",
		},
		[]string{"strategy", "source"},
	)

	revalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ergoquiz_offline_revalidations_total",
			Help: "Background revalidations of cached data resources, by outcome",
		},
		[]string{"outcome"},
	)

	precacheFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ergoquiz_offline_precache_failures_total",
			Help: "Manifest assets that could not be fetched during install",
		},
	)
)
