package serviceworker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guidesite",
			Subsystem: "sw",
			Name:      "fetch_total",
			Help:      "Fetch events by policy and outcome",
		},
		[]string{"policy", "outcome"},
	)

	precacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guidesite",
			Subsystem: "sw",
			Name:      "precache_total",
			Help:      "Precached URLs by result",
		},
		[]string{"result"},
	)

	generationsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "guidesite",
			Subsystem: "sw",
			Name:      "generations_deleted_total",
			Help:      "Cache generations removed on activation",
		},
	)
)
