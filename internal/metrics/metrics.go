// Package metrics holds the service's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// URLsCreated counts successfully stored short links
	URLsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shortit_urls_created_total",
		Help: "Number of short URLs created",
	})

	// Redirects counts redirects by where the target came from
	Redirects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shortit_redirects_total",
		Help: "Number of redirects served",
	}, []string{"source"}) // source: cache, store

	// RateLimited counts rejected create calls
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shortit_rate_limited_total",
		Help: "Number of create requests rejected by the rate limiter",
	})

	// AnalyticsJobs counts background click jobs by outcome
	AnalyticsJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shortit_analytics_jobs_total",
		Help: "Background click recording jobs",
	}, []string{"outcome"}) // outcome: recorded, not_found, failed, dropped

	// GeoLookupDuration observes calls to the geolocation provider
	GeoLookupDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shortit_geo_lookup_duration_seconds",
		Help:    "Geolocation provider latency",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3},
	}, []string{"result"}) // result: ok, error
)
