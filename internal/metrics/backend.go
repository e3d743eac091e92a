// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vegtrace_api_requests_total",
		Help: "Backend API calls by endpoint and outcome",
	}, []string{"endpoint", "outcome"}) // outcome=success|failure|rejected|cached|shared

	APIRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vegtrace_api_retries_total",
		Help: "Backend API retry attempts by endpoint",
	}, []string{"endpoint"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vegtrace_api_request_duration_seconds",
		Help:    "Backend API attempt latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	CacheOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vegtrace_cache_operations_total",
		Help: "Read cache lookups by backend and result",
	}, []string{"backend", "result"}) // result=hit|miss

	ConfigReloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vegtrace_config_reloads_total",
		Help: "Configuration reload attempts by outcome",
	}, []string{"outcome"})
)

// RecordAPIRequest counts one backend call.
func RecordAPIRequest(endpoint, outcome string) {
	APIRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
}

// RecordAPIRetry counts one retry.
func RecordAPIRetry(endpoint string) {
	APIRetriesTotal.WithLabelValues(endpoint).Inc()
}

// RecordCacheLookup counts one cache lookup.
func RecordCacheLookup(backend string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheOperationsTotal.WithLabelValues(backend, result).Inc()
}

// RecordConfigReload counts one reload.
func RecordConfigReload(outcome string) {
	ConfigReloadsTotal.WithLabelValues(outcome).Inc()
}
