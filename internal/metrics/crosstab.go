// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CrossTabSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vegtrace_crosstab_sent_total",
		Help: "Cross-tab messages written by type, transport and outcome",
	}, []string{"type", "transport", "outcome"})

	CrossTabReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vegtrace_crosstab_received_total",
		Help: "Cross-tab messages observed by type, transport and disposition",
	}, []string{"type", "transport", "disposition"}) // disposition=delivered|own|duplicate|invalid

	CrossTabRegistryPrunedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vegtrace_crosstab_registry_pruned_total",
		Help: "Stale entries pruned from the active sessions registry",
	})

	StorageErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vegtrace_storage_errors_total",
		Help: "Shared storage failures by backend and operation",
	}, []string{"backend", "op"})
)

// RecordCrossTabSent counts one outgoing message.
func RecordCrossTabSent(msgType, transport, outcome string) {
	CrossTabSentTotal.WithLabelValues(msgType, transport, outcome).Inc()
}

// RecordCrossTabReceived counts one incoming message.
func RecordCrossTabReceived(msgType, transport, disposition string) {
	if msgType == "" {
		msgType = "unknown"
	}
	CrossTabReceivedTotal.WithLabelValues(msgType, transport, disposition).Inc()
}

// RecordStorageError counts one storage failure.
func RecordStorageError(backend, op string) {
	StorageErrorsTotal.WithLabelValues(backend, op).Inc()
}
