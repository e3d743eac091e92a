// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusDroppedTotal counts lifecycle and cross-tab deliveries the in-process
// bus gave up on. A dropped lifecycle event only delays a notice; the state
// itself stays in the monitor.
var BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vegtrace_bus_dropped_total",
	Help: "In-process bus deliveries dropped, by topic and reason (full, timeout, closed)",
}, []string{"topic", "reason"})

// IncBusDropReason records one dropped delivery. Empty labels become
// "unknown".
func IncBusDropReason(topic, reason string) {
	BusDroppedTotal.WithLabelValues(orUnknown(topic), orUnknown(reason)).Inc()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
