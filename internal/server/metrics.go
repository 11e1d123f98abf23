package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tst",
		Subsystem: "server",
		Name:      "requests_total",
		Help:      "Document store API requests by operation and status code.",
	}, []string{"op", "code"})
	metricTokensIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tst",
		Subsystem: "server",
		Name:      "tokens_issued_total",
		Help:      "Bearer tokens issued by the token endpoint.",
	})
	metricWatchers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tst",
		Subsystem: "server",
		Name:      "watchers",
		Help:      "Live query websocket connections currently open.",
	})
)
