package votecast

import "github.com/prometheus/client_golang/prometheus"

// metrics is the ambient instrumentation layer (SPEC_FULL.md "DOMAIN
// STACK"): counters and gauges registered to a private registry. Nothing in
// this package exposes an HTTP /metrics surface — spec.md's non-goals
// exclude an outer observability endpoint — but the instrumentation itself
// is still wired the way the rest of the pack wires
// prometheus/client_golang.
type metrics struct {
	registry *prometheus.Registry

	viewSize         prometheus.Gauge
	electionsRun     prometheus.Counter
	votesFinalized   prometheus.Counter
	retransmitsSent  prometheus.Counter
	messagesDropped  prometheus.Counter
}

func newMetrics(self ServerID) *metrics {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"server_id": self}

	m := &metrics{
		registry: reg,
		viewSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "votecast",
			Name:        "view_size",
			Help:        "Number of servers currently believed alive, including self.",
			ConstLabels: labels,
		}),
		electionsRun: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "votecast",
			Name:        "elections_total",
			Help:        "Number of Hirschberg-Sinclair elections this server has initiated.",
			ConstLabels: labels,
		}),
		votesFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "votecast",
			Name:        "votes_finalized_total",
			Help:        "Number of votes finalized by this leader.",
			ConstLabels: labels,
		}),
		retransmitsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "votecast",
			Name:        "fifo_retransmits_total",
			Help:        "Number of FIFO multicast retransmissions sent.",
			ConstLabels: labels,
		}),
		messagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "votecast",
			Name:        "messages_dropped_total",
			Help:        "Datagrams dropped due to parse errors or unknown types.",
			ConstLabels: labels,
		}),
	}
	reg.MustRegister(m.viewSize, m.electionsRun, m.votesFinalized, m.retransmitsSent, m.messagesDropped)
	return m
}
