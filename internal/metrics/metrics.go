package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var BlocksIndexed = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "ticket_scan",
	Subsystem: "indexer",
	Name:      "blocks_indexed_total",
	Help:      "Blocks applied to the ticket index.",
})

var BlocksUnindexed = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "ticket_scan",
	Subsystem: "indexer",
	Name:      "blocks_unindexed_total",
	Help:      "Blocks reverted from the ticket index.",
})

var Tickets = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ticket_scan",
	Subsystem: "indexer",
	Name:      "tickets_total",
	Help:      "Ticket transactions indexed, by kind.",
}, []string{"kind"})

var Rejected = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ticket_scan",
	Subsystem: "indexer",
	Name:      "rejected_candidates_total",
	Help:      "Covenant-paying transactions rejected by the validator, by code.",
}, []string{"code"})

var TipHeight = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "ticket_scan",
	Subsystem: "indexer",
	Name:      "tip_height",
	Help:      "Height of the last indexed block.",
})

var Reorgs = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "ticket_scan",
	Subsystem: "scanner",
	Name:      "reorgs_total",
	Help:      "Chain reorganizations handled by the scanner.",
})

var EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ticket_scan",
	Subsystem: "publisher",
	Name:      "events_published_total",
	Help:      "Outbox events delivered to the broker, by kind.",
}, []string{"kind"})

var BlockDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "ticket_scan",
	Subsystem: "indexer",
	Name:      "block_duration_seconds",
	Help:      "Time spent indexing one block.",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
})

// Register adds every ticket-scan metric plus extra collectors to reg.
func Register(reg prometheus.Registerer, extra ...prometheus.Collector) error {
	cs := []prometheus.Collector{
		BlocksIndexed, BlocksUnindexed, Tickets, Rejected, TipHeight, Reorgs, EventsPublished, BlockDuration,
	}
	for _, c := range append(cs, extra...) {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
