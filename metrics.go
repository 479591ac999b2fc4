package aodvsim

// metrics.go bundles the Prometheus instruments a run can expose: counters
// for evaluated events and AODV control traffic, and gauges tracking the
// live link and valid route populations.  The collector is optional; a nil
// collector disables every observation site.

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector bundles Prometheus metrics for a simulation run
type Collector struct {
	// time steps executed
	Steps prometheus.Counter

	// evaluated events, labeled by kind and outcome
	Events *prometheus.CounterVec

	// AODV traffic, labeled by message type (rreq, rrep, rerr, data)
	// and direction (sent, recv)
	ControlMsgs *prometheus.CounterVec

	// links currently up
	LinksUp prometheus.Gauge

	// routing table entries currently valid, network wide
	ValidRoutes prometheus.Gauge
}

// CreateCollector registers the simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
// Metrics already registered (e.g., by an earlier run in the same process)
// are reused rather than duplicated.
func CreateCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	coll := new(Collector)

	steps := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aodvsim_steps_total",
		Help: "Total number of executed time steps.",
	})
	if err := register(reg, steps, &coll.Steps); err != nil {
		return nil, err
	}

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aodvsim_events_total",
		Help: "Total number of evaluated events, labeled by kind and outcome.",
	}, []string{"kind", "outcome"})
	if err := register(reg, events, &coll.Events); err != nil {
		return nil, err
	}

	msgs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aodvsim_messages_total",
		Help: "Total number of AODV control and data messages, labeled by type and direction.",
	}, []string{"msg", "dir"})
	if err := register(reg, msgs, &coll.ControlMsgs); err != nil {
		return nil, err
	}

	links := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aodvsim_links_up",
		Help: "Current number of links in the up state.",
	})
	if err := register(reg, links, &coll.LinksUp); err != nil {
		return nil, err
	}

	routes := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aodvsim_valid_routes",
		Help: "Current number of valid routing table entries across all nodes.",
	})
	if err := register(reg, routes, &coll.ValidRoutes); err != nil {
		return nil, err
	}

	return coll, nil
}

// register adds a single-instrument collector to the registry, reusing an
// existing registration of the same instrument when one is present
func register[T prometheus.Collector](reg prometheus.Registerer, c T, out *T) error {
	err := reg.Register(c)
	if err == nil {
		*out = c
		return nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			*out = existing
			return nil
		}
	}
	return err
}

// observeTopology refreshes the structural gauges from current state
func (coll *Collector) observeTopology(eng *AodvEngine) {
	coll.LinksUp.Set(float64(eng.topo.NumLinks()))
	coll.ValidRoutes.Set(float64(eng.validRouteCount()))
}
