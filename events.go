package aodvsim

// events.go holds the event generator.  Once per time step it evaluates
// three independent Bernoulli trials, always in the same canonical order:
// route request, then new link, then link failure.  That order is part of
// the reproducibility contract; reordering the trials changes every seeded
// run.  A trial that succeeds but finds no valid candidate (a link to add on
// a complete graph, a link to remove with none up) degrades to a skip
// record, never an error.

import (
	"errors"
	"fmt"
)

// EventKind is the closed set of stochastic event classes
type EventKind int

const (
	EventRequest EventKind = iota
	EventNewLink
	EventFailure
)

var ekToStr map[EventKind]string = map[EventKind]string{
	EventRequest: "request",
	EventNewLink: "new-link",
	EventFailure: "failure",
}

func (ek EventKind) String() string {
	return ekToStr[ek]
}

// outcomes recorded per event in the trace
const (
	OutcomeSuccess = "success"
	OutcomeSkip    = "skip"
	OutcomeFailed  = "failed"
)

// EventRecord is one evaluated event in a step's trace record
type EventRecord struct {
	Kind    string `json:"kind" yaml:"kind"`
	Outcome string `json:"outcome" yaml:"outcome"`

	// skip reason, when the outcome is a skip
	Note string `json:"note,omitempty" yaml:"note,omitempty"`

	// the link acted on, for new-link and failure events
	Link *Link `json:"link,omitempty" yaml:"link,omitempty"`

	// discovery outcome, for request events
	Discovery *DiscoveryResult `json:"discovery,omitempty" yaml:"discovery,omitempty"`

	// invalidation and RERR activity, for failure events
	Failure *FailureReport `json:"failure,omitempty" yaml:"failure,omitempty"`
}

// EventGenerator draws the events of each time step and applies them to the
// topology and the AODV engine
type EventGenerator struct {
	prRequest float64
	prNewLink float64
	prFailure float64

	rng  *RngContext
	topo *Topology
	eng  *AodvEngine
}

// CreateEventGenerator is a constructor
func CreateEventGenerator(cfg *SimConfig, rng *RngContext, topo *Topology, eng *AodvEngine) *EventGenerator {
	gen := new(EventGenerator)
	gen.prRequest = cfg.PrRequest
	gen.prNewLink = cfg.PrNewLink
	gen.prFailure = cfg.PrFailure
	gen.rng = rng
	gen.topo = topo
	gen.eng = eng
	return gen
}

// Step evaluates the three trials for one time step and returns the records
// of the events that fired, in canonical order.  Later trials see the
// topology as the earlier outcomes of the same step left it.
func (gen *EventGenerator) Step() []EventRecord {
	records := make([]EventRecord, 0, 3)

	if gen.rng.DrawBernoulli(gen.prRequest) {
		records = append(records, gen.requestEvent())
	}
	if gen.rng.DrawBernoulli(gen.prNewLink) {
		records = append(records, gen.newLinkEvent())
	}
	if gen.rng.DrawBernoulli(gen.prFailure) {
		records = append(records, gen.failureEvent())
	}
	return records
}

func (gen *EventGenerator) requestEvent() EventRecord {
	src, dst, err := gen.rng.DrawNodePair()
	if err != nil {
		return EventRecord{Kind: EventRequest.String(), Outcome: OutcomeSkip,
			Note: "fewer than two nodes"}
	}
	result := gen.eng.DiscoverRoute(src, dst)
	rec := EventRecord{Kind: EventRequest.String(), Discovery: &result}
	switch result.Status {
	case Established:
		rec.Outcome = OutcomeSuccess
	case Failed:
		rec.Outcome = OutcomeFailed
	case Skipped:
		rec.Outcome = OutcomeSkip
		rec.Note = "source equals destination"
	}
	return rec
}

func (gen *EventGenerator) newLinkEvent() EventRecord {
	lnk, err := gen.rng.DrawCandidateLink()
	if err != nil {
		if !errors.Is(err, ErrExhaustedCandidates) {
			panic(fmt.Sprintf("candidate link draw: %v", err))
		}
		return EventRecord{Kind: EventNewLink.String(), Outcome: OutcomeSkip,
			Note: "graph is complete"}
	}
	// the draw guarantees the link is down, so a duplicate here is an
	// internal consistency failure
	if aerr := gen.topo.AddLink(lnk.A, lnk.B); aerr != nil {
		panic(fmt.Sprintf("adding drawn candidate link (%d,%d): %v", lnk.A, lnk.B, aerr))
	}
	return EventRecord{Kind: EventNewLink.String(), Outcome: OutcomeSuccess, Link: &lnk}
}

func (gen *EventGenerator) failureEvent() EventRecord {
	lnk, err := gen.rng.DrawExistingLink()
	if err != nil {
		if !errors.Is(err, ErrExhaustedCandidates) {
			panic(fmt.Sprintf("existing link draw: %v", err))
		}
		return EventRecord{Kind: EventFailure.String(), Outcome: OutcomeSkip,
			Note: "no links up"}
	}
	if rerr := gen.topo.RemoveLink(lnk.A, lnk.B); rerr != nil {
		panic(fmt.Sprintf("removing drawn link (%d,%d): %v", lnk.A, lnk.B, rerr))
	}
	rec := EventRecord{Kind: EventFailure.String(), Outcome: OutcomeSuccess, Link: &lnk}
	reports := gen.eng.DrainFailureReports()
	if len(reports) > 0 {
		rec.Failure = &reports[len(reports)-1]
	}
	return rec
}
