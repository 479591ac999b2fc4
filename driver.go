package aodvsim

// driver.go holds the Simulator, which assembles the components of a run
// and orchestrates its time steps.  Steps are scheduled on the virtual-time
// event list, one event per step at one-second spacing; each step event
// advances the event generator, applies whatever it drew, appends the
// outcome to the trace, and schedules the next step.  Execution is fully
// synchronous: the event list dispatches handlers one at a time, and each
// handler runs its step to completion.

import (
	"fmt"
	"log/slog"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
)

// seenHorizon is the number of steps a duplicate-suppression entry survives.
// Floods complete inside their own step, so two is already conservative.
const seenHorizon int = 2

// Simulator owns a run: configuration, topology, RNG context, AODV engine,
// event generator, and trace
type Simulator struct {
	cfg   SimConfig
	topo  *Topology
	rng   *RngContext
	eng   *AodvEngine
	gen   *EventGenerator
	trace *TraceManager
	log   *slog.Logger
	coll  *Collector

	step int
	ran  bool
}

// CreateSimulator validates the configuration and builds a ready-to-run
// simulator.  logger and coll may be nil; a nil logger selects
// slog.Default.  Construction performs every random draw needed for the
// initial topology, so two simulators built from the same configuration
// start from identical state.
func CreateSimulator(cfg SimConfig, logger *slog.Logger, coll *Collector) (*Simulator, error) {
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	sim := new(Simulator)
	sim.cfg = cfg
	sim.log = logger
	sim.coll = coll
	sim.topo = CreateTopology(cfg.Nodes)
	sim.rng = CreateRngContext(cfg.Seed, sim.topo)
	sim.eng = CreateAodvEngine(sim.topo, cfg.floodTTL(), logger, coll)
	sim.gen = CreateEventGenerator(&cfg, sim.rng, sim.topo, sim.eng)
	sim.trace = CreateTraceManager(cfg.ExpName, true)
	for id := 0; id < cfg.Nodes; id++ {
		sim.trace.AddName(id, fmt.Sprintf("node-%d", id))
	}

	if cfg.InitialLinks == InitConnected {
		sim.seedSpanningTree()
	}

	logger.Info("simulator created", "nodes", cfg.Nodes, "steps", cfg.TimeSteps,
		"seed", cfg.Seed, "initial-links", sim.topo.NumLinks())
	return sim, nil
}

// seedSpanningTree links each node to a uniformly drawn predecessor,
// yielding a random spanning tree: the minimal link set under which every
// pair of nodes is mutually reachable.  The draws go through the RNG
// context, so the tree is a pure function of the seed.
func (sim *Simulator) seedSpanningTree() {
	for v := 1; v < sim.cfg.Nodes; v++ {
		u := sim.rng.DrawAttachment(v)
		if err := sim.topo.AddLink(u, v); err != nil {
			panic(fmt.Sprintf("seeding spanning tree link (%d,%d): %v", u, v, err))
		}
	}
}

// Run executes the configured number of time steps.  It may be called once;
// a second call is a programming error.
func (sim *Simulator) Run() error {
	if sim.ran {
		return fmt.Errorf("simulator has already run")
	}
	sim.ran = true

	evtMgr := evtm.New()
	evtMgr.Schedule(sim, 0, execStep, vrtime.SecondsToTime(0.0))
	evtMgr.Run(float64(sim.cfg.TimeSteps) + 1.0)

	sim.log.Info("run complete", "steps", sim.cfg.TimeSteps,
		"links", sim.topo.NumLinks(), "control-msgs", sim.eng.TotalStats())
	return nil
}

// execStep is the event handler for one time step.  The context is the
// simulator, the data the step index.
func execStep(evtMgr *evtm.EventManager, context any, data any) any {
	sim := context.(*Simulator)
	step := data.(int)
	sim.step = step
	sim.eng.SetStep(step)

	records := sim.gen.Step()
	sim.trace.AddStep(StepRecord{Step: step, Events: records})
	sim.eng.EvictSeen(step - seenHorizon + 1)

	if sim.coll != nil {
		sim.coll.Steps.Inc()
		for _, rec := range records {
			sim.coll.Events.WithLabelValues(rec.Kind, rec.Outcome).Inc()
		}
		sim.coll.observeTopology(sim.eng)
	}
	for _, rec := range records {
		sim.log.Debug("event", "step", step, "kind", rec.Kind, "outcome", rec.Outcome)
	}

	if step+1 < sim.cfg.TimeSteps {
		evtMgr.Schedule(sim, step+1, execStep, vrtime.SecondsToTime(1.0))
	}
	return nil
}

// Trace exposes the gathered trace.  The returned manager must be treated
// as read-only; the driver is its only writer.
func (sim *Simulator) Trace() *TraceManager {
	return sim.trace
}

// Engine exposes the AODV engine, primarily for table inspection
func (sim *Simulator) Engine() *AodvEngine {
	return sim.eng
}

// Topology exposes the topology, primarily for oracle queries
func (sim *Simulator) Topology() *Topology {
	return sim.topo
}

// Snapshot captures the state of the network as of the last executed step
func (sim *Simulator) Snapshot() *Snapshot {
	snap := new(Snapshot)
	snap.Step = sim.step
	snap.Links = sim.topo.Links()
	snap.Adjacency = sim.topo.AdjacencyList()
	snap.Tables = sim.eng.RoutingTables()
	snap.PerNode = make(map[int]MsgStats, sim.cfg.Nodes)
	for id := 0; id < sim.cfg.Nodes; id++ {
		snap.PerNode[id] = sim.eng.NodeStats(id)
	}
	snap.Totals = sim.eng.TotalStats()
	snap.Summary = sim.deliverySummary()
	return snap
}

// deliverySummary tallies the request events recorded in the trace
func (sim *Simulator) deliverySummary() DeliverySummary {
	var sum DeliverySummary
	for _, sr := range sim.trace.Steps {
		for _, rec := range sr.Events {
			if rec.Kind != EventRequest.String() || rec.Discovery == nil {
				continue
			}
			sum.Requests++
			switch rec.Discovery.Status {
			case Established:
				sum.Established++
			case Failed:
				sum.Failed++
			case Skipped:
				sum.Skipped++
			}
		}
	}
	if attempted := sum.Established + sum.Failed; attempted > 0 {
		sum.SuccessRate = float64(sum.Established) / float64(attempted)
	}
	return sum
}
