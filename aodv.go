package aodvsim

// aodv.go holds the AODV engine: per-node routing tables, route discovery by
// RREQ flooding, route replies unicast back along reverse paths, and route
// error propagation through precursor lists when links fail.
//
// The engine deliberately has no global view of the graph.  It learns paths
// only by flooding, asking the topology for nothing beyond the neighbor
// lists of individual nodes.  Flooding is an explicit breadth-first worklist
// rather than recursion: deliveries are processed FIFO, and neighbors are
// enqueued in ascending id order, so equal-hop-count races always resolve in
// favor of the lowest node id and two runs process deliveries identically.
//
// Everything here happens atomically within the processing of one simulated
// event.  A discovery or a failure notification runs to completion before
// control returns to the driver; no partial flood survives across steps.

import (
	"fmt"
	"log/slog"

	"golang.org/x/exp/slices"
)

// RouteEntry is one row of a node's routing table
type RouteEntry struct {
	Dest     int  `json:"dest" yaml:"dest"`
	NextHop  int  `json:"nexthop" yaml:"nexthop"`
	HopCount int  `json:"hopcount" yaml:"hopcount"`
	Seq      int  `json:"seq" yaml:"seq"`
	Valid    bool `json:"valid" yaml:"valid"`

	// neighbors relying on this node as next hop toward Dest;
	// the recipients of a RERR when the route breaks
	precursors map[int]bool
}

// rreq is a route request in flight during a flood
type rreq struct {
	origin    int
	dest      int
	bcastID   int
	hopCount  int
	ttl       int
	originSeq int

	// the freshest sequence number the originator has recorded for the
	// destination; an intermediate node may only answer from its own
	// table if its entry is at least this fresh
	destSeq int
}

// rrep is a route reply walking a reverse path hop by hop
type rrep struct {
	dest     int
	origin   int
	hopCount int
	destSeq  int
}

// rerr names destinations that became unreachable through the sender
type rerr struct {
	from        int
	unreachable []int
}

// seenKey identifies a discovery attempt for duplicate suppression
type seenKey struct {
	origin  int
	bcastID int
}

// delivery is one pending hand-off of a route request during a flood
type delivery struct {
	to   int
	from int
	req  rreq
}

// notice is one pending RERR hand-off during failure propagation
type notice struct {
	at   int
	dead rerr
}

// MsgStats counts the control and data messages a node has sent and received
type MsgStats struct {
	RreqSent int `json:"rreqsent" yaml:"rreqsent"`
	RreqRecv int `json:"rreqrecv" yaml:"rreqrecv"`
	RrepSent int `json:"rrepsent" yaml:"rrepsent"`
	RrepRecv int `json:"rreprecv" yaml:"rreprecv"`
	RerrSent int `json:"rerrsent" yaml:"rerrsent"`
	RerrRecv int `json:"rerrrecv" yaml:"rerrrecv"`
	DataSent int `json:"datasent" yaml:"datasent"`
	DataRecv int `json:"datarecv" yaml:"datarecv"`
}

// add accumulates counters, for network-wide totals
func (ms *MsgStats) add(other MsgStats) {
	ms.RreqSent += other.RreqSent
	ms.RreqRecv += other.RreqRecv
	ms.RrepSent += other.RrepSent
	ms.RrepRecv += other.RrepRecv
	ms.RerrSent += other.RerrSent
	ms.RerrRecv += other.RerrRecv
	ms.DataSent += other.DataSent
	ms.DataRecv += other.DataRecv
}

// nodeState is the protocol state one node owns
type nodeState struct {
	id      int
	seq     int
	bcastID int
	table   map[int]*RouteEntry

	// discovery attempts already processed, for duplicate suppression;
	// the value is the step the entry was recorded in, so the driver can
	// evict entries past the step horizon
	seen map[seenKey]int

	stats MsgStats
}

func createNodeState(id int) *nodeState {
	ns := new(nodeState)
	ns.id = id
	ns.table = make(map[int]*RouteEntry)
	ns.seen = make(map[seenKey]int)
	return ns
}

// install applies the AODV route update rules for a candidate entry and
// reports whether the table changed.  A valid entry is superseded by a
// strictly fresher sequence number, or an equal sequence number with a
// strictly better hop count; an invalidated entry additionally accepts an
// equal sequence number.  Sequence numbers recorded for a destination never
// decrease.  Precursor registrations survive an update: a neighbor routing
// through this node keeps doing so whatever our own next hop becomes.
func (ns *nodeState) install(dest, nextHop, hopCount, seq int) bool {
	if nextHop == ns.id {
		panic(fmt.Sprintf("node %d: route to %d with self next-hop", ns.id, dest))
	}
	cur, present := ns.table[dest]
	if !present {
		ns.table[dest] = &RouteEntry{
			Dest: dest, NextHop: nextHop, HopCount: hopCount, Seq: seq, Valid: true,
			precursors: make(map[int]bool),
		}
		return true
	}
	accept := false
	if cur.Valid {
		accept = seq > cur.Seq || (seq == cur.Seq && hopCount < cur.HopCount)
	} else {
		accept = seq >= cur.Seq
	}
	if !accept {
		return false
	}
	cur.NextHop = nextHop
	cur.HopCount = hopCount
	cur.Seq = seq
	cur.Valid = true
	return true
}

// DiscoveryStatus is the terminal state of a discovery attempt
type DiscoveryStatus string

const (
	// Established: a route was found and installed end to end
	Established DiscoveryStatus = "established"

	// Failed: the flood exhausted its TTL, or the destination is
	// unreachable, with no reply
	Failed DiscoveryStatus = "failed"

	// Skipped: the attempt was degenerate (source equals destination)
	Skipped DiscoveryStatus = "skipped"
)

// DiscoveryResult reports the outcome of one discovery attempt
type DiscoveryResult struct {
	Status DiscoveryStatus `json:"status" yaml:"status"`
	Source int             `json:"source" yaml:"source"`
	Dest   int             `json:"dest" yaml:"dest"`

	// established routes only: the node sequence source..dest along
	// installed next hops, and its length in hops
	Path []int `json:"path,omitempty" yaml:"path,omitempty"`
	Hops int   `json:"hops,omitempty" yaml:"hops,omitempty"`
}

// RerrRecord reports one RERR emission during failure propagation
type RerrRecord struct {
	From        int   `json:"from" yaml:"from"`
	To          int   `json:"to" yaml:"to"`
	Unreachable []int `json:"unreachable" yaml:"unreachable"`
}

// FailureReport collects what a link failure caused: the routes invalidated
// across the network and the RERR messages that carried the news
type FailureReport struct {
	Link        Link         `json:"link" yaml:"link"`
	Invalidated []RouteRef   `json:"invalidated,omitempty" yaml:"invalidated,omitempty"`
	Rerrs       []RerrRecord `json:"rerrs,omitempty" yaml:"rerrs,omitempty"`
}

// RouteRef names a routing table entry by owner and destination
type RouteRef struct {
	Node int `json:"node" yaml:"node"`
	Dest int `json:"dest" yaml:"dest"`
}

// AodvEngine runs the protocol over a Topology.  Creating the engine
// registers it as the topology's link-down listener.
type AodvEngine struct {
	topo  *Topology
	nodes []*nodeState
	ttl   int
	log   *slog.Logger
	coll  *Collector

	// step index the driver has advanced to, recorded into seen sets
	step int

	// failure reports accumulated by the link-down callback,
	// drained by the driver after each removal
	pending []FailureReport
}

// CreateAodvEngine is a constructor.  ttl bounds flooding depth; logger and
// collector may be nil.
func CreateAodvEngine(topo *Topology, ttl int, logger *slog.Logger, coll *Collector) *AodvEngine {
	eng := new(AodvEngine)
	eng.topo = topo
	eng.ttl = ttl
	if logger == nil {
		logger = slog.Default()
	}
	eng.log = logger
	eng.coll = coll
	eng.nodes = make([]*nodeState, topo.NumNodes())
	for id := range eng.nodes {
		eng.nodes[id] = createNodeState(id)
	}
	topo.SetLinkDownListener(eng.linkDown)
	return eng
}

// SetStep records the driver's current step index, used to timestamp
// duplicate-suppression entries
func (eng *AodvEngine) SetStep(step int) {
	eng.step = step
}

// DiscoverRoute runs one route discovery attempt from src toward dst and
// returns its outcome.  The whole flood, and any reply it provokes, runs to
// completion inside this call.
func (eng *AodvEngine) DiscoverRoute(src, dst int) DiscoveryResult {
	if src == dst {
		return DiscoveryResult{Status: Skipped, Source: src, Dest: dst}
	}

	origin := eng.nodes[src]

	// a live route from a prior discovery answers immediately
	if entry, present := origin.table[dst]; present && entry.Valid {
		if route, ok := eng.walkRoute(src, dst); ok {
			eng.log.Debug("route reused", "src", src, "dst", dst, "hops", len(route)-1)
			eng.deliverData(route)
			return DiscoveryResult{Status: Established, Source: src, Dest: dst,
				Path: route, Hops: len(route) - 1}
		}
	}

	origin.seq++
	origin.bcastID++
	origin.stats.RreqSent++
	eng.countMsg("rreq", "sent")

	req := rreq{
		origin:    src,
		dest:      dst,
		bcastID:   origin.bcastID,
		hopCount:  0,
		ttl:       eng.ttl,
		originSeq: origin.seq,
	}
	if entry, present := origin.table[dst]; present {
		req.destSeq = entry.Seq
	}
	origin.seen[seenKey{origin: src, bcastID: req.bcastID}] = eng.step

	// breadth-first flood over an explicit worklist
	queue := make([]delivery, 0)
	for _, nbr := range eng.topo.Neighbors(src) {
		queue = append(queue, delivery{to: nbr, from: src, req: req})
	}
	for len(queue) > 0 {
		dlv := queue[0]
		queue = queue[1:]
		queue = eng.receiveRreq(dlv, queue)
	}

	if route, ok := eng.walkRoute(src, dst); ok {
		eng.log.Debug("route established", "src", src, "dst", dst, "hops", len(route)-1)
		eng.deliverData(route)
		return DiscoveryResult{Status: Established, Source: src, Dest: dst,
			Path: route, Hops: len(route) - 1}
	}
	eng.log.Debug("route discovery failed", "src", src, "dst", dst)
	return DiscoveryResult{Status: Failed, Source: src, Dest: dst}
}

// receiveRreq processes the delivery of a route request to one node, and
// returns the worklist extended with whatever forwarding it caused.  The
// forwarder is identifiable as the hop the request arrived over.
func (eng *AodvEngine) receiveRreq(dlv delivery, queue []delivery) []delivery {
	node := eng.nodes[dlv.to]
	req := dlv.req

	key := seenKey{origin: req.origin, bcastID: req.bcastID}
	if _, dup := node.seen[key]; dup {
		return queue
	}
	node.seen[key] = eng.step
	node.stats.RreqRecv++
	eng.countMsg("rreq", "recv")

	// reverse route toward the originator, through the forwarder
	forwarder := dlv.from
	if node.install(req.origin, forwarder, req.hopCount+1, req.originSeq) {
		// the forwarder's own reverse route now has this node depending
		// on it, so a break upstream must be reported here too
		eng.addPrecursor(forwarder, req.origin, node.id)
	}

	if node.id == req.dest {
		// destination answers.  Its sequence number moves past anything
		// the originator has seen, so the reply supersedes stale state
		// anywhere on the return path.
		node.seq = max(node.seq, req.destSeq) + 1
		node.stats.RrepSent++
		eng.countMsg("rrep", "sent")
		eng.sendRrep(node.id, rrep{dest: node.id, origin: req.origin, hopCount: 0, destSeq: node.seq})
		return queue
	}

	// an intermediate node holding a valid route at least as fresh as the
	// originator's knowledge answers from its table
	if entry, present := node.table[req.dest]; present && entry.Valid && entry.Seq >= req.destSeq {
		node.stats.RrepSent++
		eng.countMsg("rrep", "sent")
		eng.sendRrep(node.id, rrep{dest: req.dest, origin: req.origin,
			hopCount: entry.HopCount, destSeq: entry.Seq})
		return queue
	}

	if req.ttl <= 1 {
		return queue
	}

	fwd := req
	fwd.hopCount++
	fwd.ttl--
	// a forwarder raises the request's destination sequence to the highest
	// it has recorded, valid or not, so a downstream cache holding staler
	// information cannot answer with a reply the reverse path would refuse
	if entry, present := node.table[req.dest]; present && entry.Seq > fwd.destSeq {
		fwd.destSeq = entry.Seq
	}
	node.stats.RreqSent++
	eng.countMsg("rreq", "sent")
	for _, nbr := range eng.topo.Neighbors(node.id) {
		if nbr == forwarder {
			continue
		}
		queue = append(queue, delivery{to: nbr, from: node.id, req: fwd})
	}
	return queue
}

// sendRrep unicasts a route reply from the given node backwards along the
// reverse path toward the originator, installing a forward route and a
// precursor registration at every hop.  A reply that runs out of reverse
// route, or that a relay refuses to install, is dropped: relaying a reply
// past a hop that rejected it would hand the originator a route whose
// downstream chain does not exist.
func (eng *AodvEngine) sendRrep(from int, rep rrep) {
	cur := from
	for cur != rep.origin {
		entry, present := eng.nodes[cur].table[rep.origin]
		if !present || !entry.Valid {
			eng.log.Debug("rrep dropped, reverse route lost", "at", cur, "origin", rep.origin)
			return
		}
		next := entry.NextHop

		rep.hopCount++
		receiver := eng.nodes[next]
		receiver.stats.RrepRecv++
		eng.countMsg("rrep", "recv")
		if !receiver.install(rep.dest, cur, rep.hopCount, rep.destSeq) {
			eng.log.Debug("rrep dropped, stale reply", "at", next, "dest", rep.dest)
			return
		}
		// the receiver now routes toward the destination through cur,
		// so it must hear about breaks cur learns of
		eng.addPrecursor(cur, rep.dest, next)
		cur = next
	}
}

// deliverData counts one data message carried hop by hop along an
// established route, the payload a successful request exists to deliver
func (eng *AodvEngine) deliverData(route []int) {
	for idx := 0; idx+1 < len(route); idx++ {
		eng.nodes[route[idx]].stats.DataSent++
		eng.countMsg("data", "sent")
		eng.nodes[route[idx+1]].stats.DataRecv++
		eng.countMsg("data", "recv")
	}
}

// addPrecursor registers dependent as a precursor of at's route toward dest.
// The destination itself holds no entry toward itself, so registrations
// there are dropped.
func (eng *AodvEngine) addPrecursor(at, dest, dependent int) {
	if at == dest {
		return
	}
	if entry, present := eng.nodes[at].table[dest]; present {
		entry.precursors[dependent] = true
	}
}

// walkRoute follows installed next hops from src to dst and returns the node
// sequence, or false if the chain is broken.  Every hop is re-verified
// against the live link set; a walk longer than the node count means a
// routing loop, which the install rules exclude, so it panics.
func (eng *AodvEngine) walkRoute(src, dst int) ([]int, bool) {
	route := []int{src}
	cur := src
	for cur != dst {
		entry, present := eng.nodes[cur].table[dst]
		if !present || !entry.Valid {
			return nil, false
		}
		if !eng.topo.HasLink(cur, entry.NextHop) {
			return nil, false
		}
		cur = entry.NextHop
		route = append(route, cur)
		if len(route) > eng.topo.NumNodes() {
			panic(fmt.Sprintf("routing loop walking %d -> %d: %v", src, dst, route))
		}
	}
	return route, true
}

// linkDown is the topology's link-down callback.  It invalidates every route
// at the endpoints that used the vanished neighbor as next hop, then pushes
// RERRs backwards through precursor lists until no registered precursor
// still routes through a notifying node.  The whole propagation completes
// before the callback returns, so no stale valid entry referencing the dead
// link survives the event.
func (eng *AodvEngine) linkDown(u, v int) {
	report := FailureReport{Link: CreateLink(u, v)}

	worklist := make([]notice, 0)

	// endpoint invalidation: routes whose next hop was the lost neighbor
	for _, pair := range [][2]int{{u, v}, {v, u}} {
		node, gone := eng.nodes[pair[0]], pair[1]
		affected := eng.invalidateVia(node, gone, &report)
		if len(affected) > 0 {
			eng.propagate(node, affected, &report, func(n notice) {
				worklist = append(worklist, n)
			})
		}
	}

	for len(worklist) > 0 {
		n := worklist[0]
		worklist = worklist[1:]

		node := eng.nodes[n.at]
		node.stats.RerrRecv++
		eng.countMsg("rerr", "recv")

		// invalidate only what actually routes through the notifier
		affected := make([]int, 0)
		for _, dest := range n.dead.unreachable {
			entry, present := node.table[dest]
			if !present || !entry.Valid || entry.NextHop != n.dead.from {
				continue
			}
			entry.Valid = false
			entry.Seq++
			affected = append(affected, dest)
			report.Invalidated = append(report.Invalidated, RouteRef{Node: node.id, Dest: dest})
		}
		if len(affected) > 0 {
			eng.propagate(node, affected, &report, func(n notice) {
				worklist = append(worklist, n)
			})
		}
	}

	eng.pending = append(eng.pending, report)
	if eng.coll != nil {
		eng.coll.observeTopology(eng)
	}
}

// invalidateVia invalidates every valid entry at the node whose next hop is
// the given neighbor, returning the affected destinations in ascending order
func (eng *AodvEngine) invalidateVia(node *nodeState, gone int, report *FailureReport) []int {
	affected := make([]int, 0)
	for dest, entry := range node.table {
		if entry.Valid && entry.NextHop == gone {
			affected = append(affected, dest)
		}
	}
	slices.Sort(affected)
	for _, dest := range affected {
		entry := node.table[dest]
		entry.Valid = false
		entry.Seq++
		report.Invalidated = append(report.Invalidated, RouteRef{Node: node.id, Dest: dest})
	}
	return affected
}

// propagate queues a RERR from the node to each precursor registered for any
// of the affected destinations.  Precursors are visited in ascending id
// order, each told only about the destinations it registered for.
func (eng *AodvEngine) propagate(node *nodeState, affected []int, report *FailureReport, emit func(n notice)) {
	perPrecursor := make(map[int][]int)
	for _, dest := range affected {
		entry := node.table[dest]
		for pre := range entry.precursors {
			perPrecursor[pre] = append(perPrecursor[pre], dest)
		}
	}
	precursors := make([]int, 0, len(perPrecursor))
	for pre := range perPrecursor {
		precursors = append(precursors, pre)
	}
	slices.Sort(precursors)

	for _, pre := range precursors {
		dests := perPrecursor[pre]
		slices.Sort(dests)
		node.stats.RerrSent++
		eng.countMsg("rerr", "sent")
		report.Rerrs = append(report.Rerrs, RerrRecord{From: node.id, To: pre, Unreachable: dests})
		emit(notice{at: pre, dead: rerr{from: node.id, unreachable: dests}})
	}
}

// DrainFailureReports returns the reports accumulated since the last call,
// in the order the failures happened
func (eng *AodvEngine) DrainFailureReports() []FailureReport {
	reports := eng.pending
	eng.pending = nil
	return reports
}

// EvictSeen drops duplicate-suppression entries recorded before the given
// step.  Flooding completes within the step that starts it, so entries only
// need to outlive their own step; the driver calls this with a two-step
// horizon, which bounds every seen set.
func (eng *AodvEngine) EvictSeen(beforeStep int) {
	for _, node := range eng.nodes {
		for key, step := range node.seen {
			if step < beforeStep {
				delete(node.seen, key)
			}
		}
	}
}

// RouteTo returns a copy of the routing table entry at the node for the
// destination, and whether one exists
func (eng *AodvEngine) RouteTo(node, dest int) (RouteEntry, bool) {
	entry, present := eng.nodes[node].table[dest]
	if !present {
		return RouteEntry{}, false
	}
	return *entry, true
}

// RoutingTables returns a copy of every node's routing table, for snapshots
// and test oracles
func (eng *AodvEngine) RoutingTables() map[int]map[int]RouteEntry {
	tables := make(map[int]map[int]RouteEntry, len(eng.nodes))
	for id, node := range eng.nodes {
		tbl := make(map[int]RouteEntry, len(node.table))
		for dest, entry := range node.table {
			tbl[dest] = *entry
		}
		tables[id] = tbl
	}
	return tables
}

// NodeStats returns the control message counters of one node
func (eng *AodvEngine) NodeStats(node int) MsgStats {
	return eng.nodes[node].stats
}

// TotalStats returns control message counters summed over all nodes
func (eng *AodvEngine) TotalStats() MsgStats {
	var total MsgStats
	for _, node := range eng.nodes {
		total.add(node.stats)
	}
	return total
}

// validRouteCount returns the number of valid entries across all tables,
// reported as a gauge when metrics are attached
func (eng *AodvEngine) validRouteCount() int {
	count := 0
	for _, node := range eng.nodes {
		for _, entry := range node.table {
			if entry.Valid {
				count++
			}
		}
	}
	return count
}

// countMsg forwards a control message observation to the metrics collector,
// when one is attached
func (eng *AodvEngine) countMsg(msg, dir string) {
	if eng.coll != nil {
		eng.coll.ControlMsgs.WithLabelValues(msg, dir).Inc()
	}
}
