package aodvsim

// topo.go holds the Topology structure, the owner of all structural state in
// the simulated network: the (fixed) node id space and the (mutable) set of
// undirected links.  Nodes hold no link state of their own; neighbor views
// are derived from the adjacency sets here.
//
// The reachability and hop-distance helpers at the bottom convert the
// adjacency representation into the data structures of the gonum graph
// package and let its path algorithms do the work.  Weighting each edge by 1
// makes a shortest path minimize the number of hops.  These helpers exist as
// oracles for tests and end-of-run snapshots; the AODV engine never calls
// them, since the protocol is only allowed to learn the graph by flooding.

import (
	"fmt"
	"math"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// Link identifies an undirected link by its endpoint node ids,
// held in canonical order A < B
type Link struct {
	A int `json:"a" yaml:"a"`
	B int `json:"b" yaml:"b"`
}

// CreateLink builds the canonical Link for an unordered node pair
func CreateLink(u, v int) Link {
	if u > v {
		u, v = v, u
	}
	return Link{A: u, B: v}
}

// linkDownListener is called after a link has been fully removed from the
// topology.  The AODV engine registers one to drive RERR propagation; the
// topology itself never touches routing state.
type linkDownListener func(u, v int)

// Topology is the mutable graph the simulation runs over
type Topology struct {
	numNodes int
	adj      []map[int]bool
	links    map[Link]bool
	onDown   linkDownListener
}

// CreateTopology is a constructor.  The node id space is 0..numNodes-1 and
// never changes; the link set starts empty.
func CreateTopology(numNodes int) *Topology {
	topo := new(Topology)
	topo.numNodes = numNodes
	topo.adj = make([]map[int]bool, numNodes)
	for idx := range topo.adj {
		topo.adj[idx] = make(map[int]bool)
	}
	topo.links = make(map[Link]bool)
	return topo
}

// NumNodes returns the size of the node id space
func (topo *Topology) NumNodes() int {
	return topo.numNodes
}

// NumLinks returns the number of links currently up
func (topo *Topology) NumLinks() int {
	return len(topo.links)
}

// SetLinkDownListener registers the callback fired after a link removal
// commits.  At most one listener is supported.
func (topo *Topology) SetLinkDownListener(fn linkDownListener) {
	topo.onDown = fn
}

// checkEndpoints panics on node ids outside the arena or a self-link.
// The event generator only offers valid candidates, so reaching either
// panic means an internal consistency failure, not a user error.
func (topo *Topology) checkEndpoints(u, v int) {
	if u < 0 || u >= topo.numNodes || v < 0 || v >= topo.numNodes {
		panic(fmt.Sprintf("link endpoint out of range: (%d,%d) with %d nodes", u, v, topo.numNodes))
	}
	if u == v {
		panic(fmt.Sprintf("self-link on node %d", u))
	}
}

// HasLink reports whether the link between u and v is up
func (topo *Topology) HasLink(u, v int) bool {
	return topo.links[CreateLink(u, v)]
}

// AddLink brings the link between u and v up.  Adding a link that is already
// up returns ErrDuplicateLink.
func (topo *Topology) AddLink(u, v int) error {
	topo.checkEndpoints(u, v)
	lnk := CreateLink(u, v)
	if topo.links[lnk] {
		return fmt.Errorf("link (%d,%d): %w", lnk.A, lnk.B, ErrDuplicateLink)
	}
	topo.links[lnk] = true
	topo.adj[u][v] = true
	topo.adj[v][u] = true
	return nil
}

// RemoveLink takes the link between u and v down.  Removing a link that is
// already down returns ErrNoSuchLink.  The link-down listener fires only
// after both adjacency sets and the link set have been updated, so a
// listener always observes the post-removal topology.
func (topo *Topology) RemoveLink(u, v int) error {
	lnk := CreateLink(u, v)
	if !topo.links[lnk] {
		return fmt.Errorf("link (%d,%d): %w", lnk.A, lnk.B, ErrNoSuchLink)
	}
	delete(topo.links, lnk)
	delete(topo.adj[u], v)
	delete(topo.adj[v], u)
	if topo.onDown != nil {
		topo.onDown(lnk.A, lnk.B)
	}
	return nil
}

// Neighbors returns the ids of the nodes currently linked to the given node,
// in ascending order.  The ordering is part of the determinism contract: the
// flood visits neighbors in exactly this order.
func (topo *Topology) Neighbors(node int) []int {
	nbrs := make([]int, 0, len(topo.adj[node]))
	for nbr := range topo.adj[node] {
		nbrs = append(nbrs, nbr)
	}
	slices.Sort(nbrs)
	return nbrs
}

// Links returns every link currently up, sorted by (A,B)
func (topo *Topology) Links() []Link {
	links := make([]Link, 0, len(topo.links))
	for lnk := range topo.links {
		links = append(links, lnk)
	}
	slices.SortFunc(links, orderLinks)
	return links
}

// UnlinkedPairs returns every node pair not currently linked, sorted by (A,B)
func (topo *Topology) UnlinkedPairs() []Link {
	pairs := make([]Link, 0)
	for u := 0; u < topo.numNodes; u++ {
		for v := u + 1; v < topo.numNodes; v++ {
			if !topo.links[Link{A: u, B: v}] {
				pairs = append(pairs, Link{A: u, B: v})
			}
		}
	}
	return pairs
}

// AdjacencyList returns a per-node sorted neighbor listing, the
// representation the end-of-run snapshot reports
func (topo *Topology) AdjacencyList() map[int][]int {
	adj := make(map[int][]int, topo.numNodes)
	for node := 0; node < topo.numNodes; node++ {
		adj[node] = topo.Neighbors(node)
	}
	return adj
}

func orderLinks(x, y Link) int {
	if x.A != y.A {
		return x.A - y.A
	}
	return x.B - y.B
}

// connGraph converts the current adjacency representation into the gonum
// graph structure the path algorithms operate on.  Rebuilt on every oracle
// call; the topology mutates between calls so there is nothing to cache.
func (topo *Topology) connGraph() *simple.WeightedUndirectedGraph {
	g := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for node := 0; node < topo.numNodes; node++ {
		g.AddNode(simple.Node(node))
	}
	for lnk := range topo.links {
		weightedEdge := simple.WeightedEdge{F: simple.Node(lnk.A), T: simple.Node(lnk.B), W: 1.0}
		g.SetWeightedEdge(weightedEdge)
	}
	return g
}

// IsReachable reports whether a path exists between u and v in the current
// topology
func (topo *Topology) IsReachable(u, v int) bool {
	_, dist := topo.HopDistance(u, v)
	return dist
}

// HopDistance returns the length in hops of a shortest path between u and v,
// and whether any path exists.  The shortest-path tree rooted at u is
// computed by graph/path.DijkstraFrom; with unit edge weights the tree
// distance is the hop count.
func (topo *Topology) HopDistance(u, v int) (int, bool) {
	if u == v {
		return 0, true
	}
	g := topo.connGraph()
	spTree := path.DijkstraFrom(simple.Node(u), g)
	dist := spTree.WeightTo(int64(v))
	if math.IsInf(dist, 1) {
		return 0, false
	}
	return int(dist + 0.5), true
}

// ShortestPath returns a shortest path between u and v as an ordered node id
// sequence, and whether one exists
func (topo *Topology) ShortestPath(u, v int) ([]int, bool) {
	g := topo.connGraph()
	spTree := path.DijkstraFrom(simple.Node(u), g)
	nodeSeq, dist := spTree.To(int64(v))
	if math.IsInf(dist, 1) {
		return nil, false
	}
	route := make([]int, 0, len(nodeSeq))
	for _, node := range nodeSeq {
		route = append(route, int(node.ID()))
	}
	return route, true
}
