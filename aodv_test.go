package aodvsim

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// lineTopology links 0-1-2-...-(n-1)
func lineTopology(n int) *Topology {
	topo := CreateTopology(n)
	for v := 1; v < n; v++ {
		if err := topo.AddLink(v-1, v); err != nil {
			panic(err)
		}
	}
	return topo
}

func testEngine(topo *Topology) *AodvEngine {
	return CreateAodvEngine(topo, topo.NumNodes(), testLogger(), nil)
}

// checkInvariants asserts the route table properties that must hold at
// every step boundary: no self next-hops, every valid entry's next hop is a
// live neighbor, and every valid route walks to its destination
func checkInvariants(t *testing.T, topo *Topology, eng *AodvEngine) {
	t.Helper()
	for node, table := range eng.RoutingTables() {
		for dest, entry := range table {
			assert.NotEqual(t, node, entry.NextHop, "node %d holds self next-hop for %d", node, dest)
			if !entry.Valid {
				continue
			}
			assert.True(t, topo.HasLink(node, entry.NextHop),
				"node %d: valid route to %d over down link to %d", node, dest, entry.NextHop)
			_, ok := eng.walkRoute(node, dest)
			assert.True(t, ok, "node %d: valid route to %d does not walk", node, dest)
		}
	}
}

func TestDiscoverRouteOnLine(t *testing.T) {
	topo := lineTopology(5)
	eng := testEngine(topo)

	result := eng.DiscoverRoute(0, 4)
	require.Equal(t, Established, result.Status)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, result.Path)
	assert.Equal(t, 4, result.Hops)

	// forward routes installed along the return path
	entry, ok := eng.RouteTo(0, 4)
	require.True(t, ok)
	assert.True(t, entry.Valid)
	assert.Equal(t, 1, entry.NextHop)
	assert.Equal(t, 4, entry.HopCount)

	entry, ok = eng.RouteTo(2, 4)
	require.True(t, ok)
	assert.Equal(t, 3, entry.NextHop)
	assert.Equal(t, 2, entry.HopCount)

	// reverse routes toward the originator installed by the flood
	entry, ok = eng.RouteTo(4, 0)
	require.True(t, ok)
	assert.Equal(t, 3, entry.NextHop)
	assert.Equal(t, 4, entry.HopCount)

	checkInvariants(t, topo, eng)
}

func TestDiscoverRouteSelfSkipped(t *testing.T) {
	eng := testEngine(lineTopology(3))
	result := eng.DiscoverRoute(1, 1)
	assert.Equal(t, Skipped, result.Status)
}

func TestDiscoverRouteUnreachable(t *testing.T) {
	// 0-1 and 2-3, no path between components
	topo := CreateTopology(4)
	require.NoError(t, topo.AddLink(0, 1))
	require.NoError(t, topo.AddLink(2, 3))
	eng := testEngine(topo)

	result := eng.DiscoverRoute(0, 3)
	assert.Equal(t, Failed, result.Status)
	assert.Empty(t, result.Path)

	_, ok := eng.RouteTo(0, 3)
	assert.False(t, ok)
}

func TestDiscoverRouteIsolatedSource(t *testing.T) {
	topo := CreateTopology(2)
	eng := testEngine(topo)
	result := eng.DiscoverRoute(0, 1)
	assert.Equal(t, Failed, result.Status)
}

func TestFloodMatchesOracle(t *testing.T) {
	// an irregular graph with a cycle, a tail, and an isolated node:
	//   0-1, 1-2, 2-3, 3-0, 2-4, 4-5    (6 isolated)
	build := func() *Topology {
		topo := CreateTopology(7)
		for _, lnk := range [][2]int{{0, 1}, {1, 2}, {2, 3}, {3, 0}, {2, 4}, {4, 5}} {
			if err := topo.AddLink(lnk[0], lnk[1]); err != nil {
				panic(err)
			}
		}
		return topo
	}

	for src := 0; src < 7; src++ {
		for dst := 0; dst < 7; dst++ {
			if src == dst {
				continue
			}
			topo := build()
			eng := testEngine(topo)
			result := eng.DiscoverRoute(src, dst)

			wantHops, reachable := topo.HopDistance(src, dst)
			if !reachable {
				assert.Equal(t, Failed, result.Status, "%d->%d", src, dst)
				continue
			}
			require.Equal(t, Established, result.Status, "%d->%d", src, dst)
			assert.Equal(t, wantHops, result.Hops, "%d->%d hop count", src, dst)
			checkInvariants(t, topo, eng)
		}
	}
}

func TestEqualHopTieBreakPrefersLowestId(t *testing.T) {
	// diamond: 0-1, 0-2, 1-3, 2-3; both 1 and 2 offer a 2-hop path 0->3
	topo := CreateTopology(4)
	for _, lnk := range [][2]int{{0, 1}, {0, 2}, {1, 3}, {2, 3}} {
		require.NoError(t, topo.AddLink(lnk[0], lnk[1]))
	}
	eng := testEngine(topo)

	result := eng.DiscoverRoute(0, 3)
	require.Equal(t, Established, result.Status)
	assert.Equal(t, []int{0, 1, 3}, result.Path)

	entry, ok := eng.RouteTo(0, 3)
	require.True(t, ok)
	assert.Equal(t, 1, entry.NextHop)
}

func TestRepeatDiscoveryReusesRoute(t *testing.T) {
	topo := lineTopology(4)
	eng := testEngine(topo)

	first := eng.DiscoverRoute(0, 3)
	require.Equal(t, Established, first.Status)
	sentAfterFirst := eng.TotalStats().RreqSent

	second := eng.DiscoverRoute(0, 3)
	require.Equal(t, Established, second.Status)
	assert.Equal(t, first.Path, second.Path)

	// no new flood for a live route
	assert.Equal(t, sentAfterFirst, eng.TotalStats().RreqSent)
}

func TestIntermediateNodeReplies(t *testing.T) {
	// star-ish: 0-1, 1-2, 1-3.  After 0 discovers 2, node 1 holds a fresh
	// route to 2 and answers 3's request itself.
	topo := CreateTopology(4)
	for _, lnk := range [][2]int{{0, 1}, {1, 2}, {1, 3}} {
		require.NoError(t, topo.AddLink(lnk[0], lnk[1]))
	}
	eng := testEngine(topo)

	require.Equal(t, Established, eng.DiscoverRoute(0, 2).Status)
	destRecvBefore := eng.NodeStats(2).RreqRecv

	result := eng.DiscoverRoute(3, 2)
	require.Equal(t, Established, result.Status)
	assert.Equal(t, []int{3, 1, 2}, result.Path)

	// the flood stopped at node 1; the destination never saw the request
	assert.Equal(t, destRecvBefore, eng.NodeStats(2).RreqRecv)
	assert.Greater(t, eng.NodeStats(1).RrepSent, 0)
}

func TestTTLBoundsFlood(t *testing.T) {
	topo := lineTopology(6)
	eng := CreateAodvEngine(topo, 2, testLogger(), nil)

	// two hops reachable within TTL 2
	assert.Equal(t, Established, eng.DiscoverRoute(0, 2).Status)

	// five hops is beyond it
	eng2 := CreateAodvEngine(lineTopology(6), 2, testLogger(), nil)
	assert.Equal(t, Failed, eng2.DiscoverRoute(0, 5).Status)
}

func TestDuplicateSuppressionEviction(t *testing.T) {
	topo := lineTopology(4)
	eng := testEngine(topo)

	eng.SetStep(0)
	require.Equal(t, Established, eng.DiscoverRoute(0, 3).Status)

	tables := eng.RoutingTables()
	require.NotEmpty(t, tables[1])

	// entries recorded at step 0 are evicted once the horizon passes
	eng.EvictSeen(1)
	for id := 0; id < 4; id++ {
		assert.Empty(t, eng.nodes[id].seen, "node %d seen set survived eviction", id)
	}

	// and a fresh discovery for the same pair still floods correctly
	eng.SetStep(2)
	require.NoError(t, topo.RemoveLink(0, 1))
	require.NoError(t, topo.AddLink(0, 1))
	assert.Equal(t, Established, eng.DiscoverRoute(0, 3).Status)
}

func TestLinkFailureInvalidatesAndPropagates(t *testing.T) {
	topo := lineTopology(4)
	eng := testEngine(topo)

	require.Equal(t, Established, eng.DiscoverRoute(0, 3).Status)

	// cutting the bridge 1-2 strands every route that crossed it
	require.NoError(t, topo.RemoveLink(1, 2))

	reports := eng.DrainFailureReports()
	require.Len(t, reports, 1)
	report := reports[0]
	assert.Equal(t, Link{A: 1, B: 2}, report.Link)
	assert.NotEmpty(t, report.Rerrs)

	// the originator's route to 3 went through the bridge and must be gone
	entry, ok := eng.RouteTo(0, 3)
	require.True(t, ok)
	assert.False(t, entry.Valid)

	// destination-side reverse route to 0 likewise
	entry, ok = eng.RouteTo(3, 0)
	require.True(t, ok)
	assert.False(t, entry.Valid)

	// nothing valid references the dead link, directly or transitively
	for node, table := range eng.RoutingTables() {
		for dest, e := range table {
			if !e.Valid {
				continue
			}
			_, walkable := eng.walkRoute(node, dest)
			assert.True(t, walkable, "node %d: stale valid route to %d", node, dest)
		}
	}
	checkInvariants(t, topo, eng)
}

func TestInvalidatedRouteSurvivesAsEntry(t *testing.T) {
	// invalidation keeps the entry (with a bumped sequence number)
	// rather than deleting it
	topo := lineTopology(3)
	eng := testEngine(topo)

	require.Equal(t, Established, eng.DiscoverRoute(0, 2).Status)
	before, ok := eng.RouteTo(0, 2)
	require.True(t, ok)
	require.True(t, before.Valid)

	require.NoError(t, topo.RemoveLink(1, 2))
	eng.DrainFailureReports()

	after, ok := eng.RouteTo(0, 2)
	require.True(t, ok)
	assert.False(t, after.Valid)
	assert.Greater(t, after.Seq, before.Seq)
}

func TestRediscoveryAfterFailure(t *testing.T) {
	// ring 0-1-2-3-0: after 0-1's path via 1 breaks, discovery finds the
	// long way around
	topo := CreateTopology(4)
	for _, lnk := range [][2]int{{0, 1}, {1, 2}, {2, 3}, {3, 0}} {
		require.NoError(t, topo.AddLink(lnk[0], lnk[1]))
	}
	eng := testEngine(topo)

	first := eng.DiscoverRoute(0, 2)
	require.Equal(t, Established, first.Status)
	assert.Equal(t, []int{0, 1, 2}, first.Path)

	require.NoError(t, topo.RemoveLink(0, 1))
	eng.DrainFailureReports()

	second := eng.DiscoverRoute(0, 2)
	require.Equal(t, Established, second.Status)
	assert.Equal(t, []int{0, 3, 2}, second.Path)
	checkInvariants(t, topo, eng)
}

func TestStaleRelaySequenceDoesNotPoisonDiscovery(t *testing.T) {
	// 0-1, 1-2, 2-3, 1-4, 4-3.  Node 2 caches an early route to 3 (low
	// sequence), node 1 later learns a fresher one via 4; cutting 4-3
	// leaves node 1 holding an invalidated high-sequence entry between
	// the origin and node 2's cache.  A later discovery from 0 must still
	// succeed over the fully-up path 0-1-2-3: the forwarded request
	// carries node 1's recorded sequence, so node 2's stale cache cannot
	// answer and the destination replies with a superseding number.
	topo := CreateTopology(5)
	for _, lnk := range [][2]int{{0, 1}, {1, 2}, {2, 3}, {1, 4}, {4, 3}} {
		require.NoError(t, topo.AddLink(lnk[0], lnk[1]))
	}
	eng := testEngine(topo)

	require.Equal(t, Established, eng.DiscoverRoute(2, 3).Status)
	require.Equal(t, Established, eng.DiscoverRoute(1, 3).Status)

	require.NoError(t, topo.RemoveLink(4, 3))
	eng.DrainFailureReports()

	stale, ok := eng.RouteTo(1, 3)
	require.True(t, ok)
	require.False(t, stale.Valid)

	result := eng.DiscoverRoute(0, 3)
	require.Equal(t, Established, result.Status)
	assert.Equal(t, []int{0, 1, 2, 3}, result.Path)

	// node 1's entry was revalidated by the superseding reply
	entry, ok := eng.RouteTo(1, 3)
	require.True(t, ok)
	assert.True(t, entry.Valid)
	assert.Equal(t, 2, entry.NextHop)
	assert.GreaterOrEqual(t, entry.Seq, stale.Seq)

	checkInvariants(t, topo, eng)
}

func TestSequenceNumbersNeverDecrease(t *testing.T) {
	topo := CreateTopology(5)
	for _, lnk := range [][2]int{{0, 1}, {1, 2}, {2, 3}, {3, 4}, {4, 0}} {
		require.NoError(t, topo.AddLink(lnk[0], lnk[1]))
	}
	eng := testEngine(topo)

	lastSeq := make(map[RouteRef]int)
	observe := func() {
		for node, table := range eng.RoutingTables() {
			for dest, entry := range table {
				ref := RouteRef{Node: node, Dest: dest}
				if prev, seen := lastSeq[ref]; seen {
					assert.GreaterOrEqual(t, entry.Seq, prev,
						"node %d dest %d sequence decreased", node, dest)
				}
				lastSeq[ref] = entry.Seq
			}
		}
	}

	eng.DiscoverRoute(0, 3)
	observe()
	eng.DiscoverRoute(1, 4)
	observe()
	require.NoError(t, topo.RemoveLink(2, 3))
	eng.DrainFailureReports()
	observe()
	eng.DiscoverRoute(0, 3)
	observe()
	require.NoError(t, topo.AddLink(2, 3))
	eng.DiscoverRoute(4, 2)
	observe()
}

func TestMsgStatsAccumulate(t *testing.T) {
	topo := lineTopology(3)
	eng := testEngine(topo)

	require.Equal(t, Established, eng.DiscoverRoute(0, 2).Status)

	total := eng.TotalStats()
	assert.Greater(t, total.RreqSent, 0)
	assert.Greater(t, total.RreqRecv, 0)
	assert.Equal(t, 1, total.RrepSent)
	assert.Equal(t, 2, total.RrepRecv)

	// one data message carried over the two-hop route 0-1-2
	assert.Equal(t, 2, total.DataSent)
	assert.Equal(t, 2, total.DataRecv)
	assert.Equal(t, 1, eng.NodeStats(0).DataSent)
	assert.Equal(t, 1, eng.NodeStats(2).DataRecv)

	// a reused route carries another payload without a new flood
	require.Equal(t, Established, eng.DiscoverRoute(0, 2).Status)
	assert.Equal(t, 4, eng.TotalStats().DataSent)

	require.NoError(t, topo.RemoveLink(0, 1))
	eng.DrainFailureReports()
	total = eng.TotalStats()
	assert.Greater(t, total.RerrSent, 0)
	assert.Equal(t, total.RerrSent, total.RerrRecv)
}
