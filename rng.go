package aodvsim

// rng.go holds the RngContext structure, the single source of randomness in
// a simulation run.  Every draw comes from one of a small set of named
// rngstream streams, one per draw category, so the sequence of values a
// category sees depends only on the master seed and the number of draws that
// category has made, not on what the other categories did in between.

import (
	"fmt"

	"github.com/iti/rngstream"
)

// RngContext produces the random draws the event generator needs.  It is
// created once per run from the configured seed; two contexts created with
// the same seed produce identical draw sequences.
type RngContext struct {
	topo *Topology

	// stream per draw category
	bernoulli *rngstream.RngStream
	node      *rngstream.RngStream
	pair      *rngstream.RngStream
	link      *rngstream.RngStream
}

// CreateRngContext is a constructor.  The master seed governs every stream
// subsequently created, so contexts must be created one at a time and the
// order of stream creation below is fixed.
func CreateRngContext(seed int64, topo *Topology) *RngContext {
	rngstream.SetRngStreamMasterSeed(uint64(seed))
	rc := new(RngContext)
	rc.topo = topo
	rc.bernoulli = rngstream.New("bernoulli")
	rc.node = rngstream.New("node")
	rc.pair = rngstream.New("pair")
	rc.link = rngstream.New("link")
	return rc
}

// DrawBernoulli reports whether a trial with success probability p succeeded
func (rc *RngContext) DrawBernoulli(p float64) bool {
	return rc.bernoulli.RandU01() < p
}

// DrawNode returns a node id selected uniformly from the topology's nodes
func (rc *RngContext) DrawNode() int {
	return rc.node.RandInt(0, rc.topo.NumNodes()-1)
}

// DrawAttachment returns a node id selected uniformly from those below the
// given bound.  Used when seeding an initially connected topology, where
// node v attaches to one of the v nodes placed before it.
func (rc *RngContext) DrawAttachment(below int) int {
	return rc.node.RandInt(0, below-1)
}

// DrawNodePair returns two distinct node ids selected uniformly.  The second
// draw repeats until it differs from the first, which terminates because the
// topology always has at least two nodes when the event generator runs.
func (rc *RngContext) DrawNodePair() (int, int, error) {
	n := rc.topo.NumNodes()
	if n < 2 {
		return 0, 0, fmt.Errorf("node pair: %w", ErrExhaustedCandidates)
	}
	src := rc.pair.RandInt(0, n-1)
	dst := rc.pair.RandInt(0, n-1)
	for dst == src {
		dst = rc.pair.RandInt(0, n-1)
	}
	return src, dst, nil
}

// DrawExistingLink returns a link selected uniformly from the links currently
// up, or ErrExhaustedCandidates if the link set is empty
func (rc *RngContext) DrawExistingLink() (Link, error) {
	links := rc.topo.Links()
	if len(links) == 0 {
		return Link{}, fmt.Errorf("existing link: %w", ErrExhaustedCandidates)
	}
	return links[rc.link.RandInt(0, len(links)-1)], nil
}

// DrawCandidateLink returns a node pair not currently linked, selected
// uniformly, or ErrExhaustedCandidates if the graph is complete
func (rc *RngContext) DrawCandidateLink() (Link, error) {
	pairs := rc.topo.UnlinkedPairs()
	if len(pairs) == 0 {
		return Link{}, fmt.Errorf("candidate link: %w", ErrExhaustedCandidates)
	}
	return pairs[rc.link.RandInt(0, len(pairs)-1)], nil
}
