package storage

import "fmt"

// ValidateResult is the outcome of a structural pass over a Snapshot,
// checking the invariants spec.md §8 names as testable properties (2, 3,
// 4: edge reciprocity, CSR sort order, key-index correctness). It never
// mutates the snapshot and never panics on a malformed one — every defect
// becomes an Errors or Warnings entry, matching spec.md §7's "check()
// reports; it never throws."
type ValidateResult struct {
	Errors   []string
	Warnings []string
}

func (r *ValidateResult) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidateResult) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validate cross-checks s's CSR sort order, out/in-edge reciprocity, and
// key-index correctness (spec.md §8 properties 2-4), grounded the same way
// the teacher's constraint_validation.go walks the whole graph before
// accepting writes — here applied read-only, after the fact, to a built
// snapshot generation. Bounded by s.NumNodes(); safe to call on a
// multi-million-node snapshot only in the sense that it will faithfully
// walk all of it — callers on a size-sensitive path should sample instead
// of calling this on every checkpoint.
func (s *Snapshot) Validate() ValidateResult {
	var res ValidateResult
	s.validateCSRSort(&res)
	s.validateReciprocity(&res)
	s.validateKeyIndex(&res)
	return res
}

// validateCSRSort checks spec.md §8 property 3: for every node u,
// out_dst[out_offsets[u]..out_offsets[u+1]) is sorted by (etype, dst).
func (s *Snapshot) validateCSRSort(res *ValidateResult) {
	n := s.NumNodes()
	for phys := uint64(0); phys < n; phys++ {
		edges := s.GetOutEdges(phys)
		for i := 1; i < len(edges); i++ {
			prev, cur := edges[i-1], edges[i]
			if cur.EType < prev.EType || (cur.EType == prev.EType && cur.Other < prev.Other) {
				res.errorf("node phys=%d: out-edges not sorted by (etype,dst) at index %d: (%d,%d) before (%d,%d)",
					phys, i, prev.EType, prev.Other, cur.EType, cur.Other)
				break
			}
		}
		inEdges := s.GetInEdges(phys)
		for i := 1; i < len(inEdges); i++ {
			prev, cur := inEdges[i-1], inEdges[i]
			if cur.EType < prev.EType || (cur.EType == prev.EType && cur.Other < prev.Other) {
				res.errorf("node phys=%d: in-edges not sorted by (etype,src) at index %d: (%d,%d) before (%d,%d)",
					phys, i, prev.EType, prev.Other, cur.EType, cur.Other)
				break
			}
		}
	}
}

// validateReciprocity checks spec.md §8 property 2: every out-edge
// (u)-[t]->(v) has a matching in-edge entry on v, and vice versa. Skipped
// (as a warning, not an error) when the snapshot was built without an
// in-edge index (FlagHasInEdges unset) — a deployment may legitimately
// trade that section off, per spec.md §4.1's "has-in-edges" flag.
func (s *Snapshot) validateReciprocity(res *ValidateResult) {
	if s.header.Flags&FlagHasInEdges == 0 {
		res.warnf("snapshot built without in-edge index (FlagHasInEdges unset); reciprocity not checked")
		return
	}

	n := s.NumNodes()
	for phys := uint64(0); phys < n; phys++ {
		u := s.PhysToNodeID(phys)
		for _, e := range s.GetOutEdges(phys) {
			vPhys, ok := s.GetPhys(e.Other)
			if !ok {
				res.errorf("out-edge (%d)-[%d]->(%d): destination not found in this generation", u, e.EType, e.Other)
				continue
			}
			if !hasNeighbor(s.GetInEdges(vPhys), e.EType, u) {
				res.errorf("out-edge (%d)-[%d]->(%d): no matching in-edge entry on destination", u, e.EType, e.Other)
			}
		}
		for _, e := range s.GetInEdges(phys) {
			srcPhys, ok := s.GetPhys(e.Other)
			if !ok {
				res.errorf("in-edge (%d)<-[%d]-(%d): source not found in this generation", u, e.EType, e.Other)
				continue
			}
			if !hasNeighbor(s.GetOutEdges(srcPhys), e.EType, u) {
				res.errorf("in-edge (%d)<-[%d]-(%d): no matching out-edge entry on source", u, e.EType, e.Other)
			}
		}
	}
}

func hasNeighbor(neighbors []Neighbor, etype ETypeID, other NodeID) bool {
	lo, hi := 0, len(neighbors)
	for lo < hi {
		mid := (lo + hi) / 2
		n := neighbors[mid]
		if n.EType < etype || (n.EType == etype && n.Other < other) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo < len(neighbors) && neighbors[lo].EType == etype && neighbors[lo].Other == other
}

// validateKeyIndex checks spec.md §8 property 4: for every (key, NodeID)
// in the live set, lookup_by_key(key) == NodeID.
func (s *Snapshot) validateKeyIndex(res *ValidateResult) {
	n := s.NumNodes()
	for phys := uint64(0); phys < n; phys++ {
		key := s.GetNodeKey(phys)
		if key == "" {
			continue
		}
		id := s.PhysToNodeID(phys)
		got, ok := s.LookupByKey(key)
		if !ok {
			res.errorf("key index: key %q (node %d) not found via lookup_by_key", key, id)
			continue
		}
		if got != id {
			res.errorf("key index: key %q resolves to node %d, expected %d", key, got, id)
		}
	}
}
