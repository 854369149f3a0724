package merge

import (
	"context"

	"github.com/mediagit/mediagit/objects"
	"github.com/mediagit/mediagit/oid"
)

// LCA returns the merge base(s) of a and b: commits that are ancestors of
// both, with any candidate that is itself an ancestor of another candidate
// filtered out (so a criss-cross merge yields every maximal common
// ancestor, not just one). Trivial fast paths: a == b, or one is an
// ancestor of the other.
func LCA(ctx context.Context, store Store, a, b oid.OID) ([]oid.OID, error) {
	if a == b {
		return []oid.OID{a}, nil
	}

	ancestorsOfA, err := ancestorSet(ctx, store, a)
	if err != nil {
		return nil, err
	}
	if ancestorsOfA[b] {
		return []oid.OID{b}, nil
	}

	ancestorsOfB, err := ancestorSet(ctx, store, b)
	if err != nil {
		return nil, err
	}
	if ancestorsOfB[a] {
		return []oid.OID{a}, nil
	}

	var candidates []oid.OID
	for id := range ancestorsOfA {
		if ancestorsOfB[id] {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	return filterRedundantAncestors(ctx, store, candidates)
}

// IsAncestor reports whether ancestor is reachable by following parent
// links from descendant (including descendant == ancestor). Used to gate
// fast-forward ref updates: a non-forced move is legal exactly when the
// ref's current value is an ancestor of the new one.
func IsAncestor(ctx context.Context, store Store, ancestor, descendant oid.OID) (bool, error) {
	if ancestor == descendant {
		return true, nil
	}
	set, err := ancestorSet(ctx, store, descendant)
	if err != nil {
		return false, err
	}
	return set[ancestor], nil
}

// ancestorSet BFS-walks every commit reachable from (and including) start,
// guarded by a visited set against corrupt graphs that happen to cycle
// despite OIDs being acyclic by construction.
func ancestorSet(ctx context.Context, store Store, start oid.OID) (map[oid.OID]bool, error) {
	visited := make(map[oid.OID]bool)
	queue := []oid.OID{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true

		data, err := store.Read(ctx, id)
		if err != nil {
			return nil, err
		}
		c, err := objects.ParseCommit(data)
		if err != nil {
			return nil, err
		}
		for _, p := range c.Parents {
			if !visited[p] {
				queue = append(queue, p)
			}
		}
	}
	return visited, nil
}

// filterRedundantAncestors drops any candidate that is itself an ancestor
// of another candidate, leaving only the maximal common ancestors (handles
// criss-cross merges, where the naive intersection can contain several
// bases with an ancestry relationship between them).
func filterRedundantAncestors(ctx context.Context, store Store, candidates []oid.OID) ([]oid.OID, error) {
	if len(candidates) == 1 {
		return candidates, nil
	}

	redundant := make(map[oid.OID]bool)
	ancestorCache := make(map[oid.OID]map[oid.OID]bool)
	ancestorsOf := func(id oid.OID) (map[oid.OID]bool, error) {
		if set, ok := ancestorCache[id]; ok {
			return set, nil
		}
		set, err := ancestorSet(ctx, store, id)
		if err != nil {
			return nil, err
		}
		ancestorCache[id] = set
		return set, nil
	}

	for _, c := range candidates {
		set, err := ancestorsOf(c)
		if err != nil {
			return nil, err
		}
		for _, other := range candidates {
			if other == c || redundant[other] {
				continue
			}
			if set[other] {
				redundant[other] = true
			}
		}
	}

	var out []oid.OID
	for _, c := range candidates {
		if !redundant[c] {
			out = append(out, c)
		}
	}
	return out, nil
}
