package transfer

import (
	"context"

	"github.com/mediagit/mediagit/objects"
	"github.com/mediagit/mediagit/odb"
	"github.com/mediagit/mediagit/oid"
)

// ObjectStore is the narrow ODB surface a transfer server/client needs:
// content-addressed read/write plus the shape introspection that lets a
// pack collector see chunk manifests and delta bases instead of Read's
// transparently reconstructed bytes.
type ObjectStore interface {
	Read(ctx context.Context, id oid.OID) ([]byte, error)
	Write(ctx context.Context, kind objects.Kind, data []byte) (oid.OID, error)
	Exists(ctx context.Context, id oid.OID) (bool, error)
	Inspect(ctx context.Context, id oid.OID) (odb.Shape, []oid.OID, error)
}

// collectReachable walks commits -> tree -> blobs from every root (a
// commit OID), following chunk-manifest and delta-base references
// discovered via Inspect, and returns every OID touched tagged with its
// kind (manifests and chunks are tagged KindBlob: the pack format only
// distinguishes Blob/Tree/Commit, treating a chunked file's manifest and
// its chunks as ordinary blobs).
func collectReachable(ctx context.Context, store ObjectStore, roots []oid.OID) (map[oid.OID]objects.Kind, error) {
	visited := make(map[oid.OID]objects.Kind)
	queue := append([]oid.OID{}, roots...)

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := visited[id]; ok {
			continue
		}
		visited[id] = objects.KindCommit

		data, err := store.Read(ctx, id)
		if err != nil {
			return nil, err
		}
		c, err := objects.ParseCommit(data)
		if err != nil {
			return nil, err
		}
		if _, ok := visited[c.TreeOID]; !ok {
			if err := walkTree(ctx, store, c.TreeOID, visited); err != nil {
				return nil, err
			}
		}
		for _, p := range c.Parents {
			if _, ok := visited[p]; !ok {
				queue = append(queue, p)
			}
		}
	}
	return visited, nil
}

func walkTree(ctx context.Context, store ObjectStore, treeOID oid.OID, visited map[oid.OID]objects.Kind) error {
	if _, ok := visited[treeOID]; ok {
		return nil
	}
	visited[treeOID] = objects.KindTree

	data, err := store.Read(ctx, treeOID)
	if err != nil {
		return err
	}
	tree, err := objects.ParseTree(data)
	if err != nil {
		return err
	}
	for _, e := range tree.Entries {
		if e.Mode == objects.ModeDir {
			if err := walkTree(ctx, store, e.OID, visited); err != nil {
				return err
			}
			continue
		}
		if err := visitBlob(ctx, store, e.OID, visited); err != nil {
			return err
		}
	}
	return nil
}

// visitBlob marks a leaf blob visited and follows it one envelope layer
// deep: a chunk manifest's chunks, or a delta's base.
func visitBlob(ctx context.Context, store ObjectStore, id oid.OID, visited map[oid.OID]objects.Kind) error {
	if _, ok := visited[id]; ok {
		return nil
	}
	visited[id] = objects.KindBlob

	shape, refs, err := store.Inspect(ctx, id)
	if err != nil {
		return err
	}
	if shape == odb.ShapeDirect {
		return nil
	}
	for _, r := range refs {
		if err := visitBlob(ctx, store, r, visited); err != nil {
			return err
		}
	}
	return nil
}

// reachableMinusHave returns the kind-tagged set of OIDs reachable from
// want that are not also reachable from have.
func reachableMinusHave(ctx context.Context, store ObjectStore, want, have []oid.OID) (map[oid.OID]objects.Kind, error) {
	wantSet, err := collectReachable(ctx, store, want)
	if err != nil {
		return nil, err
	}
	if len(have) == 0 {
		return wantSet, nil
	}
	haveSet, err := collectReachable(ctx, store, have)
	if err != nil {
		return nil, err
	}
	out := make(map[oid.OID]objects.Kind, len(wantSet))
	for id, kind := range wantSet {
		if _, inHave := haveSet[id]; !inHave {
			out[id] = kind
		}
	}
	return out, nil
}
