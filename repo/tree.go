package repo

import (
	"context"
	"strings"

	"github.com/mediagit/mediagit/index"
	"github.com/mediagit/mediagit/mgerr"
	"github.com/mediagit/mediagit/objects"
	"github.com/mediagit/mediagit/odb"
	"github.com/mediagit/mediagit/oid"
)

// buildTree writes a commit's root tree from a flat index snapshot: it
// partitions paths by their first path component and recurses, the same
// bottom-up scheme merge.buildTree uses to turn a flattened three-way
// merge result back into a tree. Deleted entries are omitted.
func buildTree(ctx context.Context, store *odb.ODB, entries []index.Entry) (oid.OID, error) {
	flat := make(map[string]index.Entry, len(entries))
	for _, e := range entries {
		if e.Deleted {
			continue
		}
		flat[e.Path] = e
	}
	return buildTreeLevel(ctx, store, flat)
}

func buildTreeLevel(ctx context.Context, store *odb.ODB, entries map[string]index.Entry) (oid.OID, error) {
	var direct []objects.TreeEntry
	groups := make(map[string]map[string]index.Entry)

	for path, e := range entries {
		if idx := strings.IndexByte(path, '/'); idx >= 0 {
			first, rest := path[:idx], path[idx+1:]
			if groups[first] == nil {
				groups[first] = make(map[string]index.Entry)
			}
			sub := e
			sub.Path = rest
			groups[first][rest] = sub
			continue
		}
		direct = append(direct, objects.TreeEntry{Name: path, Mode: e.Mode, OID: e.OID})
	}

	for name, sub := range groups {
		subOID, err := buildTreeLevel(ctx, store, sub)
		if err != nil {
			return oid.Zero, err
		}
		direct = append(direct, objects.TreeEntry{Name: name, Mode: objects.ModeDir, OID: subOID})
	}

	encoded, err := objects.Encode(objects.KindTree, objects.Tree{Entries: direct})
	if err != nil {
		return oid.Zero, mgerr.Wrap(mgerr.IO, err, "encode tree")
	}
	return store.Write(ctx, objects.KindTree, encoded)
}

// loadTreeIntoIndex flattens treeOID into a fresh Index, for Checkout.
// Trees don't carry a file's working-tree size (only name/mode/oid), so
// checked-out entries carry Size 0; it is reporting metadata only and is
// never consulted by Commit, which re-derives it from the staged bytes.
func loadTreeIntoIndex(ctx context.Context, store *odb.ODB, treeOID oid.OID) (*index.Index, error) {
	idx := index.New()
	if err := flattenTreeInto(ctx, store, treeOID, "", idx); err != nil {
		return nil, err
	}
	return idx, nil
}

func flattenTreeInto(ctx context.Context, store *odb.ODB, treeOID oid.OID, prefix string, idx *index.Index) error {
	data, err := store.Read(ctx, treeOID)
	if err != nil {
		return err
	}
	tree, err := objects.ParseTree(data)
	if err != nil {
		return err
	}
	for _, e := range tree.Entries {
		path := e.Name
		if prefix != "" {
			path = prefix + "/" + e.Name
		}
		if e.Mode == objects.ModeDir {
			if err := flattenTreeInto(ctx, store, e.OID, path, idx); err != nil {
				return err
			}
			continue
		}
		idx.AddEntry(index.Entry{Path: path, OID: e.OID, Mode: e.Mode})
	}
	return nil
}
