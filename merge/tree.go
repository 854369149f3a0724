package merge

import (
	"context"
	"strings"

	"github.com/mediagit/mediagit/mgerr"
	"github.com/mediagit/mediagit/objects"
	"github.com/mediagit/mediagit/oid"
)

// Store is the narrow read/write contract merge needs from the object
// database: enough to resolve trees/commits and to write the tree objects
// a merge produces. *odb.ODB satisfies this.
type Store interface {
	Read(ctx context.Context, id oid.OID) ([]byte, error)
	Write(ctx context.Context, kind objects.Kind, data []byte) (oid.OID, error)
}

// leaf is a blob reference at a fully-qualified path: a tree flattened to
// its file entries, directory structure discarded (it's reconstructed from
// slash-joined paths when a result tree is built).
type leaf struct {
	OID  oid.OID
	Mode objects.Mode
}

func (a leaf) equal(b leaf) bool { return a.OID == b.OID && a.Mode == b.Mode }

// flattenTree reads treeOID and every subtree it references, returning a
// flat path -> leaf map for file entries only.
func flattenTree(ctx context.Context, store Store, treeOID oid.OID) (map[string]leaf, error) {
	out := make(map[string]leaf)
	if err := flattenInto(ctx, store, treeOID, "", out); err != nil {
		return nil, err
	}
	return out, nil
}

func flattenInto(ctx context.Context, store Store, treeOID oid.OID, prefix string, out map[string]leaf) error {
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
			if err := flattenInto(ctx, store, e.OID, path, out); err != nil {
				return err
			}
			continue
		}
		out[path] = leaf{OID: e.OID, Mode: e.Mode}
	}
	return nil
}

// buildTree writes a fresh, possibly nested Tree hierarchy from a flat
// path -> leaf map, partitioning paths by their first path component and
// recursing — the same bottom-up scheme used to turn an index snapshot
// into a commit's root tree.
func buildTree(ctx context.Context, store Store, entries map[string]leaf) (oid.OID, error) {
	var direct []objects.TreeEntry
	groups := make(map[string]map[string]leaf)

	for path, lf := range entries {
		if idx := strings.IndexByte(path, '/'); idx >= 0 {
			first, rest := path[:idx], path[idx+1:]
			if groups[first] == nil {
				groups[first] = make(map[string]leaf)
			}
			groups[first][rest] = lf
			continue
		}
		direct = append(direct, objects.TreeEntry{Name: path, Mode: lf.Mode, OID: lf.OID})
	}

	for name, sub := range groups {
		subOID, err := buildTree(ctx, store, sub)
		if err != nil {
			return oid.Zero, err
		}
		direct = append(direct, objects.TreeEntry{Name: name, Mode: objects.ModeDir, OID: subOID})
	}

	encoded, err := objects.Encode(objects.KindTree, objects.Tree{Entries: direct})
	if err != nil {
		return oid.Zero, mgerr.Wrap(mgerr.IO, err, "encode merged tree")
	}
	return store.Write(ctx, objects.KindTree, encoded)
}
