package merge_test

import (
	"context"
	"testing"
	"time"

	"github.com/mediagit/mediagit/merge"
	"github.com/mediagit/mediagit/objects"
	"github.com/mediagit/mediagit/odb"
	"github.com/mediagit/mediagit/oid"
	"github.com/mediagit/mediagit/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore() *odb.ODB {
	return odb.New(storage.NewMock(), 1<<20)
}

func writeBlob(t *testing.T, db *odb.ODB, content string) oid.OID {
	t.Helper()
	id, err := db.Write(context.Background(), objects.KindBlob, []byte(content))
	require.NoError(t, err)
	return id
}

func writeTree(t *testing.T, db *odb.ODB, entries []objects.TreeEntry) oid.OID {
	t.Helper()
	encoded, err := objects.Encode(objects.KindTree, objects.Tree{Entries: entries})
	require.NoError(t, err)
	id, err := db.Write(context.Background(), objects.KindTree, encoded)
	require.NoError(t, err)
	return id
}

func writeCommit(t *testing.T, db *odb.ODB, treeOID oid.OID, parents ...oid.OID) oid.OID {
	t.Helper()
	c := objects.Commit{
		TreeOID: treeOID,
		Parents: parents,
		Author:  objects.Signature{Name: "a", Email: "a@x.test", Timestamp: time.Unix(0, 0).UTC()},
		Committer: objects.Signature{
			Name: "a", Email: "a@x.test", Timestamp: time.Unix(0, 0).UTC(),
		},
		Message: "msg",
	}
	encoded, err := objects.Encode(objects.KindCommit, c)
	require.NoError(t, err)
	id, err := db.Write(context.Background(), objects.KindCommit, encoded)
	require.NoError(t, err)
	return id
}

func TestLCATrivialSameCommit(t *testing.T) {
	db := newStore()
	ctx := context.Background()
	tree := writeTree(t, db, nil)
	c := writeCommit(t, db, tree)

	bases, err := merge.LCA(ctx, db, c, c)
	require.NoError(t, err)
	assert.Equal(t, []oid.OID{c}, bases)
}

func TestLCALinearHistory(t *testing.T) {
	db := newStore()
	ctx := context.Background()
	tree := writeTree(t, db, nil)
	root := writeCommit(t, db, tree)
	mid := writeCommit(t, db, tree, root)
	tip := writeCommit(t, db, tree, mid)

	bases, err := merge.LCA(ctx, db, root, tip)
	require.NoError(t, err)
	assert.Equal(t, []oid.OID{root}, bases)
}

func TestLCADivergentHistory(t *testing.T) {
	db := newStore()
	ctx := context.Background()
	tree := writeTree(t, db, nil)
	base := writeCommit(t, db, tree)
	left := writeCommit(t, db, tree, base)
	right := writeCommit(t, db, tree, base)

	bases, err := merge.LCA(ctx, db, left, right)
	require.NoError(t, err)
	require.Len(t, bases, 1)
	assert.Equal(t, base, bases[0])
}

func TestDiffClassifiesAddedDeletedModified(t *testing.T) {
	db := newStore()
	ctx := context.Background()

	a1 := writeBlob(t, db, "a-v1")
	b1 := writeBlob(t, db, "b-v1")
	a2 := writeBlob(t, db, "a-v2")
	c1 := writeBlob(t, db, "c-v1")

	from := writeTree(t, db, []objects.TreeEntry{
		{Name: "a.txt", Mode: objects.ModeFile, OID: a1},
		{Name: "b.txt", Mode: objects.ModeFile, OID: b1},
	})
	to := writeTree(t, db, []objects.TreeEntry{
		{Name: "a.txt", Mode: objects.ModeFile, OID: a2}, // modified
		{Name: "c.txt", Mode: objects.ModeFile, OID: c1}, // added
		// b.txt deleted
	})

	changes, err := merge.Diff(ctx, db, from, to)
	require.NoError(t, err)
	require.Len(t, changes, 3)
	assert.Equal(t, merge.Modified, changes["a.txt"].Kind)
	assert.Equal(t, merge.Added, changes["c.txt"].Kind)
	assert.Equal(t, merge.Deleted, changes["b.txt"].Kind)
}

func TestMergeFastForwardWhenBaseEqualsOurs(t *testing.T) {
	db := newStore()
	ctx := context.Background()
	base := writeTree(t, db, nil)
	theirs := writeTree(t, db, []objects.TreeEntry{{Name: "x", Mode: objects.ModeFile, OID: writeBlob(t, db, "x")}})

	result, err := merge.Merge(ctx, db, base, base, theirs, merge.Recursive)
	require.NoError(t, err)
	assert.True(t, result.FastForward)
	assert.Equal(t, theirs, result.TreeOID)
	assert.Empty(t, result.Conflicts)
}

func TestMergeNonConflictingChangesOnBothSides(t *testing.T) {
	db := newStore()
	ctx := context.Background()

	baseBlob := writeBlob(t, db, "shared")
	base := writeTree(t, db, []objects.TreeEntry{{Name: "shared.txt", Mode: objects.ModeFile, OID: baseBlob}})

	oursBlob := writeBlob(t, db, "ours-new")
	ours := writeTree(t, db, []objects.TreeEntry{
		{Name: "shared.txt", Mode: objects.ModeFile, OID: baseBlob},
		{Name: "ours-only.txt", Mode: objects.ModeFile, OID: oursBlob},
	})

	theirsBlob := writeBlob(t, db, "theirs-new")
	theirs := writeTree(t, db, []objects.TreeEntry{
		{Name: "shared.txt", Mode: objects.ModeFile, OID: baseBlob},
		{Name: "theirs-only.txt", Mode: objects.ModeFile, OID: theirsBlob},
	})

	result, err := merge.Merge(ctx, db, base, ours, theirs, merge.Recursive)
	require.NoError(t, err)
	assert.Empty(t, result.Conflicts)

	flattened, err := merge.Diff(ctx, db, base, result.TreeOID)
	require.NoError(t, err)
	assert.Len(t, flattened, 2)
	assert.Equal(t, oursBlob, flattened["ours-only.txt"].OID)
	assert.Equal(t, theirsBlob, flattened["theirs-only.txt"].OID)
}

func TestMergeDetectsModifyModifyConflict(t *testing.T) {
	db := newStore()
	ctx := context.Background()

	baseBlob := writeBlob(t, db, "base content")
	base := writeTree(t, db, []objects.TreeEntry{{Name: "f.txt", Mode: objects.ModeFile, OID: baseBlob}})

	oursBlob := writeBlob(t, db, "ours content")
	ours := writeTree(t, db, []objects.TreeEntry{{Name: "f.txt", Mode: objects.ModeFile, OID: oursBlob}})

	theirsBlob := writeBlob(t, db, "theirs content")
	theirs := writeTree(t, db, []objects.TreeEntry{{Name: "f.txt", Mode: objects.ModeFile, OID: theirsBlob}})

	result, err := merge.Merge(ctx, db, base, ours, theirs, merge.Recursive)
	require.NoError(t, err)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, merge.ModifyModify, result.Conflicts[0].Kind)
}

func TestMergeOursStrategyResolvesConflict(t *testing.T) {
	db := newStore()
	ctx := context.Background()

	baseBlob := writeBlob(t, db, "base content")
	base := writeTree(t, db, []objects.TreeEntry{{Name: "f.txt", Mode: objects.ModeFile, OID: baseBlob}})
	oursBlob := writeBlob(t, db, "ours content")
	ours := writeTree(t, db, []objects.TreeEntry{{Name: "f.txt", Mode: objects.ModeFile, OID: oursBlob}})
	theirsBlob := writeBlob(t, db, "theirs content")
	theirs := writeTree(t, db, []objects.TreeEntry{{Name: "f.txt", Mode: objects.ModeFile, OID: theirsBlob}})

	result, err := merge.Merge(ctx, db, base, ours, theirs, merge.Ours)
	require.NoError(t, err)
	assert.Empty(t, result.Conflicts)

	data, err := db.Read(ctx, result.TreeOID)
	require.NoError(t, err)
	tree, err := objects.ParseTree(data)
	require.NoError(t, err)
	require.Len(t, tree.Entries, 1)
	assert.Equal(t, oursBlob, tree.Entries[0].OID)
}

func TestMergeModifyDeleteConflict(t *testing.T) {
	db := newStore()
	ctx := context.Background()

	baseBlob := writeBlob(t, db, "base content")
	base := writeTree(t, db, []objects.TreeEntry{{Name: "f.txt", Mode: objects.ModeFile, OID: baseBlob}})
	oursBlob := writeBlob(t, db, "ours changed")
	ours := writeTree(t, db, []objects.TreeEntry{{Name: "f.txt", Mode: objects.ModeFile, OID: oursBlob}})
	theirs := writeTree(t, db, nil) // theirs deleted f.txt

	result, err := merge.Merge(ctx, db, base, ours, theirs, merge.Recursive)
	require.NoError(t, err)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, merge.ModifyDelete, result.Conflicts[0].Kind)
}

func TestMergeAddAddConflict(t *testing.T) {
	db := newStore()
	ctx := context.Background()

	base := writeTree(t, db, nil)
	oursBlob := writeBlob(t, db, "ours new file")
	ours := writeTree(t, db, []objects.TreeEntry{{Name: "new.txt", Mode: objects.ModeFile, OID: oursBlob}})
	theirsBlob := writeBlob(t, db, "theirs new file")
	theirs := writeTree(t, db, []objects.TreeEntry{{Name: "new.txt", Mode: objects.ModeFile, OID: theirsBlob}})

	result, err := merge.Merge(ctx, db, base, ours, theirs, merge.Recursive)
	require.NoError(t, err)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, merge.AddAdd, result.Conflicts[0].Kind)
}

func TestMergeBuildsNestedTreesFromDirectoryPaths(t *testing.T) {
	db := newStore()
	ctx := context.Background()

	base := writeTree(t, db, nil)

	oursBlob := writeBlob(t, db, "nested content")
	oursSub := writeTree(t, db, []objects.TreeEntry{{Name: "file.txt", Mode: objects.ModeFile, OID: oursBlob}})
	ours := writeTree(t, db, []objects.TreeEntry{{Name: "dir", Mode: objects.ModeDir, OID: oursSub}})

	// theirs differs from base so the merge builds a new tree instead of
	// fast-forwarding to ours.
	theirs := writeTree(t, db, []objects.TreeEntry{{Name: "other.txt", Mode: objects.ModeFile, OID: writeBlob(t, db, "other content")}})

	result, err := merge.Merge(ctx, db, base, ours, theirs, merge.Recursive)
	require.NoError(t, err)
	assert.Empty(t, result.Conflicts)

	flattened, err := merge.Diff(ctx, db, base, result.TreeOID)
	require.NoError(t, err)
	require.Contains(t, flattened, "dir/file.txt")
	assert.Equal(t, oursBlob, flattened["dir/file.txt"].OID)
}

func TestCommitMergeRejectsUnresolvedConflicts(t *testing.T) {
	db := newStore()
	ctx := context.Background()

	baseBlob := writeBlob(t, db, "base")
	base := writeTree(t, db, []objects.TreeEntry{{Name: "f.txt", Mode: objects.ModeFile, OID: baseBlob}})
	ours := writeTree(t, db, []objects.TreeEntry{{Name: "f.txt", Mode: objects.ModeFile, OID: writeBlob(t, db, "o")}})
	theirs := writeTree(t, db, []objects.TreeEntry{{Name: "f.txt", Mode: objects.ModeFile, OID: writeBlob(t, db, "t")}})

	result, err := merge.Merge(ctx, db, base, ours, theirs, merge.Recursive)
	require.NoError(t, err)
	require.NotEmpty(t, result.Conflicts)

	sig := objects.Signature{Name: "a", Email: "a@x.test", Timestamp: time.Unix(0, 0).UTC()}
	_, err = merge.CommitMerge(ctx, db, result, nil, sig, sig, "merge")
	assert.Error(t, err)
}
