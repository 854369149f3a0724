package fsck_test

import (
	"context"
	"testing"
	"time"

	"github.com/mediagit/mediagit/fsck"
	"github.com/mediagit/mediagit/objects"
	"github.com/mediagit/mediagit/odb"
	"github.com/mediagit/mediagit/oid"
	"github.com/mediagit/mediagit/refs"
	"github.com/mediagit/mediagit/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFixture(t *testing.T) (*odb.ODB, *refs.DB) {
	t.Helper()
	return odb.New(storage.NewMock(), 1<<20), refs.New(storage.NewMock())
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

func TestCheckCleanRepoReportsNoIssues(t *testing.T) {
	db, refsDB := newFixture(t)
	ctx := context.Background()
	blob := writeBlob(t, db, "hello")
	tree := writeTree(t, db, []objects.TreeEntry{{Name: "a.txt", Mode: objects.ModeFile, OID: blob}})
	commit := writeCommit(t, db, tree)
	require.NoError(t, refsDB.Write(ctx, refs.Ref{Name: "heads/main", Kind: refs.Direct, Target: commit}))

	checker := fsck.New(db, refsDB)
	report, err := checker.Check(ctx, fsck.Options{IncludeDangling: true})
	require.NoError(t, err)
	assert.Empty(t, report.Issues)
	assert.Equal(t, 3, report.ObjectsSeen)
	assert.Equal(t, 3, report.ReachableSeen)
}

func TestCheckDetectsBrokenDirectReference(t *testing.T) {
	db, refsDB := newFixture(t)
	ctx := context.Background()
	missing := oid.Hash([]byte("never written"))
	require.NoError(t, refsDB.Write(ctx, refs.Ref{Name: "heads/main", Kind: refs.Direct, Target: missing}))

	checker := fsck.New(db, refsDB)
	report, err := checker.Check(ctx, fsck.Options{})
	require.NoError(t, err)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, fsck.BrokenReference, report.Issues[0].Category)
	assert.Equal(t, "heads/main", report.Issues[0].Ref)
}

func TestCheckDetectsBrokenSymbolicReference(t *testing.T) {
	db, refsDB := newFixture(t)
	ctx := context.Background()
	require.NoError(t, refsDB.Write(ctx, refs.Ref{Name: "HEAD", Kind: refs.Symbolic, Points: "heads/nonexistent"}))

	checker := fsck.New(db, refsDB)
	report, err := checker.Check(ctx, fsck.Options{})
	require.NoError(t, err)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, fsck.BrokenReference, report.Issues[0].Category)
}

func TestCheckDetectsMissingTreeBlob(t *testing.T) {
	db, refsDB := newFixture(t)
	ctx := context.Background()
	missingBlob := oid.Hash([]byte("gone"))
	tree := writeTree(t, db, []objects.TreeEntry{{Name: "a.txt", Mode: objects.ModeFile, OID: missingBlob}})
	commit := writeCommit(t, db, tree)
	require.NoError(t, refsDB.Write(ctx, refs.Ref{Name: "heads/main", Kind: refs.Direct, Target: commit}))

	checker := fsck.New(db, refsDB)
	report, err := checker.Check(ctx, fsck.Options{})
	require.NoError(t, err)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, fsck.MissingObject, report.Issues[0].Category)
	assert.Equal(t, missingBlob, report.Issues[0].OID)
}

func TestCheckDetectsDanglingObjectOnlyWhenRequested(t *testing.T) {
	db, refsDB := newFixture(t)
	ctx := context.Background()
	orphan := writeBlob(t, db, "nobody points at me")

	checker := fsck.New(db, refsDB)

	report, err := checker.Check(ctx, fsck.Options{})
	require.NoError(t, err)
	assert.Empty(t, report.Issues)

	report, err = checker.Check(ctx, fsck.Options{IncludeDangling: true})
	require.NoError(t, err)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, fsck.DanglingObject, report.Issues[0].Category)
	assert.Equal(t, orphan, report.Issues[0].OID)
	assert.True(t, report.Issues[0].Repairable)
}

func TestRepairDryRunDoesNotDelete(t *testing.T) {
	db, refsDB := newFixture(t)
	ctx := context.Background()
	orphan := writeBlob(t, db, "dangling")

	checker := fsck.New(db, refsDB)
	report, err := checker.Check(ctx, fsck.Options{IncludeDangling: true})
	require.NoError(t, err)

	removed, err := checker.Repair(ctx, report, true)
	require.NoError(t, err)
	assert.Equal(t, []oid.OID{orphan}, removed)

	exists, err := db.Exists(ctx, orphan)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRepairDeletesRepairableIssues(t *testing.T) {
	db, refsDB := newFixture(t)
	ctx := context.Background()
	orphan := writeBlob(t, db, "dangling for real")

	checker := fsck.New(db, refsDB)
	report, err := checker.Check(ctx, fsck.Options{IncludeDangling: true})
	require.NoError(t, err)

	removed, err := checker.Repair(ctx, report, false)
	require.NoError(t, err)
	assert.Equal(t, []oid.OID{orphan}, removed)

	exists, err := db.Exists(ctx, orphan)
	require.NoError(t, err)
	assert.False(t, exists)
}
