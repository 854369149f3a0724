package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/mediagit/mediagit/objects"
	"github.com/mediagit/mediagit/odb"
	"github.com/mediagit/mediagit/oid"
	"github.com/mediagit/mediagit/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() *odb.ODB {
	return odb.New(storage.NewMock(), 1<<20)
}

func writeTestBlob(t *testing.T, db *odb.ODB, content string) oid.OID {
	t.Helper()
	id, err := db.Write(context.Background(), objects.KindBlob, []byte(content))
	require.NoError(t, err)
	return id
}

func writeTestTree(t *testing.T, db *odb.ODB, entries []objects.TreeEntry) oid.OID {
	t.Helper()
	encoded, err := objects.Encode(objects.KindTree, objects.Tree{Entries: entries})
	require.NoError(t, err)
	id, err := db.Write(context.Background(), objects.KindTree, encoded)
	require.NoError(t, err)
	return id
}

func writeTestCommit(t *testing.T, db *odb.ODB, treeOID oid.OID, parents ...oid.OID) oid.OID {
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

func TestCollectReachableWalksCommitTreeBlob(t *testing.T) {
	db := newTestStore()
	ctx := context.Background()

	blob := writeTestBlob(t, db, "hello")
	tree := writeTestTree(t, db, []objects.TreeEntry{{Name: "a.txt", Mode: objects.ModeFile, OID: blob}})
	commit := writeTestCommit(t, db, tree)

	set, err := collectReachable(ctx, db, []oid.OID{commit})
	require.NoError(t, err)

	assert.Equal(t, objects.KindCommit, set[commit])
	assert.Equal(t, objects.KindTree, set[tree])
	assert.Equal(t, objects.KindBlob, set[blob])
	assert.Len(t, set, 3)
}

func TestCollectReachableWalksParentChain(t *testing.T) {
	db := newTestStore()
	ctx := context.Background()

	tree := writeTestTree(t, db, nil)
	first := writeTestCommit(t, db, tree)
	second := writeTestCommit(t, db, tree, first)

	set, err := collectReachable(ctx, db, []oid.OID{second})
	require.NoError(t, err)

	assert.Equal(t, objects.KindCommit, set[first])
	assert.Equal(t, objects.KindCommit, set[second])
	assert.Equal(t, objects.KindTree, set[tree])
}

func TestCollectReachableFollowsNestedTrees(t *testing.T) {
	db := newTestStore()
	ctx := context.Background()

	blob := writeTestBlob(t, db, "nested content")
	subtree := writeTestTree(t, db, []objects.TreeEntry{{Name: "f.bin", Mode: objects.ModeFile, OID: blob}})
	root := writeTestTree(t, db, []objects.TreeEntry{{Name: "dir", Mode: objects.ModeDir, OID: subtree}})
	commit := writeTestCommit(t, db, root)

	set, err := collectReachable(ctx, db, []oid.OID{commit})
	require.NoError(t, err)

	assert.Equal(t, objects.KindTree, set[subtree])
	assert.Equal(t, objects.KindBlob, set[blob])
}

func TestCollectReachableFollowsChunkManifest(t *testing.T) {
	db := newTestStore()
	ctx := context.Background()

	big := make([]byte, 6*1<<20)
	for i := range big {
		big[i] = byte(i)
	}
	manifestOID, err := db.WriteChunked(ctx, big, "video.raw")
	require.NoError(t, err)

	tree := writeTestTree(t, db, []objects.TreeEntry{{Name: "video.raw", Mode: objects.ModeFile, OID: manifestOID}})
	commit := writeTestCommit(t, db, tree)

	set, err := collectReachable(ctx, db, []oid.OID{commit})
	require.NoError(t, err)

	shape, refs, err := db.Inspect(ctx, manifestOID)
	require.NoError(t, err)
	assert.Equal(t, odb.ShapeManifest, shape)
	for _, chunkOID := range refs {
		assert.Equal(t, objects.KindBlob, set[chunkOID])
	}
}

func TestReachableMinusHaveExcludesSharedHistory(t *testing.T) {
	db := newTestStore()
	ctx := context.Background()

	tree := writeTestTree(t, db, nil)
	base := writeTestCommit(t, db, tree)
	ahead := writeTestCommit(t, db, tree, base)

	set, err := reachableMinusHave(ctx, db, []oid.OID{ahead}, []oid.OID{base})
	require.NoError(t, err)

	assert.Equal(t, objects.KindCommit, set[ahead])
	_, baseIncluded := set[base]
	assert.False(t, baseIncluded)
	_, treeIncluded := set[tree]
	assert.False(t, treeIncluded)
}

func TestReachableMinusHaveWithNoHaveReturnsEverything(t *testing.T) {
	db := newTestStore()
	ctx := context.Background()

	tree := writeTestTree(t, db, nil)
	commit := writeTestCommit(t, db, tree)

	set, err := reachableMinusHave(ctx, db, []oid.OID{commit}, nil)
	require.NoError(t, err)

	assert.Len(t, set, 2)
	assert.Equal(t, objects.KindCommit, set[commit])
	assert.Equal(t, objects.KindTree, set[tree])
}
