package transfer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mediagit/mediagit/merge"
	"github.com/mediagit/mediagit/objects"
	"github.com/mediagit/mediagit/odb"
	"github.com/mediagit/mediagit/oid"
	"github.com/mediagit/mediagit/pack"
	"github.com/mediagit/mediagit/refs"
	"github.com/mediagit/mediagit/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	store := newTestStore()
	refsDB := refs.New(storage.NewMock())
	srv := NewServer(refsDB, store, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

// newTestServerWithAncestry wires a real IsAncestorFunc over store, for
// tests exercising fast-forward gating rather than plain ref writes.
func newTestServerWithAncestry(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	store := newTestStore()
	refsDB := refs.New(storage.NewMock())
	isAncestor := func(ctx context.Context, ancestor, descendant oid.OID) (bool, error) {
		return merge.IsAncestor(ctx, store, ancestor, descendant)
	}
	srv := NewServer(refsDB, store, isAncestor)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestInfoRefsListsWrittenRefs(t *testing.T) {
	srv, ts := newTestServer(t)
	db := srv.store
	tree := writeTestTree(t, db, nil)
	commit := writeTestCommit(t, db, tree)
	require.NoError(t, srv.refs.Write(context.Background(), refs.Ref{Name: "heads/main", Kind: refs.Direct, Target: commit}))

	client := NewClient(ts.URL)
	resp, err := client.ListRefs(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.Refs, 1)
	assert.Equal(t, "heads/main", resp.Refs[0].Name)
	assert.Equal(t, commit.String(), resp.Refs[0].OID)
}

func TestFetchRoundTripsObjects(t *testing.T) {
	srv, ts := newTestServer(t)
	db := srv.store
	blob := writeTestBlob(t, db, "payload")
	tree := writeTestTree(t, db, nil)
	commit := writeTestCommit(t, db, tree)
	_ = blob

	client := NewClient(ts.URL)
	records, err := client.Fetch(context.Background(), []oid.OID{commit}, nil)
	require.NoError(t, err)

	byOID := make(map[oid.OID]pack.Record, len(records))
	for _, r := range records {
		byOID[r.OID] = r
	}
	_, hasCommit := byOID[commit]
	_, hasTree := byOID[tree]
	assert.True(t, hasCommit)
	assert.True(t, hasTree)
}

func TestPushWritesObjectsIntoRemoteStore(t *testing.T) {
	srv, ts := newTestServer(t)
	localStore := newTestStore()
	blob := writeTestBlob(t, localStore, "pushed content")
	tree := writeTestTree(t, localStore, nil)
	commit := writeTestCommit(t, localStore, tree)

	records := []pack.Record{
		{OID: blob, Kind: objects.KindBlob, Data: mustRead(t, localStore, blob)},
		{OID: tree, Kind: objects.KindTree, Data: mustRead(t, localStore, tree)},
		{OID: commit, Kind: objects.KindCommit, Data: mustRead(t, localStore, commit)},
	}

	client := NewClient(ts.URL)
	require.NoError(t, client.Push(context.Background(), records))

	exists, err := srv.store.Exists(context.Background(), commit)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestUpdateRefsReportsPerRefResult(t *testing.T) {
	srv, ts := newTestServer(t)
	db := srv.store
	tree := writeTestTree(t, db, nil)
	commit := writeTestCommit(t, db, tree)

	client := NewClient(ts.URL)
	resp, err := client.UpdateRefs(context.Background(), []RefUpdate{
		{Name: "heads/main", NewOID: commit.String()},
	}, false)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.True(t, resp.Results[0].Success)

	got, err := srv.refs.Resolve(context.Background(), "heads/main")
	require.NoError(t, err)
	assert.Equal(t, commit, got)
}

// scenario (e): a fast-forward push — new commit's parent is the ref's
// current tip — is accepted and moves the ref.
func TestUpdateRefsAcceptsFastForward(t *testing.T) {
	srv, ts := newTestServerWithAncestry(t)
	db := srv.store
	tree0 := writeTestTree(t, db, nil)
	c0 := writeTestCommit(t, db, tree0)
	tree1 := writeTestTree(t, db, []objects.TreeEntry{
		{Name: "a.txt", Mode: objects.ModeFile, OID: writeTestBlob(t, db, "a")},
	})
	c1 := writeTestCommit(t, db, tree1, c0)

	client := NewClient(ts.URL)
	ctx := context.Background()
	resp, err := client.UpdateRefs(ctx, []RefUpdate{{Name: "heads/main", NewOID: c0.String()}}, false)
	require.NoError(t, err)
	require.True(t, resp.Results[0].Success)

	resp, err = client.UpdateRefs(ctx, []RefUpdate{{Name: "heads/main", NewOID: c1.String()}}, false)
	require.NoError(t, err)
	require.True(t, resp.Results[0].Success, resp.Results[0].Error)

	got, err := srv.refs.Resolve(ctx, "heads/main")
	require.NoError(t, err)
	assert.Equal(t, c1, got)
}

// scenario (f): a non-fast-forward push — the new commit does not descend
// from the ref's current tip — is rejected and the ref is left unmoved.
func TestUpdateRefsRejectsNonFastForward(t *testing.T) {
	srv, ts := newTestServerWithAncestry(t)
	db := srv.store
	tree0 := writeTestTree(t, db, nil)
	c0 := writeTestCommit(t, db, tree0)
	treeSibling := writeTestTree(t, db, []objects.TreeEntry{
		{Name: "b.txt", Mode: objects.ModeFile, OID: writeTestBlob(t, db, "b")},
	})
	cSibling := writeTestCommit(t, db, treeSibling, c0)
	treeDivergent := writeTestTree(t, db, []objects.TreeEntry{
		{Name: "c.txt", Mode: objects.ModeFile, OID: writeTestBlob(t, db, "c")},
	})
	cDivergent := writeTestCommit(t, db, treeDivergent, c0)

	client := NewClient(ts.URL)
	ctx := context.Background()
	_, err := client.UpdateRefs(ctx, []RefUpdate{{Name: "heads/main", NewOID: cSibling.String()}}, false)
	require.NoError(t, err)

	resp, err := client.UpdateRefs(ctx, []RefUpdate{{Name: "heads/main", NewOID: cDivergent.String()}}, false)
	require.NoError(t, err)
	require.False(t, resp.Results[0].Success)
	assert.NotEmpty(t, resp.Results[0].Error)

	got, err := srv.refs.Resolve(ctx, "heads/main")
	require.NoError(t, err)
	assert.Equal(t, cSibling, got, "rejected update must not move the ref")

	forced, err := client.UpdateRefs(ctx, []RefUpdate{{Name: "heads/main", NewOID: cDivergent.String()}}, true)
	require.NoError(t, err)
	require.True(t, forced.Results[0].Success)
	got, err = srv.refs.Resolve(ctx, "heads/main")
	require.NoError(t, err)
	assert.Equal(t, cDivergent, got, "forced update must move the ref despite non-fast-forward")
}

func TestUploadLargeFileRoundTrips(t *testing.T) {
	srv, ts := newTestServer(t)
	data := make([]byte, 2*uploadChunkSize+17)
	for i := range data {
		data[i] = byte(i % 251)
	}

	client := NewClient(ts.URL)
	client.maxParallel = 2
	id, err := client.UploadLargeFile(context.Background(), data, "clip.bin")
	require.NoError(t, err)

	got, err := srv.store.Read(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestRequestToMissingBlobIsNotFound(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/objects/blob/" + oid.Zero.String())
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func mustRead(t *testing.T, store *odb.ODB, id oid.OID) []byte {
	t.Helper()
	data, err := store.Read(context.Background(), id)
	require.NoError(t, err)
	return data
}
