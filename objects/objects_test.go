package objects_test

import (
	"testing"
	"time"

	"github.com/mediagit/mediagit/chunk"
	"github.com/mediagit/mediagit/oid"
	"github.com/mediagit/mediagit/objects"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreeRoundTrip(t *testing.T) {
	tree := objects.Tree{Entries: []objects.TreeEntry{
		{Name: "zebra.txt", Mode: objects.ModeFile, OID: oid.Hash([]byte("z"))},
		{Name: "alpha.txt", Mode: objects.ModeFile, OID: oid.Hash([]byte("a"))},
	}}
	encoded, err := objects.Encode(objects.KindTree, tree)
	require.NoError(t, err)

	decoded, err := objects.ParseTree(encoded)
	require.NoError(t, err)
	require.Len(t, decoded.Entries, 2)
	// entries are canonicalized sorted by name regardless of input order
	assert.Equal(t, "alpha.txt", decoded.Entries[0].Name)
	assert.Equal(t, "zebra.txt", decoded.Entries[1].Name)
}

func TestTreeEncodingIsDeterministic(t *testing.T) {
	a := objects.Tree{Entries: []objects.TreeEntry{
		{Name: "b", Mode: objects.ModeFile, OID: oid.Hash([]byte("1"))},
		{Name: "a", Mode: objects.ModeFile, OID: oid.Hash([]byte("2"))},
	}}
	b := objects.Tree{Entries: []objects.TreeEntry{
		{Name: "a", Mode: objects.ModeFile, OID: oid.Hash([]byte("2"))},
		{Name: "b", Mode: objects.ModeFile, OID: oid.Hash([]byte("1"))},
	}}
	encA, err := objects.Encode(objects.KindTree, a)
	require.NoError(t, err)
	encB, err := objects.Encode(objects.KindTree, b)
	require.NoError(t, err)
	assert.Equal(t, encA, encB)
}

func TestCommitRoundTrip(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := objects.Commit{
		TreeOID: oid.Hash([]byte("tree")),
		Parents: []oid.OID{oid.Hash([]byte("p1")), oid.Hash([]byte("p2"))},
		Author:  objects.Signature{Name: "A", Email: "a@example.com", Timestamp: ts},
		Committer: objects.Signature{
			Name: "C", Email: "c@example.com", Timestamp: ts,
		},
		Message: "initial commit",
	}
	encoded, err := objects.Encode(objects.KindCommit, c)
	require.NoError(t, err)

	decoded, err := objects.ParseCommit(encoded)
	require.NoError(t, err)
	assert.Equal(t, c.TreeOID, decoded.TreeOID)
	assert.Equal(t, c.Parents, decoded.Parents)
	assert.Equal(t, c.Message, decoded.Message)
	assert.True(t, c.Author.Timestamp.Equal(decoded.Author.Timestamp))
}

func TestManifestRoundTripAndValidate(t *testing.T) {
	m := objects.ChunkManifestObject{
		TotalSize: 30,
		Filename:  "big.bin",
		Chunks: []chunk.Chunk{
			{OID: oid.Hash([]byte("c1")), Offset: 0, Size: 10, Kind: chunk.Generic},
			{OID: oid.Hash([]byte("c2")), Offset: 10, Size: 20, Kind: chunk.Generic},
		},
	}
	require.NoError(t, m.Validate())

	encoded, err := objects.Encode(objects.KindChunkManifest, m)
	require.NoError(t, err)
	decoded, err := objects.ParseManifest(encoded)
	require.NoError(t, err)
	assert.Equal(t, m.TotalSize, decoded.TotalSize)
	assert.Equal(t, m.Filename, decoded.Filename)
	require.Len(t, decoded.Chunks, 2)
	assert.Equal(t, m.Chunks[0].OID, decoded.Chunks[0].OID)
}

func TestManifestValidateRejectsGap(t *testing.T) {
	m := objects.ChunkManifestObject{
		TotalSize: 30,
		Chunks: []chunk.Chunk{
			{Offset: 0, Size: 10},
			{Offset: 15, Size: 15}, // gap: should be 10
		},
	}
	assert.Error(t, m.Validate())
}

func TestBlobEncodeIsIdentity(t *testing.T) {
	data := []byte("raw blob bytes")
	encoded, err := objects.Encode(objects.KindBlob, data)
	require.NoError(t, err)
	assert.Equal(t, data, encoded)
}
