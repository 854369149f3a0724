package pack_test

import (
	"testing"

	"github.com/mediagit/mediagit/deltacodec"
	"github.com/mediagit/mediagit/mgerr"
	"github.com/mediagit/mediagit/objects"
	"github.com/mediagit/mediagit/oid"
	"github.com/mediagit/mediagit/pack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteOpenRoundTrip(t *testing.T) {
	blobData := []byte("hello blob")
	treeData := []byte("fake tree bytes")
	records := []pack.Record{
		{OID: oid.Hash(blobData), Kind: objects.KindBlob, Data: blobData},
		{OID: oid.Hash(treeData), Kind: objects.KindTree, Data: treeData},
	}

	data, err := pack.Write(records)
	require.NoError(t, err)

	r, err := pack.Open(data, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Count())

	kind, got, err := r.Get(oid.Hash(blobData))
	require.NoError(t, err)
	assert.Equal(t, objects.KindBlob, kind)
	assert.Equal(t, blobData, got)

	kind, got, err = r.Get(oid.Hash(treeData))
	require.NoError(t, err)
	assert.Equal(t, objects.KindTree, kind)
	assert.Equal(t, treeData, got)
}

func TestOpenRejectsCorruptedChecksum(t *testing.T) {
	blobData := []byte("payload")
	data, err := pack.Write([]pack.Record{{OID: oid.Hash(blobData), Kind: objects.KindBlob, Data: blobData}})
	require.NoError(t, err)

	corrupted := append([]byte{}, data...)
	corrupted[len(corrupted)-1] ^= 0xFF

	_, err = pack.Open(corrupted, nil)
	assert.True(t, mgerr.Is(err, mgerr.Integrity))
}

func TestOpenRejectsBadSignature(t *testing.T) {
	_, err := pack.Open([]byte("not a pack at all, but long enough to pass the minimum length check"), nil)
	assert.Error(t, err)
}

func TestDeltaRecordResolvesWithinPack(t *testing.T) {
	base := []byte("The quick brown fox jumps over the lazy dog, repeated for padding bytes.")
	target := append(append([]byte{}, base...), []byte(" plus a trailing addition.")...)
	deltaBytes := deltacodec.Delta(base, target)

	records := []pack.Record{
		{OID: oid.Hash(base), Kind: objects.KindBlob, Data: base},
		{OID: oid.Hash(target), Delta: true, BaseOID: oid.Hash(base), Data: deltaBytes},
	}
	data, err := pack.Write(records)
	require.NoError(t, err)

	r, err := pack.Open(data, nil)
	require.NoError(t, err)

	_, got, err := r.Get(oid.Hash(target))
	require.NoError(t, err)
	assert.Equal(t, target, got)
}

func TestDeltaRecordFallsBackToExternalResolver(t *testing.T) {
	base := []byte("external base content used only outside the pack")
	target := append(append([]byte{}, base...), []byte(" tail")...)
	deltaBytes := deltacodec.Delta(base, target)

	records := []pack.Record{
		{OID: oid.Hash(target), Delta: true, BaseOID: oid.Hash(base), Data: deltaBytes},
	}
	data, err := pack.Write(records)
	require.NoError(t, err)

	resolve := func(id oid.OID) ([]byte, error) {
		if id == oid.Hash(base) {
			return base, nil
		}
		return nil, mgerr.New(mgerr.NotFound, "unknown")
	}

	r, err := pack.Open(data, resolve)
	require.NoError(t, err)
	_, got, err := r.Get(oid.Hash(target))
	require.NoError(t, err)
	assert.Equal(t, target, got)
}

func TestDeltaRecordMissingBaseSurfacesError(t *testing.T) {
	base := []byte("never actually stored anywhere")
	target := append(append([]byte{}, base...), []byte(" more")...)
	deltaBytes := deltacodec.Delta(base, target)

	records := []pack.Record{
		{OID: oid.Hash(target), Delta: true, BaseOID: oid.Hash(base), Data: deltaBytes},
	}
	data, err := pack.Write(records)
	require.NoError(t, err)

	r, err := pack.Open(data, nil)
	require.NoError(t, err)
	_, _, err = r.Get(oid.Hash(target))
	assert.True(t, mgerr.Is(err, mgerr.MissingObject))
}

func TestHasAndOIDs(t *testing.T) {
	blobData := []byte("x")
	id := oid.Hash(blobData)
	data, err := pack.Write([]pack.Record{{OID: id, Kind: objects.KindBlob, Data: blobData}})
	require.NoError(t, err)

	r, err := pack.Open(data, nil)
	require.NoError(t, err)
	assert.True(t, r.Has(id))
	assert.False(t, r.Has(oid.Hash([]byte("nope"))))
	assert.Equal(t, []oid.OID{id}, r.OIDs())
}
