package chunk_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/mediagit/mediagit/chunk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func concatPayloads(payloads [][]byte) []byte {
	var buf bytes.Buffer
	for _, p := range payloads {
		buf.Write(p)
	}
	return buf.Bytes()
}

func TestFixedReconstructs(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefgh"), 1000)
	manifest, payloads := chunk.Split(chunk.Fixed(37), data, "blob")
	assert.Equal(t, data, concatPayloads(payloads))
	assert.Equal(t, uint64(len(data)), manifest.TotalSize)
	assert.Len(t, manifest.Chunks, len(payloads))
}

func TestFixedLastChunkShorter(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 105)
	_, payloads := chunk.Split(chunk.Fixed(50), data, "blob")
	require.Len(t, payloads, 3)
	assert.Len(t, payloads[2], 5)
}

func TestRollingReconstructs(t *testing.T) {
	data := make([]byte, 200000)
	for i := range data {
		data[i] = byte(i * 7 % 251)
	}
	manifest, payloads := chunk.Split(chunk.Rolling(1<<16, 1<<14, 1<<18), data, "blob")
	assert.Equal(t, data, concatPayloads(payloads))
	assert.True(t, len(manifest.Chunks) >= 1)
	for _, c := range manifest.Chunks {
		assert.True(t, c.Size > 0)
	}
}

func TestRollingIsContentDefined(t *testing.T) {
	base := make([]byte, 300000)
	for i := range base {
		base[i] = byte(i * 13 % 251)
	}
	edited := make([]byte, len(base)+37)
	copy(edited, base[:150000])
	copy(edited[150000+37:], base[150000:])

	_, a := chunk.Split(chunk.Rolling(1<<15, 1<<13, 1<<17), base, "blob")
	_, b := chunk.Split(chunk.Rolling(1<<15, 1<<13, 1<<17), edited, "blob")

	seen := make(map[string]bool)
	for _, p := range a {
		seen[string(p)] = true
	}
	shared := 0
	for _, p := range b {
		if seen[string(p)] {
			shared++
		}
	}
	assert.True(t, shared > 0, "expected at least some chunks to survive a mid-file insert")
}

func buildRIFF(subchunks map[string][]byte, order []string) []byte {
	var body bytes.Buffer
	for _, fourcc := range order {
		payload := subchunks[fourcc]
		body.WriteString(fourcc)
		sizeBuf := make([]byte, 4)
		binary.LittleEndian.PutUint32(sizeBuf, uint32(len(payload)))
		body.Write(sizeBuf)
		body.Write(payload)
		if len(payload)%2 != 0 {
			body.WriteByte(0)
		}
	}
	var riff bytes.Buffer
	riff.WriteString("RIFF")
	sizeBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(sizeBuf, uint32(4+body.Len()))
	riff.Write(sizeBuf)
	riff.WriteString("AVI ")
	riff.Write(body.Bytes())
	return riff.Bytes()
}

func TestMediaAwareRIFFReconstructs(t *testing.T) {
	data := buildRIFF(map[string][]byte{
		"hdrl": bytes.Repeat([]byte{0x01}, 20),
		"movi": bytes.Repeat([]byte{0x02}, 101), // odd length forces padding
		"idx1": bytes.Repeat([]byte{0x03}, 8),
	}, []string{"hdrl", "movi", "idx1"})

	manifest, payloads := chunk.Split(chunk.MediaAware(), data, "clip.avi")
	assert.Equal(t, data, concatPayloads(payloads))
	require.True(t, len(manifest.Chunks) >= 2)
	assert.Equal(t, chunk.Metadata, manifest.Chunks[0].Kind)
}

func TestMediaAwareFallsBackOnUnknownExtension(t *testing.T) {
	data := bytes.Repeat([]byte{0x9}, 10<<20)
	manifest, payloads := chunk.Split(chunk.MediaAware(), data, "blob.bin")
	assert.Equal(t, data, concatPayloads(payloads))
	assert.True(t, len(manifest.Chunks) > 1)
}

func TestMediaAwareFallsBackOnNonRIFF(t *testing.T) {
	data := []byte("not a riff file at all")
	_, payloads := chunk.Split(chunk.MediaAware(), data, "clip.avi")
	assert.Equal(t, data, concatPayloads(payloads))
}

func TestEligibleByDefaultPolicy(t *testing.T) {
	assert.False(t, chunk.Eligible(1<<20, "video.mov"))
	assert.True(t, chunk.Eligible(6<<20, "video.mov"))
	assert.False(t, chunk.Eligible(100<<20, "image.jpg"))
}

func TestStoreRefcounting(t *testing.T) {
	s := chunk.NewStore()
	c := chunk.Chunk{Size: 10}
	s.Add(c)
	s.Add(c)
	assert.Equal(t, 2, s.RefCount(c.OID))
	assert.False(t, s.Remove(c.OID))
	assert.True(t, s.Remove(c.OID))
	assert.False(t, s.Contains(c.OID))
}

func TestStoreDedupRatio(t *testing.T) {
	s := chunk.NewStore()
	a := chunk.Chunk{OID: hashOf("a"), Size: 5}
	b := chunk.Chunk{OID: hashOf("b"), Size: 5}
	s.Add(a)
	s.Add(a)
	s.Add(b)
	stats := s.Stats()
	assert.Equal(t, 2, stats.UniqueChunks)
	assert.Equal(t, 3, stats.TotalReferences)
	assert.InDelta(t, 1.0-2.0/3.0, stats.DedupRatio, 1e-9)
}

func hashOf(s string) (o [32]byte) {
	for i, c := range []byte(s) {
		o[i%32] ^= c
	}
	return o
}
