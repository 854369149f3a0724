// Package odb implements the Object Database: the single authority for
// reading and writing content-addressed objects, unifying storage,
// compression, chunking, and delta compression behind one contract.
package odb

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mediagit/mediagit/chunk"
	"github.com/mediagit/mediagit/compress"
	"github.com/mediagit/mediagit/deltacodec"
	"github.com/mediagit/mediagit/mgerr"
	"github.com/mediagit/mediagit/objects"
	"github.com/mediagit/mediagit/oid"
	"github.com/mediagit/mediagit/storage"
)

// marker distinguishes, at the storage envelope level, whether an
// object's payload is a caller-opaque blob/tree/commit, a chunk
// manifest, or a delta record — the three shapes odb.Read must know how
// to unwind without being told again by the caller.
type marker byte

const (
	markerDirect marker = iota
	markerManifest
	markerDelta
)

// objectKeyPrefix is the storage namespace ODB exclusively owns.
const objectKeyPrefix = "objects/"

func objectKey(id oid.OID) string {
	hex := id.String()
	return fmt.Sprintf("%s%s/%s", objectKeyPrefix, hex[:2], hex[2:])
}

// ODB is the object database: storage + compression + chunking + delta,
// behind a content-addressed write/read contract.
type ODB struct {
	kv       storage.KV
	selector *compress.Selector

	cacheMu   sync.Mutex
	cache     *lru.Cache[oid.OID, []byte]
	cacheSize int
	cacheMax  int

	existsMu sync.Mutex
	existsIx map[oid.OID]int // OID -> compressed size, accelerates Exists

	baseMu     sync.Mutex
	lastByType map[string]deltaBase // extension -> most recent eligible write
}

type deltaBase struct {
	oid   oid.OID
	bytes []byte
}

// New constructs an ODB over kv. cacheBudgetBytes bounds the decompressed
// object cache (0 disables caching).
func New(kv storage.KV, cacheBudgetBytes int) *ODB {
	// capacity is a count, not a byte budget; golang-lru only supports count
	// eviction, so we additionally track approximate byte usage and evict
	// manually once it's exceeded (see putCached).
	capacity := 4096
	c, _ := lru.New[oid.OID, []byte](capacity)
	return &ODB{
		kv:         kv,
		selector:   compress.NewSelector(128),
		cache:      c,
		cacheMax:   cacheBudgetBytes,
		existsIx:   make(map[oid.OID]int),
		lastByType: make(map[string]deltaBase),
	}
}

// Write computes OID = hash(data); if the object already exists it
// returns without re-writing (idempotent). Otherwise it profile-selects
// compression and stores the compressed blob.
func (o *ODB) Write(ctx context.Context, kind objects.Kind, data []byte) (oid.OID, error) {
	return o.writeDirect(ctx, data)
}

// WriteWithPath is Write but allows type-aware compression using filename.
func (o *ODB) WriteWithPath(ctx context.Context, kind objects.Kind, data []byte, filename string) (oid.OID, error) {
	return o.writeDirectNamed(ctx, data, filename)
}

func (o *ODB) writeDirect(ctx context.Context, data []byte) (oid.OID, error) {
	id := oid.Hash(data)
	exists, err := o.Exists(ctx, id)
	if err != nil {
		return oid.Zero, err
	}
	if exists {
		return id, nil
	}
	profile := compress.Profile(data)
	choice := o.selector.Select(profile)
	return id, o.store(ctx, id, markerDirect, choice, data)
}

func (o *ODB) writeDirectNamed(ctx context.Context, data []byte, filename string) (oid.OID, error) {
	id := oid.Hash(data)
	exists, err := o.Exists(ctx, id)
	if err != nil {
		return oid.Zero, err
	}
	if exists {
		return id, nil
	}
	choice := compress.SelectForType(filename, compress.Balanced)
	return id, o.store(ctx, id, markerDirect, choice, data)
}

// WriteChunked runs the chunker, writes each chunk via Write, and writes
// the serialized manifest as a regular object. Returns the manifest OID.
func (o *ODB) WriteChunked(ctx context.Context, data []byte, filename string) (oid.OID, error) {
	strategy := chooseChunkStrategy(filename)
	manifest, payloads := chunk.Split(strategy, data, filename)

	for i := range manifest.Chunks {
		if _, err := o.writeDirectNamed(ctx, payloads[i], filename); err != nil {
			return oid.Zero, err
		}
	}

	obj := objects.ChunkManifestObject{
		TotalSize: manifest.TotalSize,
		Filename:  filename,
		Chunks:    manifest.Chunks,
	}
	encoded, err := objects.Encode(objects.KindChunkManifest, obj)
	if err != nil {
		return oid.Zero, err
	}
	return o.writeTagged(ctx, encoded, markerManifest, filename)
}

// chunkStreamFixedSize is the chunk size used by WriteChunkedFromFile's
// bounded-memory streaming path.
const chunkStreamFixedSize = 8 << 20

// WriteChunkedFromFile is a streaming variant that never holds the whole
// file in memory: it reads sequential fixed-size windows and writes each
// as its own chunk object. Content-defined (Rolling/MediaAware)
// boundaries require look-behind/look-ahead across the whole byte
// stream, so the streaming path always uses Fixed chunking; callers
// that need content-defined dedup on a file too large to buffer should
// pre-split externally. This is a deliberate simplification over
// WriteChunked, documented rather than silently assumed.
func (o *ODB) WriteChunkedFromFile(ctx context.Context, path, filename string) (oid.OID, error) {
	f, err := os.Open(path)
	if err != nil {
		return oid.Zero, mgerr.Wrap(mgerr.IO, err, "open file for streaming chunk write")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return oid.Zero, mgerr.Wrap(mgerr.IO, err, "stat file for streaming chunk write")
	}

	reader := bufio.NewReaderSize(f, chunkStreamFixedSize)
	var chunks []chunk.Chunk
	var offset uint64
	buf := make([]byte, chunkStreamFixedSize)

	for {
		n, readErr := io.ReadFull(reader, buf)
		if n > 0 {
			piece := append([]byte(nil), buf[:n]...)
			id, err := o.writeDirectNamed(ctx, piece, filename)
			if err != nil {
				return oid.Zero, err
			}
			chunks = append(chunks, chunk.Chunk{OID: id, Offset: offset, Size: uint64(n), Kind: chunk.Generic})
			offset += uint64(n)
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return oid.Zero, mgerr.Wrap(mgerr.IO, readErr, "read file for streaming chunk write")
		}
	}

	obj := objects.ChunkManifestObject{
		TotalSize: uint64(info.Size()),
		Filename:  filename,
		Chunks:    chunks,
	}
	encoded, err := objects.Encode(objects.KindChunkManifest, obj)
	if err != nil {
		return oid.Zero, err
	}
	return o.writeTagged(ctx, encoded, markerManifest, filename)
}

// WriteWithDelta selects a base (the most recently written eligible blob
// of the same file type), computes a delta, and stores it as a delta
// object if that is smaller than 90% of direct compression; otherwise
// falls back to a plain write.
func (o *ODB) WriteWithDelta(ctx context.Context, data []byte, filename string) (oid.OID, error) {
	ext := extensionOf(filename)

	o.baseMu.Lock()
	base, hasBase := o.lastByType[ext]
	o.baseMu.Unlock()

	if hasBase {
		deltaBytes := deltacodec.Delta(base.bytes, data)
		directChoice := compress.SelectForType(filename, compress.Balanced)
		directCompressed, err := compress.Compress(directChoice.Codec, directChoice.Level, data)
		if err != nil {
			return oid.Zero, err
		}
		if len(deltaBytes) < (len(directCompressed)*9)/10 {
			id := oid.Hash(data)
			exists, err := o.Exists(ctx, id)
			if err != nil {
				return oid.Zero, err
			}
			if !exists {
				record := encodeDeltaRecord(base.oid, deltaBytes)
				if err := o.storeWithOID(ctx, id, markerDelta, directChoice, record); err != nil {
					return oid.Zero, err
				}
			}
			o.rememberBase(ext, id, data)
			return id, nil
		}
	}

	id, err := o.writeDirectNamed(ctx, data, filename)
	if err != nil {
		return oid.Zero, err
	}
	o.rememberBase(ext, id, data)
	return id, nil
}

func (o *ODB) rememberBase(ext string, id oid.OID, data []byte) {
	if !deltacodec.Eligible(int64(len(data)), "x."+ext) {
		return
	}
	o.baseMu.Lock()
	o.lastByType[ext] = deltaBase{oid: id, bytes: data}
	o.baseMu.Unlock()
}

// Read reads storage, decompresses, verifies the hash, and recursively
// resolves chunk manifests and delta records.
func (o *ODB) Read(ctx context.Context, id oid.OID) ([]byte, error) {
	return o.readDepth(ctx, id, 0)
}

const maxDeltaRecursionDepth = 1

func (o *ODB) readDepth(ctx context.Context, id oid.OID, depth int) ([]byte, error) {
	if cached, ok := o.getCached(id); ok {
		return cached, nil
	}

	raw, err := o.kv.Get(ctx, objectKey(id))
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, mgerr.Newf(mgerr.Corrupt, "empty object record for %s", id)
	}
	m := marker(raw[0])
	compressed := raw[1:]

	payload, err := compress.Decompress(compressed)
	if err != nil {
		return nil, mgerr.Wrap(mgerr.Corrupt, err, "decompress object")
	}

	switch m {
	case markerDirect:
		if oid.Hash(payload) != id {
			return nil, mgerr.Newf(mgerr.Integrity, "hash mismatch for object %s", id)
		}
		o.putCached(id, payload)
		return payload, nil

	case markerManifest:
		if oid.Hash(payload) != id {
			return nil, mgerr.Newf(mgerr.Integrity, "hash mismatch for manifest %s", id)
		}
		manifest, err := objects.ParseManifest(payload)
		if err != nil {
			return nil, err
		}
		if err := manifest.Validate(); err != nil {
			return nil, err
		}
		var out []byte
		for _, c := range manifest.Chunks {
			chunkBytes, err := o.readDepth(ctx, c.OID, depth)
			if err != nil {
				return nil, err
			}
			out = append(out, chunkBytes...)
		}
		o.putCached(id, out)
		return out, nil

	case markerDelta:
		if depth >= maxDeltaRecursionDepth {
			return nil, mgerr.New(mgerr.Corrupt, "delta recursion depth exceeded")
		}
		baseOID, deltaBytes, err := decodeDeltaRecord(payload)
		if err != nil {
			return nil, err
		}
		baseBytes, err := o.readDepth(ctx, baseOID, depth+1)
		if err != nil {
			return nil, err
		}
		out, err := deltacodec.Patch(baseBytes, deltaBytes)
		if err != nil {
			return nil, err
		}
		// A delta object's OID is the hash of the patched bytes, not of the record.
		if oid.Hash(out) != id {
			return nil, mgerr.Newf(mgerr.Integrity, "hash mismatch for delta object %s", id)
		}
		o.putCached(id, out)
		return out, nil

	default:
		return nil, mgerr.Newf(mgerr.Corrupt, "unrecognized object marker %d for %s", m, id)
	}
}

// Shape names which storage envelope an object uses — exposed for callers
// (fsck connectivity checks, pack/transfer object collection) that need to
// see the underlying storage structure instead of Read's transparently
// reconstructed bytes.
type Shape int

const (
	ShapeDirect Shape = iota
	ShapeManifest
	ShapeDelta
)

// Inspect reads and verifies id's envelope without recursing into a
// manifest's chunks or a delta's base: it reports the shape plus the OIDs
// the object directly references (chunk OIDs for a manifest, the single
// base OID for a delta, none for a direct object). A delta record does not
// hash to id (its OID is that of the patched bytes), so for a delta only the
// record's structure is checked here; Read verifies the patched bytes.
func (o *ODB) Inspect(ctx context.Context, id oid.OID) (Shape, []oid.OID, error) {
	raw, err := o.kv.Get(ctx, objectKey(id))
	if err != nil {
		return 0, nil, err
	}
	if len(raw) == 0 {
		return 0, nil, mgerr.Newf(mgerr.Corrupt, "empty object record for %s", id)
	}
	m := marker(raw[0])
	payload, err := compress.Decompress(raw[1:])
	if err != nil {
		return 0, nil, mgerr.Wrap(mgerr.Corrupt, err, "decompress object")
	}
	if m != markerDelta && oid.Hash(payload) != id {
		return 0, nil, mgerr.Newf(mgerr.Integrity, "hash mismatch for object %s", id)
	}

	switch m {
	case markerDirect:
		return ShapeDirect, nil, nil
	case markerManifest:
		manifest, err := objects.ParseManifest(payload)
		if err != nil {
			return 0, nil, err
		}
		if err := manifest.Validate(); err != nil {
			return 0, nil, err
		}
		refs := make([]oid.OID, len(manifest.Chunks))
		for i, c := range manifest.Chunks {
			refs[i] = c.OID
		}
		return ShapeManifest, refs, nil
	case markerDelta:
		baseOID, _, err := decodeDeltaRecord(payload)
		if err != nil {
			return 0, nil, err
		}
		return ShapeDelta, []oid.OID{baseOID}, nil
	default:
		return 0, nil, mgerr.Newf(mgerr.Corrupt, "unrecognized object marker %d for %s", m, id)
	}
}

// ListOIDs enumerates every object currently stored, for callers (fsck)
// that need to sweep the whole object space rather than walk from a
// known root. Order is whatever the underlying KV.List returns (key
// order), not insertion order.
func (o *ODB) ListOIDs(ctx context.Context) ([]oid.OID, error) {
	keys, err := o.kv.List(ctx, objectKeyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]oid.OID, 0, len(keys))
	for _, k := range keys {
		rest := strings.TrimPrefix(k, objectKeyPrefix)
		hex := strings.Replace(rest, "/", "", 1)
		id, err := oid.Parse(hex)
		if err != nil {
			return nil, mgerr.Wrap(mgerr.Corrupt, err, "parse object key "+k)
		}
		out = append(out, id)
	}
	return out, nil
}

// Exists reports whether id is already stored.
func (o *ODB) Exists(ctx context.Context, id oid.OID) (bool, error) {
	o.existsMu.Lock()
	_, known := o.existsIx[id]
	o.existsMu.Unlock()
	if known {
		return true, nil
	}
	return o.kv.Exists(ctx, objectKey(id))
}

// Delete removes id from storage. It never follows manifest/delta
// references — callers that need to remove an entire chunked file must
// delete each chunk explicitly (fsck does: it only ever deletes objects
// it individually flagged, never a manifest's chunks as a side effect).
func (o *ODB) Delete(ctx context.Context, id oid.OID) error {
	o.existsMu.Lock()
	delete(o.existsIx, id)
	o.existsMu.Unlock()

	o.cacheMu.Lock()
	if cached, ok := o.cache.Peek(id); ok {
		o.cacheSize -= len(cached)
	}
	o.cache.Remove(id)
	o.cacheMu.Unlock()

	return o.kv.Delete(ctx, objectKey(id))
}

func (o *ODB) store(ctx context.Context, id oid.OID, m marker, choice compress.Choice, data []byte) error {
	return o.storeWithOID(ctx, id, m, choice, data)
}

func (o *ODB) storeWithOID(ctx context.Context, id oid.OID, m marker, choice compress.Choice, data []byte) error {
	compressed, err := compress.Compress(choice.Codec, choice.Level, data)
	if err != nil {
		return err
	}
	envelope := make([]byte, 1+len(compressed))
	envelope[0] = byte(m)
	copy(envelope[1:], compressed)

	if err := o.kv.Put(ctx, objectKey(id), envelope); err != nil {
		return err
	}

	o.existsMu.Lock()
	o.existsIx[id] = len(envelope)
	o.existsMu.Unlock()

	// Only a direct object's stored bytes are its content; manifest and
	// delta objects are cached by Read once reconstructed.
	if m == markerDirect {
		o.putCached(id, data)
	}
	return nil
}

func (o *ODB) writeTagged(ctx context.Context, encoded []byte, m marker, filename string) (oid.OID, error) {
	id := oid.Hash(encoded)
	exists, err := o.Exists(ctx, id)
	if err != nil {
		return oid.Zero, err
	}
	if exists {
		return id, nil
	}
	choice := compress.SelectForType(filename, compress.Balanced)
	return id, o.storeWithOID(ctx, id, m, choice, encoded)
}

func (o *ODB) getCached(id oid.OID) ([]byte, bool) {
	if o.cacheMax <= 0 {
		return nil, false
	}
	o.cacheMu.Lock()
	defer o.cacheMu.Unlock()
	return o.cache.Get(id)
}

func (o *ODB) putCached(id oid.OID, data []byte) {
	if o.cacheMax <= 0 {
		return
	}
	o.cacheMu.Lock()
	defer o.cacheMu.Unlock()
	for o.cacheSize+len(data) > o.cacheMax && o.cache.Len() > 0 {
		_, evicted, ok := o.cache.RemoveOldest()
		if !ok {
			break
		}
		o.cacheSize -= len(evicted)
	}
	o.cache.Add(id, data)
	o.cacheSize += len(data)
}

func chooseChunkStrategy(filename string) chunk.Strategy {
	switch extensionOf(filename) {
	case "avi", "riff":
		return chunk.MediaAware()
	default:
		return chunk.Rolling(4<<20, 1<<20, 8<<20)
	}
}

func extensionOf(filename string) string {
	for i := len(filename) - 1; i >= 0; i-- {
		if filename[i] == '.' {
			return filename[i+1:]
		}
		if filename[i] == '/' {
			break
		}
	}
	return ""
}

func encodeDeltaRecord(base oid.OID, deltaBytes []byte) []byte {
	out := make([]byte, oid.Size+len(deltaBytes))
	copy(out, base[:])
	copy(out[oid.Size:], deltaBytes)
	return out
}

func decodeDeltaRecord(record []byte) (oid.OID, []byte, error) {
	if len(record) < oid.Size {
		return oid.Zero, nil, mgerr.New(mgerr.Corrupt, "delta record too short")
	}
	var base oid.OID
	copy(base[:], record[:oid.Size])
	return base, record[oid.Size:], nil
}
