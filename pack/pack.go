// Package pack implements the self-describing multi-object pack format
// used both for on-disk bulk storage and as the network transfer wire
// format: a sequence of object records, a trailing index, and a SHA-256
// checksum over everything preceding it.
package pack

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"github.com/mediagit/mediagit/deltacodec"
	"github.com/mediagit/mediagit/mgerr"
	"github.com/mediagit/mediagit/objects"
	"github.com/mediagit/mediagit/oid"
)

const (
	signature     = "PACK"
	formatVersion = uint32(1)

	deltaMagic = "DELTA"

	headerSize   = 4 + 4 + 4 // "PACK" + version + object_count
	checksumSize = 32
)

// Record is one object to be written into a pack: either a plain
// Blob/Tree/Commit (Kind, Data) or a delta against BaseOID (when Delta is
// set, Data holds the encoded delta instruction stream instead).
type Record struct {
	OID     oid.OID
	Kind    objects.Kind // 1=Blob, 2=Tree, 3=Commit; ignored when Delta
	Delta   bool
	BaseOID oid.OID // valid when Delta
	Data    []byte
}

// indexEntry is one entry in the trailing index: where to find a record
// and how large its stored payload is.
type indexEntry struct {
	OID    oid.OID
	Offset uint64
	Size   uint32
}

// Write serializes records into a complete pack byte stream: header,
// records at their final absolute offsets, index, index-offset marker,
// and a trailing checksum over everything before it.
func Write(records []Record) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(signature)
	writeU32(&buf, formatVersion)
	writeU32(&buf, uint32(len(records)))

	entries := make([]indexEntry, 0, len(records))
	for _, r := range records {
		offset := uint64(buf.Len())
		if r.Delta {
			buf.WriteString(deltaMagic)
			buf.Write(r.BaseOID[:])
			writeU32(&buf, uint32(len(r.Data)))
			buf.Write(r.Data)
		} else {
			buf.WriteByte(byte(r.Kind))
			writeU32(&buf, uint32(len(r.Data)))
			buf.Write(r.Data)
		}
		entries = append(entries, indexEntry{OID: r.OID, Offset: offset, Size: uint32(len(r.Data))})
	}

	indexOffset := uint32(buf.Len())
	writeU32(&buf, uint32(len(entries)))
	for _, e := range entries {
		buf.Write(e.OID[:])
		writeU64(&buf, e.Offset)
		writeU32(&buf, e.Size)
	}
	writeU32(&buf, indexOffset)

	sum := sha256.Sum256(buf.Bytes())
	buf.Write(sum[:])

	return buf.Bytes(), nil
}

// Reader parses a finalized pack and resolves objects by OID. Delta
// records are patched against a base resolved first from within the same
// pack, then (if resolve is non-nil) from an external source such as the
// local ODB.
type Reader struct {
	data    []byte
	index   map[oid.OID]indexEntry
	resolve func(oid.OID) ([]byte, error)
}

// Open validates a pack's signature and checksum and parses its index.
// resolve may be nil if delta bases are expected to live entirely
// within this pack.
func Open(data []byte, resolve func(oid.OID) ([]byte, error)) (*Reader, error) {
	if len(data) < headerSize+4+checksumSize {
		return nil, mgerr.New(mgerr.Corrupt, "pack too short")
	}
	if string(data[:4]) != signature {
		return nil, mgerr.New(mgerr.Corrupt, "bad pack signature")
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version != formatVersion {
		return nil, mgerr.Newf(mgerr.Corrupt, "unsupported pack version %d", version)
	}

	body := data[:len(data)-checksumSize]
	wantSum := data[len(data)-checksumSize:]
	gotSum := sha256.Sum256(body)
	if !bytes.Equal(gotSum[:], wantSum) {
		return nil, mgerr.New(mgerr.Integrity, "pack checksum mismatch")
	}

	indexOffset := binary.LittleEndian.Uint32(data[len(data)-checksumSize-4 : len(data)-checksumSize])
	if uint64(indexOffset) > uint64(len(body)) {
		return nil, mgerr.New(mgerr.Corrupt, "pack index offset out of range")
	}

	r := bytes.NewReader(data[indexOffset:])
	count, err := readU32(r)
	if err != nil {
		return nil, mgerr.Wrap(mgerr.Corrupt, err, "read pack index count")
	}
	index := make(map[oid.OID]indexEntry, count)
	for i := uint32(0); i < count; i++ {
		var e indexEntry
		var o oid.OID
		if err := readExact(r, o[:]); err != nil {
			return nil, mgerr.Wrap(mgerr.Corrupt, err, "read pack index oid")
		}
		e.OID = o
		offset, err := readU64(r)
		if err != nil {
			return nil, mgerr.Wrap(mgerr.Corrupt, err, "read pack index offset")
		}
		e.Offset = offset
		size, err := readU32(r)
		if err != nil {
			return nil, mgerr.Wrap(mgerr.Corrupt, err, "read pack index size")
		}
		e.Size = size
		index[o] = e
	}

	return &Reader{data: data, index: index, resolve: resolve}, nil
}

// Count returns the number of objects indexed in the pack.
func (r *Reader) Count() int { return len(r.index) }

// OIDs returns every object OID indexed in the pack, in no particular order.
func (r *Reader) OIDs() []oid.OID {
	out := make([]oid.OID, 0, len(r.index))
	for id := range r.index {
		out = append(out, id)
	}
	return out
}

// Has reports whether id is present in this pack's index.
func (r *Reader) Has(id oid.OID) bool {
	_, ok := r.index[id]
	return ok
}

// Get returns the decoded bytes for id, resolving a delta chain if
// necessary, along with the object kind. A delta record takes the kind of
// its base when the base is in this pack, and KindBlob when the base comes
// from the external resolver.
func (r *Reader) Get(id oid.OID) (objects.Kind, []byte, error) {
	return r.get(id, 0)
}

const maxDeltaChainDepth = 32

func (r *Reader) get(id oid.OID, depth int) (objects.Kind, []byte, error) {
	if depth > maxDeltaChainDepth {
		return 0, nil, mgerr.New(mgerr.Corrupt, "pack delta chain too deep")
	}
	e, ok := r.index[id]
	if !ok {
		return 0, nil, mgerr.Newf(mgerr.NotFound, "object %s not in pack", id)
	}
	if e.Offset >= uint64(len(r.data)) {
		return 0, nil, mgerr.New(mgerr.Corrupt, "pack record offset out of range")
	}

	marker := r.data[e.Offset]
	switch marker {
	case byte(objects.KindBlob), byte(objects.KindTree), byte(objects.KindCommit):
		start := e.Offset + 1
		if start+4 > uint64(len(r.data)) {
			return 0, nil, mgerr.New(mgerr.Corrupt, "truncated pack record header")
		}
		size := uint64(binary.LittleEndian.Uint32(r.data[start : start+4]))
		dataStart := start + 4
		if dataStart+size > uint64(len(r.data)) {
			return 0, nil, mgerr.New(mgerr.Corrupt, "truncated pack record body")
		}
		out := make([]byte, size)
		copy(out, r.data[dataStart:dataStart+size])
		return objects.Kind(marker), out, nil

	case 'D':
		if e.Offset+5 > uint64(len(r.data)) || string(r.data[e.Offset:e.Offset+5]) != deltaMagic {
			return 0, nil, mgerr.New(mgerr.Corrupt, "malformed delta record header")
		}
		cursor := e.Offset + 5
		if cursor+oid.Size+4 > uint64(len(r.data)) {
			return 0, nil, mgerr.New(mgerr.Corrupt, "truncated delta record header")
		}
		var baseOID oid.OID
		copy(baseOID[:], r.data[cursor:cursor+oid.Size])
		cursor += oid.Size
		size := uint64(binary.LittleEndian.Uint32(r.data[cursor : cursor+4]))
		cursor += 4
		if cursor+size > uint64(len(r.data)) {
			return 0, nil, mgerr.New(mgerr.Corrupt, "truncated delta record body")
		}
		deltaBytes := r.data[cursor : cursor+size]

		baseKind, baseBytes, err := r.resolveBase(baseOID, depth)
		if err != nil {
			return 0, nil, err
		}
		patched, err := deltacodec.Patch(baseBytes, deltaBytes)
		if err != nil {
			return 0, nil, err
		}
		return baseKind, patched, nil

	default:
		return 0, nil, mgerr.Newf(mgerr.Corrupt, "unknown pack record marker %d", marker)
	}
}

func (r *Reader) resolveBase(id oid.OID, depth int) (objects.Kind, []byte, error) {
	if _, ok := r.index[id]; ok {
		return r.get(id, depth+1)
	}
	if r.resolve != nil {
		data, err := r.resolve(id)
		if err != nil {
			return 0, nil, err
		}
		return objects.KindBlob, data, nil
	}
	return 0, nil, mgerr.Newf(mgerr.MissingObject, "delta base %s not found in pack or fallback store", id)
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if err := readExact(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if err := readExact(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readExact(r *bytes.Reader, b []byte) error {
	_, err := io.ReadFull(r, b)
	return err
}
