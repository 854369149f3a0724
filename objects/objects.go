// Package objects defines MediaGit's tagged object kinds and their
// canonical, deterministic byte encoding: an object's OID is always the
// hash of exactly these bytes, so encoding must never vary for
// semantically identical values (map iteration order, time zones spelled
// differently, etc. must not leak in).
package objects

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/mediagit/mediagit/chunk"
	"github.com/mediagit/mediagit/mgerr"
	"github.com/mediagit/mediagit/oid"
)

// Kind tags an object's type, also used as the pack record's kind byte.
type Kind byte

const (
	KindBlob Kind = iota + 1
	KindTree
	KindCommit
	KindChunkManifest
)

// Mode is a tree entry's file mode (a small fixed set, not full POSIX bits).
type Mode uint32

const (
	ModeFile       Mode = 0o100644
	ModeExecutable Mode = 0o100755
	ModeDir        Mode = 0o040000
)

// Signature identifies an author or committer.
type Signature struct {
	Name      string
	Email     string
	Timestamp time.Time // always serialized as a fixed-offset RFC3339 string
}

// TreeEntry is one (name -> mode, OID) mapping within a Tree.
type TreeEntry struct {
	Name string
	Mode Mode
	OID  oid.OID
}

// Tree is an ordered mapping from name to (mode, OID); entries are kept
// sorted by name and names are unique per tree.
type Tree struct {
	Entries []TreeEntry
}

// Commit captures a root tree plus parents and author/committer/message.
type Commit struct {
	TreeOID   oid.OID
	Parents   []oid.OID
	Author    Signature
	Committer Signature
	Message   string
}

// ChunkManifestObject is the serializable form of a chunked file: the
// chunk list plus enough metadata to verify and reassemble it.
type ChunkManifestObject struct {
	TotalSize uint64
	Filename  string // optional; empty if not recorded
	Chunks    []chunk.Chunk
}

// Encode serializes v canonically. The returned bytes, hashed, are the
// object's OID.
func Encode(kind Kind, v any) ([]byte, error) {
	switch kind {
	case KindBlob:
		b, ok := v.([]byte)
		if !ok {
			return nil, mgerr.New(mgerr.InvalidName, "blob payload must be []byte")
		}
		return b, nil
	case KindTree:
		t, ok := v.(Tree)
		if !ok {
			return nil, mgerr.New(mgerr.InvalidName, "tree payload must be Tree")
		}
		return encodeTree(t), nil
	case KindCommit:
		c, ok := v.(Commit)
		if !ok {
			return nil, mgerr.New(mgerr.InvalidName, "commit payload must be Commit")
		}
		return encodeCommit(c), nil
	case KindChunkManifest:
		m, ok := v.(ChunkManifestObject)
		if !ok {
			return nil, mgerr.New(mgerr.InvalidName, "manifest payload must be ChunkManifestObject")
		}
		return encodeManifest(m), nil
	default:
		return nil, mgerr.Newf(mgerr.InvalidName, "unknown object kind %d", kind)
	}
}

func encodeTree(t Tree) []byte {
	entries := make([]TreeEntry, len(t.Entries))
	copy(entries, t.Entries)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	var buf bytes.Buffer
	writeUvarint(&buf, uint64(len(entries)))
	for _, e := range entries {
		writeString(&buf, e.Name)
		writeUvarint(&buf, uint64(e.Mode))
		buf.Write(e.OID[:])
	}
	return buf.Bytes()
}

// ParseTree decodes bytes produced by encodeTree.
func ParseTree(data []byte) (Tree, error) {
	r := bytes.NewReader(data)
	count, err := readUvarint(r)
	if err != nil {
		return Tree{}, mgerr.Wrap(mgerr.Corrupt, err, "read tree entry count")
	}
	entries := make([]TreeEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		name, err := readString(r)
		if err != nil {
			return Tree{}, mgerr.Wrap(mgerr.Corrupt, err, "read tree entry name")
		}
		mode, err := readUvarint(r)
		if err != nil {
			return Tree{}, mgerr.Wrap(mgerr.Corrupt, err, "read tree entry mode")
		}
		var o oid.OID
		if _, err := io.ReadFull(r, o[:]); err != nil {
			return Tree{}, mgerr.Wrap(mgerr.Corrupt, err, "read tree entry oid")
		}
		entries = append(entries, TreeEntry{Name: name, Mode: Mode(mode), OID: o})
	}
	return Tree{Entries: entries}, nil
}

func encodeCommit(c Commit) []byte {
	var buf bytes.Buffer
	buf.Write(c.TreeOID[:])
	writeUvarint(&buf, uint64(len(c.Parents)))
	for _, p := range c.Parents {
		buf.Write(p[:])
	}
	writeSignature(&buf, c.Author)
	writeSignature(&buf, c.Committer)
	writeString(&buf, c.Message)
	return buf.Bytes()
}

// ParseCommit decodes bytes produced by encodeCommit.
func ParseCommit(data []byte) (Commit, error) {
	r := bytes.NewReader(data)
	var c Commit
	if _, err := io.ReadFull(r, c.TreeOID[:]); err != nil {
		return Commit{}, mgerr.Wrap(mgerr.Corrupt, err, "read commit tree oid")
	}
	count, err := readUvarint(r)
	if err != nil {
		return Commit{}, mgerr.Wrap(mgerr.Corrupt, err, "read commit parent count")
	}
	c.Parents = make([]oid.OID, 0, count)
	for i := uint64(0); i < count; i++ {
		var p oid.OID
		if _, err := io.ReadFull(r, p[:]); err != nil {
			return Commit{}, mgerr.Wrap(mgerr.Corrupt, err, "read commit parent")
		}
		c.Parents = append(c.Parents, p)
	}
	if c.Author, err = readSignature(r); err != nil {
		return Commit{}, mgerr.Wrap(mgerr.Corrupt, err, "read commit author")
	}
	if c.Committer, err = readSignature(r); err != nil {
		return Commit{}, mgerr.Wrap(mgerr.Corrupt, err, "read commit committer")
	}
	if c.Message, err = readString(r); err != nil {
		return Commit{}, mgerr.Wrap(mgerr.Corrupt, err, "read commit message")
	}
	return c, nil
}

func encodeManifest(m ChunkManifestObject) []byte {
	var buf bytes.Buffer
	writeUvarint(&buf, m.TotalSize)
	writeString(&buf, m.Filename)
	writeUvarint(&buf, uint64(len(m.Chunks)))
	for _, c := range m.Chunks {
		buf.Write(c.OID[:])
		writeUvarint(&buf, c.Offset)
		writeUvarint(&buf, c.Size)
		writeUvarint(&buf, uint64(c.Kind))
	}
	return buf.Bytes()
}

// ParseManifest decodes bytes produced by encodeManifest.
func ParseManifest(data []byte) (ChunkManifestObject, error) {
	r := bytes.NewReader(data)
	var m ChunkManifestObject
	var err error
	if m.TotalSize, err = readUvarint(r); err != nil {
		return ChunkManifestObject{}, mgerr.Wrap(mgerr.Corrupt, err, "read manifest total size")
	}
	if m.Filename, err = readString(r); err != nil {
		return ChunkManifestObject{}, mgerr.Wrap(mgerr.Corrupt, err, "read manifest filename")
	}
	count, err := readUvarint(r)
	if err != nil {
		return ChunkManifestObject{}, mgerr.Wrap(mgerr.Corrupt, err, "read manifest chunk count")
	}
	m.Chunks = make([]chunk.Chunk, 0, count)
	for i := uint64(0); i < count; i++ {
		var c chunk.Chunk
		if _, err := io.ReadFull(r, c.OID[:]); err != nil {
			return ChunkManifestObject{}, mgerr.Wrap(mgerr.Corrupt, err, "read manifest chunk oid")
		}
		if c.Offset, err = readUvarint(r); err != nil {
			return ChunkManifestObject{}, mgerr.Wrap(mgerr.Corrupt, err, "read manifest chunk offset")
		}
		if c.Size, err = readUvarint(r); err != nil {
			return ChunkManifestObject{}, mgerr.Wrap(mgerr.Corrupt, err, "read manifest chunk size")
		}
		kindVal, err := readUvarint(r)
		if err != nil {
			return ChunkManifestObject{}, mgerr.Wrap(mgerr.Corrupt, err, "read manifest chunk kind")
		}
		c.Kind = chunk.Kind(kindVal)
		m.Chunks = append(m.Chunks, c)
	}
	return m, nil
}

// Validate checks the structural invariants for a manifest that don't
// require storage access: contiguous offsets from 0 summing to TotalSize.
func (m ChunkManifestObject) Validate() error {
	var offset uint64
	for i, c := range m.Chunks {
		if c.Offset != offset {
			return mgerr.Newf(mgerr.Corrupt, "chunk %d offset %d, expected %d", i, c.Offset, offset)
		}
		offset += c.Size
	}
	if offset != m.TotalSize {
		return mgerr.Newf(mgerr.Corrupt, "manifest total size %d does not match sum of chunk sizes %d", m.TotalSize, offset)
	}
	return nil
}

func writeSignature(buf *bytes.Buffer, s Signature) {
	writeString(buf, s.Name)
	writeString(buf, s.Email)
	writeString(buf, s.Timestamp.UTC().Format(time.RFC3339))
}

func readSignature(r *bytes.Reader) (Signature, error) {
	name, err := readString(r)
	if err != nil {
		return Signature{}, err
	}
	email, err := readString(r)
	if err != nil {
		return Signature{}, err
	}
	tsStr, err := readString(r)
	if err != nil {
		return Signature{}, err
	}
	ts, err := time.Parse(time.RFC3339, tsStr)
	if err != nil {
		return Signature{}, fmt.Errorf("parse timestamp: %w", err)
	}
	return Signature{Name: name, Email: email, Timestamp: ts}, nil
}

func writeString(buf *bytes.Buffer, s string) {
	writeUvarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readUvarint(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func readUvarint(r *bytes.Reader) (uint64, error) {
	return binary.ReadUvarint(r)
}
