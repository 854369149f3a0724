// Package index implements the staging area: the snapshot of
// (path, oid, mode, size) entries between the working tree and the next
// commit, plus a deletion list so a path inherited from HEAD's tree can be
// dropped without needing a tombstone entry to carry full metadata.
package index

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/mediagit/mediagit/mgerr"
	"github.com/mediagit/mediagit/objects"
	"github.com/mediagit/mediagit/oid"
)

// Entry is one staged path.
type Entry struct {
	Path    string
	OID     oid.OID
	Mode    objects.Mode
	Size    uint64
	Deleted bool
}

// Index is the flat, in-memory staging area. Entries are keyed by path;
// Add replaces any existing entry for the same path.
type Index struct {
	entries map[string]Entry
}

// New returns an empty index.
func New() *Index {
	return &Index{entries: make(map[string]Entry)}
}

// AddEntry inserts or replaces the entry for e.Path.
func (ix *Index) AddEntry(e Entry) {
	e.Deleted = false
	ix.entries[e.Path] = e
}

// MarkDeleted flags path as removed, so Commit can omit it from the
// resulting tree even though HEAD still has it.
func (ix *Index) MarkDeleted(path string) {
	ix.entries[path] = Entry{Path: path, Deleted: true}
}

// Remove drops path from the index entirely (distinct from MarkDeleted:
// this forgets the staged intent rather than recording a deletion).
func (ix *Index) Remove(path string) {
	delete(ix.entries, path)
}

// Get returns the entry staged for path, if any.
func (ix *Index) Get(path string) (Entry, bool) {
	e, ok := ix.entries[path]
	return e, ok
}

// Entries returns all staged entries sorted by path.
func (ix *Index) Entries() []Entry {
	out := make([]Entry, 0, len(ix.entries))
	for _, e := range ix.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Clear empties the index.
func (ix *Index) Clear() {
	ix.entries = make(map[string]Entry)
}

// Len reports the number of staged entries (including deletion markers).
func (ix *Index) Len() int { return len(ix.entries) }

const indexFileName = "index"

// DefaultPath returns the canonical index file path under a repo's
// .mediagit control directory.
func DefaultPath(repoDir string) string {
	return filepath.Join(repoDir, ".mediagit", indexFileName)
}

// Load reads and decodes the index file at path. A missing file yields an
// empty index, matching a freshly initialized repo.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return New(), nil
		}
		return nil, mgerr.Wrap(mgerr.IO, err, "read index file")
	}
	return decode(data)
}

// Save atomically writes ix to path (temp file + rename), creating parent
// directories as needed.
func (ix *Index) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return mgerr.Wrap(mgerr.IO, err, "create index directory")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".index-*.tmp")
	if err != nil {
		return mgerr.Wrap(mgerr.IO, err, "create temp index file")
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(ix.encode()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return mgerr.Wrap(mgerr.IO, err, "write temp index file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return mgerr.Wrap(mgerr.IO, err, "close temp index file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return mgerr.Wrap(mgerr.IO, err, "rename index into place")
	}
	return nil
}

func (ix *Index) encode() []byte {
	entries := ix.Entries()
	var buf bytes.Buffer
	writeUvarint(&buf, uint64(len(entries)))
	for _, e := range entries {
		writeString(&buf, e.Path)
		buf.Write(e.OID[:])
		writeUvarint(&buf, uint64(e.Mode))
		writeUvarint(&buf, e.Size)
		if e.Deleted {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}
	return buf.Bytes()
}

func decode(data []byte) (*Index, error) {
	r := bytes.NewReader(data)
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, mgerr.Wrap(mgerr.Corrupt, err, "read index entry count")
	}
	ix := New()
	for i := uint64(0); i < count; i++ {
		path, err := readString(r)
		if err != nil {
			return nil, mgerr.Wrap(mgerr.Corrupt, err, "read index entry path")
		}
		var o oid.OID
		if _, err := io.ReadFull(r, o[:]); err != nil {
			return nil, mgerr.Wrap(mgerr.Corrupt, err, "read index entry oid")
		}
		mode, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, mgerr.Wrap(mgerr.Corrupt, err, "read index entry mode")
		}
		size, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, mgerr.Wrap(mgerr.Corrupt, err, "read index entry size")
		}
		deletedByte, err := r.ReadByte()
		if err != nil {
			return nil, mgerr.Wrap(mgerr.Corrupt, err, "read index entry deleted flag")
		}
		ix.entries[path] = Entry{
			Path:    path,
			OID:     o,
			Mode:    objects.Mode(mode),
			Size:    size,
			Deleted: deletedByte != 0,
		}
	}
	return ix, nil
}

func writeString(buf *bytes.Buffer, s string) {
	writeUvarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := binary.ReadUvarint(r)
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
