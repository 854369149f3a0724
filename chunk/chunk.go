// Package chunk implements content-defined chunking: splitting a blob into
// an ordered sequence of sub-blobs whose boundaries are chosen so that
// small edits to the source reuse most existing chunks.
package chunk

import (
	"strings"

	"github.com/mediagit/mediagit/oid"
)

// Kind classifies a chunk's role, populated by strategies that understand
// file structure (MediaAware); Fixed and Rolling always produce Generic.
type Kind int

const (
	Generic Kind = iota
	VideoStream
	AudioStream
	Metadata
	Subtitle
)

// Chunk describes one piece of a chunked file.
type Chunk struct {
	OID    oid.OID
	Offset uint64
	Size   uint64
	Kind   Kind
}

// Manifest is the ordered list of chunks that reconstructs a file.
// Concatenating chunk bytes in Chunks order reproduces the input exactly.
type Manifest struct {
	Chunks    []Chunk
	TotalSize uint64
}

// Strategy splits data into chunks plus the bytes of each chunk, in order.
type Strategy interface {
	Split(data []byte, filename string) ([]Chunk, [][]byte)
}

// Split runs strategy over data and assembles the resulting Manifest.
func Split(strategy Strategy, data []byte, filename string) (Manifest, [][]byte) {
	chunks, payloads := strategy.Split(data, filename)
	return Manifest{Chunks: chunks, TotalSize: uint64(len(data))}, payloads
}

func hashChunk(data []byte) oid.OID { return oid.Hash(data) }

// Eligible reports whether a file should be chunked at all: size >= 5 MB
// and an extension that is not on the pre-compressed list below. The
// extension is not otherwise checked, so any other extension (or none at
// all) is eligible once the size threshold is met.
func Eligible(size int64, filename string) bool {
	const minChunkableSize = 5 * 1 << 20
	if size < minChunkableSize {
		return false
	}
	ext := extensionOf(filename)
	if _, never := neverChunkExtensions[ext]; never {
		return false
	}
	return true
}

var neverChunkExtensions = map[string]struct{}{
	"jpg": {}, "jpeg": {}, "png": {}, "gif": {},
	"zip": {}, "gz": {}, "xz": {}, "7z": {}, "bz2": {}, "zst": {},
	"mp3": {}, "flac": {},
}

func extensionOf(filename string) string {
	idx := strings.LastIndexByte(filename, '.')
	if idx < 0 || idx == len(filename)-1 {
		return ""
	}
	return strings.ToLower(filename[idx+1:])
}
