// Package deltacodec implements a compact copy/insert instruction stream
// for transforming one blob's bytes into another similar blob's bytes,
// used by the object database to store near-duplicate blobs as a small
// diff against a base instead of a full copy.
package deltacodec

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"

	"github.com/mediagit/mediagit/mgerr"
)

// opcode tags each instruction in the delta stream.
type opcode byte

const (
	opCopy opcode = iota
	opInsert
)

// blockSize is the rolling-match granularity: the base is indexed by its
// blockSize-byte window at every byte offset (first offset wins), and the
// target is scanned for runs that match an indexed base window.
const blockSize = 16

// Delta encodes target as a sequence of instructions against base.
//
// Wire format: a sequence of instructions, each
//   opCopy:   [1 [opcode]][8 offset][8 length]
//   opInsert: [1 [opcode]][8 length][length raw bytes]
// lengths/offsets are little-endian uint64.
func Delta(base, target []byte) []byte {
	index := indexBase(base)

	var out bytes.Buffer
	var pendingInsert []byte

	flushInsert := func() {
		if len(pendingInsert) == 0 {
			return
		}
		out.WriteByte(byte(opInsert))
		writeUint64(&out, uint64(len(pendingInsert)))
		out.Write(pendingInsert)
		pendingInsert = nil
	}

	i := 0
	for i < len(target) {
		if i+blockSize <= len(target) {
			key := string(target[i : i+blockSize])
			if baseOffset, ok := index[key]; ok {
				// Extend the match as far as possible in both buffers.
				length := blockSize
				for baseOffset+length < len(base) && i+length < len(target) && base[baseOffset+length] == target[i+length] {
					length++
				}
				flushInsert()
				out.WriteByte(byte(opCopy))
				writeUint64(&out, uint64(baseOffset))
				writeUint64(&out, uint64(length))
				i += length
				continue
			}
		}
		pendingInsert = append(pendingInsert, target[i])
		i++
	}
	flushInsert()
	return out.Bytes()
}

// Patch reconstructs the target bytes described by delta, applied against base.
func Patch(base, delta []byte) ([]byte, error) {
	var out bytes.Buffer
	r := bytes.NewReader(delta)

	for r.Len() > 0 {
		opByte, err := r.ReadByte()
		if err != nil {
			return nil, mgerr.Wrap(mgerr.Corrupt, err, "read delta opcode")
		}
		switch opcode(opByte) {
		case opCopy:
			offset, err := readUint64(r)
			if err != nil {
				return nil, mgerr.Wrap(mgerr.Corrupt, err, "read copy offset")
			}
			length, err := readUint64(r)
			if err != nil {
				return nil, mgerr.Wrap(mgerr.Corrupt, err, "read copy length")
			}
			if offset+length > uint64(len(base)) {
				return nil, mgerr.Newf(mgerr.Corrupt, "copy instruction out of base bounds")
			}
			out.Write(base[offset : offset+length])
		case opInsert:
			length, err := readUint64(r)
			if err != nil {
				return nil, mgerr.Wrap(mgerr.Corrupt, err, "read insert length")
			}
			buf := make([]byte, length)
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, mgerr.Wrap(mgerr.Corrupt, err, "read insert payload")
			}
			out.Write(buf)
		default:
			return nil, mgerr.Newf(mgerr.Corrupt, "unknown delta opcode %d", opByte)
		}
	}
	return out.Bytes(), nil
}

// indexBase builds a block -> first-offset index over base, used to find
// candidate copy sources while scanning the target.
func indexBase(base []byte) map[string]int {
	index := make(map[string]int)
	for i := 0; i+blockSize <= len(base); i++ {
		key := string(base[i : i+blockSize])
		if _, exists := index[key]; !exists {
			index[key] = i
		}
	}
	return index
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// Eligibility policy, per spec: text-like formats and uncompressed image
// formats are always delta-eligible; compressed containers only above a
// size threshold; JPEG/PNG/archives never.
const largeContainerThreshold = 100 << 20

var alwaysEligibleExtensions = map[string]struct{}{
	"txt": {}, "md": {}, "json": {}, "yaml": {}, "yml": {}, "toml": {}, "csv": {}, "xml": {},
	"psd": {}, "tiff": {}, "tif": {}, "bmp": {}, "wav": {}, "aiff": {}, "aif": {},
}

var thresholdExtensions = map[string]struct{}{
	"mp4": {}, "mkv": {}, "flv": {}, "wmv": {},
}

var neverEligibleExtensions = map[string]struct{}{
	"jpg": {}, "jpeg": {}, "png": {},
	"zip": {}, "gz": {}, "xz": {}, "7z": {}, "bz2": {}, "zst": {},
}

// Eligible reports whether a file of the given size/filename should be
// considered for delta compression against a base of the same type.
func Eligible(size int64, filename string) bool {
	ext := extensionOf(filename)
	if _, never := neverEligibleExtensions[ext]; never {
		return false
	}
	if _, always := alwaysEligibleExtensions[ext]; always {
		return true
	}
	if _, gated := thresholdExtensions[ext]; gated {
		return size > largeContainerThreshold
	}
	return false
}

func extensionOf(filename string) string {
	idx := strings.LastIndexByte(filename, '.')
	if idx < 0 || idx == len(filename)-1 {
		return ""
	}
	return strings.ToLower(filename[idx+1:])
}
