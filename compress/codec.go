// Package compress implements the codec primitives and adaptive selection
// policy used by the object database to compress blobs before they hit
// storage.
package compress

import (
	"bytes"
	"compress/zlib"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"

	"github.com/mediagit/mediagit/mgerr"
)

// Codec identifies a compression algorithm.
type Codec int

const (
	None Codec = iota
	Zlib
	Zstd
	Brotli
)

func (c Codec) String() string {
	switch c {
	case Zlib:
		return "zlib"
	case Zstd:
		return "zstd"
	case Brotli:
		return "brotli"
	default:
		return "none"
	}
}

// Level is a coarse speed/ratio knob shared by every codec.
type Level int

const (
	Fast Level = iota
	Default
	Best
)

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// zlibMagicSecondBytes are the valid second bytes of a zlib stream's
// 2-byte header (CMF/FLG) for the deflate method/window sizes the
// standard library ever writes.
var zlibMagicSecondBytes = []byte{0x01, 0x5E, 0x9C, 0xDA}

// Compress encodes data with codec at the given level. Every codec's
// native output already carries its own magic bytes (zlib, zstd) or is
// recovered via a decode attempt (brotli); None passes bytes through
// unchanged. No extra framing is added, so the result is exactly what a
// peer implementation speaking the same wire format would produce.
func Compress(codec Codec, level Level, data []byte) ([]byte, error) {
	switch codec {
	case None:
		return data, nil
	case Zlib:
		return compressZlib(level, data)
	case Zstd:
		return compressZstd(level, data)
	case Brotli:
		return compressBrotli(level, data)
	default:
		return nil, mgerr.Newf(mgerr.InvalidName, "unknown codec %d", codec)
	}
}

// Decompress auto-detects the codec from the payload's own magic bytes
// and returns the original bytes. zlib and zstd are identified by their
// fixed header magic; brotli has no magic number, so it is identified by
// attempting a decode and checking the result is well-formed; anything
// that matches none of those is assumed to be an uncompressed (None)
// payload.
func Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if codec, ok := DetectMagic(data); ok {
		switch codec {
		case Zlib:
			return decompressZlib(data)
		case Zstd:
			return decompressZstd(data)
		}
	}
	if out, err := decompressBrotli(data); err == nil {
		return out, nil
	}
	return data, nil
}

// DetectMagic inspects raw bytes and reports whether they start with a
// zlib or zstd header; Decompress uses it to pick a decoder.
func DetectMagic(data []byte) (Codec, bool) {
	switch {
	case len(data) >= 4 && bytes.Equal(data[:4], zstdMagic):
		return Zstd, true
	case len(data) >= 2 && data[0] == 0x78 && bytes.IndexByte(zlibMagicSecondBytes, data[1]) >= 0:
		return Zlib, true
	default:
		return None, false
	}
}

func compressZlib(level Level, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlibLevel(level))
	if err != nil {
		return nil, mgerr.Wrap(mgerr.IO, err, "init zlib writer")
	}
	if _, err := w.Write(data); err != nil {
		return nil, mgerr.Wrap(mgerr.IO, err, "zlib compress")
	}
	if err := w.Close(); err != nil {
		return nil, mgerr.Wrap(mgerr.IO, err, "close zlib writer")
	}
	return buf.Bytes(), nil
}

func zlibLevel(level Level) int {
	switch level {
	case Fast:
		return zlib.BestSpeed
	case Best:
		return zlib.BestCompression
	default:
		return zlib.DefaultCompression
	}
}

func decompressZlib(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, mgerr.Wrap(mgerr.Corrupt, err, "init zlib reader")
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, mgerr.Wrap(mgerr.Corrupt, err, "zlib decompress")
	}
	return out, nil
}

func compressZstd(level Level, data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel(level)))
	if err != nil {
		return nil, mgerr.Wrap(mgerr.IO, err, "init zstd encoder")
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func zstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case Fast:
		return zstd.SpeedFastest
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

func decompressZstd(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, mgerr.Wrap(mgerr.IO, err, "init zstd decoder")
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, mgerr.Wrap(mgerr.Corrupt, err, "zstd decompress")
	}
	return out, nil
}

func compressBrotli(level Level, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotliLevel(level))
	if _, err := w.Write(data); err != nil {
		return nil, mgerr.Wrap(mgerr.IO, err, "brotli compress")
	}
	if err := w.Close(); err != nil {
		return nil, mgerr.Wrap(mgerr.IO, err, "close brotli writer")
	}
	return buf.Bytes(), nil
}

func brotliLevel(level Level) int {
	switch level {
	case Fast:
		return 1
	case Best:
		return brotli.BestCompression
	default:
		return brotli.DefaultCompression
	}
}

func decompressBrotli(data []byte) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, mgerr.Wrap(mgerr.Corrupt, err, "brotli decompress")
	}
	return out, nil
}
