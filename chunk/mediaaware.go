package chunk

import "encoding/binary"

// MediaAwareStrategy is structure-aware for containers it recognizes
// (RIFF/AVI). Unknown extensions fall back to Fixed(4 MB).
type MediaAwareStrategy struct{}

// MediaAware builds a MediaAwareStrategy.
func MediaAware() MediaAwareStrategy { return MediaAwareStrategy{} }

const mediaAwareFallbackChunkSize = 4 << 20

func (MediaAwareStrategy) Split(data []byte, filename string) ([]Chunk, [][]byte) {
	switch extensionOf(filename) {
	case "avi", "riff":
		return splitRIFF(data)
	default:
		return Fixed(mediaAwareFallbackChunkSize).Split(data, filename)
	}
}

// splitRIFF emits the 12-byte RIFF header as its own chunk, then walks
// each top-level fourcc/size sub-chunk, including any trailing odd-byte
// pad in the chunk itself so concatenation reproduces the file
// byte-for-byte.
func splitRIFF(data []byte) ([]Chunk, [][]byte) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" {
		return Fixed(mediaAwareFallbackChunkSize).Split(data, "")
	}

	var chunks []Chunk
	var payloads [][]byte
	var offset uint64

	emit := func(piece []byte, kind Kind) {
		chunks = append(chunks, Chunk{
			OID:    hashChunk(piece),
			Offset: offset,
			Size:   uint64(len(piece)),
			Kind:   kind,
		})
		payloads = append(payloads, piece)
		offset += uint64(len(piece))
	}

	emit(data[0:12], Metadata)
	pos := 12

	for pos < len(data) {
		if pos+8 > len(data) {
			emit(data[pos:], Generic)
			break
		}

		fourcc := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))

		dataEnd := pos + 8 + size
		if dataEnd > len(data) {
			dataEnd = len(data)
		}
		needsPadding := size%2 != 0 && dataEnd < len(data)
		chunkEnd := dataEnd
		if needsPadding {
			chunkEnd++
		}
		if chunkEnd > len(data) {
			chunkEnd = len(data)
		}

		emit(data[pos:chunkEnd], riffChunkKind(fourcc))
		pos = chunkEnd
	}

	return chunks, payloads
}

func riffChunkKind(fourcc string) Kind {
	switch fourcc {
	case "hdrl", "avih", "idx1":
		return Metadata
	case "movi":
		return VideoStream
	}
	if len(fourcc) >= 2 {
		switch fourcc[:2] {
		case "00", "01":
			return VideoStream
		case "02", "03":
			return AudioStream
		}
	}
	return Generic
}
