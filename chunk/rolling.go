package chunk

import "math/bits"

// rollingWindowSize is the window, in bytes, the rolling hash is computed
// over when probing for a chunk boundary.
const rollingWindowSize = 48

// RollingStrategy splits data at content-defined boundaries: a boundary is
// declared when the rolling hash of the trailing window is a multiple of
// mask+1, subject to min/max chunk-length bounds. Content-defined
// boundaries mean inserting or deleting bytes in the middle of a file
// only disturbs the chunks touching the edit, not every chunk after it.
type RollingStrategy struct {
	Avg int
	Min int
	Max int
}

// Rolling builds a RollingStrategy with the given average/min/max chunk
// sizes in bytes. avg must be a power of two; log2(avg) determines the
// boundary mask.
func Rolling(avg, min, max int) RollingStrategy {
	return RollingStrategy{Avg: avg, Min: min, Max: max}
}

func (r RollingStrategy) Split(data []byte, _ string) ([]Chunk, [][]byte) {
	if r.Avg <= 0 {
		r.Avg = 1 << 20
	}
	if r.Min <= 0 {
		r.Min = r.Avg / 4
	}
	if r.Max <= 0 {
		r.Max = r.Avg * 4
	}
	mask := uint64(1)<<uint(bits.TrailingZeros(uint(r.Avg))) - 1

	var chunks []Chunk
	var payloads [][]byte
	var offset uint64
	start := 0

	emit := func(end int) {
		piece := data[start:end]
		chunks = append(chunks, Chunk{
			OID:    hashChunk(piece),
			Offset: offset,
			Size:   uint64(len(piece)),
			Kind:   Generic,
		})
		payloads = append(payloads, piece)
		offset += uint64(len(piece))
	}

	i := r.Min
	for i < len(data) {
		windowEnd := i + rollingWindowSize
		if windowEnd > len(data) {
			windowEnd = len(data)
		}
		h := rollingHash(data[i:windowEnd])
		chunkSize := i - start
		isBoundary := h&mask == 0

		if isBoundary || chunkSize >= r.Max || i+rollingWindowSize >= len(data) {
			emit(i)
			start = i
			i += r.Min
		} else {
			i++
		}
	}
	if start < len(data) {
		emit(len(data))
	}
	return chunks, payloads
}

// rollingHash is a simple polynomial hash over window, used purely for
// boundary detection (not a cryptographic or even collision-resistant
// hash — chunk identity always comes from the content OID).
func rollingHash(window []byte) uint64 {
	var h uint64
	for _, b := range window {
		h = h*31 + uint64(b)
	}
	return h
}
