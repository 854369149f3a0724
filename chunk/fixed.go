package chunk

// FixedStrategy splits data into contiguous equal-size chunks, with the
// last chunk possibly shorter.
type FixedStrategy struct {
	Size int
}

// Fixed builds a FixedStrategy with the given chunk size in bytes.
func Fixed(size int) FixedStrategy {
	return FixedStrategy{Size: size}
}

func (f FixedStrategy) Split(data []byte, _ string) ([]Chunk, [][]byte) {
	if f.Size <= 0 {
		f.Size = 4 << 20
	}
	var chunks []Chunk
	var payloads [][]byte
	var offset uint64
	for start := 0; start < len(data); start += f.Size {
		end := start + f.Size
		if end > len(data) {
			end = len(data)
		}
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
	return chunks, payloads
}
