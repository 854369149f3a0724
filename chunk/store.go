package chunk

import (
	"sync"

	"github.com/mediagit/mediagit/oid"
)

// Stats summarizes a ChunkStore's deduplication effectiveness.
type Stats struct {
	UniqueChunks    int
	TotalReferences int
	TotalSizeBytes  uint64
	DedupRatio      float64
}

type chunkMeta struct {
	size uint64
	kind Kind
}

// Store tracks reference counts per chunk OID so a chunk can be safely
// deleted only once nothing references it anymore.
type Store struct {
	mu        sync.Mutex
	refCounts map[oid.OID]int
	meta      map[oid.OID]chunkMeta
}

// NewStore creates an empty chunk store.
func NewStore() *Store {
	return &Store{
		refCounts: make(map[oid.OID]int),
		meta:      make(map[oid.OID]chunkMeta),
	}
}

// Add registers a reference to c, incrementing its refcount.
func (s *Store) Add(c Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refCounts[c.OID]++
	if _, seen := s.meta[c.OID]; !seen {
		s.meta[c.OID] = chunkMeta{size: c.Size, kind: c.Kind}
	}
}

// Remove decrements id's refcount and reports whether it reached zero
// (meaning the underlying chunk object is now safe to delete).
func (s *Store) Remove(id oid.OID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	count, ok := s.refCounts[id]
	if !ok {
		return false
	}
	count--
	if count <= 0 {
		delete(s.refCounts, id)
		delete(s.meta, id)
		return true
	}
	s.refCounts[id] = count
	return false
}

// Contains reports whether id has at least one live reference.
func (s *Store) Contains(id oid.OID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.refCounts[id]
	return ok
}

// RefCount returns id's current reference count, 0 if untracked.
func (s *Store) RefCount(id oid.OID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refCounts[id]
}

// DedupRatio returns 1 - unique/total_refs, 0 if the store is empty.
func (s *Store) DedupRatio() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dedupRatioLocked()
}

func (s *Store) dedupRatioLocked() float64 {
	if len(s.refCounts) == 0 {
		return 0
	}
	total := 0
	for _, c := range s.refCounts {
		total += c
	}
	return 1 - float64(len(s.refCounts))/float64(total)
}

// Stats reports current store-wide statistics.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	var totalSize uint64
	for id, c := range s.refCounts {
		total += c
		totalSize += s.meta[id].size
	}
	return Stats{
		UniqueChunks:    len(s.refCounts),
		TotalReferences: total,
		TotalSizeBytes:  totalSize,
		DedupRatio:      s.dedupRatioLocked(),
	}
}
