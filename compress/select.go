package compress

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Choice is a codec + level pair returned by the selector.
type Choice struct {
	Codec Codec
	Level Level
}

// Selector picks a Choice for a given FileProfile, memoizing decisions in
// a small LRU (decisions are pure functions of the profile, so caching by
// profile rather than by content is correct and keeps the cache tiny: at
// most 5*4*4 = 80 distinct profiles exist).
type Selector struct {
	mu    sync.Mutex
	cache *lru.Cache[FileProfile, Choice]
}

// NewSelector creates a Selector with the given memoization capacity.
func NewSelector(capacity int) *Selector {
	if capacity <= 0 {
		capacity = 128
	}
	c, _ := lru.New[FileProfile, Choice](capacity)
	return &Selector{cache: c}
}

// Select returns the adaptive Choice for profile, implementing the
// decision table exactly.
func (s *Selector) Select(profile FileProfile) Choice {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.cache.Get(profile); ok {
		return c
	}
	c := decide(profile)
	s.cache.Add(profile, c)
	return c
}

func decide(p FileProfile) Choice {
	switch {
	case p.Pattern == Media || p.Pattern == AlreadyCompressed || p.Entropy == High:
		return Choice{None, Default}
	case p.Size == Tiny && p.Entropy != High:
		return Choice{Brotli, Best}
	case p.Size == Small && p.Entropy != High && p.Pattern == Text:
		return Choice{Brotli, Best}
	case p.Size == Small && p.Entropy != High:
		return Choice{Brotli, Default}
	case p.Size == Medium && p.Entropy == VeryLow:
		return Choice{Brotli, Default}
	case p.Size == Medium && p.Entropy == Low:
		return Choice{Zstd, Default}
	case p.Size == Large || p.Size == Huge:
		return Choice{Zstd, Fast}
	default:
		return Choice{Zstd, Default}
	}
}

// GlobalProfile is an operator-selected preset applied on top of the
// per-type static table.
type GlobalProfile int

const (
	Speed GlobalProfile = iota
	Balanced
	MaxCompression
)

// typeCategory buckets file extensions into broad categories used by the
// static per-type table, independent of FileProfile sampling.
type typeCategory int

const (
	categoryText typeCategory = iota
	categoryUncompressedMedia
	categoryCompressedMedia
	categoryArchive
	categoryOther
)

var extensionCategory = map[string]typeCategory{
	"txt": categoryText, "md": categoryText, "json": categoryText, "yaml": categoryText,
	"yml": categoryText, "toml": categoryText, "csv": categoryText, "xml": categoryText,
	"psd": categoryUncompressedMedia, "tiff": categoryUncompressedMedia, "tif": categoryUncompressedMedia,
	"bmp": categoryUncompressedMedia, "wav": categoryUncompressedMedia, "aiff": categoryUncompressedMedia,
	"aif": categoryUncompressedMedia,
	"mp4": categoryCompressedMedia, "mov": categoryCompressedMedia, "m4v": categoryCompressedMedia,
	"m4a": categoryCompressedMedia, "mkv": categoryCompressedMedia, "webm": categoryCompressedMedia,
	"jpg": categoryCompressedMedia, "jpeg": categoryCompressedMedia, "png": categoryCompressedMedia,
	"gif": categoryCompressedMedia, "mp3": categoryCompressedMedia, "flac": categoryCompressedMedia,
	"zip": categoryArchive, "gz": categoryArchive, "xz": categoryArchive, "7z": categoryArchive,
	"bz2": categoryArchive, "zst": categoryArchive,
}

// staticTable maps (category, global profile) to a Choice. Pre-compressed
// categories always resolve to None regardless of profile: re-compressing
// already-compressed media wastes CPU for negligible gain.
var staticTable = map[typeCategory]map[GlobalProfile]Choice{
	categoryText: {
		Speed:          {Zstd, Fast},
		Balanced:       {Zstd, Default},
		MaxCompression: {Brotli, Best},
	},
	categoryUncompressedMedia: {
		Speed:          {Zstd, Fast},
		Balanced:       {Zstd, Default},
		MaxCompression: {Brotli, Best},
	},
	categoryCompressedMedia: {
		Speed:          {None, Default},
		Balanced:       {None, Default},
		MaxCompression: {None, Default},
	},
	categoryArchive: {
		Speed:          {None, Default},
		Balanced:       {None, Default},
		MaxCompression: {None, Default},
	},
	categoryOther: {
		Speed:          {Zstd, Fast},
		Balanced:       {Zstd, Default},
		MaxCompression: {Zstd, Best},
	},
}

// SelectForType overrides profile-based selection with the static
// per-type table, keyed by filename extension and a global profile.
func SelectForType(filename string, profile GlobalProfile) Choice {
	cat, ok := extensionCategory[extensionOf(filename)]
	if !ok {
		cat = categoryOther
	}
	return staticTable[cat][profile]
}
