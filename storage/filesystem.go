package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mediagit/mediagit/mgerr"
)

// Filesystem is the on-disk KV backend. Keys are relative slash-separated
// paths under root; callers (the ODB) are responsible for sharding object
// keys into two-char prefix directories — Filesystem itself just maps a
// key string onto a file path.
type Filesystem struct {
	root string
	mu   sync.RWMutex // guards concurrent writers racing on the same key
}

// NewFilesystem opens (creating if needed) a filesystem-backed KV rooted at dir.
func NewFilesystem(dir string) (*Filesystem, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, mgerr.Wrap(mgerr.IO, err, "create storage root")
	}
	return &Filesystem{root: dir}, nil
}

func (f *Filesystem) path(key string) (string, error) {
	clean := filepath.Clean(key)
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", mgerr.Newf(mgerr.InvalidName, "invalid storage key %q", key)
	}
	return filepath.Join(f.root, clean), nil
}

func (f *Filesystem) Get(_ context.Context, key string) ([]byte, error) {
	p, err := f.path(key)
	if err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, mgerr.Newf(mgerr.NotFound, "key %q not found", key)
		}
		return nil, mgerr.Wrap(mgerr.IO, err, "read storage key")
	}
	return data, nil
}

func (f *Filesystem) Put(_ context.Context, key string, value []byte) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return mgerr.Wrap(mgerr.IO, err, "create shard directory")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Write via a temp file + rename so concurrent readers never observe a
	// partially written object (objects are content-addressed, so two
	// writers producing the same key always write identical bytes, but a
	// reader mid-write must not see a torn file).
	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return mgerr.Wrap(mgerr.IO, err, "create temp file")
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return mgerr.Wrap(mgerr.IO, err, "write temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return mgerr.Wrap(mgerr.IO, err, "close temp file")
	}
	if err := os.Rename(tmpPath, p); err != nil {
		os.Remove(tmpPath)
		return mgerr.Wrap(mgerr.IO, err, "rename into place")
	}
	return nil
}

func (f *Filesystem) Exists(_ context.Context, key string) (bool, error) {
	p, err := f.path(key)
	if err != nil {
		return false, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, err = os.Stat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, mgerr.Wrap(mgerr.IO, err, "stat storage key")
}

func (f *Filesystem) Delete(_ context.Context, key string) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return mgerr.Wrap(mgerr.IO, err, "delete storage key")
	}
	return nil
}

func (f *Filesystem) List(_ context.Context, prefix string) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var out []string
	err := filepath.WalkDir(f.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(f.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
		return nil
	})
	if err != nil {
		return nil, mgerr.Wrap(mgerr.IO, err, "list storage keys")
	}
	sort.Strings(out)
	return out, nil
}

func (f *Filesystem) Close() error { return nil }

var _ io.Closer = (*Filesystem)(nil)
