package storage

import (
	"context"
	"errors"
	"sort"

	ds "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	badger4 "github.com/ipfs/go-ds-badger4"

	"github.com/mediagit/mediagit/mgerr"
)

// Embedded is a KV backend built on an embedded badger LSM tree via
// go-datastore/go-ds-badger4. It trades the filesystem backend's one
// file per key for a single compacted store, useful on deployments
// with very large numbers of small objects (chunk manifests, refs).
type Embedded struct {
	ds *badger4.Datastore
}

// NewEmbedded opens (creating if needed) a badger-backed KV rooted at dir.
func NewEmbedded(dir string, opts *badger4.Options) (*Embedded, error) {
	store, err := badger4.NewDatastore(dir, opts)
	if err != nil {
		return nil, mgerr.Wrap(mgerr.IO, err, "open embedded store")
	}
	return &Embedded{ds: store}, nil
}

func (e *Embedded) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := e.ds.Get(ctx, ds.NewKey(key))
	if err != nil {
		if errors.Is(err, ds.ErrNotFound) {
			return nil, mgerr.Newf(mgerr.NotFound, "key %q not found", key)
		}
		return nil, mgerr.Wrap(mgerr.IO, err, "get key")
	}
	return v, nil
}

func (e *Embedded) Put(ctx context.Context, key string, value []byte) error {
	if err := e.ds.Put(ctx, ds.NewKey(key), value); err != nil {
		return mgerr.Wrap(mgerr.IO, err, "put key")
	}
	return nil
}

func (e *Embedded) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := e.ds.Has(ctx, ds.NewKey(key))
	if err != nil {
		return false, mgerr.Wrap(mgerr.IO, err, "stat key")
	}
	return ok, nil
}

func (e *Embedded) Delete(ctx context.Context, key string) error {
	if err := e.ds.Delete(ctx, ds.NewKey(key)); err != nil && !errors.Is(err, ds.ErrNotFound) {
		return mgerr.Wrap(mgerr.IO, err, "delete key")
	}
	return nil
}

// List queries all keys under prefix, draining the query result channel
// the way the teacher's Iterator/Keys helpers do.
func (e *Embedded) List(ctx context.Context, prefix string) ([]string, error) {
	result, err := e.ds.Query(ctx, query.Query{Prefix: ds.NewKey(prefix).String(), KeysOnly: true})
	if err != nil {
		return nil, mgerr.Wrap(mgerr.IO, err, "query keys")
	}
	defer result.Close()

	var out []string
	for {
		select {
		case <-ctx.Done():
			return nil, mgerr.Wrap(mgerr.Cancelled, ctx.Err(), "list cancelled")
		case res, ok := <-result.Next():
			if !ok {
				sort.Strings(out)
				return out, nil
			}
			if res.Error != nil {
				return nil, mgerr.Wrap(mgerr.IO, res.Error, "iterate keys")
			}
			// go-datastore keys are namespaced with a leading slash; KV keys are bare.
			out = append(out, ds.NewKey(res.Key).String()[1:])
		}
	}
}

func (e *Embedded) Close() error {
	if err := e.ds.Close(); err != nil {
		return mgerr.Wrap(mgerr.IO, err, "close embedded store")
	}
	return nil
}
