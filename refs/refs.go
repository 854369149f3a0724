// Package refs implements MediaGit's ref database: named pointers (branches,
// tags, remote-tracking refs, HEAD) that are either direct (an OID) or
// symbolic (another ref name), with atomic updates and fast-forward
// enforcement.
package refs

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/mediagit/mediagit/mgerr"
	"github.com/mediagit/mediagit/oid"
	"github.com/mediagit/mediagit/storage"
)

// Kind distinguishes a ref pointing directly at an object from one pointing
// at another ref.
type Kind int

const (
	Direct Kind = iota
	Symbolic
)

// Ref is a named pointer: either a Direct OID or a Symbolic target ref name.
type Ref struct {
	Name   string
	Kind   Kind
	Target oid.OID // valid when Kind == Direct
	Points string  // valid when Kind == Symbolic
}

const (
	keyPrefix     = "refs/"
	headKey       = "HEAD"
	maxResolveHop = 5
)

type wireRef struct {
	Kind   Kind   `json:"kind"`
	Target string `json:"target,omitempty"`
	Points string `json:"points,omitempty"`
}

// DB is the ref database: a thin, atomically-written layer over a KV store,
// plus a watch mechanism for replication/tooling that wants to observe
// ref changes as they happen.
type DB struct {
	kv storage.KV

	mu       sync.RWMutex
	watchers map[string][]chan Ref
}

// New builds a ref database backed by kv. kv must be dedicated to this
// repository: DB owns every key under refs/ and the HEAD key exclusively.
func New(kv storage.KV) *DB {
	return &DB{kv: kv, watchers: make(map[string][]chan Ref)}
}

func storageKey(name string) string {
	if name == headKey {
		return headKey
	}
	return keyPrefix + name
}

// ValidateName enforces the ref naming rules: non-empty, no "..", "//", no
// leading/trailing "/" or ".", no ASCII control or ~^:?*[\ characters, no
// ".lock" suffix, no "@{".
func ValidateName(name string) error {
	if name == headKey {
		return nil
	}
	if name == "" {
		return mgerr.New(mgerr.InvalidName, "ref name must not be empty")
	}
	if strings.Contains(name, "..") {
		return mgerr.Newf(mgerr.InvalidName, "ref name %q contains '..'", name)
	}
	if strings.Contains(name, "//") {
		return mgerr.Newf(mgerr.InvalidName, "ref name %q contains '//'", name)
	}
	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") {
		return mgerr.Newf(mgerr.InvalidName, "ref name %q has leading/trailing '/'", name)
	}
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return mgerr.Newf(mgerr.InvalidName, "ref name %q has leading/trailing '.'", name)
	}
	if strings.HasSuffix(name, ".lock") {
		return mgerr.Newf(mgerr.InvalidName, "ref name %q ends in '.lock'", name)
	}
	if strings.Contains(name, "@{") {
		return mgerr.Newf(mgerr.InvalidName, "ref name %q contains '@{'", name)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return mgerr.Newf(mgerr.InvalidName, "ref name %q contains a control character", name)
		}
		switch r {
		case '~', '^', ':', '?', '*', '[', '\\':
			return mgerr.Newf(mgerr.InvalidName, "ref name %q contains forbidden character %q", name, r)
		}
	}
	return nil
}

// Read returns the ref stored at name, or NotFound.
func (db *DB) Read(ctx context.Context, name string) (Ref, error) {
	if err := ValidateName(name); err != nil {
		return Ref{}, err
	}
	raw, err := db.kv.Get(ctx, storageKey(name))
	if err != nil {
		return Ref{}, err
	}
	var w wireRef
	if err := json.Unmarshal(raw, &w); err != nil {
		return Ref{}, mgerr.Wrap(mgerr.Corrupt, err, "decode ref "+name)
	}
	r := Ref{Name: name, Kind: w.Kind, Points: w.Points}
	if w.Kind == Direct {
		o, err := oid.Parse(w.Target)
		if err != nil {
			return Ref{}, mgerr.Wrap(mgerr.Corrupt, err, "decode ref target "+name)
		}
		r.Target = o
	}
	return r, nil
}

// Write atomically stores r, staging to a temp key and swapping so a crash
// mid-write never leaves a torn value.
func (db *DB) Write(ctx context.Context, r Ref) error {
	if err := ValidateName(r.Name); err != nil {
		return err
	}
	w := wireRef{Kind: r.Kind, Points: r.Points}
	if r.Kind == Direct {
		w.Target = r.Target.String()
	}
	data, err := json.Marshal(w)
	if err != nil {
		return mgerr.Wrap(mgerr.IO, err, "encode ref "+r.Name)
	}

	key := storageKey(r.Name)
	tempKey := key + ".tmp"
	if err := db.kv.Put(ctx, tempKey, data); err != nil {
		return err
	}
	if err := db.kv.Put(ctx, key, data); err != nil {
		_ = db.kv.Delete(ctx, tempKey)
		return err
	}
	_ = db.kv.Delete(ctx, tempKey)

	db.notify(r)
	return nil
}

// Delete removes name. Deleting a missing ref is not an error.
func (db *DB) Delete(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	return db.kv.Delete(ctx, storageKey(name))
}

// Exists reports whether name is present.
func (db *DB) Exists(ctx context.Context, name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	return db.kv.Exists(ctx, storageKey(name))
}

// List returns every ref name under namespace (e.g. "refs/heads/"), sorted.
func (db *DB) List(ctx context.Context, namespace string) ([]string, error) {
	keys, err := db.kv.List(ctx, keyPrefix+namespace)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.HasSuffix(k, ".tmp") {
			continue
		}
		names = append(names, strings.TrimPrefix(k, keyPrefix))
	}
	return names, nil
}

// Resolve follows symbolic chains (bounded at maxResolveHop to detect
// cycles) down to a concrete OID. A symbolic ref pointing at a non-existent
// target (e.g. orphan HEAD) resolves to NotFound.
func (db *DB) Resolve(ctx context.Context, name string) (oid.OID, error) {
	cur := name
	for hop := 0; hop < maxResolveHop; hop++ {
		r, err := db.Read(ctx, cur)
		if err != nil {
			return oid.Zero, err
		}
		if r.Kind == Direct {
			return r.Target, nil
		}
		cur = r.Points
	}
	return oid.Zero, mgerr.Newf(mgerr.Corrupt, "ref %q: symbolic chain exceeds %d hops", name, maxResolveHop)
}

// Update moves name to newOID. Unless force is set, the move must be a
// fast-forward: name must not currently exist, or it must currently point
// exactly at isAncestor's base via the caller-supplied check. Callers that
// don't need ancestry enforcement (e.g. creating a brand-new ref) pass a
// nil isAncestor.
func (db *DB) Update(ctx context.Context, name string, newOID oid.OID, force bool, isAncestor func(ctx context.Context, ancestor, descendant oid.OID) (bool, error)) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if !force {
		current, err := db.Resolve(ctx, name)
		if err != nil && !mgerr.Is(err, mgerr.NotFound) {
			return err
		}
		if err == nil && current != newOID {
			if isAncestor == nil {
				return mgerr.Newf(mgerr.NotFastForward, "ref %q: update is not a fast-forward", name)
			}
			ok, err := isAncestor(ctx, current, newOID)
			if err != nil {
				return err
			}
			if !ok {
				return mgerr.Newf(mgerr.NotFastForward, "ref %q: update is not a fast-forward", name)
			}
		}
	}
	return db.Write(ctx, Ref{Name: name, Kind: Direct, Target: newOID})
}

// Watch subscribes to writes of name, delivering each new Ref value until
// ctx is cancelled. The channel buffers 10 values; a write that finds the
// buffer full is not delivered to that watcher. The returned channel is
// closed on cancellation or by Close, whichever comes first.
func (db *DB) Watch(ctx context.Context, name string) <-chan Ref {
	ch := make(chan Ref, 10)

	db.mu.Lock()
	db.watchers[name] = append(db.watchers[name], ch)
	db.mu.Unlock()

	go func() {
		<-ctx.Done()
		if db.removeWatcher(name, ch) {
			close(ch)
		}
	}()

	return ch
}

func (db *DB) notify(r Ref) {
	db.mu.RLock()
	watchers := db.watchers[r.Name]
	db.mu.RUnlock()

	for _, ch := range watchers {
		select {
		case ch <- r:
		default:
		}
	}
}

// removeWatcher unregisters target and reports whether it was still
// registered (false once Close has already closed it).
func (db *DB) removeWatcher(name string, target chan Ref) bool {
	db.mu.Lock()
	defer db.mu.Unlock()

	watchers := db.watchers[name]
	for i, ch := range watchers {
		if ch == target {
			db.watchers[name] = append(watchers[:i], watchers[i+1:]...)
			return true
		}
	}
	return false
}

// Close shuts down all outstanding watchers.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, watchers := range db.watchers {
		for _, ch := range watchers {
			close(ch)
		}
	}
	db.watchers = make(map[string][]chan Ref)
	return nil
}
