// Package repo glues the object database, ref database, index, and merge
// engine into the one stateful object a CLI or server constructs:
// Repository, mirroring the shape of the teacher's Repository (head/prev
// tracking, LoadHead, Commit) but operating over MediaGit's commit/tree/OID
// model instead of content-addressed IPLD nodes.
package repo

import (
	"context"
	"sync"

	"github.com/mediagit/mediagit/chunk"
	"github.com/mediagit/mediagit/deltacodec"
	"github.com/mediagit/mediagit/index"
	"github.com/mediagit/mediagit/merge"
	"github.com/mediagit/mediagit/mgerr"
	"github.com/mediagit/mediagit/objects"
	"github.com/mediagit/mediagit/odb"
	"github.com/mediagit/mediagit/oid"
	"github.com/mediagit/mediagit/refs"
)

const headRefName = "HEAD"
const branchPrefix = "refs/heads/"

// Repository is the one stateful object wiring odb, refs, and the index
// together. It holds a concrete *odb.ODB rather than a narrow interface
// because Stage's chunk/delta write-dispatch policy needs WriteChunked and
// WriteWithDelta, neither of which belongs on merge.Store's or transfer's
// narrower read/write contracts.
type Repository struct {
	store     *odb.ODB
	refsDB    *refs.DB
	indexPath string

	mu     sync.RWMutex
	idx    *index.Index
	branch string  // "refs/heads/<name>", or "" when HEAD is detached
	head   oid.OID // cached current commit; oid.Zero before the first commit
}

// Open loads (or initializes) a repository: the index from indexPath, and
// HEAD from refsDB. A brand-new repository has no HEAD ref yet; Open
// creates one, symbolic to refs/heads/main, left unresolved (orphan) until
// the first commit.
func Open(ctx context.Context, store *odb.ODB, refsDB *refs.DB, indexPath string) (*Repository, error) {
	idx, err := index.Load(indexPath)
	if err != nil {
		return nil, err
	}

	r := &Repository{store: store, refsDB: refsDB, indexPath: indexPath, idx: idx}

	headRef, err := refsDB.Read(ctx, headRefName)
	if err != nil {
		if !mgerr.Is(err, mgerr.NotFound) {
			return nil, err
		}
		r.branch = branchPrefix + "main"
		if err := refsDB.Write(ctx, refs.Ref{Name: headRefName, Kind: refs.Symbolic, Points: r.branch}); err != nil {
			return nil, err
		}
		return r, nil
	}

	if headRef.Kind == refs.Symbolic {
		r.branch = headRef.Points
		target, err := refsDB.Resolve(ctx, headRefName)
		if err != nil {
			if !mgerr.Is(err, mgerr.NotFound) {
				return nil, err
			}
			return r, nil // orphan: branch ref doesn't exist yet
		}
		r.head = target
		return r, nil
	}

	r.branch = ""
	r.head = headRef.Target
	return r, nil
}

// Branch returns the current branch ref name ("" if HEAD is detached).
func (r *Repository) Branch() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.branch
}

// Head returns the currently checked-out commit (oid.Zero before the
// first commit).
func (r *Repository) Head() oid.OID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.head
}

// Index exposes the staging area for callers that need to inspect it
// directly (status reporting, diffing against the working tree).
func (r *Repository) Index() *index.Index {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idx
}

// Store exposes the underlying object database for callers that need to
// read objects directly (fsck, transfer, inspection tooling).
func (r *Repository) Store() *odb.ODB { return r.store }

// Refs exposes the underlying ref database for callers that need direct
// ref access (transfer, inspection tooling).
func (r *Repository) Refs() *refs.DB { return r.refsDB }

// Stage writes data to the object database choosing among chunking, delta
// compression, and a plain write by the precedence spec.md §9 fixes:
// chunking eligible takes priority (individual chunks may still be
// deltified later, but the whole file is never deltified once chunked);
// otherwise delta-eligible; otherwise a plain compressed write. It then
// stages path in the index and persists it.
func (r *Repository) Stage(ctx context.Context, path string, data []byte, mode objects.Mode) (oid.OID, error) {
	id, err := r.writeBlob(ctx, path, data)
	if err != nil {
		return oid.Zero, err
	}

	r.mu.Lock()
	r.idx.AddEntry(index.Entry{Path: path, OID: id, Mode: mode, Size: uint64(len(data))})
	idx := r.idx
	r.mu.Unlock()

	if err := idx.Save(r.indexPath); err != nil {
		return oid.Zero, err
	}
	return id, nil
}

func (r *Repository) writeBlob(ctx context.Context, path string, data []byte) (oid.OID, error) {
	size := int64(len(data))
	switch {
	case chunk.Eligible(size, path):
		return r.store.WriteChunked(ctx, data, path)
	case deltacodec.Eligible(size, path):
		return r.store.WriteWithDelta(ctx, data, path)
	default:
		return r.store.WriteWithPath(ctx, objects.KindBlob, data, path)
	}
}

// Unstage marks path as removed, so the next Commit produces a tree
// omitting it even though HEAD's tree still has it.
func (r *Repository) Unstage(path string) error {
	r.mu.Lock()
	r.idx.MarkDeleted(path)
	idx := r.idx
	r.mu.Unlock()
	return idx.Save(r.indexPath)
}

// isAncestor adapts merge.IsAncestor to refs.DB.Update's fast-forward hook.
func (r *Repository) isAncestor(ctx context.Context, ancestor, descendant oid.OID) (bool, error) {
	return merge.IsAncestor(ctx, r.store, ancestor, descendant)
}

// Commit builds a tree from the current index snapshot, writes a commit
// object parented on the current HEAD (root if there is none yet), and
// fast-forwards the current branch (or detached HEAD) to it.
func (r *Repository) Commit(ctx context.Context, author, committer objects.Signature, message string) (oid.OID, error) {
	r.mu.RLock()
	entries := r.idx.Entries()
	parent := r.head
	branch := r.branch
	r.mu.RUnlock()

	treeOID, err := buildTree(ctx, r.store, entries)
	if err != nil {
		return oid.Zero, err
	}

	var parents []oid.OID
	if !parent.IsZero() {
		parents = []oid.OID{parent}
	}
	c := objects.Commit{TreeOID: treeOID, Parents: parents, Author: author, Committer: committer, Message: message}
	encoded, err := objects.Encode(objects.KindCommit, c)
	if err != nil {
		return oid.Zero, mgerr.Wrap(mgerr.IO, err, "encode commit")
	}
	commitOID, err := r.store.Write(ctx, objects.KindCommit, encoded)
	if err != nil {
		return oid.Zero, err
	}

	if err := r.moveHead(ctx, branch, commitOID); err != nil {
		return oid.Zero, err
	}

	r.mu.Lock()
	r.head = commitOID
	r.mu.Unlock()
	return commitOID, nil
}

// moveHead advances branch (or HEAD itself when detached) to commitOID.
func (r *Repository) moveHead(ctx context.Context, branch string, commitOID oid.OID) error {
	if branch == "" {
		return r.refsDB.Write(ctx, refs.Ref{Name: headRefName, Kind: refs.Direct, Target: commitOID})
	}
	return r.refsDB.Update(ctx, branch, commitOID, false, r.isAncestor)
}

// CreateBranch points a new branch ref at startPoint. Fails if the branch
// already exists (use Checkout + Commit, or Merge, to move an existing
// one).
func (r *Repository) CreateBranch(ctx context.Context, name string, startPoint oid.OID) error {
	refName := branchPrefix + name
	exists, err := r.refsDB.Exists(ctx, refName)
	if err != nil {
		return err
	}
	if exists {
		return mgerr.Newf(mgerr.NotFastForward, "branch %q already exists", name)
	}
	return r.refsDB.Update(ctx, refName, startPoint, false, nil)
}

// Checkout switches HEAD to branch, replacing the index with branch tip's
// tree contents. Staged-but-uncommitted changes are discarded (callers
// that need to preserve them should Commit or stash before calling this).
func (r *Repository) Checkout(ctx context.Context, branch string) error {
	refName := branchPrefix + branch
	commitOID, err := r.refsDB.Resolve(ctx, refName)
	if err != nil {
		return err
	}

	data, err := r.store.Read(ctx, commitOID)
	if err != nil {
		return err
	}
	c, err := objects.ParseCommit(data)
	if err != nil {
		return err
	}

	newIdx, err := loadTreeIntoIndex(ctx, r.store, c.TreeOID)
	if err != nil {
		return err
	}

	if err := r.refsDB.Write(ctx, refs.Ref{Name: headRefName, Kind: refs.Symbolic, Points: refName}); err != nil {
		return err
	}

	r.mu.Lock()
	r.idx = newIdx
	r.branch = refName
	r.head = commitOID
	r.mu.Unlock()

	return newIdx.Save(r.indexPath)
}
