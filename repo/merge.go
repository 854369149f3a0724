package repo

import (
	"context"

	"github.com/mediagit/mediagit/merge"
	"github.com/mediagit/mediagit/mgerr"
	"github.com/mediagit/mediagit/objects"
	"github.com/mediagit/mediagit/odb"
	"github.com/mediagit/mediagit/oid"
)

// Merge merges theirsBranch into the current branch. Fast-forwards move
// the branch ref without a merge commit, per spec.md §4.8. Otherwise it
// runs the three-way merge engine and, if that leaves no conflicts, writes
// a merge commit parented on both tips and advances the branch to it. If
// conflicts remain, no merge commit is written and Result.Conflicts
// describes what a caller (or a media-aware plug-in) must resolve; both
// input blobs stay in the object database untouched, ready for either
// side to be picked.
func (r *Repository) Merge(ctx context.Context, theirsBranch string, strategy merge.Strategy, author, committer objects.Signature, message string) (merge.Result, error) {
	r.mu.RLock()
	ours := r.head
	branch := r.branch
	r.mu.RUnlock()

	if branch == "" {
		return merge.Result{}, mgerr.New(mgerr.InvalidName, "cannot merge with a detached HEAD")
	}

	theirs, err := r.refsDB.Resolve(ctx, branchPrefix+theirsBranch)
	if err != nil {
		return merge.Result{}, err
	}

	if ours.IsZero() {
		// Nothing committed yet on the current branch: fast-forward to theirs.
		if err := r.refsDB.Update(ctx, branch, theirs, false, r.isAncestor); err != nil {
			return merge.Result{}, err
		}
		r.mu.Lock()
		r.head = theirs
		r.mu.Unlock()
		return merge.Result{TreeOID: oid.Zero, FastForward: true}, nil
	}

	bases, err := merge.LCA(ctx, r.store, ours, theirs)
	if err != nil {
		return merge.Result{}, err
	}
	if len(bases) == 0 {
		return merge.Result{}, mgerr.New(mgerr.NotFound, "no common ancestor between branches")
	}
	base := bases[0]

	if base == ours {
		if err := r.refsDB.Update(ctx, branch, theirs, false, r.isAncestor); err != nil {
			return merge.Result{}, err
		}
		r.mu.Lock()
		r.head = theirs
		r.mu.Unlock()
		return merge.Result{FastForward: true}, nil
	}
	if base == theirs {
		return merge.Result{FastForward: true}, nil // already up to date
	}

	baseCommit, err := readCommit(ctx, r.store, base)
	if err != nil {
		return merge.Result{}, err
	}
	oursCommit, err := readCommit(ctx, r.store, ours)
	if err != nil {
		return merge.Result{}, err
	}
	theirsCommit, err := readCommit(ctx, r.store, theirs)
	if err != nil {
		return merge.Result{}, err
	}

	result, err := merge.Merge(ctx, r.store, baseCommit.TreeOID, oursCommit.TreeOID, theirsCommit.TreeOID, strategy)
	if err != nil {
		return merge.Result{}, err
	}
	if len(result.Conflicts) > 0 {
		return result, mgerr.New(mgerr.Conflict, "merge produced unresolved conflicts")
	}

	mergeCommit, err := merge.CommitMerge(ctx, r.store, result, []oid.OID{ours, theirs}, author, committer, message)
	if err != nil {
		return merge.Result{}, err
	}
	if err := r.refsDB.Update(ctx, branch, mergeCommit, false, r.isAncestor); err != nil {
		return merge.Result{}, err
	}

	r.mu.Lock()
	r.head = mergeCommit
	r.mu.Unlock()

	newIdx, err := loadTreeIntoIndex(ctx, r.store, result.TreeOID)
	if err != nil {
		return result, err
	}
	r.mu.Lock()
	r.idx = newIdx
	r.mu.Unlock()
	if err := newIdx.Save(r.indexPath); err != nil {
		return result, err
	}

	return result, nil
}

func readCommit(ctx context.Context, store *odb.ODB, id oid.OID) (objects.Commit, error) {
	data, err := store.Read(ctx, id)
	if err != nil {
		return objects.Commit{}, err
	}
	return objects.ParseCommit(data)
}
