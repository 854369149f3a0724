// Package fsck verifies repository integrity: object checksums, ref
// validity, and reachability from every ref tip, with optional
// dry-run-capable repair of the issues it knows how to fix.
package fsck

import (
	"context"
	"fmt"
	"sort"

	"github.com/mediagit/mediagit/mgerr"
	"github.com/mediagit/mediagit/objects"
	"github.com/mediagit/mediagit/odb"
	"github.com/mediagit/mediagit/oid"
	"github.com/mediagit/mediagit/refs"
)

// Severity classifies how serious an Issue is.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Category names the kind of problem an Issue reports.
type Category int

const (
	ChecksumMismatch Category = iota
	BrokenReference
	MissingObject
	DanglingObject
)

func (c Category) String() string {
	switch c {
	case ChecksumMismatch:
		return "checksum_mismatch"
	case BrokenReference:
		return "broken_reference"
	case MissingObject:
		return "missing_object"
	case DanglingObject:
		return "dangling_object"
	default:
		return "unknown"
	}
}

// Issue is one integrity problem found during a check.
type Issue struct {
	Severity   Severity
	Category   Category
	Message    string
	OID        oid.OID // valid for object-related issues
	Ref        string  // valid for ref-related issues
	Repairable bool
}

// Report is the result of a full check: every issue found plus counters.
type Report struct {
	Issues        []Issue
	ObjectsSeen   int
	RefsSeen      int
	ReachableSeen int
}

// CountBySeverity reports how many issues fall in each severity bucket.
func (r Report) CountBySeverity() map[Severity]int {
	counts := make(map[Severity]int)
	for _, issue := range r.Issues {
		counts[issue.Severity]++
	}
	return counts
}

// Checker runs integrity checks against a repository's object and ref
// databases.
type Checker struct {
	store *odb.ODB
	refs  *refs.DB
}

// New builds a Checker over store and refsDB.
func New(store *odb.ODB, refsDB *refs.DB) *Checker {
	return &Checker{store: store, refs: refsDB}
}

// Options controls which optional checks a Check run performs.
type Options struct {
	// IncludeDangling enables the whole-object-space sweep for objects
	// unreachable from any ref (the spec marks this check optional since
	// it requires listing every stored object, not just walking refs).
	IncludeDangling bool
}

// Check runs every check spec.md §4.11 names, in order: object
// integrity, ref validity, connectivity from every ref tip, and
// (if requested) dangling-object detection.
func (c *Checker) Check(ctx context.Context, opts Options) (Report, error) {
	var report Report

	oids, err := c.store.ListOIDs(ctx)
	if err != nil {
		return report, err
	}
	report.ObjectsSeen = len(oids)
	for _, id := range oids {
		if _, err := c.store.Read(ctx, id); err != nil {
			report.Issues = append(report.Issues, Issue{
				Severity:   SeverityError,
				Category:   ChecksumMismatch,
				Message:    fmt.Sprintf("object %s failed integrity check: %v", id, err),
				OID:        id,
				Repairable: true,
			})
		}
	}

	names, err := c.refs.List(ctx, "")
	if err != nil {
		return report, err
	}
	report.RefsSeen = len(names)
	reachable := make(map[oid.OID]objects.Kind)
	for _, name := range names {
		ref, err := c.refs.Read(ctx, name)
		if err != nil {
			report.Issues = append(report.Issues, Issue{
				Severity: SeverityError,
				Category: BrokenReference,
				Message:  fmt.Sprintf("ref %q unreadable: %v", name, err),
				Ref:      name,
			})
			continue
		}

		if ref.Kind == refs.Symbolic {
			exists, err := c.refs.Exists(ctx, ref.Points)
			if err != nil || !exists {
				report.Issues = append(report.Issues, Issue{
					Severity: SeverityError,
					Category: BrokenReference,
					Message:  fmt.Sprintf("ref %q points at missing ref %q", name, ref.Points),
					Ref:      name,
				})
			}
			continue
		}

		exists, err := c.store.Exists(ctx, ref.Target)
		if err != nil || !exists {
			report.Issues = append(report.Issues, Issue{
				Severity: SeverityError,
				Category: BrokenReference,
				Message:  fmt.Sprintf("ref %q targets missing object %s", name, ref.Target),
				Ref:      name,
				OID:      ref.Target,
			})
			continue
		}

		if err := c.walkCommitTree(ctx, ref.Target, reachable, &report); err != nil {
			return report, err
		}
	}
	report.ReachableSeen = len(reachable)

	if opts.IncludeDangling {
		for _, id := range oids {
			if _, ok := reachable[id]; !ok {
				report.Issues = append(report.Issues, Issue{
					Severity:   SeverityWarning,
					Category:   DanglingObject,
					Message:    fmt.Sprintf("object %s is not reachable from any ref", id),
					OID:        id,
					Repairable: true,
				})
			}
		}
	}

	sort.Slice(report.Issues, func(i, j int) bool { return report.Issues[i].Category < report.Issues[j].Category })
	return report, nil
}

// walkCommitTree traverses commit -> tree -> blob from root, recording
// every OID visited in reachable and emitting a MissingObject issue for
// any referent that can't be read instead of aborting the walk.
func (c *Checker) walkCommitTree(ctx context.Context, root oid.OID, reachable map[oid.OID]objects.Kind, report *Report) error {
	queue := []oid.OID{root}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := reachable[id]; ok {
			continue
		}

		data, err := c.store.Read(ctx, id)
		if err != nil {
			report.Issues = append(report.Issues, Issue{
				Severity: SeverityError,
				Category: MissingObject,
				Message:  fmt.Sprintf("commit references missing object %s: %v", id, err),
				OID:      id,
			})
			continue
		}
		reachable[id] = objects.KindCommit

		commit, err := objects.ParseCommit(data)
		if err != nil {
			report.Issues = append(report.Issues, Issue{
				Severity: SeverityError,
				Category: MissingObject,
				Message:  fmt.Sprintf("object %s is not a valid commit: %v", id, err),
				OID:      id,
			})
			continue
		}
		if err := c.walkTree(ctx, commit.TreeOID, reachable, report); err != nil {
			return err
		}
		for _, p := range commit.Parents {
			if _, ok := reachable[p]; !ok {
				queue = append(queue, p)
			}
		}
	}
	return nil
}

func (c *Checker) walkTree(ctx context.Context, treeOID oid.OID, reachable map[oid.OID]objects.Kind, report *Report) error {
	if _, ok := reachable[treeOID]; ok {
		return nil
	}

	data, err := c.store.Read(ctx, treeOID)
	if err != nil {
		report.Issues = append(report.Issues, Issue{
			Severity: SeverityError,
			Category: MissingObject,
			Message:  fmt.Sprintf("tree references missing object %s: %v", treeOID, err),
			OID:      treeOID,
		})
		return nil
	}
	reachable[treeOID] = objects.KindTree

	tree, err := objects.ParseTree(data)
	if err != nil {
		report.Issues = append(report.Issues, Issue{
			Severity: SeverityError,
			Category: MissingObject,
			Message:  fmt.Sprintf("object %s is not a valid tree: %v", treeOID, err),
			OID:      treeOID,
		})
		return nil
	}

	for _, e := range tree.Entries {
		if e.Mode == objects.ModeDir {
			if err := c.walkTree(ctx, e.OID, reachable, report); err != nil {
				return err
			}
			continue
		}
		if err := c.walkBlob(ctx, e.OID, reachable, report); err != nil {
			return err
		}
	}
	return nil
}

func (c *Checker) walkBlob(ctx context.Context, id oid.OID, reachable map[oid.OID]objects.Kind, report *Report) error {
	if _, ok := reachable[id]; ok {
		return nil
	}

	shape, refs, err := c.store.Inspect(ctx, id)
	if err != nil {
		report.Issues = append(report.Issues, Issue{
			Severity: SeverityError,
			Category: MissingObject,
			Message:  fmt.Sprintf("tree references missing blob %s: %v", id, err),
			OID:      id,
		})
		return nil
	}
	reachable[id] = objects.KindBlob

	if shape == odb.ShapeDirect {
		return nil
	}
	for _, r := range refs {
		if err := c.walkBlob(ctx, r, reachable, report); err != nil {
			return err
		}
	}
	return nil
}

// Repair removes every repairable issue's object from the store (the
// only repair spec.md names: deleting a corrupt or dangling object).
// With dryRun set, it reports what would be removed without deleting
// anything.
func (c *Checker) Repair(ctx context.Context, report Report, dryRun bool) ([]oid.OID, error) {
	var removed []oid.OID
	seen := make(map[oid.OID]bool)
	for _, issue := range report.Issues {
		if !issue.Repairable || issue.OID.IsZero() || seen[issue.OID] {
			continue
		}
		seen[issue.OID] = true
		if dryRun {
			removed = append(removed, issue.OID)
			continue
		}
		if err := c.store.Delete(ctx, issue.OID); err != nil && !mgerr.Is(err, mgerr.NotFound) {
			return removed, err
		}
		removed = append(removed, issue.OID)
	}
	return removed, nil
}
