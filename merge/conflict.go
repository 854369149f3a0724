package merge

import "github.com/mediagit/mediagit/oid"

// ConflictKind names the shape of an unresolved three-way conflict.
type ConflictKind int

const (
	ModifyModify ConflictKind = iota
	ModifyDelete
	DeleteModify
	AddAdd
)

func (k ConflictKind) String() string {
	switch k {
	case ModifyModify:
		return "modify/modify"
	case ModifyDelete:
		return "modify/delete"
	case DeleteModify:
		return "delete/modify"
	case AddAdd:
		return "add/add"
	default:
		return "unknown"
	}
}

// Conflict is one unresolved path after classification.
type Conflict struct {
	Path   string
	Kind   ConflictKind
	Base   oid.OID // zero if the path didn't exist in base
	Ours   oid.OID // zero if ours deleted the path
	Theirs oid.OID // zero if theirs deleted the path
}

// classify applies the per-path three-way rule set from base/ours/theirs
// leaf maps, returning the naturally-resolved merge (paths with an
// unambiguous outcome) and the paths that need a strategy decision.
func classify(base, ours, theirs map[string]leaf) (merged map[string]leaf, conflicts []Conflict) {
	merged = make(map[string]leaf)

	paths := make(map[string]bool)
	for p := range base {
		paths[p] = true
	}
	for p := range ours {
		paths[p] = true
	}
	for p := range theirs {
		paths[p] = true
	}

	for path := range paths {
		b, hasB := base[path]
		o, hasO := ours[path]
		th, hasTh := theirs[path]

		switch {
		case hasB && hasO && hasTh:
			switch {
			case o.equal(b):
				merged[path] = th
			case th.equal(b):
				merged[path] = o
			case o.equal(th):
				merged[path] = o
			default:
				conflicts = append(conflicts, Conflict{Path: path, Kind: ModifyModify, Base: b.OID, Ours: o.OID, Theirs: th.OID})
			}
		case hasB && hasO && !hasTh:
			if o.equal(b) {
				// ours unchanged, theirs deleted: delete.
			} else {
				conflicts = append(conflicts, Conflict{Path: path, Kind: ModifyDelete, Base: b.OID, Ours: o.OID})
			}
		case hasB && !hasO && hasTh:
			if th.equal(b) {
				// theirs unchanged, ours deleted: delete.
			} else {
				conflicts = append(conflicts, Conflict{Path: path, Kind: DeleteModify, Base: b.OID, Theirs: th.OID})
			}
		case !hasB && hasO && hasTh:
			if o.equal(th) {
				merged[path] = o
			} else {
				conflicts = append(conflicts, Conflict{Path: path, Kind: AddAdd, Ours: o.OID, Theirs: th.OID})
			}
		case hasB && !hasO && !hasTh:
			// deleted on both sides: stays out of the result.
		case !hasB && hasO && !hasTh:
			merged[path] = o
		case !hasB && !hasO && hasTh:
			merged[path] = th
		}
	}
	return merged, conflicts
}
