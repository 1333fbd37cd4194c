// -----------------------------------------------------------------------
// Package revisions implements the Revisions view (§4.7): given an
// entity's per-source history documents, produces a chronological
// sequence of (processedAt, system, diff-against-previous-merge). This
// is a pure, side-effect-free derived read path.
// -----------------------------------------------------------------------

package revisions

import (
	"fmt"
	"sort"
	"time"

	"github.com/argyakrivos/magrathea/internal/docmodel"
	"github.com/argyakrivos/magrathea/internal/engine/merge"
)

// DiffKind discriminates the three ways a leaf path can change between
// two successive merge states.
type DiffKind string

const (
	DiffAdded   DiffKind = "added"
	DiffRemoved DiffKind = "removed"
	DiffChanged DiffKind = "changed"
)

// DiffEntry is one structural change at one leaf path (§4.7 "added/
// removed/changed leaf paths with before/after values").
type DiffEntry struct {
	Path   string      `json:"path"`
	Kind   DiffKind    `json:"kind"`
	Before interface{} `json:"before,omitempty"`
	After  interface{} `json:"after,omitempty"`
}

// Revision is one step of the chronological sequence: the source
// document that arrived at (ProcessedAt, System) and what it changed in
// the running merge.
type Revision struct {
	ProcessedAt time.Time   `json:"processedAt"`
	System      string      `json:"system"`
	Diff        []DiffEntry `json:"diff"`
}

// Compute builds the revisions sequence for one entity's history
// documents (§4.7): sorted by processedAt ascending, tie-break by system
// lexicographically, each step's diff taken against the running merge of
// everything before it.
func Compute(historyDocs []map[string]interface{}) ([]Revision, error) {
	type stamped struct {
		doc         map[string]interface{}
		processedAt time.Time
		system      string
	}

	entries := make([]stamped, 0, len(historyDocs))
	for _, doc := range historyDocs {
		stamp, err := sourceStamp(doc)
		if err != nil {
			return nil, err
		}
		processedAt, err := stampTime(stamp)
		if err != nil {
			return nil, err
		}
		system, _ := stamp["system"].(string)
		entries = append(entries, stamped{doc: doc, processedAt: processedAt, system: system})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].processedAt.Equal(entries[j].processedAt) {
			return entries[i].processedAt.Before(entries[j].processedAt)
		}
		return entries[i].system < entries[j].system
	})

	revisions := make([]Revision, 0, len(entries))
	var prevMerged map[string]interface{}
	for _, e := range entries {
		var curMerged map[string]interface{}
		if prevMerged == nil {
			curMerged = e.doc
		} else {
			merged, err := merge.Merge(prevMerged, e.doc)
			if err != nil {
				return nil, fmt.Errorf("revisions: merge step at %s: %w", e.processedAt, err)
			}
			curMerged = merged
		}

		diff := diffDocs(prevMerged, curMerged)
		revisions = append(revisions, Revision{
			ProcessedAt: e.processedAt,
			System:      e.system,
			Diff:        diff,
		})
		prevMerged = curMerged
	}

	return revisions, nil
}

// sourceStamp recovers the one raw source stamp behind an annotated
// per-source history document. A HistoryStore record always derives from
// exactly one raw document, so its reinstated top-level "source" is
// either the stamp itself (nothing was newly annotated) or a
// single-entry {src_hash: stamp} map (§4.1 step 3).
func sourceStamp(doc map[string]interface{}) (map[string]interface{}, error) {
	raw, ok := doc[docmodel.FieldSource]
	if !ok {
		return nil, fmt.Errorf("revisions: document missing source")
	}
	obj, ok := docmodel.AsObject(raw)
	if !ok {
		return nil, fmt.Errorf("revisions: source is not an object")
	}
	// Unstamped form: source wasn't rewritten to {src_hash: stamp} because
	// nothing beneath it was newly annotated (every field already carried
	// its own annotation). The stamp sits directly on source.
	if _, hasProcessedAt := obj["processedAt"]; hasProcessedAt {
		return obj, nil
	}
	// Map form: exactly one src_hash -> stamp entry.
	for _, v := range obj {
		stamp, ok := docmodel.AsObject(v)
		if !ok {
			continue
		}
		return stamp, nil
	}
	return nil, fmt.Errorf("revisions: could not resolve source stamp")
}

func stampTime(stamp map[string]interface{}) (time.Time, error) {
	raw, ok := stamp["processedAt"]
	if !ok {
		return time.Time{}, fmt.Errorf("revisions: source stamp missing processedAt")
	}
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("revisions: processedAt is not a string")
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("revisions: invalid processedAt %q: %w", s, err)
	}
	return t, nil
}

// diffDocs computes the structural diff between two merge states (§4.7).
// prev == nil means everything in cur is newly added (the first
// revision).
func diffDocs(prev, cur map[string]interface{}) []DiffEntry {
	var out []DiffEntry
	diffNode("", prev, cur, &out)
	return out
}

func diffNode(path string, a, b interface{}, out *[]DiffEntry) {
	switch {
	case a == nil && b == nil:
		return
	case a == nil:
		emitAddedOrRemoved(path, b, true, out)
		return
	case b == nil:
		emitAddedOrRemoved(path, a, false, out)
		return
	}

	aObj, aIsObj := docmodel.AsObject(a)
	bObj, bIsObj := docmodel.AsObject(b)

	if aIsObj && bIsObj && docmodel.IsAnnotated(aObj) && docmodel.IsAnnotated(bObj) {
		equal, err := docmodel.Equal(aObj[docmodel.FieldValue], bObj[docmodel.FieldValue])
		if err != nil || !equal {
			*out = append(*out, DiffEntry{Path: path, Kind: DiffChanged, Before: aObj[docmodel.FieldValue], After: bObj[docmodel.FieldValue]})
		}
		return
	}

	if aIsObj && bIsObj && !docmodel.IsAnnotated(aObj) && !docmodel.IsAnnotated(bObj) {
		keys := make(map[string]struct{}, len(aObj)+len(bObj))
		for k := range aObj {
			if k == docmodel.FieldSource {
				continue
			}
			keys[k] = struct{}{}
		}
		for k := range bObj {
			if k == docmodel.FieldSource {
				continue
			}
			keys[k] = struct{}{}
		}
		for k := range keys {
			childPath := joinPath(path, k)
			av, aHas := aObj[k]
			bv, bHas := bObj[k]
			switch {
			case !aHas:
				diffNode(childPath, nil, bv, out)
			case !bHas:
				diffNode(childPath, av, nil, out)
			default:
				diffNode(childPath, av, bv, out)
			}
		}
		return
	}

	aArr, aIsArr := docmodel.AsArray(a)
	bArr, bIsArr := docmodel.AsArray(b)
	if aIsArr && bIsArr {
		diffClassifiedArray(path, aArr, bArr, out)
		return
	}

	// Mismatched shapes (e.g. leaf replaced by object, or vice versa):
	// treat as a wholesale change at this path.
	equal, err := docmodel.Equal(unwrap(a), unwrap(b))
	if err != nil || !equal {
		*out = append(*out, DiffEntry{Path: path, Kind: DiffChanged, Before: unwrap(a), After: unwrap(b)})
	}
}

func emitAddedOrRemoved(path string, node interface{}, added bool, out *[]DiffEntry) {
	obj, ok := docmodel.AsObject(node)
	if ok && !docmodel.IsAnnotated(obj) {
		for k, v := range obj {
			if k == docmodel.FieldSource {
				continue
			}
			emitAddedOrRemoved(joinPath(path, k), v, added, out)
		}
		return
	}
	value := unwrap(node)
	if added {
		*out = append(*out, DiffEntry{Path: path, Kind: DiffAdded, After: value})
	} else {
		*out = append(*out, DiffEntry{Path: path, Kind: DiffRemoved, Before: value})
	}
}

// diffClassifiedArray matches elements across a and b by classification
// key and diffs each matched pair; unmatched elements are added/removed
// wholesale (§4.7).
func diffClassifiedArray(path string, a, b []interface{}, out *[]DiffEntry) {
	aByKey := make(map[string]interface{}, len(a))
	bByKey := make(map[string]interface{}, len(b))
	order := make([]string, 0, len(a)+len(b))

	index := func(arr []interface{}, into map[string]interface{}) {
		for _, elem := range arr {
			classification, ok := docmodel.Classification(elem)
			if !ok {
				continue
			}
			canon, err := docmodel.Canonicalize(classification)
			if err != nil {
				continue
			}
			key := string(canon)
			if _, exists := into[key]; !exists {
				order = append(order, key)
			}
			into[key] = elem
		}
	}
	index(a, aByKey)
	index(b, bByKey)

	seen := make(map[string]struct{}, len(order))
	for _, key := range order {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		av, aHas := aByKey[key]
		bv, bHas := bByKey[key]
		childPath := fmt.Sprintf("%s[%s]", path, key)
		switch {
		case !aHas:
			diffNode(childPath, nil, bv, out)
		case !bHas:
			diffNode(childPath, av, nil, out)
		default:
			diffNode(childPath, av, bv, out)
		}
	}
}

func unwrap(node interface{}) interface{} {
	obj, ok := docmodel.AsObject(node)
	if ok && docmodel.IsAnnotated(obj) {
		return obj[docmodel.FieldValue]
	}
	return node
}

func joinPath(base, field string) string {
	if base == "" {
		return field
	}
	return base + "." + field
}
