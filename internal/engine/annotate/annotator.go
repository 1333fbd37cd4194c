// Package annotate implements the Annotator (§4.1): the pure rewrite that
// attaches provenance to every leaf of a raw incoming document.
package annotate

import (
	"fmt"

	"github.com/argyakrivos/magrathea/internal/docmodel"
	"github.com/argyakrivos/magrathea/internal/engine/merge"
)

// Annotate rewrites raw into an annotated document (§4.1). raw must carry
// a top-level "source" field; its absence is ErrMissingSource.
func Annotate(raw map[string]interface{}) (map[string]interface{}, error) {
	sourceStamp, hasSource := raw[docmodel.FieldSource]
	if !hasSource {
		return nil, docmodel.ErrMissingSource
	}

	srcHash, err := docmodel.SHA1Hex(sourceStamp)
	if err != nil {
		return nil, fmt.Errorf("annotate: hashing source stamp: %w", err)
	}
	srcMap := map[string]interface{}{srcHash: sourceStamp}

	rest := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		if k == docmodel.FieldSource {
			continue
		}
		rest[k] = v
	}

	out := make(map[string]interface{}, len(rest)+1)
	stamped := false
	for k, v := range rest {
		rewritten, childStamped, err := rewriteNode(v, srcHash, srcMap)
		if err != nil {
			return nil, fmt.Errorf("annotate: field %q: %w", k, err)
		}
		out[k] = rewritten
		stamped = stamped || childStamped
	}

	if len(rest) == 1 || stamped {
		out[docmodel.FieldSource] = srcMap
	} else {
		out[docmodel.FieldSource] = sourceStamp
	}
	return out, nil
}

// rewriteNode applies the Annotator's per-kind rule to v (§4.1 step 2) and
// reports whether v (or something beneath it) was newly stamped with
// srcHash, as opposed to being an already-annotated subtree left alone.
func rewriteNode(v interface{}, srcHash string, srcMap map[string]interface{}) (interface{}, bool, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		if docmodel.IsAnnotated(val) {
			return val, false, nil
		}
		if len(val) == 0 {
			return wrapLeaf(val, srcHash), true, nil
		}
		out := make(map[string]interface{}, len(val))
		stamped := false
		for k, child := range val {
			rewritten, childStamped, err := rewriteNode(child, srcHash, srcMap)
			if err != nil {
				return nil, false, err
			}
			out[k] = rewritten
			stamped = stamped || childStamped
		}
		return out, stamped, nil
	case []interface{}:
		if docmodel.IsClassifiedArray(val) {
			rewritten, err := rewriteClassifiedArray(val, srcHash, srcMap)
			return rewritten, true, err
		}
		return wrapLeaf(val, srcHash), true, nil
	default:
		return wrapLeaf(val, srcHash), true, nil
	}
}

func wrapLeaf(value interface{}, srcHash string) map[string]interface{} {
	return map[string]interface{}{
		docmodel.FieldValue:  value,
		docmodel.FieldSource: srcHash,
	}
}

// rewriteClassifiedArray rewrites each element (preserving already
// annotated ones) then deduplicates by classification key, merging
// elements that share one (§4.1 step 2, classified array rule).
func rewriteClassifiedArray(arr []interface{}, srcHash string, srcMap map[string]interface{}) ([]interface{}, error) {
	rewritten := make([]interface{}, len(arr))
	for i, elem := range arr {
		r, _, err := rewriteNode(elem, srcHash, srcMap)
		if err != nil {
			return nil, err
		}
		rewritten[i] = r
	}

	groups := make(map[string][]interface{})
	order := make([]string, 0, len(rewritten))
	for _, elem := range rewritten {
		classification, ok := docmodel.Classification(elem)
		if !ok {
			return nil, docmodel.ErrBadClassification
		}
		canon, err := docmodel.Canonicalize(classification)
		if err != nil {
			return nil, err
		}
		key := string(canon)
		if _, exists := groups[key]; !exists {
			order = append(order, key)
		}
		groups[key] = append(groups[key], elem)
	}

	result := make([]interface{}, 0, len(order))
	for _, key := range order {
		elems := groups[key]
		merged := elems[0]
		for _, next := range elems[1:] {
			m, err := merge.MergeNode(merged, next, srcMap, srcMap)
			if err != nil {
				return nil, err
			}
			merged = m
		}
		result = append(result, merged)
	}
	return result, nil
}
