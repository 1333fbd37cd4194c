// Package merge implements the Merger: an associative, commutative binary
// reduction over annotated documents that resolves per-leaf provenance
// conflicts by last-writer-wins on processedAt, tie-broken by src_hash.
package merge

import (
	"fmt"
	"time"

	"github.com/argyakrivos/magrathea/internal/docmodel"
)

// Merge combines two whole annotated documents over the same schema and
// classification into one (§4.2). Each document's own top-level "source"
// map is used to resolve its leaves' src_hash references; the result's
// source map is their key-wise union.
func Merge(a, b map[string]interface{}) (map[string]interface{}, error) {
	if err := checkCoherent(a, b); err != nil {
		return nil, err
	}

	srcA, okA := docmodel.AsObject(a[docmodel.FieldSource])
	srcB, okB := docmodel.AsObject(b[docmodel.FieldSource])
	if !okA || !okB {
		return nil, fmt.Errorf("merge: %w: top-level source map missing", docmodel.ErrIncoherentMerge)
	}

	restA := withoutSource(a)
	restB := withoutSource(b)

	mergedContent, err := MergeNode(restA, restB, srcA, srcB)
	if err != nil {
		return nil, err
	}
	out, ok := mergedContent.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("merge: document content did not merge to an object")
	}
	out[docmodel.FieldSource] = mergeSourceMaps(srcA, srcB)
	return out, nil
}

// MergeAll folds Merge over docs left to right. The reduction is
// associative and commutative (§4.2), so the fold order does not affect
// the result's content, only which intermediate is computed first.
func MergeAll(docs []map[string]interface{}) (map[string]interface{}, error) {
	if len(docs) == 0 {
		return nil, docmodel.ErrEmptyMerge
	}
	acc := docs[0]
	for _, next := range docs[1:] {
		merged, err := Merge(acc, next)
		if err != nil {
			return nil, err
		}
		acc = merged
	}
	return acc, nil
}

// MergeNode merges two document nodes that are already known to occupy the
// same path in documents covering the same entity. srcA and srcB resolve
// src_hash references found in a's and b's subtrees respectively; callers
// merging within a single source document (e.g. the Annotator's classified
// array dedup) pass the same one-entry map for both.
func MergeNode(a, b interface{}, srcA, srcB map[string]interface{}) (interface{}, error) {
	switch av := a.(type) {
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("merge: %w: object/non-object mismatch", docmodel.ErrIncoherentMerge)
		}
		if docmodel.IsAnnotated(av) {
			if !docmodel.IsAnnotated(bv) {
				return nil, fmt.Errorf("merge: %w: leaf/non-leaf mismatch", docmodel.ErrIncoherentMerge)
			}
			return mergeLeaf(av, bv, srcA, srcB)
		}
		if docmodel.IsAnnotated(bv) {
			return nil, fmt.Errorf("merge: %w: leaf/non-leaf mismatch", docmodel.ErrIncoherentMerge)
		}
		return mergeObject(av, bv, srcA, srcB)
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok {
			return nil, fmt.Errorf("merge: %w: array/non-array mismatch", docmodel.ErrIncoherentMerge)
		}
		return mergeClassifiedArray(av, bv, srcA, srcB)
	default:
		return nil, fmt.Errorf("merge: unexpected unannotated node of type %T", a)
	}
}

func mergeObject(a, b map[string]interface{}, srcA, srcB map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		existing, ok := out[k]
		if !ok {
			out[k] = v
			continue
		}
		merged, err := MergeNode(existing, v, srcA, srcB)
		if err != nil {
			return nil, err
		}
		out[k] = merged
	}
	return out, nil
}

// mergeLeaf applies the per-leaf last-writer-wins rule (§4.2): the leaf
// whose source stamp has the larger processedAt wins; ties are broken by
// the lexicographically larger src_hash.
func mergeLeaf(a, b map[string]interface{}, srcA, srcB map[string]interface{}) (map[string]interface{}, error) {
	hashA, _ := a[docmodel.FieldSource].(string)
	hashB, _ := b[docmodel.FieldSource].(string)

	stampA, ok := docmodel.AsObject(srcA[hashA])
	if !ok {
		return nil, fmt.Errorf("merge: %w: src_hash %q unresolved", docmodel.ErrIncoherentMerge, hashA)
	}
	stampB, ok := docmodel.AsObject(srcB[hashB])
	if !ok {
		return nil, fmt.Errorf("merge: %w: src_hash %q unresolved", docmodel.ErrIncoherentMerge, hashB)
	}

	tA, err := processedAt(stampA)
	if err != nil {
		return nil, err
	}
	tB, err := processedAt(stampB)
	if err != nil {
		return nil, err
	}

	switch {
	case tA.After(tB):
		return a, nil
	case tB.After(tA):
		return b, nil
	case hashA >= hashB:
		return a, nil
	default:
		return b, nil
	}
}

func mergeClassifiedArray(a, b []interface{}, srcA, srcB map[string]interface{}) ([]interface{}, error) {
	groups := make(map[string][]interface{})
	order := make([]string, 0, len(a)+len(b))

	add := func(elem interface{}) error {
		classification, ok := docmodel.Classification(elem)
		if !ok {
			return docmodel.ErrBadClassification
		}
		canon, err := docmodel.Canonicalize(classification)
		if err != nil {
			return err
		}
		key := string(canon)
		if _, exists := groups[key]; !exists {
			order = append(order, key)
		}
		groups[key] = append(groups[key], elem)
		return nil
	}
	for _, elem := range a {
		if err := add(elem); err != nil {
			return nil, err
		}
	}
	for _, elem := range b {
		if err := add(elem); err != nil {
			return nil, err
		}
	}

	result := make([]interface{}, 0, len(order))
	for _, key := range order {
		elems := groups[key]
		merged := elems[0]
		for _, next := range elems[1:] {
			m, err := MergeNode(merged, next, srcA, srcB)
			if err != nil {
				return nil, err
			}
			merged = m
		}
		result = append(result, merged)
	}
	return result, nil
}

func processedAt(stamp map[string]interface{}) (time.Time, error) {
	raw, ok := stamp["processedAt"]
	if !ok {
		return time.Time{}, fmt.Errorf("merge: source stamp missing processedAt")
	}
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("merge: processedAt is not a string")
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("merge: invalid processedAt %q: %w", s, err)
	}
	return t, nil
}

func mergeSourceMaps(a, b map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func withoutSource(doc map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		if k == docmodel.FieldSource {
			continue
		}
		out[k] = v
	}
	return out
}

// checkCoherent verifies a and b describe the same schema and entity
// before merging (§4.2's Incoherent failure mode).
func checkCoherent(a, b map[string]interface{}) error {
	schemaA, ok := leafValue(a[docmodel.FieldSchema])
	if !ok {
		return fmt.Errorf("merge: %w: missing $schema", docmodel.ErrIncoherentMerge)
	}
	schemaB, ok := leafValue(b[docmodel.FieldSchema])
	if !ok {
		return fmt.Errorf("merge: %w: missing $schema", docmodel.ErrIncoherentMerge)
	}
	if schemaA != schemaB {
		return fmt.Errorf("merge: %w: schema %v != %v", docmodel.ErrIncoherentMerge, schemaA, schemaB)
	}

	classA, ok := leafValue(a[docmodel.FieldClassification])
	if !ok {
		return fmt.Errorf("merge: %w: missing classification", docmodel.ErrIncoherentMerge)
	}
	classB, ok := leafValue(b[docmodel.FieldClassification])
	if !ok {
		return fmt.Errorf("merge: %w: missing classification", docmodel.ErrIncoherentMerge)
	}
	equal, err := docmodel.Equal(classA, classB)
	if err != nil {
		return err
	}
	if !equal {
		return fmt.Errorf("merge: %w: classification mismatch", docmodel.ErrIncoherentMerge)
	}
	return nil
}

// leafValue unwraps an annotated leaf's "value" field.
func leafValue(node interface{}) (interface{}, bool) {
	obj, ok := docmodel.AsObject(node)
	if !ok || !docmodel.IsAnnotated(obj) {
		return nil, false
	}
	return obj[docmodel.FieldValue], true
}
