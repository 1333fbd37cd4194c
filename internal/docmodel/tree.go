package docmodel

// Leaf field names used throughout the annotated-document shape (§3).
const (
	FieldValue          = "value"
	FieldSource         = "source"
	FieldSchema         = "$schema"
	FieldClassification = "classification"
)

// IsAnnotated reports whether node is an object with exactly the two
// fields "value" and "source" — the shape every leaf (and every
// non-classified array) is rewritten into by the Annotator (§3, §4.1).
func IsAnnotated(node interface{}) bool {
	obj, ok := node.(map[string]interface{})
	if !ok || len(obj) != 2 {
		return false
	}
	_, hasValue := obj[FieldValue]
	_, hasSource := obj[FieldSource]
	return hasValue && hasSource
}

// Classification extracts the classification subtree from an array
// element, looking under "value" first if the element is already
// annotated. ok is false if no classification field is present at all
// (callers treat that as BadClassification).
func Classification(elem interface{}) (classification interface{}, ok bool) {
	obj, isObj := elem.(map[string]interface{})
	if !isObj {
		return nil, false
	}
	if IsAnnotated(obj) {
		inner, isObj := obj[FieldValue].(map[string]interface{})
		if !isObj {
			return nil, false
		}
		c, present := inner[FieldClassification]
		return c, present
	}
	c, present := obj[FieldClassification]
	return c, present
}

// IsClassifiedArray reports whether every element of arr carries a
// classification field (§3's "classified array"). An empty array is not
// classified — it is treated atomically like any other non-classified
// array, per §4.1's edge cases (nothing to dedup by).
func IsClassifiedArray(arr []interface{}) bool {
	if len(arr) == 0 {
		return false
	}
	for _, elem := range arr {
		if _, ok := Classification(elem); !ok {
			return false
		}
	}
	return true
}

// Equal reports whether a and b are structurally equal, ignoring object
// field order (§5 I5, §8 property tests). Numbers, strings, and nested
// structure must match exactly; canonical serialization already makes
// field order irrelevant, so equality reduces to byte-for-byte comparison
// of the canonical forms.
func Equal(a, b interface{}) (bool, error) {
	ca, err := Canonicalize(a)
	if err != nil {
		return false, err
	}
	cb, err := Canonicalize(b)
	if err != nil {
		return false, err
	}
	return string(ca) == string(cb), nil
}

// Clone returns a deep copy of v so callers can rewrite a tree without
// mutating the caller's original — the Annotator and Merger never mutate
// their inputs in place (§3 "Nothing is ever mutated in place").
func Clone(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, elem := range val {
			out[k] = Clone(elem)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, elem := range val {
			out[i] = Clone(elem)
		}
		return out
	default:
		return val
	}
}

// AsObject type-asserts v as an object node, returning ok=false for any
// other node kind (including a nil map).
func AsObject(v interface{}) (map[string]interface{}, bool) {
	obj, ok := v.(map[string]interface{})
	return obj, ok
}

// AsArray type-asserts v as an array node.
func AsArray(v interface{}) ([]interface{}, bool) {
	arr, ok := v.([]interface{})
	return arr, ok
}
