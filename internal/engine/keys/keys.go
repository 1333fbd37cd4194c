// Package keys implements the KeyExtractor (§4.3): derivation of the
// history key and current key that the stores use to enforce I2 and I3.
package keys

import (
	"fmt"

	"github.com/argyakrivos/magrathea/internal/docmodel"
)

// DefaultVolatileSourceFields are source-metadata fields stripped before
// forming the history key because they vary across retransmits of the
// same logical payload (§4.3). Operators may extend this list via
// configuration (historyKey.volatileFields) without a code change — the
// spec's design notes (§9) call out delivery ids as one example.
var DefaultVolatileSourceFields = []string{"processedAt", "system"}

// Keys is the KeyExtractor's result: the document's schema and
// classification plus the two derived lookup keys.
type Keys struct {
	Schema         string
	Classification interface{}
	HistoryKey     string
	CurrentKey     string
}

// Extract derives Keys from a raw (pre-annotation) document. raw must
// carry $schema, a non-empty classification, and — for the history key —
// a source object; their absence is MissingSchema, MissingClassification,
// or MissingSourceFields respectively.
func Extract(raw map[string]interface{}, volatileSourceFields []string) (Keys, error) {
	schema, ok := raw[docmodel.FieldSchema].(string)
	if !ok || schema == "" {
		return Keys{}, docmodel.ErrMissingSchema
	}

	classification, hasClassification := raw[docmodel.FieldClassification]
	if !hasClassification || isEmptyClassification(classification) {
		return Keys{}, docmodel.ErrMissingClassification
	}

	currentKeyBytes, err := docmodel.Canonicalize(map[string]interface{}{
		docmodel.FieldSchema:         schema,
		docmodel.FieldClassification: classification,
	})
	if err != nil {
		return Keys{}, fmt.Errorf("keys: canonicalizing current key: %w", err)
	}

	source, ok := docmodel.AsObject(raw[docmodel.FieldSource])
	if !ok {
		return Keys{}, docmodel.ErrMissingSourceFields
	}
	strippedSource := stripVolatileFields(source, volatileSourceFields)

	historyKeyBytes, err := docmodel.Canonicalize([]interface{}{schema, strippedSource, classification})
	if err != nil {
		return Keys{}, fmt.Errorf("keys: canonicalizing history key: %w", err)
	}

	return Keys{
		Schema:         schema,
		Classification: classification,
		HistoryKey:     string(historyKeyBytes),
		CurrentKey:     string(currentKeyBytes),
	}, nil
}

// CurrentKeyFromAnnotated derives the current key from an already-annotated
// document — the merged/current-store shape where $schema and
// classification are wrapped as {value, source} leaves rather than raw
// values. Used by the periodic repair sweep, which only ever sees
// annotated documents coming back out of the stores.
func CurrentKeyFromAnnotated(doc map[string]interface{}) (schema string, classification interface{}, currentKey string, err error) {
	schemaLeaf, ok := docmodel.AsObject(doc[docmodel.FieldSchema])
	if !ok || !docmodel.IsAnnotated(schemaLeaf) {
		return "", nil, "", docmodel.ErrMissingSchema
	}
	schema, ok = schemaLeaf[docmodel.FieldValue].(string)
	if !ok || schema == "" {
		return "", nil, "", docmodel.ErrMissingSchema
	}

	classLeaf, ok := docmodel.AsObject(doc[docmodel.FieldClassification])
	if !ok || !docmodel.IsAnnotated(classLeaf) {
		return "", nil, "", docmodel.ErrMissingClassification
	}
	classification = classLeaf[docmodel.FieldValue]
	if isEmptyClassification(classification) {
		return "", nil, "", docmodel.ErrMissingClassification
	}

	currentKeyBytes, err := docmodel.Canonicalize(map[string]interface{}{
		docmodel.FieldSchema:         schema,
		docmodel.FieldClassification: classification,
	})
	if err != nil {
		return "", nil, "", fmt.Errorf("keys: canonicalizing current key: %w", err)
	}
	return schema, classification, string(currentKeyBytes), nil
}

func isEmptyClassification(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case []interface{}:
		return len(val) == 0
	case map[string]interface{}:
		return len(val) == 0
	default:
		return false
	}
}

func stripVolatileFields(source map[string]interface{}, volatileFields []string) map[string]interface{} {
	strip := make(map[string]struct{}, len(volatileFields))
	for _, f := range volatileFields {
		strip[f] = struct{}{}
	}
	out := make(map[string]interface{}, len(source))
	for k, v := range source {
		if _, skip := strip[k]; skip {
			continue
		}
		out[k] = v
	}
	return out
}
