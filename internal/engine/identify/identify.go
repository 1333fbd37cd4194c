// -----------------------------------------------------------------------
// Package identify derives cross-source contributor identifiers before a
// raw document reaches the Annotator. It is the schema-specific companion
// to the otherwise schema-agnostic engine packages: the generic Annotator
// and Merger know nothing about "contributors" or "display names", so the
// Ingestor runs this step first for contributor payloads and lets the
// generic pipeline annotate whatever it produces.
// -----------------------------------------------------------------------

package identify

import (
	"crypto/sha1"
	"encoding/hex"
)

// ContributorsField and its nested field names, per scenario 5: a
// contributor document carries contributors:[{names:{display:"..."}}].
const (
	ContributorsField = "contributors"
	NamesField        = "names"
	DisplayField      = "display"
	IDsField          = "ids"
	DisplayIDKey      = "bbb"
)

// ApplyContributorIDs walks raw's contributors array and attaches
// ids.bbb = sha1(display name) to every element that has a display name
// and does not already carry one. raw is not mutated; a shallow-enough
// copy is returned so callers can keep treating documents as immutable.
func ApplyContributorIDs(raw map[string]interface{}) map[string]interface{} {
	contributors, ok := raw[ContributorsField].([]interface{})
	if !ok {
		return raw
	}

	rewritten := make([]interface{}, len(contributors))
	changed := false
	for i, elem := range contributors {
		next, wasChanged := applyID(elem)
		rewritten[i] = next
		changed = changed || wasChanged
	}
	if !changed {
		return raw
	}

	out := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	out[ContributorsField] = rewritten
	return out
}

func applyID(elem interface{}) (interface{}, bool) {
	contributor, ok := elem.(map[string]interface{})
	if !ok {
		return elem, false
	}

	display := displayName(contributor)
	if display == "" {
		return elem, false
	}

	ids, _ := contributor[IDsField].(map[string]interface{})
	if _, already := ids[DisplayIDKey]; already {
		return elem, false
	}

	out := make(map[string]interface{}, len(contributor))
	for k, v := range contributor {
		out[k] = v
	}
	newIDs := make(map[string]interface{}, len(ids)+1)
	for k, v := range ids {
		newIDs[k] = v
	}
	newIDs[DisplayIDKey] = hashDisplayName(display)
	out[IDsField] = newIDs
	return out, true
}

func displayName(contributor map[string]interface{}) string {
	names, ok := contributor[NamesField].(map[string]interface{})
	if !ok {
		return ""
	}
	display, _ := names[DisplayField].(string)
	return display
}

func hashDisplayName(display string) string {
	sum := sha1.Sum([]byte(display))
	return hex.EncodeToString(sum[:])
}
