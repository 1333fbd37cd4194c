package revisions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argyakrivos/magrathea/internal/engine/annotate"
)

func rawDoc(system, processedAt string, fields map[string]interface{}) map[string]interface{} {
	doc := map[string]interface{}{
		"$schema": "book.v2",
		"classification": []interface{}{
			map[string]interface{}{"realm": "isbn", "id": "9780000000001"},
		},
		"source": map[string]interface{}{
			"system":      system,
			"role":        "publisher",
			"processedAt": processedAt,
		},
	}
	for k, v := range fields {
		doc[k] = v
	}
	return doc
}

func mustAnnotate(t *testing.T, raw map[string]interface{}) map[string]interface{} {
	t.Helper()
	out, err := annotate.Annotate(raw)
	require.NoError(t, err)
	return out
}

func TestComputeOrdersByProcessedAtAscending(t *testing.T) {
	second := mustAnnotate(t, rawDoc("sB", "2020-01-02T00:00:00Z", map[string]interface{}{"title": "Beta"}))
	first := mustAnnotate(t, rawDoc("sA", "2020-01-01T00:00:00Z", map[string]interface{}{"title": "Alpha"}))

	revisions, err := Compute([]map[string]interface{}{second, first})
	require.NoError(t, err)
	require.Len(t, revisions, 2)

	assert.Equal(t, "sA", revisions[0].System)
	assert.Equal(t, "sB", revisions[1].System)
}

func TestComputeTieBreaksBySystemLexicographically(t *testing.T) {
	a := mustAnnotate(t, rawDoc("zeta", "2020-01-01T00:00:00Z", map[string]interface{}{"title": "Z"}))
	b := mustAnnotate(t, rawDoc("alpha", "2020-01-01T00:00:00Z", map[string]interface{}{"subtitle": "A"}))

	revisions, err := Compute([]map[string]interface{}{a, b})
	require.NoError(t, err)
	require.Len(t, revisions, 2)

	assert.Equal(t, "alpha", revisions[0].System)
	assert.Equal(t, "zeta", revisions[1].System)
}

func TestComputeFirstRevisionIsAllAdded(t *testing.T) {
	doc := mustAnnotate(t, rawDoc("sA", "2020-01-01T00:00:00Z", map[string]interface{}{"title": "Alpha"}))

	revisions, err := Compute([]map[string]interface{}{doc})
	require.NoError(t, err)
	require.Len(t, revisions, 1)

	var foundTitle bool
	for _, d := range revisions[0].Diff {
		if d.Path == "title" {
			foundTitle = true
			assert.Equal(t, DiffAdded, d.Kind)
			assert.Equal(t, "Alpha", d.After)
		}
	}
	assert.True(t, foundTitle, "expected an added diff entry for title")
}

func TestComputeDetectsChangedLeaf(t *testing.T) {
	first := mustAnnotate(t, rawDoc("sA", "2020-01-01T00:00:00Z", map[string]interface{}{"title": "Alpha"}))
	second := mustAnnotate(t, rawDoc("sB", "2020-01-02T00:00:00Z", map[string]interface{}{"title": "Alpha!"}))

	revisions, err := Compute([]map[string]interface{}{first, second})
	require.NoError(t, err)
	require.Len(t, revisions, 2)

	var changed *DiffEntry
	for i := range revisions[1].Diff {
		if revisions[1].Diff[i].Path == "title" {
			changed = &revisions[1].Diff[i]
		}
	}
	require.NotNil(t, changed)
	assert.Equal(t, DiffChanged, changed.Kind)
	assert.Equal(t, "Alpha", changed.Before)
	assert.Equal(t, "Alpha!", changed.After)
}

func TestComputeDetectsAddedField(t *testing.T) {
	first := mustAnnotate(t, rawDoc("sA", "2020-01-01T00:00:00Z", map[string]interface{}{"title": "Alpha"}))
	second := mustAnnotate(t, rawDoc("sB", "2020-01-02T00:00:00Z", map[string]interface{}{"subtitle": "An Introduction"}))

	revisions, err := Compute([]map[string]interface{}{first, second})
	require.NoError(t, err)
	require.Len(t, revisions, 2)

	var added *DiffEntry
	for i := range revisions[1].Diff {
		if revisions[1].Diff[i].Path == "subtitle" {
			added = &revisions[1].Diff[i]
		}
	}
	require.NotNil(t, added)
	assert.Equal(t, DiffAdded, added.Kind)
	assert.Equal(t, "An Introduction", added.After)

	for _, d := range revisions[1].Diff {
		assert.NotEqual(t, "title", d.Path, "unchanged field should not appear in the diff")
	}
}

func TestComputeRejectsMissingProcessedAt(t *testing.T) {
	doc := mustAnnotate(t, rawDoc("sA", "2020-01-01T00:00:00Z", map[string]interface{}{"title": "Alpha"}))
	sourceMap := doc["source"].(map[string]interface{})
	for _, stamp := range sourceMap {
		delete(stamp.(map[string]interface{}), "processedAt")
	}

	_, err := Compute([]map[string]interface{}{doc})
	assert.Error(t, err)
}
