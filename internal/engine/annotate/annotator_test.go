package annotate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argyakrivos/magrathea/internal/docmodel"
)

func sourceStamp(system string, processedAt string) map[string]interface{} {
	return map[string]interface{}{
		"system":      system,
		"role":        "publisher",
		"processedAt": processedAt,
	}
}

func TestAnnotateRequiresSource(t *testing.T) {
	_, err := Annotate(map[string]interface{}{"$schema": "book.v2"})
	assert.ErrorIs(t, err, docmodel.ErrMissingSource)
}

func TestAnnotateWrapsLeavesWithSourceHash(t *testing.T) {
	raw := map[string]interface{}{
		"$schema": "book.v2",
		"classification": []interface{}{
			map[string]interface{}{"realm": "isbn", "id": "9780000000001"},
		},
		"title":  "Alpha",
		"source": sourceStamp("sA", "2020-01-01T00:00:00Z"),
	}

	out, err := Annotate(raw)
	require.NoError(t, err)

	titleLeaf, ok := docmodel.AsObject(out["title"])
	require.True(t, ok)
	require.True(t, docmodel.IsAnnotated(titleLeaf))
	assert.Equal(t, "Alpha", titleLeaf["value"])

	srcHash, ok := titleLeaf["source"].(string)
	require.True(t, ok)

	srcMap, ok := docmodel.AsObject(out["source"])
	require.True(t, ok)
	stamp, ok := docmodel.AsObject(srcMap[srcHash])
	require.True(t, ok)
	assert.Equal(t, "sA", stamp["system"])
}

func TestAnnotatePreservesAlreadyAnnotatedChildren(t *testing.T) {
	already := map[string]interface{}{"value": "Alpha", "source": "deadbeef"}
	raw := map[string]interface{}{
		"$schema": "book.v2",
		"title":   already,
		"source":  sourceStamp("sA", "2020-01-01T00:00:00Z"),
	}

	out, err := Annotate(raw)
	require.NoError(t, err)
	assert.Equal(t, "Alpha", out["title"].(map[string]interface{})["value"])
	assert.Equal(t, "deadbeef", out["title"].(map[string]interface{})["source"])
}

func TestAnnotateEmptyObjectBecomesLeaf(t *testing.T) {
	raw := map[string]interface{}{
		"$schema": "book.v2",
		"extra":   map[string]interface{}{},
		"source":  sourceStamp("sA", "2020-01-01T00:00:00Z"),
	}

	out, err := Annotate(raw)
	require.NoError(t, err)

	extra, ok := docmodel.AsObject(out["extra"])
	require.True(t, ok)
	assert.True(t, docmodel.IsAnnotated(extra))
	assert.Equal(t, map[string]interface{}{}, extra["value"])
}

func TestAnnotateNonClassifiedArrayBecomesOneLeaf(t *testing.T) {
	raw := map[string]interface{}{
		"$schema": "book.v2",
		"classification": []interface{}{
			map[string]interface{}{"realm": "isbn", "id": "9780000000001"},
		},
		"source": sourceStamp("sA", "2020-01-01T00:00:00Z"),
	}

	out, err := Annotate(raw)
	require.NoError(t, err)

	classificationLeaf, ok := docmodel.AsObject(out["classification"])
	require.True(t, ok)
	assert.True(t, docmodel.IsAnnotated(classificationLeaf))
}

func TestAnnotateClassifiedArrayDedupesByClassification(t *testing.T) {
	raw := map[string]interface{}{
		"$schema": "contributor.v2",
		"aliases": []interface{}{
			map[string]interface{}{
				"classification": "isni",
				"value":          "0000-0001",
			},
			map[string]interface{}{
				"classification": "isni",
				"value":          "0000-0002",
			},
		},
		"source": sourceStamp("sA", "2020-01-01T00:00:00Z"),
	}

	out, err := Annotate(raw)
	require.NoError(t, err)

	aliases, ok := docmodel.AsArray(out["aliases"])
	require.True(t, ok)
	assert.Len(t, aliases, 1)
}

func TestAnnotateClassifiedArrayBadClassification(t *testing.T) {
	raw := map[string]interface{}{
		"$schema": "contributor.v2",
		"aliases": []interface{}{
			map[string]interface{}{"classification": "isni", "value": "a"},
			map[string]interface{}{"value": "b"},
		},
		"source": sourceStamp("sA", "2020-01-01T00:00:00Z"),
	}

	_, err := Annotate(raw)
	assert.ErrorIs(t, err, docmodel.ErrBadClassification)
}
