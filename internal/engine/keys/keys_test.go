package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argyakrivos/magrathea/internal/docmodel"
)

func doc(processedAt, system string) map[string]interface{} {
	return map[string]interface{}{
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
}

func TestExtractRequiresSchema(t *testing.T) {
	_, err := Extract(map[string]interface{}{}, DefaultVolatileSourceFields)
	assert.ErrorIs(t, err, docmodel.ErrMissingSchema)
}

func TestExtractRequiresClassification(t *testing.T) {
	raw := map[string]interface{}{"$schema": "book.v2"}
	_, err := Extract(raw, DefaultVolatileSourceFields)
	assert.ErrorIs(t, err, docmodel.ErrMissingClassification)
}

func TestExtractRequiresSourceForHistoryKey(t *testing.T) {
	raw := map[string]interface{}{
		"$schema":        "book.v2",
		"classification": []interface{}{map[string]interface{}{"realm": "isbn", "id": "1"}},
	}
	_, err := Extract(raw, DefaultVolatileSourceFields)
	assert.ErrorIs(t, err, docmodel.ErrMissingSourceFields)
}

func TestHistoryKeyStableAcrossResendWithNewTimestamp(t *testing.T) {
	k1, err := Extract(doc("2020-01-01T00:00:00Z", "sA"), DefaultVolatileSourceFields)
	require.NoError(t, err)
	k2, err := Extract(doc("2020-06-01T00:00:00Z", "sA"), DefaultVolatileSourceFields)
	require.NoError(t, err)

	assert.Equal(t, k1.HistoryKey, k2.HistoryKey)
}

func TestHistoryKeyDiffersAcrossSources(t *testing.T) {
	k1, err := Extract(doc("2020-01-01T00:00:00Z", "sA"), DefaultVolatileSourceFields)
	require.NoError(t, err)
	other := doc("2020-01-01T00:00:00Z", "sB")
	other["source"].(map[string]interface{})["role"] = "distributor"
	k2, err := Extract(other, DefaultVolatileSourceFields)
	require.NoError(t, err)

	assert.NotEqual(t, k1.HistoryKey, k2.HistoryKey)
}

func TestCurrentKeyIgnoresSource(t *testing.T) {
	k1, err := Extract(doc("2020-01-01T00:00:00Z", "sA"), DefaultVolatileSourceFields)
	require.NoError(t, err)
	k2, err := Extract(doc("2099-01-01T00:00:00Z", "sB"), DefaultVolatileSourceFields)
	require.NoError(t, err)

	assert.Equal(t, k1.CurrentKey, k2.CurrentKey)
}
