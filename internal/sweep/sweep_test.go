package sweep

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/argyakrivos/magrathea/internal/engine/annotate"
	"github.com/argyakrivos/magrathea/internal/engine/keys"
	"github.com/argyakrivos/magrathea/internal/interfaces"
)

// fakeHistoryStore and fakeCurrentStore are minimal in-memory stand-ins,
// exercising only the ReIndexChunks/FetchByEntity/Store surface the sweep
// actually calls.
type fakeHistoryStore struct {
	byEntityKey map[string][]interfaces.StoredDoc
}

func (f *fakeHistoryStore) LookupByHistoryKey(ctx context.Context, historyKey string) ([]interfaces.StoredDoc, error) {
	return nil, nil
}
func (f *fakeHistoryStore) FetchByEntity(ctx context.Context, currentKey string) ([]interfaces.StoredDoc, error) {
	return f.byEntityKey[currentKey], nil
}
func (f *fakeHistoryStore) Store(ctx context.Context, historyKey, currentKey, schema string, doc map[string]interface{}, maybeReplaceID string, version int) (string, int, error) {
	return "", 0, nil
}
func (f *fakeHistoryStore) DeleteMany(ctx context.Context, ids []string) error { return nil }
func (f *fakeHistoryStore) GetHistoryByEntityID(ctx context.Context, entityID string, schema string) ([]interfaces.StoredDoc, error) {
	return nil, nil
}
func (f *fakeHistoryStore) ReIndexChunks(ctx context.Context, chunkSize int, fn func(chunk []interfaces.StoredDoc) error) error {
	return nil
}

type fakeCurrentStore struct {
	entities []interfaces.StoredDoc
	stored   map[string]map[string]interface{}
}

func (f *fakeCurrentStore) LookupByCurrentKey(ctx context.Context, currentKey string) ([]interfaces.StoredDoc, error) {
	return nil, nil
}
func (f *fakeCurrentStore) GetByID(ctx context.Context, id string, schema string) (interfaces.StoredDoc, bool, error) {
	return interfaces.StoredDoc{}, false, nil
}
func (f *fakeCurrentStore) Store(ctx context.Context, currentKey, schema string, doc map[string]interface{}, maybeReplaceID string, version int) (string, int, error) {
	if f.stored == nil {
		f.stored = map[string]map[string]interface{}{}
	}
	f.stored[maybeReplaceID] = doc
	return maybeReplaceID, version + 1, nil
}
func (f *fakeCurrentStore) DeleteMany(ctx context.Context, ids []string) error { return nil }
func (f *fakeCurrentStore) ReIndexChunks(ctx context.Context, chunkSize int, fn func(chunk []interfaces.StoredDoc) error) error {
	return fn(f.entities)
}

type fakeIndex struct {
	pushed map[string]map[string]interface{}
}

func (f *fakeIndex) Push(ctx context.Context, entityID string, doc map[string]interface{}) error {
	if f.pushed == nil {
		f.pushed = map[string]map[string]interface{}{}
	}
	f.pushed[entityID] = doc
	return nil
}
func (f *fakeIndex) Remove(ctx context.Context, entityID string) error { return nil }
func (f *fakeIndex) Search(ctx context.Context, query string, offset, count int) ([]string, bool, error) {
	return nil, true, nil
}
func (f *fakeIndex) ReIndexCurrent(ctx context.Context) error { return nil }
func (f *fakeIndex) ReIndexHistory(ctx context.Context) error { return nil }

func annotatedBook(system, processedAt, title string) map[string]interface{} {
	raw := map[string]interface{}{
		"$schema": "book.v2",
		"classification": []interface{}{
			map[string]interface{}{"realm": "isbn", "id": "9780000000001"},
		},
		"source": map[string]interface{}{
			"system":      system,
			"role":        "publisher",
			"processedAt": processedAt,
		},
		"title": title,
	}
	out, err := annotate.Annotate(raw)
	if err != nil {
		panic(err)
	}
	return out
}

func TestRunRepairsCurrentDocumentDriftedFromHistory(t *testing.T) {
	staleCurrent := annotatedBook("sA", "2020-01-01T00:00:00Z", "Alpha")
	freshSource := annotatedBook("sB", "2020-01-02T00:00:00Z", "Alpha Revised")

	// The entity's current key is derived from schema+classification,
	// identical for both documents above.
	currentKey := mustCurrentKey(t, staleCurrent)

	current := &fakeCurrentStore{entities: []interfaces.StoredDoc{
		{ID: "entity-1", Version: 1, Doc: staleCurrent},
	}}
	history := &fakeHistoryStore{byEntityKey: map[string][]interfaces.StoredDoc{
		currentKey: {
			{ID: "h1", Doc: staleCurrent},
			{ID: "h2", Doc: freshSource},
		},
	}}
	index := &fakeIndex{}

	svc := New(history, current, index, arbor.NewLogger(), 0)

	repaired, scanned, err := svc.run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, scanned)
	assert.Equal(t, 1, repaired)

	stored := current.stored["entity-1"]
	require.NotNil(t, stored)
	title := stored["title"].(map[string]interface{})
	assert.Equal(t, "Alpha Revised", title["value"])
	assert.Contains(t, index.pushed, "entity-1")
}

func TestRunLeavesUpToDateEntityUntouched(t *testing.T) {
	doc := annotatedBook("sA", "2020-01-01T00:00:00Z", "Alpha")
	currentKey := mustCurrentKey(t, doc)

	current := &fakeCurrentStore{entities: []interfaces.StoredDoc{
		{ID: "entity-1", Version: 1, Doc: doc},
	}}
	history := &fakeHistoryStore{byEntityKey: map[string][]interfaces.StoredDoc{
		currentKey: {{ID: "h1", Doc: doc}},
	}}
	index := &fakeIndex{}

	svc := New(history, current, index, arbor.NewLogger(), 0)

	repaired, scanned, err := svc.run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, scanned)
	assert.Equal(t, 0, repaired, "merging the single unchanged source reproduces the same document")
	assert.Empty(t, current.stored, "unchanged entity is never re-stored")
}

func mustCurrentKey(t *testing.T, doc map[string]interface{}) string {
	t.Helper()
	_, _, currentKey, err := keys.CurrentKeyFromAnnotated(doc)
	require.NoError(t, err)
	return currentKey
}
