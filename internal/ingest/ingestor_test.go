package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/argyakrivos/magrathea/internal/docmodel"
	"github.com/argyakrivos/magrathea/internal/interfaces"
)

// fakeHistoryStore and fakeCurrentStore are in-memory stand-ins for the
// Badger-backed stores, letting the pipeline tests run without a real
// database (mirrors internal/server's handler-test fakes).
type fakeHistoryStore struct {
	byID          map[string]interfaces.StoredDoc
	historyKeyIDs map[string][]string // historyKey -> ids
	byEntityKey   map[string][]string // currentKey -> ids
	nextID        int
}

func newFakeHistoryStore() *fakeHistoryStore {
	return &fakeHistoryStore{
		byID:          map[string]interfaces.StoredDoc{},
		historyKeyIDs: map[string][]string{},
		byEntityKey:   map[string][]string{},
	}
}

func (f *fakeHistoryStore) LookupByHistoryKey(ctx context.Context, historyKey string) ([]interfaces.StoredDoc, error) {
	var out []interfaces.StoredDoc
	for _, id := range f.historyKeyIDs[historyKey] {
		if doc, ok := f.byID[id]; ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (f *fakeHistoryStore) FetchByEntity(ctx context.Context, currentKey string) ([]interfaces.StoredDoc, error) {
	var out []interfaces.StoredDoc
	for _, id := range f.byEntityKey[currentKey] {
		if doc, ok := f.byID[id]; ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (f *fakeHistoryStore) Store(ctx context.Context, historyKey, currentKey, schema string, doc map[string]interface{}, maybeReplaceID string, version int) (string, int, error) {
	id := maybeReplaceID
	if id == "" {
		f.nextID++
		id = fmt.Sprintf("history#%d", f.nextID)
		f.byEntityKey[currentKey] = append(f.byEntityKey[currentKey], id)
		f.historyKeyIDs[historyKey] = append(f.historyKeyIDs[historyKey], id)
	}
	f.byID[id] = interfaces.StoredDoc{ID: id, Version: version + 1, Doc: doc}
	return id, version + 1, nil
}

func (f *fakeHistoryStore) DeleteMany(ctx context.Context, ids []string) error {
	for _, id := range ids {
		delete(f.byID, id)
	}
	return nil
}

func (f *fakeHistoryStore) GetHistoryByEntityID(ctx context.Context, entityID string, schema string) ([]interfaces.StoredDoc, error) {
	return nil, nil
}

func (f *fakeHistoryStore) ReIndexChunks(ctx context.Context, chunkSize int, fn func(chunk []interfaces.StoredDoc) error) error {
	return nil
}

type fakeCurrentStore struct {
	byID     map[string]interfaces.StoredDoc
	byCurKey map[string][]string
	nextID   int
}

func newFakeCurrentStore() *fakeCurrentStore {
	return &fakeCurrentStore{byID: map[string]interfaces.StoredDoc{}, byCurKey: map[string][]string{}}
}

func (f *fakeCurrentStore) LookupByCurrentKey(ctx context.Context, currentKey string) ([]interfaces.StoredDoc, error) {
	var out []interfaces.StoredDoc
	for _, id := range f.byCurKey[currentKey] {
		if doc, ok := f.byID[id]; ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (f *fakeCurrentStore) GetByID(ctx context.Context, id string, schema string) (interfaces.StoredDoc, bool, error) {
	doc, ok := f.byID[id]
	return doc, ok, nil
}

func (f *fakeCurrentStore) Store(ctx context.Context, currentKey, schema string, doc map[string]interface{}, maybeReplaceID string, version int) (string, int, error) {
	id := maybeReplaceID
	if id == "" {
		f.nextID++
		id = fmt.Sprintf("current#%d", f.nextID)
		f.byCurKey[currentKey] = append(f.byCurKey[currentKey], id)
	}
	f.byID[id] = interfaces.StoredDoc{ID: id, Version: version + 1, Doc: doc}
	return id, version + 1, nil
}

func (f *fakeCurrentStore) DeleteMany(ctx context.Context, ids []string) error {
	for _, id := range ids {
		delete(f.byID, id)
	}
	return nil
}

func (f *fakeCurrentStore) ReIndexChunks(ctx context.Context, chunkSize int, fn func(chunk []interfaces.StoredDoc) error) error {
	return nil
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

func bookPayload(system, processedAt, title string) []byte {
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
		"title": title,
	}
	b, _ := json.Marshal(doc)
	return b
}

func newTestIngestor() (*Ingestor, *fakeHistoryStore, *fakeCurrentStore, *fakeIndex) {
	history := newFakeHistoryStore()
	current := newFakeCurrentStore()
	idx := &fakeIndex{}
	ingestor := New(history, current, idx, arbor.NewLogger(), []string{"processedAt", "system"}, "book.v2", "contributor.v1")
	return ingestor, history, current, idx
}

func TestIngestSingleSourceCreatesCurrentDocument(t *testing.T) {
	ingestor, _, current, idx := newTestIngestor()

	err := ingestor.Ingest(context.Background(), interfaces.ContentTypeBook, bookPayload("sA", "2020-01-01T00:00:00Z", "Alpha"))
	require.NoError(t, err)

	require.Len(t, current.byID, 1)
	var merged interfaces.StoredDoc
	for _, d := range current.byID {
		merged = d
	}
	title := merged.Doc["title"].(map[string]interface{})
	assert.Equal(t, "Alpha", title["value"])
	assert.Contains(t, idx.pushed, merged.ID)
}

func TestIngestSecondSourceMergesIntoSameCurrentDocument(t *testing.T) {
	ingestor, _, current, _ := newTestIngestor()

	require.NoError(t, ingestor.Ingest(context.Background(), interfaces.ContentTypeBook, bookPayload("sA", "2020-01-01T00:00:00Z", "Alpha")))
	require.NoError(t, ingestor.Ingest(context.Background(), interfaces.ContentTypeBook, bookPayload("sB", "2020-01-02T00:00:00Z", "Alpha Revised")))

	require.Len(t, current.byID, 1, "both sources merge into the single entity sharing a current key")
	var merged interfaces.StoredDoc
	for _, d := range current.byID {
		merged = d
	}
	title := merged.Doc["title"].(map[string]interface{})
	assert.Equal(t, "Alpha Revised", title["value"], "later processedAt wins the conflicting field")
}

func TestIngestRetransmitOfSameSourceReplacesInPlace(t *testing.T) {
	ingestor, history, current, _ := newTestIngestor()

	require.NoError(t, ingestor.Ingest(context.Background(), interfaces.ContentTypeBook, bookPayload("sA", "2020-01-01T00:00:00Z", "Alpha")))
	require.NoError(t, ingestor.Ingest(context.Background(), interfaces.ContentTypeBook, bookPayload("sA", "2020-01-03T00:00:00Z", "Alpha Corrected")))

	assert.Len(t, history.byID, 1, "retransmit under the same history key replaces, not appends")
	assert.Len(t, current.byID, 1)
	var merged interfaces.StoredDoc
	for _, d := range current.byID {
		merged = d
	}
	title := merged.Doc["title"].(map[string]interface{})
	assert.Equal(t, "Alpha Corrected", title["value"])
}

func TestIngestRejectsMalformedJSON(t *testing.T) {
	ingestor, _, _, _ := newTestIngestor()

	err := ingestor.Ingest(context.Background(), interfaces.ContentTypeBook, []byte("{not json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, docmodel.ErrMalformedJSON)
}

func TestIngestRepairsDuplicateHistoryRecords(t *testing.T) {
	ingestor, history, _, _ := newTestIngestor()

	require.NoError(t, ingestor.Ingest(context.Background(), interfaces.ContentTypeBook, bookPayload("sA", "2020-01-01T00:00:00Z", "Alpha")))

	// Simulate an I2 violation: a second record sneaks in under the same
	// history key (e.g. a concurrent duplicate write racing this fake's
	// replace-in-place logic).
	var historyKey string
	for k := range history.historyKeyIDs {
		historyKey = k
	}
	original := history.byID[history.historyKeyIDs[historyKey][0]]
	extraID := "duplicate#1"
	history.byID[extraID] = interfaces.StoredDoc{ID: extraID, Version: 1, Doc: original.Doc}
	history.historyKeyIDs[historyKey] = append(history.historyKeyIDs[historyKey], extraID)

	require.NoError(t, ingestor.Ingest(context.Background(), interfaces.ContentTypeBook, bookPayload("sA", "2020-01-05T00:00:00Z", "Alpha Again")))

	assert.Len(t, history.byID, 1, "I2 repair collapses duplicates down to the replaced record")
}
