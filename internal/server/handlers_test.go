package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/argyakrivos/magrathea/internal/app"
	"github.com/argyakrivos/magrathea/internal/common"
	"github.com/argyakrivos/magrathea/internal/interfaces"
)

// fakeHistoryStore, fakeCurrentStore and fakeIndex are minimal in-memory
// stand-ins for the storage interfaces, letting the HTTP handler tests run
// without a real Badger/sqlite backend.
type fakeHistoryStore struct {
	byEntity map[string][]interfaces.StoredDoc
}

func (f *fakeHistoryStore) LookupByHistoryKey(ctx context.Context, historyKey string) ([]interfaces.StoredDoc, error) {
	return nil, nil
}
func (f *fakeHistoryStore) FetchByEntity(ctx context.Context, currentKey string) ([]interfaces.StoredDoc, error) {
	return nil, nil
}
func (f *fakeHistoryStore) Store(ctx context.Context, historyKey, currentKey, schema string, doc map[string]interface{}, maybeReplaceID string, version int) (string, int, error) {
	return "", 0, nil
}
func (f *fakeHistoryStore) DeleteMany(ctx context.Context, ids []string) error { return nil }
func (f *fakeHistoryStore) GetHistoryByEntityID(ctx context.Context, entityID string, schema string) ([]interfaces.StoredDoc, error) {
	return f.byEntity[entityID], nil
}
func (f *fakeHistoryStore) ReIndexChunks(ctx context.Context, chunkSize int, fn func(chunk []interfaces.StoredDoc) error) error {
	return nil
}

type fakeCurrentStore struct {
	byID map[string]interfaces.StoredDoc
}

func (f *fakeCurrentStore) LookupByCurrentKey(ctx context.Context, currentKey string) ([]interfaces.StoredDoc, error) {
	return nil, nil
}
func (f *fakeCurrentStore) GetByID(ctx context.Context, id string, schema string) (interfaces.StoredDoc, bool, error) {
	doc, ok := f.byID[id]
	return doc, ok, nil
}
func (f *fakeCurrentStore) Store(ctx context.Context, currentKey, schema string, doc map[string]interface{}, maybeReplaceID string, version int) (string, int, error) {
	return "", 0, nil
}
func (f *fakeCurrentStore) DeleteMany(ctx context.Context, ids []string) error { return nil }
func (f *fakeCurrentStore) ReIndexChunks(ctx context.Context, chunkSize int, fn func(chunk []interfaces.StoredDoc) error) error {
	return nil
}

type fakeIndex struct {
	pushed        map[string]map[string]interface{}
	searchIDs     []string
	searchLast    bool
	reindexCurCnt int
	reindexHisCnt int
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
	return f.searchIDs, f.searchLast, nil
}
func (f *fakeIndex) ReIndexCurrent(ctx context.Context) error { f.reindexCurCnt++; return nil }
func (f *fakeIndex) ReIndexHistory(ctx context.Context) error { f.reindexHisCnt++; return nil }

type fakeStorageManager struct {
	history *fakeHistoryStore
	current *fakeCurrentStore
	index   *fakeIndex
}

func (f *fakeStorageManager) History() interfaces.HistoryStore { return f.history }
func (f *fakeStorageManager) Current() interfaces.CurrentStore { return f.current }
func (f *fakeStorageManager) Index() interfaces.IndexBridge    { return f.index }
func (f *fakeStorageManager) Close() error                     { return nil }

type fakeQueueManager struct {
	deadLettered []interfaces.Message
}

func (f *fakeQueueManager) Enqueue(ctx context.Context, msg interfaces.Message) error { return nil }
func (f *fakeQueueManager) Receive(ctx context.Context) (*interfaces.Message, func() error, error) {
	return nil, nil, nil
}
func (f *fakeQueueManager) Nack(ctx context.Context, msg interfaces.Message, delay time.Duration) error {
	return nil
}
func (f *fakeQueueManager) DeadLetter(ctx context.Context, msg interfaces.Message, reason string) error {
	return nil
}
func (f *fakeQueueManager) DeadLettered(ctx context.Context) ([]interfaces.Message, error) {
	return f.deadLettered, nil
}
func (f *fakeQueueManager) Close() error { return nil }

func annotatedBookDoc(title string) map[string]interface{} {
	return map[string]interface{}{
		"$schema": map[string]interface{}{"value": "book.v2", "source": "abc123"},
		"classification": map[string]interface{}{
			"value":  []interface{}{map[string]interface{}{"realm": "isbn", "id": "9780000000001"}},
			"source": "abc123",
		},
		"title": map[string]interface{}{"value": title, "source": "abc123"},
		"source": map[string]interface{}{
			"abc123": map[string]interface{}{
				"system":      "sA",
				"role":        "publisher",
				"processedAt": "2020-01-01T00:00:00Z",
			},
		},
	}
}

func newTestServer(t *testing.T) (*Server, *fakeStorageManager, *fakeQueueManager) {
	t.Helper()
	sm := &fakeStorageManager{
		history: &fakeHistoryStore{byEntity: map[string][]interfaces.StoredDoc{}},
		current: &fakeCurrentStore{byID: map[string]interfaces.StoredDoc{}},
		index:   &fakeIndex{},
	}
	qm := &fakeQueueManager{}

	application := &app.App{
		Config:         common.NewDefaultConfig(),
		Logger:         arbor.NewLogger(),
		StorageManager: sm,
		Queue:          qm,
	}

	return New(application), sm, qm
}

func TestGetBookReturnsCurrentDocument(t *testing.T) {
	s, sm, _ := newTestServer(t)
	id := "11111111-1111-1111-1111-111111111111"
	sm.current.byID[id] = interfaces.StoredDoc{ID: id, Version: 1, Doc: annotatedBookDoc("Alpha")}

	req := httptest.NewRequest(http.MethodGet, "/books/"+id, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "Accept, Accept-Encoding", rec.Header().Get("Vary"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	title := body["title"].(map[string]interface{})
	assert.Equal(t, "Alpha", title["value"])
}

func TestGetBookMissingReturns404(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/books/11111111-1111-1111-1111-111111111111", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetBookInvalidUUIDReturns400(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/books/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "InvalidUUID", body.Code)
}

func TestPutBookReindexPushesToIndex(t *testing.T) {
	s, sm, _ := newTestServer(t)
	id := "11111111-1111-1111-1111-111111111111"
	sm.current.byID[id] = interfaces.StoredDoc{ID: id, Version: 1, Doc: annotatedBookDoc("Alpha")}

	req := httptest.NewRequest(http.MethodPut, "/books/"+id+"/reindex", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, sm.index.pushed, id)
}

func TestPutBookReindexMissingReturns404(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPut, "/books/11111111-1111-1111-1111-111111111111/reindex", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetBookHistoryReturnsRevisions(t *testing.T) {
	s, sm, _ := newTestServer(t)
	id := "11111111-1111-1111-1111-111111111111"
	sm.history.byEntity[id] = []interfaces.StoredDoc{
		{ID: "h1", Doc: annotatedBookDoc("Alpha")},
	}

	req := httptest.NewRequest(http.MethodGet, "/books/"+id+"/history", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var revs []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &revs))
	require.Len(t, revs, 1)
	assert.Equal(t, "sA", revs[0]["system"])
}

func TestGetSearchForwardsToIndex(t *testing.T) {
	s, sm, _ := newTestServer(t)
	sm.index.searchIDs = []string{"a", "b"}
	sm.index.searchLast = true

	req := httptest.NewRequest(http.MethodGet, "/search?q=alpha&offset=0&count=10", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["lastPage"])
	assert.Len(t, body["ids"], 2)
}

func TestPutSearchReindexCurrentReturns202(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPut, "/search/reindex/current", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestGetAdminDeadLetterListsMessages(t *testing.T) {
	s, _, qm := newTestServer(t)
	qm.deadLettered = []interfaces.Message{{ID: "m1", ContentType: interfaces.ContentTypeBook}}

	req := httptest.NewRequest(http.MethodGet, "/admin/deadletter", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var msgs []interfaces.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
}

func TestMethodNotAllowedOnBookRoute(t *testing.T) {
	s, sm, _ := newTestServer(t)
	id := "11111111-1111-1111-1111-111111111111"
	sm.current.byID[id] = interfaces.StoredDoc{ID: id, Doc: annotatedBookDoc("Alpha")}

	req := httptest.NewRequest(http.MethodDelete, "/books/"+id, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
