package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/argyakrivos/magrathea/internal/common"
	"github.com/argyakrivos/magrathea/internal/revisions"
)

// errorBody is the JSON shape for every non-2xx response (§6 "Path
// segments that are not valid UUIDs yield 400 with code InvalidUUID").
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	// §6: responses vary on Accept and Accept-Encoding.
	w.Header().Set("Vary", "Accept, Accept-Encoding")
}

// handleEntityRoutes dispatches the three per-uuid routes shared by
// /books/{uuid} and /contributors/{uuid} (§6): the current document, its
// revisions history, and its reindex trigger.
func (s *Server) handleEntityRoutes(w http.ResponseWriter, r *http.Request, prefix, schema string) {
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	if rest == "" {
		writeError(w, http.StatusNotFound, "NotFound", "entity id required")
		return
	}

	segments := strings.SplitN(rest, "/", 2)
	idStr := segments[0]

	id, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidUUID", "path segment is not a valid uuid")
		return
	}

	if len(segments) == 1 {
		s.handleEntityGet(w, r, id.String(), schema)
		return
	}

	switch segments[1] {
	case "history":
		s.handleEntityHistory(w, r, id.String(), schema)
	case "reindex":
		s.handleEntityReindex(w, r, id.String(), schema)
	default:
		writeError(w, http.StatusNotFound, "NotFound", "no such sub-route")
	}
}

func (s *Server) handleEntityGet(w http.ResponseWriter, r *http.Request, id, schema string) {
	RouteByMethod(w, r, MethodRouter{
		http.MethodGet: func(w http.ResponseWriter, r *http.Request) { s.getEntity(w, r, id, schema) },
	})
}

func (s *Server) getEntity(w http.ResponseWriter, r *http.Request, id, schema string) {
	ctx := r.Context()
	stored, found, err := s.app.StorageManager.Current().GetByID(ctx, id, schema)
	if err != nil {
		s.app.Logger.Error().Err(err).Str("id", id).Msg("server: fetch current document failed")
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to load document")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "NotFound", "no such entity")
		return
	}

	noStore(w)
	writeJSON(w, http.StatusOK, stored.Doc)
}

func (s *Server) handleEntityHistory(w http.ResponseWriter, r *http.Request, id, schema string) {
	RouteByMethod(w, r, MethodRouter{
		http.MethodGet: func(w http.ResponseWriter, r *http.Request) { s.getEntityHistory(w, r, id, schema) },
	})
}

func (s *Server) getEntityHistory(w http.ResponseWriter, r *http.Request, id, schema string) {
	ctx := r.Context()
	history, err := s.app.StorageManager.History().GetHistoryByEntityID(ctx, id, schema)
	if err != nil {
		s.app.Logger.Error().Err(err).Str("id", id).Msg("server: fetch history failed")
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to load history")
		return
	}
	if len(history) == 0 {
		writeError(w, http.StatusNotFound, "NotFound", "no such entity")
		return
	}

	docs := make([]map[string]interface{}, 0, len(history))
	for _, h := range history {
		docs = append(docs, h.Doc)
	}

	revs, err := revisions.Compute(docs)
	if err != nil {
		s.app.Logger.Error().Err(err).Str("id", id).Msg("server: compute revisions failed")
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to compute revisions")
		return
	}

	if count := parseIntParam(r, "count", 0); count > 0 && count < len(revs) {
		revs = revs[:count]
	}

	noStore(w)
	writeJSON(w, http.StatusOK, revs)
}

func (s *Server) handleEntityReindex(w http.ResponseWriter, r *http.Request, id, schema string) {
	RouteByMethod(w, r, MethodRouter{
		http.MethodPut: func(w http.ResponseWriter, r *http.Request) { s.putEntityReindex(w, r, id, schema) },
	})
}

func (s *Server) putEntityReindex(w http.ResponseWriter, r *http.Request, id, schema string) {
	ctx := r.Context()
	stored, found, err := s.app.StorageManager.Current().GetByID(ctx, id, schema)
	if err != nil {
		s.app.Logger.Error().Err(err).Str("id", id).Msg("server: fetch current document for reindex failed")
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to load document")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "NotFound", "no such entity")
		return
	}

	if err := s.app.StorageManager.Index().Push(ctx, id, stored.Doc); err != nil {
		s.app.Logger.Error().Err(err).Str("id", id).Msg("server: reindex push failed")
		writeError(w, http.StatusInternalServerError, "InternalError", "reindex failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "reindexed"})
}

// handleSearchRoute forwards a full-text query to the index bridge (§6
// "GET /search?q=…&offset=&count=").
func (s *Server) handleSearchRoute(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{http.MethodGet: s.getSearch})
}

func (s *Server) getSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	offset := parseIntParam(r, "offset", 0)
	count := parseIntParam(r, "count", 20)

	ids, lastPage, err := s.app.StorageManager.Index().Search(r.Context(), query, offset, count)
	if err != nil {
		s.app.Logger.Error().Err(err).Str("query", query).Msg("server: search failed")
		writeError(w, http.StatusInternalServerError, "InternalError", "search failed")
		return
	}

	noStore(w)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ids":      ids,
		"lastPage": lastPage,
	})
}

// handleSearchReindexCurrent and handleSearchReindexHistory trigger the two
// full-rebuild operations (§4.8), returning 202 immediately and running the
// rebuild in the background (§6 "202; starts full rebuild; logs outcome").
func (s *Server) handleSearchReindexCurrent(w http.ResponseWriter, r *http.Request) {
	s.handleReindexTrigger(w, r, s.app.StorageManager.Index().ReIndexCurrent, "current")
}

func (s *Server) handleSearchReindexHistory(w http.ResponseWriter, r *http.Request) {
	s.handleReindexTrigger(w, r, s.app.StorageManager.Index().ReIndexHistory, "history")
}

func (s *Server) handleReindexTrigger(w http.ResponseWriter, r *http.Request, rebuild func(ctx context.Context) error, target string) {
	RouteByMethod(w, r, MethodRouter{
		http.MethodPut: func(w http.ResponseWriter, r *http.Request) { s.putReindexTrigger(w, r, rebuild, target) },
	})
}

func (s *Server) putReindexTrigger(w http.ResponseWriter, r *http.Request, rebuild func(ctx context.Context) error, target string) {
	// Detached from the request context: the rebuild must outlive the HTTP
	// response (§6 "202; starts full rebuild; logs outcome"). A panic inside
	// rebuild must not take the whole process down with it.
	common.SafeGo(s.app.Logger, "reindex-"+target, func() {
		if err := rebuild(context.Background()); err != nil {
			s.app.Logger.Error().Err(err).Str("target", target).Msg("server: reindex rebuild failed")
			return
		}
		s.app.Logger.Info().Str("target", target).Msg("server: reindex rebuild completed")
	})

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "target": target})
}

// handleAdminDeadLetter lists parked permanent failures (supplemented
// operator view; not in spec.md, grounded on §7's dead-letter sink).
func (s *Server) handleAdminDeadLetter(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{http.MethodGet: s.getAdminDeadLetter})
}

func (s *Server) getAdminDeadLetter(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.app.Queue.DeadLettered(r.Context())
	if err != nil {
		s.app.Logger.Error().Err(err).Msg("server: list dead-lettered messages failed")
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to list dead-lettered messages")
		return
	}

	noStore(w)
	writeJSON(w, http.StatusOK, msgs)
}

func parseIntParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
