package server

import "net/http"

// setupRoutes builds the route table for the HTTP surface (§6).
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/books/", s.handleBookRoutes)
	mux.HandleFunc("/contributors/", s.handleContributorRoutes)

	mux.HandleFunc("/search", s.handleSearchRoute)
	mux.HandleFunc("/search/reindex/current", s.handleSearchReindexCurrent)
	mux.HandleFunc("/search/reindex/history", s.handleSearchReindexHistory)

	mux.HandleFunc("/admin/deadletter", s.handleAdminDeadLetter)

	mux.HandleFunc("/", s.handleNotFound)

	return mux
}

func (s *Server) handleBookRoutes(w http.ResponseWriter, r *http.Request) {
	s.handleEntityRoutes(w, r, "/books/", s.app.Config.Schema.Book)
}

func (s *Server) handleContributorRoutes(w http.ResponseWriter, r *http.Request) {
	s.handleEntityRoutes(w, r, "/contributors/", s.app.Config.Schema.Contributor)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "NotFound", "no such route")
}
