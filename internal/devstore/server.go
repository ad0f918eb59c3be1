package devstore

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

// Server exposes the record store over HTTP plus a realtime websocket.
// Mutations are serialized and broadcast while the lock is held, so the
// event stream for any record observes the same order as the store.
type Server struct {
	store *Store
	hub   *Hub

	writeMu sync.Mutex
}

func NewServer(store *Store) *Server {
	return &Server{
		store: store,
		hub:   NewHub(),
	}
}

// Handler returns the full API surface, CORS-wrapped so browser clients
// on other origins can talk to a local store.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/realtime", s.hub.HandleRealtime)

	mux.HandleFunc("POST /api/collections/{collection}/records", s.handleCreate)
	mux.HandleFunc("GET /api/collections/{collection}/records", s.handleList)
	mux.HandleFunc("GET /api/collections/{collection}/records/{id}", s.handleGet)
	mux.HandleFunc("PATCH /api/collections/{collection}/records/{id}", s.handleUpdate)
	mux.HandleFunc("DELETE /api/collections/{collection}/records/{id}", s.handleDelete)

	return cors.AllowAll().Handler(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")

	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.writeMu.Lock()
	record, err := s.store.Create(collection, fields)
	if err != nil {
		s.writeMu.Unlock()
		writeStoreError(w, err)
		return
	}
	s.hub.Broadcast(collection, "create", record)
	s.writeMu.Unlock()

	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")

	filter, err := ParseFilter(r.URL.Query().Get("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := s.store.List(collection, filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": records})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	record, err := s.store.Get(r.PathValue("collection"), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")

	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.writeMu.Lock()
	record, err := s.store.Update(collection, r.PathValue("id"), patch)
	if err != nil {
		s.writeMu.Unlock()
		writeStoreError(w, err)
		return
	}
	s.hub.Broadcast(collection, "update", record)
	s.writeMu.Unlock()

	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")

	s.writeMu.Lock()
	record, err := s.store.Delete(collection, r.PathValue("id"))
	if err != nil {
		s.writeMu.Unlock()
		writeStoreError(w, err)
		return
	}
	s.hub.Broadcast(collection, "delete", record)
	s.writeMu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrRecordNotFound), errors.Is(err, ErrUnknownCollection):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		log.Error().Err(err).Msg("record store failure")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
