// Package server exposes the current price tag snapshot over HTTP.
package server

import (
	"encoding/json"
	"net/http"

	"supermarket-scanner/models"
	"supermarket-scanner/storage"

	"github.com/rs/zerolog"
)

// Server serves the snapshot rows produced by the most recent scan.
// It reflects whatever is currently stored; scan progress is tracked in
// the scan_runs table, not here.
type Server struct {
	store  storage.Store
	logger zerolog.Logger
}

// New returns a new Server.
func New(store storage.Store, logger zerolog.Logger) *Server {
	return &Server{store: store, logger: logger}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/products", s.handleProducts)
	return mux
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Write([]byte("hello"))
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	tags, err := s.store.ListPriceTags(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("can't list price tags")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if tags == nil {
		tags = []models.PriceTag{}
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(tags); err != nil {
		s.logger.Error().Err(err).Msg("can't encode price tags")
	}
}
