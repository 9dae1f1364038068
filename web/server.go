package web

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"image/png"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/b1naryth1ef/atlas"
	"github.com/gorilla/mux"
)

// StatusFunc returns the value served as JSON by /status.
type StatusFunc func() interface{}

// Server serves the map viewer and region tiles out of a RegionImageCache.
type Server struct {
	cache    *atlas.RegionImageCache
	frontend FrontendData
	status   StatusFunc
	index    *template.Template
	router   *mux.Router
}

func NewServer(cache *atlas.RegionImageCache, frontend FrontendData, status StatusFunc) (*Server, error) {
	index, err := IndexTemplate()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cache:    cache,
		frontend: frontend,
		status:   status,
		index:    index,
		router:   mux.NewRouter(),
	}

	s.router.HandleFunc("/", s.indexHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.statusHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/tiles/{dim:-?[0-9]+}/{variant}/{zoom:[0-9]+}/{x:-?[0-9]+}/{z:-?[0-9]+}.png", s.tileHandler).Methods(http.MethodGet)
	s.router.PathPrefix("/static/js/").Handler(http.StripPrefix("/static/js/", http.FileServer(StaticFS())))
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	log.Printf("[web] listening on http://%s", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	data, err := json.Marshal(s.frontend)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.index.Execute(w, string(data)); err != nil {
		log.Printf("[web] failed to render index: %v", err)
	}
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var status interface{}
	if s.status != nil {
		status = s.status()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Printf("[web] failed to encode status: %v", err)
	}
}

func parseTileKey(params map[string]string) (atlas.TileKey, int, error) {
	var key atlas.TileKey

	dim, err := strconv.Atoi(params["dim"])
	if err != nil {
		return key, 0, err
	}
	variant, err := atlas.ParseVariant(params["variant"])
	if err != nil {
		return key, 0, err
	}
	zoom, err := strconv.Atoi(params["zoom"])
	if err != nil {
		return key, 0, err
	}
	if zoom > atlas.MaxZoom {
		return key, 0, errors.New("zoom out of range")
	}
	x, err := strconv.Atoi(params["x"])
	if err != nil {
		return key, 0, err
	}
	z, err := strconv.Atoi(params["z"])
	if err != nil {
		return key, 0, err
	}

	key = atlas.TileKey{
		Dimension: dim,
		Region:    atlas.RegionCoord{X: x, Z: z},
		Variant:   variant,
	}
	return key, zoom, nil
}

func (s *Server) tileHandler(w http.ResponseWriter, r *http.Request) {
	key, zoom, err := parseTileKey(mux.Vars(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	img, ok := s.cache.TileForDisplay(key, zoom)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if err := png.Encode(w, img); err != nil {
		log.Printf("[web] failed to encode tile %v: %v", key, err)
	}
}
