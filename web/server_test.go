package web

import (
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/b1naryth1ef/atlas"
	"github.com/google/go-cmp/cmp"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cache, err := atlas.NewRegionImageCache(t.TempDir(), atlas.CacheOpts{})
	if err != nil {
		t.Fatal(err)
	}
	chunk := image.NewNRGBA(image.Rect(0, 0, atlas.ChunkSize, atlas.ChunkSize))
	for i := 3; i < len(chunk.Pix); i += 4 {
		chunk.Pix[i] = 0xff
	}
	if err := cache.WriteChunk(0, atlas.Day(), atlas.ChunkCoord{X: 1, Z: 1}, chunk); err != nil {
		t.Fatal(err)
	}

	frontend := FrontendData{Maps: []MapData{NewMapData("world", 0, atlas.Day(), atlas.Night())}}
	s, err := NewServer(cache, frontend, func() interface{} {
		return map[string]string{"state": "idle"}
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func get(s *Server, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestTileHandler(t *testing.T) {
	s := newTestServer(t)

	for _, tc := range []struct {
		path   string
		status int
		size   int
	}{
		{"/tiles/0/day/0/0/0.png", http.StatusOK, atlas.RegionBlocks},
		{"/tiles/0/day/2/0/0.png", http.StatusOK, atlas.RegionBlocks / 4},
		{"/tiles/0/day/0/5/-5.png", http.StatusNoContent, 0},
		{"/tiles/0/night/0/0/0.png", http.StatusNoContent, 0},
		{"/tiles/0/sideways/0/0/0.png", http.StatusBadRequest, 0},
		{"/tiles/0/day/9/0/0.png", http.StatusBadRequest, 0},
		{"/tiles/0/day/x/0/0.png", http.StatusNotFound, 0},
	} {
		t.Run(tc.path, func(t *testing.T) {
			rec := get(s, tc.path)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			if tc.size == 0 {
				return
			}
			if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
				t.Errorf("Content-Type = %q", ct)
			}
			img, err := png.Decode(rec.Body)
			if err != nil {
				t.Fatal(err)
			}
			if b := img.Bounds(); b.Dx() != tc.size || b.Dy() != tc.size {
				t.Errorf("tile bounds = %v, want %dx%d", b, tc.size, tc.size)
			}
		})
	}
}

func TestParseTileKey(t *testing.T) {
	key, zoom, err := parseTileKey(map[string]string{
		"dim": "-1", "variant": "night", "zoom": "3", "x": "-3", "z": "4",
	})
	if err != nil {
		t.Fatal(err)
	}
	want := atlas.TileKey{Dimension: -1, Region: atlas.RegionCoord{X: -3, Z: 4}, Variant: atlas.Night()}
	if diff := cmp.Diff(want, key); diff != "" {
		t.Errorf("key mismatch (-want +got):\n%s", diff)
	}
	if zoom != 3 {
		t.Errorf("zoom = %d, want 3", zoom)
	}
}

func TestStatusAndIndex(t *testing.T) {
	s := newTestServer(t)

	rec := get(s, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var status map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status["state"] != "idle" {
		t.Errorf("unexpected status %v", status)
	}

	rec = get(s, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("index status = %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "ATLAS_DATA") || !strings.Contains(body, "maps") {
		t.Errorf("index does not embed the frontend data")
	}

	if rec := get(s, "/static/js/map.js"); rec.Code != http.StatusOK {
		t.Errorf("static asset status = %d", rec.Code)
	}
}
