package atlas

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nfnt/resize"
)

// ErrNoTiles is returned when there is nothing to export.
var ErrNoTiles = errors.New("no map tiles to save")

// maxSavePixels bounds the size of a merged map before downscaling.
const maxSavePixels = 1 << 28

// MapSaver merges every tile of one dimension and variant into a single PNG.
type MapSaver struct {
	cache     *RegionImageCache
	outDir    string
	world     string
	dimension int
	variant   MapVariant

	// MaxSize downscales the result so neither side exceeds it. Zero keeps
	// the full resolution.
	MaxSize int

	now func() time.Time
}

func NewMapSaver(cache *RegionImageCache, outDir, world string, dimension int, variant MapVariant) *MapSaver {
	return &MapSaver{
		cache:     cache,
		outDir:    outDir,
		world:     world,
		dimension: dimension,
		variant:   variant,
		now:       time.Now,
	}
}

func (s *MapSaver) Dimension() int { return s.dimension }

func (s *MapSaver) Variant() MapVariant { return s.variant }

func sanitizeFileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, name)
}

// FileName returns the export file name for a given time.
func (s *MapSaver) FileName(t time.Time) string {
	return fmt.Sprintf("%s_%s_DIM%d_%s.png", t.Format("2006-01-02_15.04.05"), sanitizeFileName(s.world), s.dimension, s.variant.DirName())
}

// Save writes the merged image and returns its path. Regions without a tile
// are left transparent.
func (s *MapSaver) Save(ctx context.Context) (string, error) {
	regions, err := s.cache.StoredRegions(s.dimension, s.variant)
	if err != nil {
		return "", err
	}
	if len(regions) == 0 {
		return "", ErrNoTiles
	}

	lo, hi := regions[0], regions[0]
	for _, r := range regions {
		lo.X, lo.Z = min(lo.X, r.X), min(lo.Z, r.Z)
		hi.X, hi.Z = max(hi.X, r.X), max(hi.Z, r.Z)
	}

	width := (hi.X - lo.X + 1) * RegionBlocks
	height := (hi.Z - lo.Z + 1) * RegionBlocks
	if width*height > maxSavePixels {
		return "", fmt.Errorf("map of %dx%d pixels is too large to save", width, height)
	}

	merged := image.NewNRGBA(image.Rect(0, 0, width, height))
	for _, r := range regions {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		tile, ok := s.cache.TileForDisplay(TileKey{Dimension: s.dimension, Region: r, Variant: s.variant}, 0)
		if !ok {
			continue
		}
		at := image.Pt((r.X-lo.X)*RegionBlocks, (r.Z-lo.Z)*RegionBlocks)
		draw.Draw(merged, tile.Bounds().Add(at), tile, image.Point{}, draw.Src)
	}

	var out image.Image = merged
	if s.MaxSize > 0 && (width > s.MaxSize || height > s.MaxSize) {
		out = resize.Thumbnail(uint(s.MaxSize), uint(s.MaxSize), merged, resize.Bilinear)
	}

	if err := os.MkdirAll(s.outDir, os.ModePerm); err != nil {
		return "", err
	}
	path := filepath.Join(s.outDir, s.FileName(s.now()))

	fd, err := os.CreateTemp(s.outDir, ".save-*.png")
	if err != nil {
		return "", err
	}
	defer os.Remove(fd.Name())

	if err := png.Encode(fd, out); err != nil {
		fd.Close()
		return "", err
	}
	if err := fd.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(fd.Name(), path); err != nil {
		return "", err
	}
	return path, nil
}
