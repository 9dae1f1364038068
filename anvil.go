package atlas

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"log"
	"math/bits"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Tnze/go-mc/level"
	"github.com/Tnze/go-mc/save"
	"github.com/Tnze/go-mc/save/region"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// DefaultOpenRegions is how many region files an AnvilSource keeps open.
const DefaultOpenRegions = 16

// WorldInfo is the subset of level.dat used for naming exports.
type WorldInfo struct {
	Name    string
	Version string
}

// ReadWorldInfo reads level.dat from a save directory.
func ReadWorldInfo(worldPath string) (WorldInfo, error) {
	info := WorldInfo{Name: filepath.Base(worldPath)}

	fd, err := os.Open(filepath.Join(worldPath, "level.dat"))
	if err != nil {
		return info, err
	}
	defer fd.Close()

	r, err := gzip.NewReader(fd)
	if err != nil {
		return info, err
	}

	lvl, err := save.ReadLevel(r)
	if err != nil {
		return info, err
	}

	if lvl.Data.LevelName != "" {
		info.Name = lvl.Data.LevelName
	}
	info.Version = lvl.Data.Version.Name
	return info, nil
}

// RegionDir returns the directory holding a dimension's .mca files.
func RegionDir(worldPath string, dimension int) string {
	if dimension == 0 {
		return filepath.Join(worldPath, "region")
	}
	return filepath.Join(worldPath, fmt.Sprintf("DIM%d", dimension), "region")
}

// AnvilWorld opens chunk sources for each dimension of a save directory.
type AnvilWorld struct {
	path        string
	openRegions int
	sections    *sectionCache

	mu      sync.Mutex
	sources map[int]*AnvilSource
}

func OpenAnvilWorld(path string, openRegions int) (*AnvilWorld, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", path)
	}
	if openRegions <= 0 {
		openRegions = DefaultOpenRegions
	}

	return &AnvilWorld{
		path:        path,
		openRegions: openRegions,
		sections:    newSectionCache(),
		sources:     make(map[int]*AnvilSource),
	}, nil
}

func (w *AnvilWorld) Path() string {
	return w.path
}

// Source returns the chunk source of a dimension.
func (w *AnvilWorld) Source(dimension int) (ChunkSource, error) {
	return w.source(dimension)
}

func (w *AnvilWorld) source(dimension int) (*AnvilSource, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if s, ok := w.sources[dimension]; ok {
		return s, nil
	}
	s, err := newAnvilSource(RegionDir(w.path, dimension), w.openRegions, w.sections)
	if err != nil {
		return nil, err
	}
	w.sources[dimension] = s
	return s, nil
}

// Regions lists the regions of a dimension that have a region file.
func (w *AnvilWorld) Regions(dimension int) ([]RegionCoord, error) {
	entries, err := os.ReadDir(RegionDir(w.path, dimension))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var regions []RegionCoord
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var r RegionCoord
		var ext string
		n, _ := fmt.Sscanf(e.Name(), "r.%d.%d.%s", &r.X, &r.Z, &ext)
		if n != 3 || ext != "mca" {
			continue
		}
		regions = append(regions, r)
	}
	sort.Slice(regions, func(i, j int) bool {
		if regions[i].X != regions[j].X {
			return regions[i].X < regions[j].X
		}
		return regions[i].Z < regions[j].Z
	})
	return regions, nil
}

// RegionChunks lists the chunks stored in a region file.
func (w *AnvilWorld) RegionChunks(dimension int, r RegionCoord) ([]ChunkCoord, error) {
	s, err := w.source(dimension)
	if err != nil {
		return nil, err
	}
	return s.regionChunks(r)
}

func (w *AnvilWorld) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for dim, s := range w.sources {
		s.close()
		delete(w.sources, dim)
	}
	return nil
}

// AnvilSource reads chunk snapshots out of the region files of a single
// dimension. Region files are kept open in a small LRU.
type AnvilSource struct {
	dir      string
	sections *sectionCache

	mu      sync.Mutex
	regions *lru.Cache[RegionCoord, *region.Region]

	warn rate.Sometimes
}

func newAnvilSource(dir string, openRegions int, sections *sectionCache) (*AnvilSource, error) {
	regions, err := lru.NewWithEvict[RegionCoord, *region.Region](openRegions, func(_ RegionCoord, reg *region.Region) {
		reg.Close()
	})
	if err != nil {
		return nil, err
	}

	return &AnvilSource{
		dir:      dir,
		sections: sections,
		regions:  regions,
		warn:     rate.Sometimes{First: 5, Interval: time.Minute},
	}, nil
}

// region returns an open region file. Callers must hold s.mu.
func (s *AnvilSource) region(r RegionCoord) (*region.Region, error) {
	if reg, ok := s.regions.Get(r); ok {
		return reg, nil
	}

	path := filepath.Join(s.dir, fmt.Sprintf("r.%d.%d.mca", r.X, r.Z))
	reg, err := region.Open(path)
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, io.EOF) {
		return nil, ErrChunkAbsent
	} else if err != nil {
		return nil, fmt.Errorf("failed to open region file %s: %w", path, err)
	}
	s.regions.Add(r, reg)
	return reg, nil
}

func (s *AnvilSource) regionChunks(r RegionCoord) ([]ChunkCoord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.region(r)
	if errors.Is(err, ErrChunkAbsent) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var chunks []ChunkCoord
	for _, c := range r.Chunks() {
		x, z := c.X&(RegionChunks-1), c.Z&(RegionChunks-1)
		if reg.Timestamps[z][x] != 0 {
			chunks = append(chunks, c)
		}
	}
	return chunks, nil
}

func (s *AnvilSource) readSector(coord ChunkCoord) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.region(coord.Region())
	if err != nil {
		return nil, err
	}

	sector, err := reg.ReadSector(coord.X&(RegionChunks-1), coord.Z&(RegionChunks-1))
	if errors.Is(err, region.ErrNoSector) {
		return nil, ErrChunkAbsent
	} else if err != nil {
		return nil, err
	}
	if len(sector) == 0 {
		return nil, fmt.Errorf("sector for %v is out of bounds", coord)
	}
	return sector, nil
}

func isRenderableStatus(status string) bool {
	switch status {
	case "minecraft:full", "full",
		"minecraft:spawn",
		"minecraft:postprocessed",
		"minecraft:fullchunk":
		return true
	}
	return false
}

// Chunk loads and decodes one chunk. Chunks that are missing or not fully
// generated yield ErrChunkAbsent.
func (s *AnvilSource) Chunk(coord ChunkCoord) (snap *ChunkSnapshot, err error) {
	sector, err := s.readSector(coord)
	if err != nil {
		return nil, err
	}

	// go-mc panics on malformed bit storage
	defer func() {
		if r := recover(); r != nil {
			snap = nil
			err = fmt.Errorf("corrupt chunk %v: %v", coord, r)
		}
	}()

	var chunk save.Chunk
	if err := chunk.Load(sector); err != nil {
		return nil, fmt.Errorf("failed to load chunk %v: %w", coord, err)
	}

	if !isRenderableStatus(chunk.Status) {
		return nil, fmt.Errorf("%w: %v has status %s", ErrChunkAbsent, coord, chunk.Status)
	}
	if int(chunk.XPos) != coord.X || int(chunk.ZPos) != coord.Z {
		s.warn.Do(func() {
			log.Printf("[anvil] chunk %v is stored as %d,%d", coord, chunk.XPos, chunk.ZPos)
		})
	}
	if len(chunk.Sections) == 0 {
		return nil, fmt.Errorf("%w: %v has no sections", ErrChunkAbsent, coord)
	}

	return s.snapshot(coord, &chunk)
}

func (s *AnvilSource) snapshot(coord ChunkCoord, chunk *save.Chunk) (*ChunkSnapshot, error) {
	lo, hi := int(chunk.Sections[0].Y), int(chunk.Sections[0].Y)
	for _, section := range chunk.Sections {
		if int(section.Y) < lo {
			lo = int(section.Y)
		}
		if int(section.Y) > hi {
			hi = int(section.Y)
		}
	}

	snap := &ChunkSnapshot{
		coord:    coord,
		minY:     lo * ChunkSize,
		sections: make([]snapshotSection, hi-lo+1),
	}
	for i := range chunk.Sections {
		section := &chunk.Sections[i]
		decoded, err := s.sections.decode(section)
		if err != nil {
			return nil, fmt.Errorf("chunk %v: %w", coord, err)
		}
		snap.sections[int(section.Y)-lo] = decoded
	}

	snap.computeHeights(seedHeights(snap, chunk))
	return snap, nil
}

// seedHeights copies the stored surface height map into the snapshot so the
// column scan can start at the top block instead of the top of the world.
func seedHeights(snap *ChunkSnapshot, chunk *save.Chunk) bool {
	data, ok := chunk.Heightmaps["WORLD_SURFACE"]
	if !ok || len(data) == 0 {
		return false
	}

	bitsForHeight := bits.Len(uint(len(snap.sections))*ChunkSize + 1)
	if calcBitsPerValue(columnCount, len(data)) != bitsForHeight {
		return false
	}
	heights := level.NewBitStorage(bitsForHeight, columnCount, data)

	for i := 0; i < columnCount; i++ {
		top := heights.Get(i) + snap.minY - 1
		if top > snap.MaxY() {
			top = snap.MaxY()
		}
		snap.surface[i] = int32(top)
	}
	return true
}

func (s *AnvilSource) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regions.Purge()
}
