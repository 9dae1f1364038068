package atlas

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultFlushInterval is how often dirty tiles are written back to disk.
const DefaultFlushInterval = 30 * time.Second

type CacheOpts struct {
	// FlushInterval is the minimum time between automatic flushes.
	FlushInterval time.Duration
	// FlushConcurrency bounds parallel PNG encodes during a flush.
	FlushConcurrency int
	// MaxResidentTiles bounds the number of tiles held in memory. Zero keeps
	// every tile until the cache is invalidated. When bounded, the least
	// recently used tile is written to disk before it is dropped.
	MaxResidentTiles int
}

// RegionImageCache holds region tiles in memory, tracks which ones have
// unflushed changes and persists them as PNG files under a world directory.
type RegionImageCache struct {
	root string
	opts CacheOpts
	now  func() time.Time

	mu       sync.Mutex
	tiles    map[TileKey]*RegionTile
	resident *lru.Cache[TileKey, *RegionTile]
	// evicted tiles whose write failed, kept until a flush succeeds
	pending  map[TileKey]*RegionTile
	dropping atomic.Bool

	flushLock sync.Mutex
	lastFlush atomic.Int64

	warn rate.Sometimes
}

func NewRegionImageCache(root string, opts CacheOpts) (*RegionImageCache, error) {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.FlushConcurrency <= 0 {
		opts.FlushConcurrency = runtime.GOMAXPROCS(0)
	}

	c := &RegionImageCache{
		root: root,
		opts: opts,
		now:  time.Now,
		warn: rate.Sometimes{First: 3, Interval: time.Minute},
	}

	if opts.MaxResidentTiles > 0 {
		resident, err := lru.NewWithEvict[TileKey, *RegionTile](opts.MaxResidentTiles, c.onEvict)
		if err != nil {
			return nil, err
		}
		c.resident = resident
		c.pending = make(map[TileKey]*RegionTile)
	} else {
		c.tiles = make(map[TileKey]*RegionTile)
	}

	c.lastFlush.Store(c.now().UnixNano())
	return c, nil
}

func (c *RegionImageCache) Root() string {
	return c.root
}

// onEvict runs with c.mu held.
func (c *RegionImageCache) onEvict(key TileKey, tile *RegionTile) {
	if c.dropping.Load() || !tile.Dirty() {
		return
	}
	if err := c.writeTile(tile); err != nil {
		log.Printf("[cache] failed to write evicted tile %v, keeping it for the next flush: %v", key, err)
		c.pending[key] = tile
	}
}

func (c *RegionImageCache) peek(key TileKey) (*RegionTile, bool) {
	if c.resident != nil {
		if t, ok := c.resident.Peek(key); ok {
			return t, ok
		}
		t, ok := c.pending[key]
		return t, ok
	}
	t, ok := c.tiles[key]
	return t, ok
}

func (c *RegionImageCache) get(key TileKey) (*RegionTile, bool) {
	if c.resident != nil {
		if t, ok := c.resident.Get(key); ok {
			return t, ok
		}
		t, ok := c.pending[key]
		if ok {
			delete(c.pending, key)
			c.resident.Add(key, t)
		}
		return t, ok
	}
	t, ok := c.tiles[key]
	return t, ok
}

func (c *RegionImageCache) add(tile *RegionTile) {
	if c.resident != nil {
		c.resident.Add(tile.key, tile)
		return
	}
	c.tiles[tile.key] = tile
}

func (c *RegionImageCache) all() []*RegionTile {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resident != nil {
		tiles := c.resident.Values()
		for _, t := range c.pending {
			tiles = append(tiles, t)
		}
		return tiles
	}
	tiles := make([]*RegionTile, 0, len(c.tiles))
	for _, t := range c.tiles {
		tiles = append(tiles, t)
	}
	return tiles
}

// Len returns the number of tiles held in memory.
func (c *RegionImageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resident != nil {
		return c.resident.Len() + len(c.pending)
	}
	return len(c.tiles)
}

// Tile returns a resident tile without loading it.
func (c *RegionImageCache) Tile(key TileKey) (*RegionTile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peek(key)
}

// GetOrCreate returns the resident tile for key, loading it from disk or
// allocating a blank one.
func (c *RegionImageCache) GetOrCreate(key TileKey) *RegionTile {
	c.mu.Lock()
	if t, ok := c.get(key); ok {
		c.mu.Unlock()
		return t
	}
	c.mu.Unlock()

	img := c.load(key)

	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.get(key); ok {
		return t
	}
	t := newRegionTile(key, img)
	c.add(t)
	return t
}

// load reads a tile image from disk. A missing, unreadable or wrongly sized
// file yields nil so the region is rendered again from scratch.
func (c *RegionImageCache) load(key TileKey) *image.NRGBA {
	path := key.Path(c.root)
	fd, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.warnf("[cache] failed to open tile %s: %v", path, err)
		}
		return nil
	}
	defer fd.Close()

	src, err := png.Decode(fd)
	if err != nil {
		c.warnf("[cache] ignoring corrupt tile %s: %v", path, err)
		return nil
	}
	if src.Bounds().Dx() != RegionBlocks || src.Bounds().Dy() != RegionBlocks {
		c.warnf("[cache] ignoring tile %s with size %v", path, src.Bounds().Size())
		return nil
	}

	if img, ok := src.(*image.NRGBA); ok && img.Rect.Min == (image.Point{}) {
		return img
	}
	img := image.NewNRGBA(image.Rect(0, 0, RegionBlocks, RegionBlocks))
	draw.Draw(img, img.Bounds(), src, src.Bounds().Min, draw.Src)
	return img
}

// WriteChunk copies a rendered chunk into the tile of its region.
func (c *RegionImageCache) WriteChunk(dimension int, variant MapVariant, coord ChunkCoord, img *image.NRGBA) error {
	key := TileKey{Dimension: dimension, Region: coord.Region(), Variant: variant}
	for {
		t := c.GetOrCreate(key)

		// hold the cache lock so the tile cannot be evicted between lookup
		// and copy
		c.mu.Lock()
		cur, ok := c.peek(key)
		if ok && cur == t {
			err := t.WriteChunk(coord, img, c.now())
			c.mu.Unlock()
			return err
		}
		c.mu.Unlock()
	}
}

func (c *RegionImageCache) warnf(format string, args ...interface{}) {
	c.warn.Do(func() {
		log.Printf(format, args...)
	})
}

// writeTile encodes a tile to a temporary file and renames it into place.
func (c *RegionImageCache) writeTile(t *RegionTile) error {
	img, version := t.Image()
	path := t.key.Path(c.root)

	err := os.MkdirAll(filepath.Dir(path), os.ModePerm)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tile-*.png")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}

	t.markFlushed(version, c.now())
	return nil
}

// FlushToDisk writes every dirty tile, or every tile when force is set. A
// tile that fails to write stays dirty and is retried on the next flush; the
// failures are logged and the count of written tiles is returned.
func (c *RegionImageCache) FlushToDisk(force bool) int {
	c.flushLock.Lock()
	defer c.flushLock.Unlock()

	var written, failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(c.opts.FlushConcurrency)

	for _, t := range c.all() {
		if !force && !t.Dirty() {
			continue
		}
		t := t
		g.Go(func() error {
			if err := c.writeTile(t); err != nil {
				failed.Add(1)
				c.warnf("[cache] failed to flush tile %v: %v", t.key, err)
				return err
			}
			written.Add(1)
			return nil
		})
	}
	g.Wait()

	if n := failed.Load(); n > 0 {
		log.Printf("[cache] %d tiles failed to flush and remain dirty", n)
	}
	c.dropFlushedPending()
	c.lastFlush.Store(c.now().UnixNano())
	return int(written.Load())
}

func (c *RegionImageCache) dropFlushedPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, t := range c.pending {
		if !t.Dirty() {
			delete(c.pending, key)
		}
	}
}

// MaybeFlush flushes dirty tiles if the flush interval has elapsed since the
// last flush. It reports whether a flush ran.
func (c *RegionImageCache) MaybeFlush() bool {
	last := time.Unix(0, c.lastFlush.Load())
	if c.now().Sub(last) < c.opts.FlushInterval {
		return false
	}
	c.FlushToDisk(false)
	return true
}

func (c *RegionImageCache) LastFlush() time.Time {
	return time.Unix(0, c.lastFlush.Load())
}

// DirtyCount returns the number of resident tiles with unflushed changes.
func (c *RegionImageCache) DirtyCount() int {
	n := 0
	for _, t := range c.all() {
		if t.Dirty() {
			n++
		}
	}
	return n
}

// ChangedSince lists the regions of a dimension and variant written after t.
// Tiles that already left the cache are not included.
func (c *RegionImageCache) ChangedSince(dimension int, variant MapVariant, t time.Time) []RegionCoord {
	var regions []RegionCoord
	for _, tile := range c.all() {
		if tile.key.Dimension == dimension && tile.key.Variant == variant && tile.LastWrite().After(t) {
			regions = append(regions, tile.key.Region)
		}
	}
	return regions
}

// InvalidateAll drops every resident tile without writing it.
func (c *RegionImageCache) InvalidateAll() {
	c.invalidate(func(TileKey) bool { return true })
}

func (c *RegionImageCache) invalidate(match func(TileKey) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dropping.Store(true)
	defer c.dropping.Store(false)

	if c.resident != nil {
		for _, key := range c.resident.Keys() {
			if match(key) {
				c.resident.Remove(key)
			}
		}
		for key := range c.pending {
			if match(key) {
				delete(c.pending, key)
			}
		}
		return
	}
	for key := range c.tiles {
		if match(key) {
			delete(c.tiles, key)
		}
	}
}

// DeleteResult reports the outcome of deleting each dimension directory.
type DeleteResult struct {
	Dirs map[string]error
}

// OK reports whether every directory was removed.
func (r DeleteResult) OK() bool {
	for _, err := range r.Dirs {
		if err != nil {
			return false
		}
	}
	return true
}

// Failed lists the directories that could not be removed.
func (r DeleteResult) Failed() []string {
	var failed []string
	for dir, err := range r.Dirs {
		if err != nil {
			failed = append(failed, dir)
		}
	}
	return failed
}

// DeleteMap drops the cached tiles of a dimension, or of every dimension, and
// removes their image directories. Callers must make sure no task is writing
// to the cache while this runs.
func (c *RegionImageCache) DeleteMap(dimension int, allDimensions bool) DeleteResult {
	result := DeleteResult{Dirs: map[string]error{}}

	var dirs []string
	if allDimensions {
		c.InvalidateAll()
		entries, err := os.ReadDir(c.root)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			result.Dirs[c.root] = err
			return result
		}
		for _, e := range entries {
			if e.IsDir() && strings.HasPrefix(e.Name(), "DIM") {
				dirs = append(dirs, filepath.Join(c.root, e.Name()))
			}
		}
	} else {
		c.invalidate(func(k TileKey) bool { return k.Dimension == dimension })
		dirs = []string{DimensionDir(c.root, dimension)}
	}

	c.flushLock.Lock()
	defer c.flushLock.Unlock()
	for _, dir := range dirs {
		err := os.RemoveAll(dir)
		if err == nil {
			if _, statErr := os.Stat(dir); statErr == nil {
				err = fmt.Errorf("%s still exists", dir)
			}
		}
		result.Dirs[dir] = err
		log.Printf("[cache] deleted image directory %s: %v", dir, err == nil)
	}
	return result
}

// TileForDisplay returns read-only pixels of a region scaled down by 2^zoom.
// Resident tiles are served from memory, others straight from disk without
// being made resident.
func (c *RegionImageCache) TileForDisplay(key TileKey, zoom int) (*image.NRGBA, bool) {
	c.mu.Lock()
	t, ok := c.peek(key)
	c.mu.Unlock()
	if ok {
		return t.Display(zoom), true
	}

	img := c.load(key)
	if img == nil {
		return nil, false
	}
	if zoom < 0 {
		zoom = 0
	} else if zoom > MaxZoom {
		zoom = MaxZoom
	}
	return scaleTile(img, zoom), true
}

// HasTile reports whether a tile image exists on disk.
func (c *RegionImageCache) HasTile(key TileKey) bool {
	_, err := os.Stat(key.Path(c.root))
	return err == nil
}

// StoredRegions lists the regions of a dimension and variant that have a
// tile on disk or resident in memory.
func (c *RegionImageCache) StoredRegions(dimension int, variant MapVariant) ([]RegionCoord, error) {
	seen := map[RegionCoord]struct{}{}

	dir := filepath.Join(DimensionDir(c.root, dimension), variant.DirName())
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	for _, e := range entries {
		var r RegionCoord
		if _, err := fmt.Sscanf(e.Name(), "%d,%d.png", &r.X, &r.Z); err != nil {
			continue
		}
		seen[r] = struct{}{}
	}

	for _, t := range c.all() {
		if t.key.Dimension == dimension && t.key.Variant == variant {
			seen[t.key.Region] = struct{}{}
		}
	}

	regions := make([]RegionCoord, 0, len(seen))
	for r := range seen {
		regions = append(regions, r)
	}
	sort.Slice(regions, func(i, j int) bool {
		if regions[i].Z != regions[j].Z {
			return regions[i].Z < regions[j].Z
		}
		return regions[i].X < regions[j].X
	})
	return regions, nil
}
