package atlas

import (
	"fmt"
	"image"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/image/draw"
)

// TileKey identifies one region image on disk and in the cache.
type TileKey struct {
	Dimension int
	Region    RegionCoord
	Variant   MapVariant
}

func (k TileKey) String() string {
	return fmt.Sprintf("DIM%d/%s/%d,%d", k.Dimension, k.Variant.DirName(), k.Region.X, k.Region.Z)
}

// DimensionDir returns the directory holding every variant of a dimension.
func DimensionDir(root string, dimension int) string {
	return filepath.Join(root, fmt.Sprintf("DIM%d", dimension))
}

// Path returns the image file for the key under a world directory.
func (k TileKey) Path(root string) string {
	return filepath.Join(DimensionDir(root, k.Dimension), k.Variant.DirName(), fmt.Sprintf("%d,%d.png", k.Region.X, k.Region.Z))
}

// MaxZoom is the deepest display mip level; level n is RegionBlocks>>n wide.
const MaxZoom = 4

// RegionTile is the in-memory image of one region for one variant. Chunk
// writes copy a whole chunk under the write lock, so readers see either all
// or none of a chunk's pixels.
type RegionTile struct {
	key TileKey

	mu        sync.RWMutex
	img       *image.NRGBA
	dirty     bool
	version   uint64
	lastWrite time.Time
	lastFlush time.Time

	mipLock    sync.Mutex
	mipVersion uint64
	mips       map[int]*image.NRGBA
}

func newRegionTile(key TileKey, img *image.NRGBA) *RegionTile {
	if img == nil {
		img = image.NewNRGBA(image.Rect(0, 0, RegionBlocks, RegionBlocks))
	}
	return &RegionTile{
		key: key,
		img: img,
	}
}

func (t *RegionTile) Key() TileKey { return t.key }

// WriteChunk copies a chunk image into the tile at the chunk's offset.
func (t *RegionTile) WriteChunk(coord ChunkCoord, src *image.NRGBA, now time.Time) error {
	if coord.Region() != t.key.Region {
		return fmt.Errorf("%v is not in %v", coord, t.key.Region)
	}
	if src.Bounds().Dx() != ChunkSize || src.Bounds().Dy() != ChunkSize {
		return fmt.Errorf("chunk image for %v is %dx%d", coord, src.Bounds().Dx(), src.Bounds().Dy())
	}

	ox, oz := coord.OffsetInRegion()

	t.mu.Lock()
	defer t.mu.Unlock()
	for z := 0; z < ChunkSize; z++ {
		so := src.PixOffset(src.Rect.Min.X, src.Rect.Min.Y+z)
		do := t.img.PixOffset(ox, oz+z)
		copy(t.img.Pix[do:do+ChunkSize*4], src.Pix[so:so+ChunkSize*4])
	}
	t.dirty = true
	t.version++
	t.lastWrite = now
	return nil
}

// Image returns a copy of the tile pixels and the version they were taken at.
func (t *RegionTile) Image() (*image.NRGBA, uint64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	img := image.NewNRGBA(t.img.Rect)
	copy(img.Pix, t.img.Pix)
	return img, t.version
}

// Chunk returns a copy of a single chunk's pixels.
func (t *RegionTile) Chunk(coord ChunkCoord) *image.NRGBA {
	ox, oz := coord.OffsetInRegion()
	img := newChunkImage()

	t.mu.RLock()
	defer t.mu.RUnlock()
	for z := 0; z < ChunkSize; z++ {
		so := t.img.PixOffset(ox, oz+z)
		copy(img.Pix[z*img.Stride:z*img.Stride+ChunkSize*4], t.img.Pix[so:so+ChunkSize*4])
	}
	return img
}

func (t *RegionTile) Dirty() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dirty
}

func (t *RegionTile) LastWrite() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastWrite
}

func (t *RegionTile) LastFlush() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastFlush
}

// markFlushed clears the dirty flag unless the tile was written again after
// the flushed copy was taken.
func (t *RegionTile) markFlushed(version uint64, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastFlush = now
	if t.version == version {
		t.dirty = false
	}
}

// Display returns the tile scaled down by 2^zoom. Scaled copies are cached
// until the tile changes.
func (t *RegionTile) Display(zoom int) *image.NRGBA {
	if zoom < 0 {
		zoom = 0
	} else if zoom > MaxZoom {
		zoom = MaxZoom
	}

	t.mipLock.Lock()
	defer t.mipLock.Unlock()

	t.mu.RLock()
	version := t.version
	t.mu.RUnlock()

	if t.mips != nil && t.mipVersion == version {
		if img, ok := t.mips[zoom]; ok {
			return img
		}
	} else {
		t.mips = make(map[int]*image.NRGBA)
		t.mipVersion = version
	}

	full, _ := t.Image()
	img := scaleTile(full, zoom)
	t.mips[zoom] = img
	return img
}

func scaleTile(full *image.NRGBA, zoom int) *image.NRGBA {
	if zoom == 0 {
		return full
	}
	size := RegionBlocks >> zoom
	dst := image.NewNRGBA(image.Rect(0, 0, size, size))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), full, full.Bounds(), draw.Src, nil)
	return dst
}
