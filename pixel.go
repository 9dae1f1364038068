package atlas

import (
	"fmt"
	"image"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RenderOptions toggles optional parts of the surface pass.
type RenderOptions struct {
	// Bathymetry renders the floor under water, tinted by the water above it.
	Bathymetry bool
	// Plants and Crops render those blocks instead of looking through them.
	Plants bool
	Crops  bool
	// PlantShadows lets plants raise the shading height of their column and
	// cast shadows when they are not rendered themselves.
	PlantShadows bool
	// Antialiasing adds a second, wider slope sample.
	Antialiasing bool
}

// Neighbors gives the renderer access to already-loaded chunks adjacent to the
// one being rendered. A nil snapshot means the neighbor is absent.
type Neighbors interface {
	Neighbor(dir Direction) *ChunkSnapshot
}

// ChunkRenderer turns a chunk snapshot into a ChunkSize x ChunkSize image. It
// never mutates the snapshot and never touches the cache or disk, so a single
// renderer may be shared between goroutines.
type ChunkRenderer struct {
	sync.Mutex

	colorizer Colorizer
	opts      RenderOptions
	topo      *TopoPalette

	badBlocks          atomic.Uint64
	missingBlockStates map[string]struct{}
	warn               rate.Sometimes
}

func NewChunkRenderer(colorizer Colorizer, opts RenderOptions, topo *TopoPalette) *ChunkRenderer {
	if topo == nil {
		topo = DefaultTopoPalette()
	}
	return &ChunkRenderer{
		colorizer:          colorizer,
		opts:               opts,
		topo:               topo,
		missingBlockStates: make(map[string]struct{}),
		warn:               rate.Sometimes{First: 5, Interval: 30 * time.Second},
	}
}

func (c *ChunkRenderer) Options() RenderOptions {
	return c.opts
}

// RenderChunk renders a single variant of a chunk. Colorization failures are
// painted with ColorError and counted; only a panic inside the render pass
// produces an error.
func (c *ChunkRenderer) RenderChunk(snap *ChunkSnapshot, neighbors Neighbors, variant MapVariant) (img *image.NRGBA, err error) {
	defer func() {
		if r := recover(); r != nil {
			img = nil
			err = fmt.Errorf("render %v %v: %v", snap.Coord(), variant, r)
		}
	}()

	pass := c.newPass(snap, neighbors, variant)
	switch variant.Kind {
	case VariantDay:
		img, _ = pass.surface(false)
	case VariantNight:
		_, img = pass.surface(true)
	case VariantUnderground:
		img = pass.underground()
	case VariantTopo:
		img = pass.topography()
	default:
		return nil, fmt.Errorf("unsupported map variant %v", variant)
	}
	return img, nil
}

// RenderSurface renders the day and night variants in one pass.
func (c *ChunkRenderer) RenderSurface(snap *ChunkSnapshot, neighbors Neighbors) (day, night *image.NRGBA, err error) {
	defer func() {
		if r := recover(); r != nil {
			day, night = nil, nil
			err = fmt.Errorf("render %v surface: %v", snap.Coord(), r)
		}
	}()

	day, night = c.newPass(snap, neighbors, Day()).surface(true)
	return day, night, nil
}

// BadBlocks returns the number of pixels painted with ColorError so far.
func (c *ChunkRenderer) BadBlocks() uint64 {
	return c.badBlocks.Load()
}

// GetMissingBlockStates returns the blocks the colorizer failed on, sorted.
func (c *ChunkRenderer) GetMissingBlockStates() []string {
	c.Lock()
	defer c.Unlock()
	result := make([]string, 0, len(c.missingBlockStates))
	for k := range c.missingBlockStates {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}

func (c *ChunkRenderer) recordBadBlock(block BlockRef, err error) {
	count := c.badBlocks.Add(1)

	c.Lock()
	_, seen := c.missingBlockStates[block.Key()]
	if !seen {
		c.missingBlockStates[block.Key()] = struct{}{}
	}
	c.Unlock()

	if !seen {
		c.warn.Do(func() {
			log.Printf("[renderer] failed to colorize %s (%d bad blocks so far): %v", block, count, err)
		})
	}
}

type colorKey struct {
	block BlockRef
	biome string
}

type colorResult struct {
	color RGB
	flags Flags
	err   error
}

// renderPass holds the per-chunk memo of colors and column heights. It lives
// for a single RenderChunk call.
type renderPass struct {
	r         *ChunkRenderer
	snap      *ChunkSnapshot
	neighbors Neighbors
	variant   MapVariant

	colors  map[colorKey]colorResult
	columns map[ChunkCoord]*[columnCount]column
}

func (c *ChunkRenderer) newPass(snap *ChunkSnapshot, neighbors Neighbors, variant MapVariant) *renderPass {
	return &renderPass{
		r:         c,
		snap:      snap,
		neighbors: neighbors,
		variant:   variant,
		colors:    make(map[colorKey]colorResult),
		columns:   make(map[ChunkCoord]*[columnCount]column),
	}
}

func (p *renderPass) colorOf(snap *ChunkSnapshot, x, y, z int) (BlockRef, colorResult) {
	block := snap.Block(x, y, z)
	key := colorKey{block: block, biome: snap.Biome(x, y, z)}
	if res, ok := p.colors[key]; ok {
		return block, res
	}

	var res colorResult
	res.color, res.flags, res.err = p.r.colorizer.ColorFor(block, key.biome, snap.WorldPos(x, y, z))
	if res.err == nil && res.flags.Has(Error) {
		res.err = fmt.Errorf("%w: %s", ErrUnknownBlock, block)
	}
	p.colors[key] = res
	return block, res
}

func (p *renderPass) flagsOf(snap *ChunkSnapshot, x, y, z int) Flags {
	_, res := p.colorOf(snap, x, y, z)
	return res.flags
}

func newChunkImage() *image.NRGBA {
	return image.NewNRGBA(image.Rect(0, 0, ChunkSize, ChunkSize))
}

func paint(img *image.NRGBA, x, z int, c RGB) {
	if img == nil {
		return
	}
	img.SetNRGBA(x, z, c.NRGBA())
}

// surface renders the day image, and the night image when night is set.
func (p *renderPass) surface(night bool) (*image.NRGBA, *image.NRGBA) {
	dayImg := newChunkImage()
	var nightImg *image.NRGBA
	if night {
		nightImg = newChunkImage()
	}

	for z := 0; z < ChunkSize; z++ {
		for x := 0; x < ChunkSize; x++ {
			col := p.column(p.snap, x, z)
			switch col.kind {
			case columnVoid:
				paint(dayImg, x, z, ColorVoid)
				paint(nightImg, x, z, ColorVoid)
				continue
			case columnSolid:
				paint(dayImg, x, z, ColorBlack)
				paint(nightImg, x, z, ColorBlack)
				continue
			}

			day, ok := p.columnColor(col, x, z)
			if !ok {
				paint(dayImg, x, z, ColorError)
				paint(nightImg, x, z, ColorError)
				continue
			}
			paint(dayImg, x, z, day)
			if night {
				paint(nightImg, x, z, nightColor(day))
			}
		}
	}
	return dayImg, nightImg
}

func (p *renderPass) underground() *image.NRGBA {
	img := newChunkImage()
	for z := 0; z < ChunkSize; z++ {
		for x := 0; x < ChunkSize; x++ {
			col := p.column(p.snap, x, z)
			switch col.kind {
			case columnVoid:
				paint(img, x, z, ColorVoid)
				continue
			case columnSolid:
				paint(img, x, z, ColorBlack)
				continue
			}

			c, ok := p.columnColor(col, x, z)
			if !ok {
				paint(img, x, z, ColorError)
				continue
			}
			paint(img, x, z, caveColor(c))
		}
	}
	return img
}

func (p *renderPass) topography() *image.NRGBA {
	img := newChunkImage()
	for z := 0; z < ChunkSize; z++ {
		for x := 0; x < ChunkSize; x++ {
			col := p.column(p.snap, x, z)
			if col.kind != columnBlock {
				paint(img, x, z, ColorVoid)
				continue
			}
			if col.flags.Has(Water) {
				paint(img, x, z, p.r.topo.Water)
				continue
			}

			c := p.r.topo.ColorFor(col.height)
			if p.isContour(x, z, col.height) {
				c = p.r.topo.Contour(c)
			}
			paint(img, x, z, c)
		}
	}
	return img
}

// columnColor resolves the final color of a rendered column before any
// variant-specific lighting.
func (p *renderPass) columnColor(col column, x, z int) (RGB, bool) {
	block, res := p.colorOf(p.snap, x, col.colorY, z)
	if res.err != nil {
		p.r.recordBadBlock(block, res.err)
		return ColorError, false
	}
	c := res.color

	switch {
	case col.waterTop > col.colorY:
		waterBlock, water := p.colorOf(p.snap, x, col.waterTop, z)
		if water.err != nil {
			p.r.recordBadBlock(waterBlock, water.err)
			return ColorError, false
		}
		c = bathymetryColor(c, water.color, col.waterTop-col.colorY)
	case res.flags.Has(Water):
		c = waterDepthColor(c, col.colorY-p.snap.OceanFloorAt(x, z))
	}

	if !res.flags.Has(NoShadow) || (res.flags.Has(Water) && p.r.opts.Bathymetry) || col.waterTop > col.colorY {
		c = c.BevelSlope(p.slope(x, z, col))
	}

	if col.shadowed {
		c = shadowColor(c)
	}
	return c, true
}
