package atlas

import "math"

// Direction names a chunk adjacent to the one being rendered. Slope shading
// only ever samples blocks to the north and west.
type Direction uint8

const (
	North Direction = iota
	West
	NorthWest
)

func (d Direction) Offset() (int, int) {
	switch d {
	case North:
		return 0, -1
	case West:
		return -1, 0
	}
	return -1, -1
}

func (d Direction) String() string {
	switch d {
	case North:
		return "north"
	case West:
		return "west"
	}
	return "northwest"
}

func directionOf(dx, dz int) Direction {
	switch {
	case dx == 0:
		return North
	case dz == 0:
		return West
	}
	return NorthWest
}

const (
	slopeMin                 = 0.2
	slopeMax                 = 1.7
	primaryDownslopeFactor   = .65
	primaryUpslopeFactor     = 1.20
	secondaryDownslopeFactor = .95
	secondaryUpslopeFactor   = 1.05

	noWater = math.MinInt32
)

type blockOffset struct{ x, z int }

var (
	primarySlopeOffsets = []blockOffset{
		{0, -1},  // north
		{-1, -1}, // north-west
		{-1, 0},  // west
	}
	secondarySlopeOffsets = []blockOffset{
		{-1, -2},
		{-2, -1},
		{-2, -2},
		{-2, 0},
		{0, -2},
	}
)

type columnKind uint8

const (
	columnBlock columnKind = iota
	// columnVoid has nothing to render: no blocks, or nothing inside the slice.
	columnVoid
	// columnSolid is unbroken rock across an underground slice.
	columnSolid
)

// column is the result of walking down a block column.
type column struct {
	kind columnKind
	// colorY is the block that provides the color.
	colorY int
	// height is used for slope shading and may sit one below colorY for
	// blocks that do not cast shadows.
	height   int
	waterTop int
	flags    Flags
	shadowed bool
}

// column returns the memoized walk result for a column of snap, which is
// either the chunk being rendered or one of its neighbors.
func (p *renderPass) column(snap *ChunkSnapshot, x, z int) column {
	cols, ok := p.columns[snap.Coord()]
	if !ok {
		cols = new([columnCount]column)
		for i := range cols {
			cols[i].kind = 0xff
		}
		p.columns[snap.Coord()] = cols
	}

	i := z*ChunkSize + x
	if cols[i].kind == 0xff {
		if p.variant.IsUnderground() {
			cols[i] = p.walkUnderground(snap, x, z)
		} else {
			cols[i] = p.walkSurface(snap, x, z)
		}
	}
	return cols[i]
}

func (p *renderPass) see(f Flags) bool {
	return f.Has(Ignore) || f == OpenToSky
}

func (p *renderPass) castsShadow(f Flags) bool {
	if p.see(f) || f.Has(NoShadow) {
		return false
	}
	if f.Any(Plant | Crop) {
		return p.r.opts.PlantShadows
	}
	return true
}

// walkDown finds the top renderable block between from and to inclusive.
func (p *renderPass) walkDown(snap *ChunkSnapshot, x, z, from, to int, bathymetry bool) (column, bool) {
	topo := p.variant.Kind == VariantTopo
	opts := p.r.opts
	col := column{waterTop: noWater}

	for y := from; y >= to; y-- {
		f := p.flagsOf(snap, x, y, z)
		switch {
		case p.see(f):
			continue
		case f.Has(Water):
			if !bathymetry {
				return p.found(col, y, y, f), true
			}
			if col.waterTop == noWater {
				col.waterTop = y
			}
			continue
		case f.Any(Plant | Crop):
			enabled := (f.Has(Plant) && opts.Plants) || (f.Has(Crop) && opts.Crops)
			if topo || !enabled {
				continue
			}
			height := y - 1
			if opts.PlantShadows {
				height = y
			}
			return p.found(col, y, height, f), true
		case f.Has(NoShadow):
			return p.found(col, y, y-1, f), true
		default:
			return p.found(col, y, y, f), true
		}
	}

	// water all the way down
	if col.waterTop != noWater {
		y := col.waterTop
		return p.found(column{waterTop: noWater}, y, y, p.flagsOf(snap, x, y, z)), true
	}
	return column{kind: columnVoid, height: to - 1, waterTop: noWater}, false
}

func (p *renderPass) found(col column, colorY, height int, f Flags) column {
	col.kind = columnBlock
	col.colorY = colorY
	col.height = height
	col.flags = f
	return col
}

// shade marks the column shadowed if anything between the rendered block and
// top casts a shadow.
func (p *renderPass) shade(snap *ChunkSnapshot, x, z, top int, col column) column {
	if p.variant.Kind == VariantTopo {
		return col
	}
	for y := col.colorY + 1; y <= top; y++ {
		if col.waterTop != noWater && y <= col.waterTop {
			continue
		}
		if p.castsShadow(p.flagsOf(snap, x, y, z)) {
			col.shadowed = true
			break
		}
	}
	return col
}

func (p *renderPass) walkSurface(snap *ChunkSnapshot, x, z int) column {
	top := snap.HeightAt(x, z)
	if top < snap.MinY() {
		return column{kind: columnVoid, height: snap.MinY() - 1, waterTop: noWater}
	}

	bathymetry := p.r.opts.Bathymetry && p.variant.Kind != VariantTopo
	col, ok := p.walkDown(snap, x, z, top, snap.MinY(), bathymetry)
	if !ok {
		return col
	}
	return p.shade(snap, x, z, top, col)
}

// walkUnderground strips the ceiling above the slice and renders the first
// floor found inside it.
func (p *renderPass) walkUnderground(snap *ChunkSnapshot, x, z int) column {
	sliceMin, sliceMax := p.variant.SliceBounds()
	top := snap.HeightAt(x, z)
	if top < snap.MinY() || top < sliceMin {
		return column{kind: columnVoid, height: snap.MinY() - 1, waterTop: noWater}
	}

	y := sliceMax
	if top < y {
		y = top
	}
	for ; y >= sliceMin; y-- {
		if p.see(p.flagsOf(snap, x, y, z)) {
			break
		}
		if y == top {
			// open to the sky inside the slice, no ceiling to strip
			break
		}
	}
	if y < sliceMin {
		return column{kind: columnSolid, height: sliceMax, waterTop: noWater}
	}
	gapTop := y

	col, ok := p.walkDown(snap, x, z, gapTop, sliceMin, false)
	if !ok {
		return column{kind: columnSolid, height: sliceMin, waterTop: noWater}
	}
	return p.shade(snap, x, z, gapTop, col)
}

// heightAt returns the shading height at chunk-local block coordinates that
// may fall into a neighboring chunk.
func (p *renderPass) heightAt(bx, bz int) (int, bool) {
	snap := p.snap
	if bx < 0 || bz < 0 {
		if p.neighbors == nil {
			return 0, false
		}
		dx, dz := 0, 0
		if bx < 0 {
			dx = -1
		}
		if bz < 0 {
			dz = -1
		}
		snap = p.neighbors.Neighbor(directionOf(dx, dz))
		if snap == nil {
			return 0, false
		}
	}

	col := p.column(snap, bx&(ChunkSize-1), bz&(ChunkSize-1))
	if col.kind == columnVoid {
		return 0, false
	}
	return col.height, true
}

func (p *renderPass) relativeHeight(y int) float64 {
	return float64(y - p.snap.MinY() + 1)
}

func (p *renderPass) averageSlope(x, z int, h float64, offsets []blockOffset) float64 {
	var sum float64
	for _, o := range offsets {
		nh := h
		if y, ok := p.heightAt(x+o.x, z+o.z); ok {
			nh = p.relativeHeight(y)
		}
		if nh <= 0 {
			nh = h
		}
		sum += h / nh
	}
	return sum / float64(len(offsets))
}

// slope compares a column to its north and west neighbors. Anything lower
// than its neighbors is darkened, anything higher is lightened.
func (p *renderPass) slope(x, z int, col column) float64 {
	h := p.relativeHeight(col.height)
	if h <= 0 {
		return 1
	}

	primary := p.averageSlope(x, z, h, primarySlopeOffsets)
	slope := primary
	if primary < 1 {
		slope *= primaryDownslopeFactor
	} else if primary > 1 {
		slope *= primaryUpslopeFactor
	}

	if p.r.opts.Antialiasing {
		secondary := p.averageSlope(x, z, h, secondarySlopeOffsets)
		if secondary > primary {
			slope *= secondaryUpslopeFactor
		} else if secondary < primary {
			slope *= secondaryDownslopeFactor
		}
	}

	if math.IsNaN(slope) {
		return 1
	}
	return clamp(slope, slopeMin, slopeMax)
}

// isContour reports whether a topographic band boundary runs along the north
// or west edge of the column.
func (p *renderPass) isContour(x, z, height int) bool {
	band := p.r.topo.Band(height)
	for _, o := range []blockOffset{{0, -1}, {-1, 0}} {
		if y, ok := p.heightAt(x+o.x, z+o.z); ok && p.r.topo.Band(y) != band {
			return true
		}
	}
	return false
}
