package atlas

import (
	"sort"
	"strings"
)

const (
	sectionVolume = ChunkSize * ChunkSize * ChunkSize
	biomeVolume   = 4 * 4 * 4
	columnCount   = ChunkSize * ChunkSize
)

// BlockRef identifies a block type and its state properties. State is the
// canonical "key=value,key=value" form with keys sorted, so two refs with the
// same properties compare equal.
type BlockRef struct {
	Name  string
	State string
}

// Key returns the identity used for memoizing per-block-type data.
func (b BlockRef) Key() string {
	if b.State == "" {
		return b.Name
	}
	return b.Name + "[" + b.State + "]"
}

func (b BlockRef) String() string {
	return b.Key()
}

// Properties parses State back into a map.
func (b BlockRef) Properties() map[string]string {
	props := map[string]string{}
	if b.State == "" {
		return props
	}
	for _, part := range strings.Split(b.State, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		props[k] = v
	}
	return props
}

// CanonicalState renders a property map in BlockRef.State form.
func CanonicalState(props map[string]string) string {
	if len(props) == 0 {
		return ""
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(props[k])
	}
	return sb.String()
}

var airNames = map[string]struct{}{
	"":                         {},
	"minecraft:air":            {},
	"minecraft:cave_air":       {},
	"minecraft:void_air":       {},
	"minecraft:structure_void": {},
}

// IsAir reports whether the block is one of the air variants.
func (b BlockRef) IsAir() bool {
	_, ok := airNames[b.Name]
	return ok
}

// BlockPos is an absolute block position in the world.
type BlockPos struct {
	X, Y, Z int
}

type snapshotSection struct {
	blocks   []BlockRef
	indices  []uint16
	biomes   []string
	biomeIdx []uint8
}

func (s *snapshotSection) block(x, y, z int) BlockRef {
	if len(s.blocks) == 0 {
		return BlockRef{}
	}
	if s.indices == nil {
		return s.blocks[0]
	}
	return s.blocks[s.indices[(y*ChunkSize+z)*ChunkSize+x]]
}

func (s *snapshotSection) biome(x, y, z int) string {
	if len(s.biomes) == 0 {
		return ""
	}
	if s.biomeIdx == nil {
		return s.biomes[0]
	}
	return s.biomes[s.biomeIdx[((y>>2)*4+(z>>2))*4+(x>>2)]]
}

// ChunkSnapshot is an immutable copy of the block, biome and height data of a
// single chunk. It is safe to share between goroutines.
type ChunkSnapshot struct {
	coord    ChunkCoord
	minY     int
	sections []snapshotSection

	surface    [columnCount]int32
	oceanFloor [columnCount]int32
}

func (c *ChunkSnapshot) Coord() ChunkCoord { return c.coord }

// MinY is the lowest block Y stored in the snapshot.
func (c *ChunkSnapshot) MinY() int { return c.minY }

// MaxY is the highest block Y stored in the snapshot.
func (c *ChunkSnapshot) MaxY() int { return c.minY + len(c.sections)*ChunkSize - 1 }

// Block returns the block at chunk-local x, z and absolute y. Positions outside
// the stored sections are air.
func (c *ChunkSnapshot) Block(x, y, z int) BlockRef {
	idx := (y - c.minY) >> 4
	if idx < 0 || idx >= len(c.sections) {
		return BlockRef{}
	}
	return c.sections[idx].block(x, (y-c.minY)&15, z)
}

// Biome returns the biome name sampled at chunk-local x, z and absolute y.
func (c *ChunkSnapshot) Biome(x, y, z int) string {
	idx := (y - c.minY) >> 4
	if idx < 0 {
		idx = 0
	} else if idx >= len(c.sections) {
		idx = len(c.sections) - 1
	}
	if idx < 0 {
		return ""
	}
	return c.sections[idx].biome(x, (y-c.minY)&15, z)
}

// HeightAt returns the Y of the highest non-air block in the column, or
// MinY()-1 when the column is empty.
func (c *ChunkSnapshot) HeightAt(x, z int) int {
	return int(c.surface[z*ChunkSize+x])
}

// OceanFloorAt returns the Y of the highest block that is neither air nor water.
func (c *ChunkSnapshot) OceanFloorAt(x, z int) int {
	return int(c.oceanFloor[z*ChunkSize+x])
}

// WorldPos converts chunk-local column coordinates into an absolute position.
func (c *ChunkSnapshot) WorldPos(x, y, z int) BlockPos {
	return BlockPos{X: c.coord.X*ChunkSize + x, Y: y, Z: c.coord.Z*ChunkSize + z}
}

func isWaterName(name string) bool {
	return name == "minecraft:water" || name == "minecraft:bubble_column"
}

// computeHeights fills any column heights that were not seeded from stored
// height maps by scanning each column from the top.
func (c *ChunkSnapshot) computeHeights(seeded bool) {
	for z := 0; z < ChunkSize; z++ {
		for x := 0; x < ChunkSize; x++ {
			i := z*ChunkSize + x
			top := c.minY - 1
			start := c.MaxY()
			if seeded {
				start = int(c.surface[i])
			}
			for y := start; y >= c.minY; y-- {
				if !c.Block(x, y, z).IsAir() {
					top = y
					break
				}
			}
			c.surface[i] = int32(top)

			floor := c.minY - 1
			for y := top; y >= c.minY; y-- {
				b := c.Block(x, y, z)
				if !b.IsAir() && !isWaterName(b.Name) {
					floor = y
					break
				}
			}
			c.oceanFloor[i] = int32(floor)
		}
	}
}

// SnapshotBuilder assembles a ChunkSnapshot block by block. It is used by
// chunk sources that do not hold paletted section data, and by tests.
type SnapshotBuilder struct {
	coord  ChunkCoord
	minY   int
	blocks [][]BlockRef
	biomes []string
	biome  map[int]string
}

// NewSnapshotBuilder creates a builder for a chunk spanning height blocks
// starting at minY. Height is rounded up to whole sections.
func NewSnapshotBuilder(coord ChunkCoord, minY, height int) *SnapshotBuilder {
	sections := (height + ChunkSize - 1) / ChunkSize
	blocks := make([][]BlockRef, sections)
	for i := range blocks {
		blocks[i] = make([]BlockRef, sectionVolume)
	}
	return &SnapshotBuilder{
		coord:  coord,
		minY:   minY,
		blocks: blocks,
		biome:  make(map[int]string),
	}
}

func (b *SnapshotBuilder) SetBlock(x, y, z int, ref BlockRef) *SnapshotBuilder {
	idx := (y - b.minY) >> 4
	if idx < 0 || idx >= len(b.blocks) {
		return b
	}
	ly := (y - b.minY) & 15
	b.blocks[idx][(ly*ChunkSize+z)*ChunkSize+x] = ref
	return b
}

// FillColumn sets every block in the column from minY up to and including top.
func (b *SnapshotBuilder) FillColumn(x, z, top int, ref BlockRef) *SnapshotBuilder {
	for y := b.minY; y <= top; y++ {
		b.SetBlock(x, y, z, ref)
	}
	return b
}

// FillLayer sets the block at y for every column of the chunk.
func (b *SnapshotBuilder) FillLayer(y int, ref BlockRef) *SnapshotBuilder {
	for z := 0; z < ChunkSize; z++ {
		for x := 0; x < ChunkSize; x++ {
			b.SetBlock(x, y, z, ref)
		}
	}
	return b
}

// SetBiome sets the biome for the whole chunk.
func (b *SnapshotBuilder) SetBiome(name string) *SnapshotBuilder {
	for i := range b.blocks {
		b.biome[i] = name
	}
	return b
}

func (b *SnapshotBuilder) Build() *ChunkSnapshot {
	snap := &ChunkSnapshot{
		coord:    b.coord,
		minY:     b.minY,
		sections: make([]snapshotSection, len(b.blocks)),
	}

	for i, blocks := range b.blocks {
		lookup := map[BlockRef]uint16{}
		var section snapshotSection
		indices := make([]uint16, sectionVolume)
		for j, ref := range blocks {
			idx, ok := lookup[ref]
			if !ok {
				idx = uint16(len(section.blocks))
				lookup[ref] = idx
				section.blocks = append(section.blocks, ref)
			}
			indices[j] = idx
		}
		if len(section.blocks) > 1 {
			section.indices = indices
		}
		if name, ok := b.biome[i]; ok {
			section.biomes = []string{name}
		}
		snap.sections[i] = section
	}

	snap.computeHeights(false)
	return snap
}
