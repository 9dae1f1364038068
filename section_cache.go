package atlas

import (
	"fmt"
	"sync"

	"github.com/Tnze/go-mc/level"
	"github.com/Tnze/go-mc/nbt"
	"github.com/Tnze/go-mc/save"
)

// sectionCache decodes stored chunk sections into snapshot sections. Decoded
// block states are shared across chunks since a world only has a few thousand
// distinct ones.
type sectionCache struct {
	mu     sync.Mutex
	states map[string]BlockRef
}

func newSectionCache() *sectionCache {
	return &sectionCache{
		states: make(map[string]BlockRef),
	}
}

func (c *sectionCache) blockRef(state save.BlockState) BlockRef {
	key := state.Name + "/" + state.Properties.String()

	c.mu.Lock()
	defer c.mu.Unlock()
	ref, ok := c.states[key]
	if !ok {
		ref = BlockRef{
			Name:  state.Name,
			State: CanonicalState(makeStatePropertiesMap(state.Properties)),
		}
		c.states[key] = ref
	}
	return ref
}

func (c *sectionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.states)
}

func (c *sectionCache) decode(section *save.Section) (snapshotSection, error) {
	var out snapshotSection

	palette := section.BlockStates.Palette
	out.blocks = make([]BlockRef, len(palette))
	for i, state := range palette {
		out.blocks[i] = c.blockRef(state)
	}
	if len(palette) > 1 {
		indices, err := unpackIndices(section.BlockStates.Data, sectionVolume, len(palette))
		if err != nil {
			return out, fmt.Errorf("block states of section %d: %w", section.Y, err)
		}
		out.indices = indices
	}

	biomes := section.Biomes.Palette
	out.biomes = make([]string, len(biomes))
	for i, b := range biomes {
		out.biomes[i] = string(b)
	}
	if len(biomes) > 1 {
		indices, err := unpackIndices(section.Biomes.Data, biomeVolume, len(biomes))
		if err != nil {
			return out, fmt.Errorf("biomes of section %d: %w", section.Y, err)
		}
		out.biomeIdx = make([]uint8, biomeVolume)
		for i, v := range indices {
			out.biomeIdx[i] = uint8(v)
		}
	}
	return out, nil
}

func unpackIndices(data []uint64, length, paletteLen int) ([]uint16, error) {
	bits := calcBitsPerValue(length, len(data))
	if bits == 0 {
		return nil, fmt.Errorf("no data for %d palette entries", paletteLen)
	}
	storage := level.NewBitStorage(bits, length, data)

	indices := make([]uint16, length)
	for i := range indices {
		v := storage.Get(i)
		if v < 0 || v >= paletteLen {
			return nil, fmt.Errorf("palette index %d out of range at %d", v, i)
		}
		indices[i] = uint16(v)
	}
	return indices, nil
}

func calcBitsPerValue(length, longs int) (bits int) {
	if longs == 0 || length == 0 {
		return 0
	}
	valuePerLong := (length + longs - 1) / longs
	return 64 / valuePerLong
}

func makeStatePropertiesMap(msg nbt.RawMessage) map[string]string {
	props := map[string]string{}
	if msg.Type == nbt.TagEnd {
		return props
	}
	if err := msg.Unmarshal(&props); err != nil {
		return map[string]string{}
	}
	return props
}
