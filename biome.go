package atlas

import (
	"math"
)

type Biome struct {
	Temperature float64 `json:"temperature"`
	Downfall    float64 `json:"downfall"`
}

// ColorMapCoords returns the pixel of the grass and foliage colormaps used to
// tint blocks in this biome.
func (b *Biome) ColorMapCoords() (int, int) {
	r := clamp(b.Downfall, 0, 1) * clamp(b.Temperature, 0, 1)
	x := int(math.Ceil(255 - (clamp(b.Temperature, 0, 1) * 255)))
	y := int(math.Ceil(255 - (r * 255)))
	return x, y
}

var defaultWaterColor = RGB{0x3f, 0x76, 0xe4}

var waterColors = map[string]RGB{
	"minecraft:swamp":          {0x61, 0x7b, 0x64},
	"minecraft:mangrove_swamp": {0x3a, 0x7a, 0x6a},
	"minecraft:river":          {0x3f, 0x76, 0xe4},
	"minecraft:ocean":          {0x3f, 0x76, 0xe4},
	"minecraft:lukewarm_ocean": {0x45, 0xad, 0xf2},
	"minecraft:warm_ocean":     {0x43, 0xd5, 0xee},
	"minecraft:cold_ocean":     {0x3d, 0x57, 0xd6},
	"minecraft:frozen_river":   {0x39, 0x38, 0xc9},
	"minecraft:frozen_ocean":   {0x39, 0x38, 0xc9},
}

// WaterColor returns the water tint of a biome.
func WaterColor(biome string) RGB {
	if c, ok := waterColors[biome]; ok {
		return c
	}
	return defaultWaterColor
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	} else if v > max {
		return max
	} else {
		return v
	}
}
