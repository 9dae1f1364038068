package atlas

import (
	"fmt"

	"github.com/muesli/gamut"
)

// TopoPalette maps heights to banded colors for the topographic variant.
type TopoPalette struct {
	MinY       int
	BandHeight int
	Water      RGB

	bands []RGB
}

// NewTopoPalette blends count bands between the low and high colors (hex
// strings such as "#2e5a1c").
func NewTopoPalette(low, high string, count, minY, bandHeight int) (*TopoPalette, error) {
	if count < 2 {
		return nil, fmt.Errorf("topo palette needs at least 2 bands, got %d", count)
	}
	if bandHeight <= 0 {
		return nil, fmt.Errorf("topo band height must be positive, got %d", bandHeight)
	}

	blends := gamut.Blends(gamut.Hex(low), gamut.Hex(high), count)
	bands := make([]RGB, 0, len(blends))
	for _, c := range blends {
		bands = append(bands, RGBFromColor(c))
	}

	return &TopoPalette{
		MinY:       minY,
		BandHeight: bandHeight,
		Water:      RGB{0x3f, 0x76, 0xe4},
		bands:      bands,
	}, nil
}

// DefaultTopoPalette covers an overworld from y=-64 to y=320 in 16-block bands.
func DefaultTopoPalette() *TopoPalette {
	p, err := NewTopoPalette("#1d3b14", "#f4e9d8", 24, -64, 16)
	if err != nil {
		panic(err)
	}
	return p
}

// Band returns the band index of a height, clamped to the palette.
func (t *TopoPalette) Band(y int) int {
	band := (y - t.MinY) / t.BandHeight
	if y < t.MinY {
		band = 0
	}
	if band >= len(t.bands) {
		band = len(t.bands) - 1
	}
	return band
}

func (t *TopoPalette) ColorFor(y int) RGB {
	return t.bands[t.Band(y)]
}

// Contour returns the line color drawn on a band boundary.
func (t *TopoPalette) Contour(c RGB) RGB {
	return RGBFromColor(gamut.Darker(c.NRGBA(), 0.3))
}

func (t *TopoPalette) Bands() int {
	return len(t.bands)
}
