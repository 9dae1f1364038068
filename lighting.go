package atlas

import (
	"github.com/muesli/gamut"
)

const (
	moonlightLevel = 3.5
	// shadowPercent is how much lightness a shadowed column loses.
	shadowPercent  = 0.25
	// caveLightLevel is the light applied to underground slices.
	caveLightLevel = 0.85

	waterColorBlend    = .66
	shallowWaterBlend  = .15
	maxWaterDepthShade = 128
)

var (
	surfaceAmbient = RGB{0x00, 0x00, 0x1a}
	caveAmbient    = RGB{0x00, 0x00, 0x00}
)

// nightColor derives the night variant of a day color from moonlight.
func nightColor(day RGB) RGB {
	return day.DarkenAmbient(moonlightLevel/15, surfaceAmbient)
}

func caveColor(c RGB) RGB {
	return c.DarkenAmbient(caveLightLevel, caveAmbient)
}

func shadowColor(c RGB) RGB {
	return RGBFromColor(gamut.Darker(c.NRGBA(), shadowPercent))
}

// bathymetryColor tints a submerged floor with the water color above it. The
// deeper the water, the more of the water color shows.
func bathymetryColor(floor, water RGB, depth int) RGB {
	alpha := waterColorBlend + float64(depth-1)*shallowWaterBlend/8
	return floor.Blend(water, clamp(alpha, waterColorBlend, 0.95))
}

// waterDepthColor darkens a water surface by the distance to the floor below.
func waterDepthColor(water RGB, depth int) RGB {
	d := depth * 8
	if d > maxWaterDepthShade {
		d = maxWaterDepthShade
	}
	if d <= 0 {
		return water
	}
	return water.AdjustBrightness(1 - float64(d)/512)
}
