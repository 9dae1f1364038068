package atlas

import (
	"errors"
	"fmt"
	"image/color"
	"strings"
	"sync"
)

// ErrUnknownBlock is returned by colorizers that have no color for a block.
var ErrUnknownBlock = errors.New("no color for block")

// Colorizer resolves the base color and rendering flags of a block.
type Colorizer interface {
	ColorFor(block BlockRef, biome string, pos BlockPos) (RGB, Flags, error)
}

// Flags are rendering hints derived from a block type.
type Flags uint16

const (
	// OpenToSky blocks let skylight through, like glass roofs.
	OpenToSky Flags = 1 << iota
	// NoShadow blocks neither cast shadows nor take part in slope shading.
	NoShadow
	// Ignore blocks are skipped entirely when looking for a column's top block.
	Ignore
	Plant
	Crop
	Water
	Foliage
	// Error marks a block whose type could not be resolved.
	Error
)

func (f Flags) Has(o Flags) bool {
	return f&o == o
}

func (f Flags) Any(o Flags) bool {
	return f&o != 0
}

var flagNames = []struct {
	flag Flags
	name string
}{
	{OpenToSky, "OpenToSky"},
	{NoShadow, "NoShadow"},
	{Ignore, "Ignore"},
	{Plant, "Plant"},
	{Crop, "Crop"},
	{Water, "Water"},
	{Foliage, "Foliage"},
	{Error, "Error"},
}

func (f Flags) String() string {
	var names []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	if len(names) == 0 {
		return "None"
	}
	return strings.Join(names, "|")
}

// RGB is an opaque 8-bit color.
type RGB struct {
	R, G, B uint8
}

var (
	// ColorVoid is painted where a column has no blocks at all.
	ColorVoid  = RGB{17, 12, 25}
	// ColorError is painted where a block could not be colorized.
	ColorError = RGB{255, 0, 255}
	ColorBlack = RGB{0, 0, 0}
)

func RGBFromColor(c color.Color) RGB {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	return RGB{n.R, n.G, n.B}
}

func (c RGB) NRGBA() color.NRGBA {
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: 0xff}
}

func (c RGB) RGBA() (r, g, b, a uint32) {
	return c.NRGBA().RGBA()
}

func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func (c RGB) floats() [3]float64 {
	return [3]float64{float64(c.R) / 255, float64(c.G) / 255, float64(c.B) / 255}
}

func rgbFromFloats(f [3]float64) RGB {
	return RGB{unitToByte(f[0]), unitToByte(f[1]), unitToByte(f[2])}
}

func unitToByte(v float64) uint8 {
	v = clamp(v, 0, 1)
	return uint8(v*255 + 0.5)
}

// AdjustBrightness multiplies every channel by factor.
func (c RGB) AdjustBrightness(factor float64) RGB {
	if factor == 1 {
		return c
	}
	f := c.floats()
	return rgbFromFloats([3]float64{f[0] * factor, f[1] * factor, f[2] * factor})
}

// BevelSlope shades a color for a slope factor. Downslopes are also shifted
// slightly toward blue.
func (c RGB) BevelSlope(factor float64) RGB {
	if factor == 1 {
		return c
	}
	bluer := 1.0
	if factor < 1 {
		bluer = .85
	}
	f := c.floats()
	return rgbFromFloats([3]float64{f[0] * bluer * factor, f[1] * bluer * factor, f[2] * factor})
}

// DarkenAmbient scales the color by factor plus the matching ambient channel.
func (c RGB) DarkenAmbient(factor float64, ambient RGB) RGB {
	f := c.floats()
	a := ambient.floats()
	return rgbFromFloats([3]float64{f[0] * (factor + a[0]), f[1] * (factor + a[1]), f[2] * (factor + a[2])})
}

// Blend mixes other over c with the given alpha.
func (c RGB) Blend(other RGB, alpha float64) RGB {
	alpha = clamp(alpha, 0, 1)
	f := c.floats()
	o := other.floats()
	return rgbFromFloats([3]float64{
		o[0]*alpha + f[0]*(1-alpha),
		o[1]*alpha + f[1]*(1-alpha),
		o[2]*alpha + f[2]*(1-alpha),
	})
}

// HandlerKind is the closed set of block handlers a Registry can resolve to.
type HandlerKind uint8

const (
	HandlerDefault HandlerKind = iota
	HandlerAir
	HandlerWater
	HandlerPlant
	HandlerCrop
	HandlerGrass
	HandlerFoliage
	HandlerGlass
)

func (k HandlerKind) String() string {
	switch k {
	case HandlerAir:
		return "air"
	case HandlerWater:
		return "water"
	case HandlerPlant:
		return "plant"
	case HandlerCrop:
		return "crop"
	case HandlerGrass:
		return "grass"
	case HandlerFoliage:
		return "foliage"
	case HandlerGlass:
		return "glass"
	}
	return "default"
}

// Flags returns the base flags every block handled by this kind carries.
func (k HandlerKind) Flags() Flags {
	switch k {
	case HandlerAir:
		return Ignore | OpenToSky | NoShadow
	case HandlerWater:
		return Water | NoShadow
	case HandlerPlant:
		return Plant
	case HandlerCrop:
		return Crop | NoShadow
	case HandlerFoliage:
		return Foliage
	case HandlerGlass:
		return OpenToSky
	}
	return 0
}

var defaultHandlers = map[string]HandlerKind{
	"minecraft:air":            HandlerAir,
	"minecraft:cave_air":       HandlerAir,
	"minecraft:void_air":       HandlerAir,
	"minecraft:structure_void": HandlerAir,
	"minecraft:barrier":        HandlerAir,
	"minecraft:light":          HandlerAir,
	"minecraft:torch":          HandlerAir,
	"minecraft:wall_torch":     HandlerAir,
	"minecraft:tripwire":       HandlerAir,

	"minecraft:water":         HandlerWater,
	"minecraft:bubble_column": HandlerWater,
	"minecraft:seagrass":      HandlerWater,
	"minecraft:tall_seagrass": HandlerWater,
	"minecraft:kelp":          HandlerWater,
	"minecraft:kelp_plant":    HandlerWater,

	"minecraft:grass_block": HandlerGrass,
	"minecraft:vine":        HandlerGrass,

	"minecraft:oak_leaves":      HandlerFoliage,
	"minecraft:jungle_leaves":   HandlerFoliage,
	"minecraft:acacia_leaves":   HandlerFoliage,
	"minecraft:dark_oak_leaves": HandlerFoliage,
	"minecraft:mangrove_leaves": HandlerFoliage,
	"minecraft:azalea_leaves":   HandlerFoliage,
	"minecraft:cherry_leaves":   HandlerFoliage,
	"minecraft:birch_leaves":    HandlerFoliage,
	"minecraft:spruce_leaves":   HandlerFoliage,

	"minecraft:short_grass":      HandlerPlant,
	"minecraft:grass":            HandlerPlant,
	"minecraft:tall_grass":       HandlerPlant,
	"minecraft:fern":             HandlerPlant,
	"minecraft:large_fern":       HandlerPlant,
	"minecraft:dead_bush":        HandlerPlant,
	"minecraft:lily_pad":         HandlerPlant,
	"minecraft:dandelion":        HandlerPlant,
	"minecraft:poppy":            HandlerPlant,
	"minecraft:blue_orchid":      HandlerPlant,
	"minecraft:allium":           HandlerPlant,
	"minecraft:azure_bluet":      HandlerPlant,
	"minecraft:oxeye_daisy":      HandlerPlant,
	"minecraft:cornflower":       HandlerPlant,
	"minecraft:sunflower":        HandlerPlant,
	"minecraft:lilac":            HandlerPlant,
	"minecraft:rose_bush":        HandlerPlant,
	"minecraft:peony":            HandlerPlant,
	"minecraft:sugar_cane":       HandlerPlant,
	"minecraft:sweet_berry_bush": HandlerPlant,

	"minecraft:wheat":        HandlerCrop,
	"minecraft:carrots":      HandlerCrop,
	"minecraft:potatoes":     HandlerCrop,
	"minecraft:beetroots":    HandlerCrop,
	"minecraft:melon_stem":   HandlerCrop,
	"minecraft:pumpkin_stem": HandlerCrop,
}

// Registry resolves block names to handler kinds and memoizes the resulting
// flags per block state. The handler table is fixed when the registry is
// created; only the flag memo grows afterwards.
type Registry struct {
	handlers map[string]HandlerKind

	mu    sync.RWMutex
	flags map[string]Flags
}

// NewRegistry builds a registry from the default handler table, with overrides
// applied on top.
func NewRegistry(overrides map[string]HandlerKind) *Registry {
	handlers := make(map[string]HandlerKind, len(defaultHandlers)+len(overrides))
	for name, kind := range defaultHandlers {
		handlers[name] = kind
	}
	for name, kind := range overrides {
		handlers[name] = kind
	}
	return &Registry{
		handlers: handlers,
		flags:    make(map[string]Flags),
	}
}

// Kind returns the handler kind registered for a block name.
func (r *Registry) Kind(name string) HandlerKind {
	if name == "" {
		return HandlerAir
	}
	if kind, ok := r.handlers[name]; ok {
		return kind
	}
	if strings.HasSuffix(name, "_glass") || strings.HasSuffix(name, "_glass_pane") || name == "minecraft:glass" || name == "minecraft:glass_pane" {
		return HandlerGlass
	}
	return HandlerDefault
}

// Flags returns the memoized flags for a block.
func (r *Registry) Flags(block BlockRef) Flags {
	key := block.Key()

	r.mu.RLock()
	f, ok := r.flags[key]
	r.mu.RUnlock()
	if ok {
		return f
	}

	f = r.Kind(block.Name).Flags()
	// waterlogged blocks render as water only when they are otherwise see-through
	if block.Properties()["waterlogged"] == "true" && f.Any(Ignore|Plant) {
		f = Water | NoShadow
	}

	r.mu.Lock()
	r.flags[key] = f
	r.mu.Unlock()
	return f
}

// Len returns the number of memoized block states.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.flags)
}

// StaticColorizer colors blocks from a fixed name to color table.
type StaticColorizer struct {
	Registry *Registry
	Colors   map[string]RGB
}

func NewStaticColorizer(registry *Registry, colors map[string]RGB) *StaticColorizer {
	if registry == nil {
		registry = NewRegistry(nil)
	}
	return &StaticColorizer{
		Registry: registry,
		Colors:   colors,
	}
}

func (s *StaticColorizer) ColorFor(block BlockRef, biome string, pos BlockPos) (RGB, Flags, error) {
	flags := s.Registry.Flags(block)
	if flags.Has(Ignore) {
		return RGB{}, flags, nil
	}
	c, ok := s.Colors[block.Name]
	if !ok {
		return ColorError, flags | Error, fmt.Errorf("%w: %s", ErrUnknownBlock, block.Name)
	}
	return c, flags, nil
}

// DefaultColors is a small vanilla color table used when no client assets are
// configured.
var DefaultColors = map[string]RGB{
	"minecraft:stone":         {0x7d, 0x7d, 0x7d},
	"minecraft:deepslate":     {0x50, 0x50, 0x52},
	"minecraft:bedrock":       {0x55, 0x55, 0x55},
	"minecraft:dirt":          {0x86, 0x60, 0x43},
	"minecraft:grass_block":   {0x7f, 0xb2, 0x38},
	"minecraft:short_grass":   {0x6d, 0x9a, 0x30},
	"minecraft:grass":         {0x6d, 0x9a, 0x30},
	"minecraft:sand":          {0xdb, 0xcf, 0xa3},
	"minecraft:gravel":        {0x83, 0x7f, 0x7e},
	"minecraft:water":         {0x3f, 0x76, 0xe4},
	"minecraft:lava":          {0xcf, 0x5b, 0x14},
	"minecraft:snow":          {0xf9, 0xfe, 0xfe},
	"minecraft:snow_block":    {0xf9, 0xfe, 0xfe},
	"minecraft:ice":           {0x91, 0xb7, 0xfd},
	"minecraft:oak_leaves":    {0x48, 0x7a, 0x2a},
	"minecraft:birch_leaves":  {0x80, 0xa7, 0x55},
	"minecraft:spruce_leaves": {0x61, 0x99, 0x61},
	"minecraft:oak_log":       {0x6d, 0x55, 0x32},
	"minecraft:oak_planks":    {0xa2, 0x83, 0x4f},
	"minecraft:cobblestone":   {0x7f, 0x7f, 0x7f},
	"minecraft:sandstone":     {0xd8, 0xcb, 0x9b},
	"minecraft:clay":          {0xa0, 0xa6, 0xb3},
	"minecraft:netherrack":    {0x61, 0x26, 0x26},
	"minecraft:end_stone":     {0xdb, 0xde, 0x9e},
	"minecraft:glass":         {0xc0, 0xf5, 0xfe},
	"minecraft:wheat":         {0xdc, 0xbb, 0x65},
	"minecraft:poppy":         {0xed, 0x30, 0x2c},
	"minecraft:dandelion":     {0xff, 0xec, 0x4f},
	"minecraft:seagrass":      {0x3f, 0x76, 0xe4},
}
