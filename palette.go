package atlas

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync"
)

var grassBlocks = map[string]struct{}{
	"minecraft:grass":       {},
	"minecraft:short_grass": {},
	"minecraft:grass_block": {},
	"minecraft:tall_grass":  {},
	"minecraft:vine":        {},
	"minecraft:fern":        {},
	"minecraft:large_fern":  {},
}

func isGrassBlock(block string) bool {
	_, ok := grassBlocks[block]
	return ok
}

var foliageBlocks = map[string]struct{}{
	"minecraft:oak_leaves":      {},
	"minecraft:jungle_leaves":   {},
	"minecraft:acacia_leaves":   {},
	"minecraft:dark_oak_leaves": {},
	"minecraft:mangrove_leaves": {},
	"minecraft:azalea_leaves":   {},
	"minecraft:cherry_leaves":   {},
}

func isFoliageBlock(block string) bool {
	_, ok := foliageBlocks[block]
	return ok
}

type BlockStateMultipart struct {
	Apply json.RawMessage `json:"apply"`
	When  json.RawMessage `json:"when"`
}

type BlockStateMultipartApply struct {
	Model string `json:"model"`
}

type BlockStateVariant struct {
	Model string `json:"model"`
}

type BlockStateInfo struct {
	Variants  map[string]json.RawMessage `json:"variants"`
	Multipart []BlockStateMultipart      `json:"multipart"`
}

type ModelInfo struct {
	Parent   string            `json:"parent"`
	Textures map[string]string `json:"textures"`
}

// Palette colors blocks by averaging their textures from the client jar. It
// implements Colorizer and resolves block states lazily, once each.
type Palette struct {
	sync.RWMutex

	loader   *AssetLoader
	registry *Registry

	biomeLock  sync.RWMutex
	biomeCache map[string]*Biome

	modelCache      map[string]ModelInfo
	blockStateCache map[string]BlockStateInfo
	textureCache    map[string]image.Image

	blockStateColors map[string]RGB
	blockStateErrors map[string]error

	grassColorMap   image.Image
	foliageColorMap image.Image
}

func NewPalette(loader *AssetLoader, registry *Registry) (*Palette, error) {
	grassColorMap, err := loader.LoadPNG("assets/minecraft/textures/colormap/grass.png")
	if err != nil {
		return nil, fmt.Errorf("failed to load grass colormap: %w", err)
	}
	foliageColorMap, err := loader.LoadPNG("assets/minecraft/textures/colormap/foliage.png")
	if err != nil {
		return nil, fmt.Errorf("failed to load foliage colormap: %w", err)
	}
	if registry == nil {
		registry = NewRegistry(nil)
	}
	return &Palette{
		loader:           loader,
		registry:         registry,
		biomeCache:       make(map[string]*Biome),
		modelCache:       make(map[string]ModelInfo),
		blockStateCache:  make(map[string]BlockStateInfo),
		textureCache:     make(map[string]image.Image),
		blockStateColors: make(map[string]RGB),
		blockStateErrors: make(map[string]error),
		grassColorMap:    grassColorMap,
		foliageColorMap:  foliageColorMap,
	}, nil
}

func (p *Palette) ColorFor(block BlockRef, biome string, pos BlockPos) (RGB, Flags, error) {
	flags := p.registry.Flags(block)
	if flags.Has(Ignore) {
		return RGB{}, flags, nil
	}

	clr, err := p.baseColor(block)
	if err != nil {
		return ColorError, flags | Error, err
	}
	clr, err = p.fixColor(block, clr, biome)
	if err != nil {
		return ColorError, flags | Error, err
	}
	return clr, flags, nil
}

func (p *Palette) baseColor(block BlockRef) (RGB, error) {
	key := block.Key()

	p.RLock()
	clr, ok := p.blockStateColors[key]
	err := p.blockStateErrors[key]
	p.RUnlock()
	if ok {
		return clr, nil
	}
	if err != nil {
		return ColorError, err
	}

	p.Lock()
	defer p.Unlock()
	if clr, ok := p.blockStateColors[key]; ok {
		return clr, nil
	}

	clr, err = p.prepareBlockState(block)
	if err != nil {
		err = fmt.Errorf("%w: %s: %v", ErrUnknownBlock, key, err)
		p.blockStateErrors[key] = err
		return ColorError, err
	}
	p.blockStateColors[key] = clr
	return clr, nil
}

func (p *Palette) getBiome(name string) (*Biome, error) {
	p.biomeLock.RLock()
	if res, ok := p.biomeCache[name]; ok {
		p.biomeLock.RUnlock()
		return res, nil
	}
	p.biomeLock.RUnlock()

	p.biomeLock.Lock()
	defer p.biomeLock.Unlock()

	_, raw, ok := strings.Cut(name, ":")
	if !ok {
		raw = name
	}
	data, err := p.loader.LoadRaw(fmt.Sprintf("data/minecraft/worldgen/biome/%s.json", raw))
	if err != nil {
		return nil, fmt.Errorf("failed to load biome %s: %w", name, err)
	}

	var biome Biome
	err = json.Unmarshal(data, &biome)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal biome %s: %w", name, err)
	}

	p.biomeCache[name] = &biome
	return &biome, nil
}

func (p *Palette) tint(colormap image.Image, biome string) (RGB, error) {
	if biome == "" {
		biome = "minecraft:plains"
	}
	b, err := p.getBiome(biome)
	if err != nil {
		return ColorError, err
	}
	x, y := b.ColorMapCoords()
	return RGBFromColor(colormap.At(x, y)), nil
}

func (p *Palette) fixColor(block BlockRef, clr RGB, biome string) (RGB, error) {
	switch {
	case isGrassBlock(block.Name):
		return p.tint(p.grassColorMap, biome)
	case isFoliageBlock(block.Name):
		return p.tint(p.foliageColorMap, biome)
	case block.Name == "minecraft:birch_leaves":
		return RGB{0x80, 0xa7, 0x55}, nil
	case block.Name == "minecraft:spruce_leaves":
		return RGB{0x61, 0x99, 0x61}, nil
	case p.registry.Kind(block.Name) == HandlerWater:
		return WaterColor(biome), nil
	}
	return clr, nil
}

func (p *Palette) loadJSON(path string, v interface{}) error {
	data, err := p.loader.LoadRaw(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (p *Palette) loadModel(modelName string) (ModelInfo, error) {
	modelInfo, ok := p.modelCache[modelName]
	if ok {
		return modelInfo, nil
	}

	rawName := modelName
	if _, name, ok := strings.Cut(modelName, ":"); ok {
		rawName = name
	}
	err := p.loadJSON(fmt.Sprintf("assets/minecraft/models/%s.json", rawName), &modelInfo)
	if err != nil {
		return modelInfo, fmt.Errorf("failed to load model %s: %w", modelName, err)
	}

	// inherit textures from parents, children win
	if modelInfo.Parent != "" && !strings.HasPrefix(modelInfo.Parent, "builtin/") {
		parent, err := p.loadModel(modelInfo.Parent)
		if err == nil {
			textures := make(map[string]string, len(parent.Textures)+len(modelInfo.Textures))
			for k, v := range parent.Textures {
				textures[k] = v
			}
			for k, v := range modelInfo.Textures {
				textures[k] = v
			}
			modelInfo.Textures = textures
		}
	}

	p.modelCache[modelName] = modelInfo
	return modelInfo, nil
}

func (p *Palette) prepareBlockState(block BlockRef) (RGB, error) {
	blockStateInfo, ok := p.blockStateCache[block.Name]
	if !ok {
		_, rawName, _ := strings.Cut(block.Name, ":")
		err := p.loadJSON(fmt.Sprintf("assets/minecraft/blockstates/%s.json", rawName), &blockStateInfo)
		if err != nil {
			return ColorError, fmt.Errorf("failed to load blockstate: %w", err)
		}
		p.blockStateCache[block.Name] = blockStateInfo
	}

	var modelName string
	if blockStateInfo.Multipart != nil {
		modelName = findMultipartModel(blockStateInfo.Multipart)
	} else if len(blockStateInfo.Variants) == 1 {
		if variants := decodeVariants(firstVariant(blockStateInfo.Variants)); len(variants) > 0 {
			modelName = variants[0].Model
		}
	} else {
		if variants := findVariants(block.Properties(), blockStateInfo.Variants); len(variants) > 0 {
			modelName = variants[0].Model
		}
	}
	if modelName == "" {
		return ColorError, fmt.Errorf("no model for state %q", block.State)
	}

	modelInfo, err := p.loadModel(modelName)
	if err != nil {
		return ColorError, err
	}

	textureName := pickTexture(modelInfo.Textures)
	for i := 0; strings.HasPrefix(textureName, "#") && i < 4; i++ {
		textureName = modelInfo.Textures[strings.TrimPrefix(textureName, "#")]
	}
	if textureName == "" || strings.HasPrefix(textureName, "#") {
		return ColorError, fmt.Errorf("no texture in model %s", modelName)
	}
	if _, name, ok := strings.Cut(textureName, ":"); ok {
		textureName = name
	}

	texture, ok := p.textureCache[textureName]
	if !ok {
		texture, err = p.loader.LoadPNG(fmt.Sprintf("assets/minecraft/textures/%s.png", textureName))
		if err != nil {
			return ColorError, fmt.Errorf("failed to load texture image %s: %w", textureName, err)
		}
		p.textureCache[textureName] = texture
	}

	return RGBFromColor(generateBlockStateColor(texture)), nil
}

func pickTexture(textures map[string]string) string {
	if len(textures) == 1 {
		for _, v := range textures {
			return v
		}
	}
	for _, key := range []string{"top", "end", "all", "texture", "cross", "plant", "side"} {
		if v, ok := textures[key]; ok {
			return v
		}
	}
	// map order is random, pick the smallest key so colors are stable
	var best string
	for k := range textures {
		if best == "" || k < best {
			best = k
		}
	}
	return textures[best]
}

// generateBlockStateColor averages a texture weighting each pixel by alpha.
func generateBlockStateColor(texture image.Image) color.Color {
	bounds := texture.Bounds()
	var rr, gg, bb, aa float64
	for i := bounds.Min.X; i < bounds.Max.X; i++ {
		for j := bounds.Min.Y; j < bounds.Max.Y; j++ {
			rrr, ggg, bbb, aaa := texture.At(i, j).RGBA()
			if aaa == 0 {
				continue
			}
			// RGBA is alpha-premultiplied, so sums are already weighted
			rr += float64(rrr)
			gg += float64(ggg)
			bb += float64(bbb)
			aa += float64(aaa)
		}
	}
	if aa == 0 {
		return color.NRGBA{A: 0xff}
	}
	return color.RGBA64{
		R: uint16(rr / aa * 0xffff),
		G: uint16(gg / aa * 0xffff),
		B: uint16(bb / aa * 0xffff),
		A: 0xffff,
	}
}

func firstVariant(variants map[string]json.RawMessage) json.RawMessage {
	for _, v := range variants {
		return v
	}
	return nil
}

func decodeVariants(raw json.RawMessage) []BlockStateVariant {
	var variants []BlockStateVariant
	err := json.Unmarshal(raw, &variants)
	if err == nil {
		return variants
	}

	var v BlockStateVariant
	if err := json.Unmarshal(raw, &v); err == nil {
		return []BlockStateVariant{v}
	}
	return nil
}

func parseVariantProperties(raw string) map[string]string {
	result := make(map[string]string)
	if raw == "" {
		return result
	}
	for _, part := range strings.Split(raw, ",") {
		k, v, _ := strings.Cut(part, "=")
		result[k] = v
	}
	return result
}

func findVariants(properties map[string]string, raw map[string]json.RawMessage) []BlockStateVariant {
	for k, v := range raw {
		matches := true
		for pk, pv := range parseVariantProperties(k) {
			if properties[pk] != pv {
				matches = false
				break
			}
		}
		if matches {
			return decodeVariants(v)
		}
	}
	return nil
}

func findMultipartModel(raw []BlockStateMultipart) string {
	for _, part := range raw {
		var apply BlockStateMultipartApply
		if err := json.Unmarshal(part.Apply, &apply); err == nil && apply.Model != "" {
			return apply.Model
		}
		var applies []BlockStateMultipartApply
		if err := json.Unmarshal(part.Apply, &applies); err == nil && len(applies) > 0 {
			return applies[0].Model
		}
	}
	return ""
}
