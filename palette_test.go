package atlas

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"testing/fstest"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func solidTexture(t *testing.T, size int, c color.NRGBA) *fstest.MapFile {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return &fstest.MapFile{Data: encodePNG(t, img)}
}

func testAssets(t *testing.T) fstest.MapFS {
	checker := image.NewNRGBA(image.Rect(0, 0, 3, 1))
	checker.SetNRGBA(0, 0, color.NRGBA{100, 100, 100, 255})
	checker.SetNRGBA(1, 0, color.NRGBA{200, 200, 200, 255})
	// fully transparent pixels do not count
	checker.SetNRGBA(2, 0, color.NRGBA{255, 0, 0, 0})

	file := func(s string) *fstest.MapFile { return &fstest.MapFile{Data: []byte(s)} }

	return fstest.MapFS{
		"assets/minecraft/textures/colormap/grass.png":   solidTexture(t, 256, color.NRGBA{0x40, 0x90, 0x20, 255}),
		"assets/minecraft/textures/colormap/foliage.png": solidTexture(t, 256, color.NRGBA{0x30, 0x70, 0x10, 255}),
		"data/minecraft/worldgen/biome/plains.json":      file(`{"temperature": 0.8, "downfall": 0.4}`),

		"assets/minecraft/blockstates/stone.json":     file(`{"variants": {"": {"model": "minecraft:block/stone"}}}`),
		"assets/minecraft/models/block/stone.json":    file(`{"parent": "minecraft:block/cube_all", "textures": {"all": "minecraft:block/stone"}}`),
		"assets/minecraft/models/block/cube_all.json": file(`{"parent": "block/block", "textures": {"particle": "#all"}}`),
		"assets/minecraft/textures/block/stone.png":   &fstest.MapFile{Data: encodePNG(t, checker)},

		"assets/minecraft/blockstates/oak_log.json": file(`{"variants": {
			"axis=x": {"model": "minecraft:block/oak_log_horizontal"},
			"axis=y": [{"model": "minecraft:block/oak_log"}, {"model": "minecraft:block/oak_log_alt"}]
		}}`),
		"assets/minecraft/models/block/oak_log.json":            file(`{"textures": {"end": "minecraft:block/oak_log_top", "side": "minecraft:block/oak_log"}}`),
		"assets/minecraft/models/block/oak_log_horizontal.json": file(`{"textures": {"side": "minecraft:block/oak_log"}}`),
		"assets/minecraft/textures/block/oak_log_top.png":       solidTexture(t, 2, color.NRGBA{180, 140, 90, 255}),
		"assets/minecraft/textures/block/oak_log.png":           solidTexture(t, 2, color.NRGBA{100, 80, 50, 255}),

		"assets/minecraft/blockstates/grass_block.json":  file(`{"variants": {"": {"model": "minecraft:block/grass_block"}}}`),
		"assets/minecraft/models/block/grass_block.json": file(`{"textures": {"top": "minecraft:block/stone"}}`),

		"assets/minecraft/blockstates/fence.json": file(`{"multipart": [
			{"when": {"north": "true"}, "apply": [{"model": "minecraft:block/oak_log"}]}
		]}`),
	}
}

func TestPaletteColors(t *testing.T) {
	p, err := NewPalette(NewAssetLoaderFromFS(testAssets(t)), nil)
	if err != nil {
		t.Fatal(err)
	}

	for _, tc := range []struct {
		name  string
		block BlockRef
		biome string
		want  RGB
	}{
		{"averaged texture", BlockRef{Name: "minecraft:stone"}, "", RGB{150, 150, 150}},
		{"end texture wins", BlockRef{Name: "minecraft:oak_log", State: "axis=y"}, "", RGB{180, 140, 90}},
		{"matching variant", BlockRef{Name: "minecraft:oak_log", State: "axis=x"}, "", RGB{100, 80, 50}},
		{"multipart", BlockRef{Name: "minecraft:fence", State: "north=true"}, "", RGB{180, 140, 90}},
		{"grass tint", BlockRef{Name: "minecraft:grass_block"}, "minecraft:plains", RGB{0x40, 0x90, 0x20}},
		{"default biome", BlockRef{Name: "minecraft:grass_block"}, "", RGB{0x40, 0x90, 0x20}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, flags, err := p.ColorFor(tc.block, tc.biome, BlockPos{})
			if err != nil {
				t.Fatal(err)
			}
			if flags.Has(Error) {
				t.Errorf("unexpected error flag")
			}
			if got != tc.want {
				t.Errorf("ColorFor(%v) = %v, want %v", tc.block, got, tc.want)
			}
		})
	}
}

func TestPaletteUnknownBlock(t *testing.T) {
	p, err := NewPalette(NewAssetLoaderFromFS(testAssets(t)), nil)
	if err != nil {
		t.Fatal(err)
	}

	mystery := BlockRef{Name: "minecraft:mystery"}
	for i := 0; i < 2; i++ {
		clr, flags, err := p.ColorFor(mystery, "", BlockPos{})
		if !errors.Is(err, ErrUnknownBlock) {
			t.Errorf("call %d: err = %v, want ErrUnknownBlock", i, err)
		}
		if clr != ColorError || !flags.Has(Error) {
			t.Errorf("call %d: got %v %v, want the error color", i, clr, flags)
		}
	}

	clr, flags, err := p.ColorFor(BlockRef{Name: "minecraft:air"}, "", BlockPos{})
	if err != nil || !flags.Has(Ignore) || clr != (RGB{}) {
		t.Errorf("air should be ignored, got %v %v %v", clr, flags, err)
	}
}

func TestPaletteRequiresColormaps(t *testing.T) {
	if _, err := NewPalette(NewAssetLoaderFromFS(fstest.MapFS{}), nil); err == nil {
		t.Errorf("expected an error without colormaps")
	}
}
