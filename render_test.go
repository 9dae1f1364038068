package atlas

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"os"
	"testing"
)

func newTestEnv(t *testing.T, source ChunkSource) *RenderEnv {
	t.Helper()
	state := NewMappingState(0)
	state.Start()
	return &RenderEnv{
		Source: func(dimension int) (ChunkSource, error) {
			if dimension != 0 {
				return nil, errors.New("no such dimension")
			}
			return source, nil
		},
		Renderer: newTestRenderer(RenderOptions{}),
		Cache:    newTestCache(t, t.TempDir(), CacheOpts{}),
		State:    state,
	}
}

func rowOfChunks(n int) []ChunkCoord {
	coords := make([]ChunkCoord, n)
	for i := range coords {
		coords[i] = ChunkCoord{X: i, Z: 0}
	}
	return coords
}

func TestRenderTaskSkipsAbsentChunks(t *testing.T) {
	source := MemorySource{}
	absent := map[int]bool{2: true, 5: true, 8: true}
	for _, coord := range rowOfChunks(10) {
		if !absent[coord.X] {
			source.Add(flatChunk(coord, 64, green))
		}
	}
	env := newTestEnv(t, source)

	task := NewRenderTask("test", env, 0, RenderJob{
		Variants: []MapVariant{Day(), Night()},
		Chunks:   rowOfChunks(10),
	})
	result := task.Run(context.Background())

	if result.Status != StatusCompleted {
		t.Fatalf("Status = %v, want completed", result.Status)
	}
	if result.Chunks != 7 || result.Errors != 3 {
		t.Errorf("rendered %d chunks with %d errors, want 7 and 3", result.Chunks, result.Errors)
	}
	if len(result.Jobs) != 1 || result.Jobs[0].Chunks != 7 {
		t.Errorf("unexpected job results %+v", result.Jobs)
	}
	if result.TaskID != task.ID() {
		t.Errorf("result does not carry the task id")
	}

	day, ok := env.Cache.Tile(TileKey{Region: RegionCoord{0, 0}, Variant: Day()})
	if !ok {
		t.Fatal("day tile was not written")
	}
	night, ok := env.Cache.Tile(TileKey{Region: RegionCoord{0, 0}, Variant: Night()})
	if !ok {
		t.Fatal("night tile was not written")
	}

	dayImg, _ := day.Image()
	nightImg, _ := night.Image()
	for x := 0; x < 10; x++ {
		px := x*ChunkSize + 8
		d := dayImg.NRGBAAt(px, 8)
		if absent[x] {
			if d != (color.NRGBA{}) {
				t.Errorf("absent chunk %d was painted %v", x, d)
			}
			continue
		}
		if d != greenColor.NRGBA() {
			t.Errorf("chunk %d day pixel = %v, want green", x, d)
		}
		if n := nightImg.NRGBAAt(px, 8); n.G >= d.G {
			t.Errorf("chunk %d night pixel %v is not darker than day", x, n)
		}
	}
}

func TestRenderTaskStopsWhenMappingStops(t *testing.T) {
	source := MemorySource{}
	for _, coord := range rowOfChunks(4) {
		source.Add(flatChunk(coord, 64, green))
	}

	env := newTestEnv(t, source)
	env.State.Stop()
	task := NewRenderTask("stopped", env, 0, RenderJob{Variants: []MapVariant{Day()}, Chunks: rowOfChunks(4)})
	if result := task.Run(context.Background()); result.Status != StatusCancelled || result.Chunks != 0 {
		t.Errorf("task ran while mapping was stopped: %+v", result)
	}
	if env.Cache.Len() != 0 {
		t.Errorf("cache has %d tiles, want none", env.Cache.Len())
	}

	env = newTestEnv(t, source)
	env.State.SetDimension(-1)
	task = NewRenderTask("moved", env, 0, RenderJob{Variants: []MapVariant{Day()}, Chunks: rowOfChunks(4)})
	if result := task.Run(context.Background()); result.Status != StatusCancelled {
		t.Errorf("task for another dimension was not cancelled: %+v", result)
	}
}

func TestRenderTaskCancelledContext(t *testing.T) {
	source := MemorySource{}
	source.Add(flatChunk(ChunkCoord{0, 0}, 64, green))
	env := newTestEnv(t, source)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	task := NewRenderTask("cancelled", env, 0, RenderJob{Variants: []MapVariant{Day()}, Chunks: rowOfChunks(1)})
	task.Flush = true
	result := task.Run(ctx)
	if result.Status != StatusCancelled {
		t.Errorf("Status = %v, want cancelled", result.Status)
	}
	if result.Flushed != 0 {
		t.Errorf("a cancelled task must not flush")
	}
}

func TestRenderTaskFlush(t *testing.T) {
	source := MemorySource{}
	source.Add(flatChunk(ChunkCoord{0, 0}, 64, green))
	env := newTestEnv(t, source)

	task := NewRenderTask("flush", env, 0, RenderJob{
		Variants: []MapVariant{Day(), UndergroundAt(40)},
		Chunks:   rowOfChunks(1),
	})
	task.Flush = true

	var completed TaskResult
	task.OnComplete = func(r TaskResult) { completed = r }

	result := task.Run(context.Background())
	task.Complete(result)

	if result.Status != StatusCompleted || result.Flushed != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	if completed.TaskID != task.ID() {
		t.Errorf("OnComplete was not called with the result")
	}
	for _, v := range []MapVariant{Day(), UndergroundAt(40)} {
		key := TileKey{Region: RegionCoord{0, 0}, Variant: v}
		if _, err := os.Stat(key.Path(env.Cache.Root())); err != nil {
			t.Errorf("tile %v was not flushed: %v", key, err)
		}
	}
	if env.Cache.DirtyCount() != 0 {
		t.Errorf("%d tiles still dirty after a flushing task", env.Cache.DirtyCount())
	}
}

func TestRenderTaskMissingDimension(t *testing.T) {
	env := newTestEnv(t, MemorySource{})
	env.State.SetDimension(1)

	task := NewRenderTask("nether", env, 1, RenderJob{Variants: []MapVariant{Day()}, Chunks: rowOfChunks(1)})
	result := task.Run(context.Background())
	if result.Status != StatusFailed || result.Err == nil {
		t.Errorf("expected a failed task, got %+v", result)
	}
}

// brokenColorizer panics when asked for the column at one world position.
type brokenColorizer struct {
	Colorizer
	x, z int
}

func (c brokenColorizer) ColorFor(block BlockRef, biome string, pos BlockPos) (RGB, Flags, error) {
	if pos.X == c.x && pos.Z == c.z {
		panic(fmt.Sprintf("no color at %d,%d", pos.X, pos.Z))
	}
	return c.Colorizer.ColorFor(block, biome, pos)
}

func TestRenderTaskSkipsPanickingChunk(t *testing.T) {
	source := MemorySource{}
	for _, coord := range rowOfChunks(8) {
		source.Add(flatChunk(coord, 64, green))
	}
	env := newTestEnv(t, source)
	// one column well inside chunk 4, out of reach of the slope sampling of chunk 5
	env.Renderer = NewChunkRenderer(brokenColorizer{
		Colorizer: NewStaticColorizer(NewRegistry(nil), testColors),
		x:         4*ChunkSize + 3,
		z:         8,
	}, RenderOptions{}, nil)

	for _, variants := range [][]MapVariant{{Day(), Night()}, {Day()}} {
		task := NewRenderTask("test", env, 0, RenderJob{Variants: variants, Chunks: rowOfChunks(8)})
		result := task.Run(context.Background())

		if result.Status != StatusCompleted {
			t.Fatalf("%v: Status = %v, want completed", variants, result.Status)
		}
		if result.Chunks != 7 || result.Errors != 1 {
			t.Errorf("%v: rendered %d chunks with %d errors, want 7 and 1", variants, result.Chunks, result.Errors)
		}
	}

	day, ok := env.Cache.Tile(TileKey{Region: RegionCoord{0, 0}, Variant: Day()})
	if !ok {
		t.Fatal("day tile was not written")
	}
	img, _ := day.Image()
	if got := img.NRGBAAt(4*ChunkSize+8, 8); got != (color.NRGBA{}) {
		t.Errorf("failed chunk was painted %v", got)
	}
	for _, x := range []int{3, 5, 7} {
		if got := img.NRGBAAt(x*ChunkSize+8, 8); got != greenColor.NRGBA() {
			t.Errorf("chunk %d pixel = %v, want green", x, got)
		}
	}
}
