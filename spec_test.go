package atlas

import (
	"testing"
	"time"
)

func TestCalculateOffsets(t *testing.T) {
	square := calculateOffsets(1, 3, RevealSquare)
	for d, want := range map[int]int{1: 9, 2: 16, 3: 24} {
		if got := len(square[d]); got != want {
			t.Errorf("square ring %d has %d offsets, want %d", d, got, want)
		}
	}
	for _, o := range square[2] {
		if abs(o.X) != 2 && abs(o.Z) != 2 {
			t.Errorf("offset %v does not belong to ring 2", o)
		}
	}

	circle := calculateOffsets(2, 2, RevealCircle)
	if got := len(circle[2]); got != 21 {
		t.Errorf("circle of radius 2 has %d offsets, want 21", got)
	}
	for _, o := range circle[2] {
		if abs(o.X) == 2 && abs(o.Z) == 2 {
			t.Errorf("circle includes corner %v", o)
		}
	}
}

func TestRenderAreaCoordsCyclesRings(t *testing.T) {
	spec := NewRenderSpec(VariantDay, RenderArea{MinDistance: 1, MaxDistance: 3}, ChunkCoord{})
	center := ChunkCoord{10, -4}

	for i, want := range []struct{ ring, size int }{
		{2, 25},
		{3, 33},
		{2, 25},
	} {
		coords := spec.RenderAreaCoords(center)
		if len(coords) != want.size {
			t.Errorf("cycle %d rendered %d chunks, want %d", i, len(coords), want.size)
		}
		if got := spec.LastSecondaryRenderDistance(); got != want.ring {
			t.Errorf("cycle %d rendered ring %d, want %d", i, got, want.ring)
		}
	}

	coords := spec.RenderAreaCoords(center)
	if coords[0] != center.Add(-1, -1) {
		t.Errorf("primary area is not centered on the player: %v", coords[0])
	}

	spec.RenderAreaCoords(center.Add(1, 0))
	if got := spec.LastSecondaryRenderDistance(); got != 2 {
		t.Errorf("moving restarts at ring 2, got %d", got)
	}
	if spec.Center() != center.Add(1, 0) {
		t.Errorf("Center() = %v", spec.Center())
	}
}

func TestRenderAreaSingleSecondaryRing(t *testing.T) {
	spec := NewRenderSpec(VariantDay, RenderArea{MinDistance: 2, MaxDistance: 3}, ChunkCoord{})
	if area := spec.Area(); area.MinDistance != 3 || area.MaxDistance != 3 {
		t.Errorf("area was not folded into its secondary ring: %+v", area)
	}
	for i := 0; i < 3; i++ {
		if got := len(spec.RenderAreaCoords(ChunkCoord{})); got != 49 {
			t.Errorf("cycle %d rendered %d chunks, want 49", i, got)
		}
	}
	if spec.LastSecondaryRenderSize() != 0 {
		t.Errorf("a fixed area has no secondary ring")
	}
}

func TestRenderSpecsReuse(t *testing.T) {
	specs := NewRenderSpecs()
	area := RenderArea{MinDistance: 1, MaxDistance: 2}

	first := specs.Get(0, Day(), area, ChunkCoord{})
	if specs.Get(0, Night(), area, ChunkCoord{}) != first {
		t.Errorf("day and night should share a spec")
	}
	first.SetLastTaskInfo(10, 20*time.Millisecond)

	moved := specs.Get(0, Day(), area, ChunkCoord{1, 1})
	if moved == first {
		t.Fatal("spec was reused after the player moved")
	}
	if stats := moved.Stats(); stats.LastChunks != 10 || stats.TotalElapsed != 20*time.Millisecond {
		t.Errorf("stats were not carried over: %+v", stats)
	}

	caves := specs.Get(0, Underground(2), RenderArea{}, ChunkCoord{})
	if caves == moved || specs.Peek(VariantUnderground) != caves {
		t.Errorf("caves should have their own spec")
	}

	if specs.Get(0, Underground(2), RenderArea{}, ChunkCoord{}) != caves {
		t.Errorf("caves spec was not reused in the same slice")
	}
	if specs.Get(0, Underground(3), RenderArea{}, ChunkCoord{}) == caves {
		t.Errorf("caves spec was reused in another slice")
	}

	if specs.Get(0, Day(), area, ChunkCoord{1, 1}) != moved {
		t.Errorf("surface spec was not reused at the same chunk")
	}
	nether := specs.Get(-1, Day(), area, ChunkCoord{1, 1})
	if nether == moved {
		t.Errorf("surface spec was reused after a dimension change")
	}
	if nether.Center() != (ChunkCoord{1, 1}) {
		t.Errorf("Center() = %v", nether.Center())
	}

	specs.Reset()
	if specs.Peek(VariantDay) != nil {
		t.Errorf("Reset() kept specs")
	}
}

func TestRenderSpecDebugString(t *testing.T) {
	spec := NewRenderSpec(VariantDay, RenderArea{MinDistance: 1, MaxDistance: 3}, ChunkCoord{})
	spec.RenderAreaCoords(ChunkCoord{})
	spec.SetLastTaskInfo(25, 50*time.Millisecond)

	want := "Surface: 1 (9) + 2 (16) = 25 chunks in 50ms (avg 2.0ms)"
	if got := spec.DebugString(); got != want {
		t.Errorf("DebugString() = %q, want %q", got, want)
	}

	caves := NewRenderSpec(VariantUnderground, RenderArea{MinDistance: 3, MaxDistance: 3}, ChunkCoord{})
	caves.SetLastTaskInfo(2, 30*time.Millisecond)
	want = "Caves: 3 = 2 chunks in 30ms (avg 15.0ms!)"
	if got := caves.DebugString(); got != want {
		t.Errorf("DebugString() = %q, want %q", got, want)
	}

	if got := caves.Stats().ChunksPerMs(); got < 0.066 || got > 0.067 {
		t.Errorf("ChunksPerMs() = %f", got)
	}
}
