package atlas

import (
	"errors"
	"testing"
)

var (
	stone = BlockRef{Name: "minecraft:stone"}
	water = BlockRef{Name: "minecraft:water", State: "level=0"}
)

func TestSnapshotHeights(t *testing.T) {
	snap := NewSnapshotBuilder(ChunkCoord{2, -3}, -64, 384).
		FillColumn(3, 4, 70, stone).
		FillColumn(5, 5, 9, stone).
		SetBlock(5, 10, 5, water).
		SetBlock(5, 11, 5, water).
		SetBlock(5, 12, 5, water).
		SetBiome("minecraft:plains").
		Build()

	if got := snap.MinY(); got != -64 {
		t.Errorf("MinY() = %d, want -64", got)
	}
	if got := snap.MaxY(); got != 319 {
		t.Errorf("MaxY() = %d, want 319", got)
	}
	if got := snap.HeightAt(3, 4); got != 70 {
		t.Errorf("HeightAt(3, 4) = %d, want 70", got)
	}
	if got := snap.HeightAt(0, 0); got != -65 {
		t.Errorf("HeightAt of an empty column = %d, want -65", got)
	}
	if got := snap.HeightAt(5, 5); got != 12 {
		t.Errorf("HeightAt(5, 5) = %d, want 12", got)
	}
	if got := snap.OceanFloorAt(5, 5); got != 9 {
		t.Errorf("OceanFloorAt(5, 5) = %d, want 9", got)
	}

	if got := snap.Block(3, 70, 4); got != stone {
		t.Errorf("Block(3, 70, 4) = %v, want %v", got, stone)
	}
	if got := snap.Block(3, 71, 4); !got.IsAir() {
		t.Errorf("Block(3, 71, 4) = %v, want air", got)
	}
	if got := snap.Block(3, 1000, 4); !got.IsAir() {
		t.Errorf("a block above the chunk should be air, got %v", got)
	}
	if got := snap.Biome(3, 70, 4); got != "minecraft:plains" {
		t.Errorf("Biome() = %q, want minecraft:plains", got)
	}

	pos := snap.WorldPos(3, 70, 4)
	if pos != (BlockPos{X: 35, Y: 70, Z: -44}) {
		t.Errorf("WorldPos() = %+v", pos)
	}
}

func TestBlockRefState(t *testing.T) {
	ref := BlockRef{Name: "minecraft:oak_log", State: CanonicalState(map[string]string{"axis": "y", "waterlogged": "false"})}
	if ref.State != "axis=y,waterlogged=false" {
		t.Errorf("unexpected canonical state %q", ref.State)
	}
	if ref.Key() != "minecraft:oak_log[axis=y,waterlogged=false]" {
		t.Errorf("unexpected key %q", ref.Key())
	}
	if props := ref.Properties(); props["axis"] != "y" || len(props) != 2 {
		t.Errorf("unexpected properties %v", props)
	}
	if CanonicalState(nil) != "" {
		t.Errorf("empty properties should have an empty state")
	}
}

func TestSnapshotWindow(t *testing.T) {
	center := NewSnapshotBuilder(ChunkCoord{0, 0}, 0, 32).FillLayer(0, stone).Build()
	west := NewSnapshotBuilder(ChunkCoord{-1, 0}, 0, 32).FillColumn(15, 0, 20, stone).Build()

	var calls int
	mem := MemorySource{}
	mem.Add(center)
	mem.Add(west)
	source := ChunkSourceFunc(func(c ChunkCoord) (*ChunkSnapshot, error) {
		calls++
		return mem.Chunk(c)
	})

	w := newSnapshotWindow(source)

	h, ok := w.NeighborHeight(ChunkCoord{0, 0}, West)
	if !ok || h != 20 {
		t.Errorf("NeighborHeight(West) = %d, %v; want 20, true", h, ok)
	}
	if _, ok := w.NeighborHeight(ChunkCoord{0, 0}, North); ok {
		t.Errorf("NeighborHeight(North) should report an absent chunk")
	}

	// both lookups are memoized, including the absent one
	n := w.neighbors(ChunkCoord{0, 0})
	if got := n.Neighbor(West); got != west {
		t.Errorf("Neighbor(West) returned the wrong snapshot")
	}
	if got := n.Neighbor(North); got != nil {
		t.Errorf("Neighbor(North) = %v, want nil", got)
	}
	if calls != 2 {
		t.Errorf("source was read %d times, want 2", calls)
	}

	if _, err := w.get(ChunkCoord{0, -1}); !errors.Is(err, ErrChunkAbsent) {
		t.Errorf("expected ErrChunkAbsent, got %v", err)
	}

	w.forget(func(c ChunkCoord) bool { return c.X >= 0 })
	if _, err := w.get(ChunkCoord{-1, 0}); err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Errorf("forgotten snapshot was not reloaded, %d reads", calls)
	}
}
