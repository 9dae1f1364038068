package atlas

import "fmt"

const (
	// ChunkSize is the width of a chunk in blocks.
	ChunkSize = 16

	// RegionShift is log2 of the number of chunks along one side of a region.
	RegionShift = 5
	// RegionChunks is the number of chunks along one side of a region.
	RegionChunks = 1 << RegionShift
	// RegionBlocks is the width of a region tile in pixels (one pixel per block).
	RegionBlocks = RegionChunks * ChunkSize
)

// ChunkCoord is a position on the chunk grid.
type ChunkCoord struct {
	X int
	Z int
}

func (c ChunkCoord) String() string {
	return fmt.Sprintf("chunk(%d,%d)", c.X, c.Z)
}

// Less orders coordinates by X, then Z.
func (c ChunkCoord) Less(o ChunkCoord) bool {
	if c.X != o.X {
		return c.X < o.X
	}
	return c.Z < o.Z
}

// Add returns the coordinate offset by dx, dz chunks.
func (c ChunkCoord) Add(dx, dz int) ChunkCoord {
	return ChunkCoord{X: c.X + dx, Z: c.Z + dz}
}

// Region returns the region containing this chunk. Arithmetic shift keeps
// negative coordinates flooring toward negative infinity.
func (c ChunkCoord) Region() RegionCoord {
	return RegionCoord{X: c.X >> RegionShift, Z: c.Z >> RegionShift}
}

// OffsetInRegion returns the pixel offset of the chunk's north-west corner
// inside its region tile.
func (c ChunkCoord) OffsetInRegion() (int, int) {
	return (c.X & (RegionChunks - 1)) * ChunkSize, (c.Z & (RegionChunks - 1)) * ChunkSize
}

// ChunkAtBlock returns the chunk containing the given block column.
func ChunkAtBlock(x, z int) ChunkCoord {
	return ChunkCoord{X: x >> 4, Z: z >> 4}
}

// RegionCoord identifies a RegionChunks x RegionChunks block of chunks.
type RegionCoord struct {
	X int
	Z int
}

func (r RegionCoord) String() string {
	return fmt.Sprintf("region(%d,%d)", r.X, r.Z)
}

func (r RegionCoord) MinChunk() ChunkCoord {
	return ChunkCoord{X: r.X << RegionShift, Z: r.Z << RegionShift}
}

func (r RegionCoord) MaxChunk() ChunkCoord {
	return r.MinChunk().Add(RegionChunks-1, RegionChunks-1)
}

// Chunks returns every chunk coordinate in the region, row by row.
func (r RegionCoord) Chunks() []ChunkCoord {
	min := r.MinChunk()
	coords := make([]ChunkCoord, 0, RegionChunks*RegionChunks)
	for z := 0; z < RegionChunks; z++ {
		for x := 0; x < RegionChunks; x++ {
			coords = append(coords, min.Add(x, z))
		}
	}
	return coords
}

// Contains reports whether the chunk lies inside the region.
func (r RegionCoord) Contains(c ChunkCoord) bool {
	return c.Region() == r
}

// DistanceSq returns the squared region-grid distance between two regions.
func (r RegionCoord) DistanceSq(o RegionCoord) int {
	dx, dz := r.X-o.X, r.Z-o.Z
	return dx*dx + dz*dz
}
