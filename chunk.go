package atlas

import "errors"

// ErrChunkAbsent is returned by a ChunkSource for chunks that have not been
// generated or cannot be read.
var ErrChunkAbsent = errors.New("chunk absent")

// ChunkSource yields immutable chunk snapshots. Implementations must be safe
// to call from the render worker.
type ChunkSource interface {
	Chunk(coord ChunkCoord) (*ChunkSnapshot, error)
}

// ChunkSourceFunc adapts a function to ChunkSource.
type ChunkSourceFunc func(coord ChunkCoord) (*ChunkSnapshot, error)

func (f ChunkSourceFunc) Chunk(coord ChunkCoord) (*ChunkSnapshot, error) {
	return f(coord)
}

// MemorySource is a ChunkSource over a fixed set of snapshots.
type MemorySource map[ChunkCoord]*ChunkSnapshot

func (m MemorySource) Add(snap *ChunkSnapshot) {
	m[snap.Coord()] = snap
}

func (m MemorySource) Chunk(coord ChunkCoord) (*ChunkSnapshot, error) {
	snap, ok := m[coord]
	if !ok {
		return nil, ErrChunkAbsent
	}
	return snap, nil
}

// snapshotWindow memoizes the snapshots loaded during a single task so that
// neighbors used for slope shading are only read once. It is owned by one
// task and not safe for concurrent use.
type snapshotWindow struct {
	source ChunkSource
	loaded map[ChunkCoord]*ChunkSnapshot
}

func newSnapshotWindow(source ChunkSource) *snapshotWindow {
	return &snapshotWindow{
		source: source,
		loaded: make(map[ChunkCoord]*ChunkSnapshot),
	}
}

func (w *snapshotWindow) get(coord ChunkCoord) (*ChunkSnapshot, error) {
	if snap, ok := w.loaded[coord]; ok {
		if snap == nil {
			return nil, ErrChunkAbsent
		}
		return snap, nil
	}

	snap, err := w.source.Chunk(coord)
	if err != nil || snap == nil {
		w.loaded[coord] = nil
		if err == nil {
			err = ErrChunkAbsent
		}
		return nil, err
	}
	w.loaded[coord] = snap
	return snap, nil
}

// NeighborHeight returns the surface height of the column in the adjacent
// chunk that borders coord's north-west corner column.
func (w *snapshotWindow) NeighborHeight(coord ChunkCoord, dir Direction) (int, bool) {
	dx, dz := dir.Offset()
	snap, err := w.get(coord.Add(dx, dz))
	if err != nil {
		return 0, false
	}
	x, z := 0, 0
	if dx < 0 {
		x = ChunkSize - 1
	}
	if dz < 0 {
		z = ChunkSize - 1
	}
	h := snap.HeightAt(x, z)
	if h < snap.MinY() {
		return 0, false
	}
	return h, true
}

// neighbors returns the Neighbors view of coord.
func (w *snapshotWindow) neighbors(coord ChunkCoord) Neighbors {
	return windowNeighbors{w: w, coord: coord}
}

// forget drops snapshots that can no longer be a neighbor of anything after
// coord, keeping memory bounded on long batches.
func (w *snapshotWindow) forget(keep func(ChunkCoord) bool) {
	for c := range w.loaded {
		if !keep(c) {
			delete(w.loaded, c)
		}
	}
}

type windowNeighbors struct {
	w     *snapshotWindow
	coord ChunkCoord
}

func (n windowNeighbors) Neighbor(dir Direction) *ChunkSnapshot {
	dx, dz := dir.Offset()
	snap, err := n.w.get(n.coord.Add(dx, dz))
	if err != nil {
		return nil
	}
	return snap
}
