package atlas

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

type RevealShape int

const (
	RevealSquare RevealShape = iota
	RevealCircle
)

func (s RevealShape) String() string {
	if s == RevealCircle {
		return "circle"
	}
	return "square"
}

func ParseRevealShape(s string) (RevealShape, error) {
	switch strings.ToLower(s) {
	case "", "square":
		return RevealSquare, nil
	case "circle":
		return RevealCircle, nil
	}
	return RevealSquare, fmt.Errorf("unknown reveal shape %q", s)
}

// RenderArea configures how far around the player chunks are rendered. The
// primary distance is rendered every cycle; each cycle also renders the next
// ring out to MaxDistance, wrapping back once the last ring is reached.
type RenderArea struct {
	MinDistance int
	MaxDistance int
	Shape       RevealShape
}

func (a RenderArea) normalize() RenderArea {
	if a.MinDistance < 0 {
		a.MinDistance = 0
	}
	if a.MaxDistance < a.MinDistance {
		a.MaxDistance = a.MinDistance
	}
	// a single secondary ring would be rendered every cycle anyway
	if a.MinDistance+1 == a.MaxDistance {
		a.MinDistance++
	}
	return a
}

// RenderStats tracks how long recent proximity tasks took. It is used for
// status reporting only.
type RenderStats struct {
	LastChunks   int           `json:"lastChunks"`
	LastElapsed  time.Duration `json:"lastElapsed"`
	TotalChunks  int           `json:"totalChunks"`
	TotalElapsed time.Duration `json:"totalElapsed"`
}

// LastAvgChunkTime is the mean time per chunk of the last task.
func (s RenderStats) LastAvgChunkTime() time.Duration {
	return s.LastElapsed / time.Duration(max(1, s.LastChunks))
}

// ChunksPerMs is the running average render throughput.
func (s RenderStats) ChunksPerMs() float64 {
	ms := float64(s.TotalElapsed) / float64(time.Millisecond)
	if ms <= 0 {
		return 0
	}
	return float64(s.TotalChunks) / ms
}

// RenderSpec decides which chunks around a center chunk are rendered on
// each cycle for one kind of map.
type RenderSpec struct {
	mu sync.Mutex

	kind    VariantKind
	area    RenderArea
	center  ChunkCoord
	offsets map[int][]ChunkCoord

	// what RenderSpecs.Get was asked for, night folded into day
	dimension int
	variant   MapVariant

	primaryCoords []ChunkCoord
	lastSecondary int

	stats RenderStats
}

func NewRenderSpec(kind VariantKind, area RenderArea, center ChunkCoord) *RenderSpec {
	area = area.normalize()
	return &RenderSpec{
		kind:          kind,
		area:          area,
		center:        center,
		lastSecondary: area.MinDistance,
	}
}

func (s *RenderSpec) Kind() VariantKind { return s.kind }

func (s *RenderSpec) Area() RenderArea { return s.area }

func (s *RenderSpec) Center() ChunkCoord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.center
}

// chunkInRange reports whether coord is within distance chunks of center.
// Circles let in chunks up to half a chunk past the perimeter so their edges
// look fuller.
func chunkInRange(center, coord ChunkCoord, distance int, shape RevealShape) bool {
	if shape == RevealCircle {
		dx := float64((center.X - coord.X) * ChunkSize)
		dz := float64((center.Z - coord.Z) * ChunkSize)
		return math.Sqrt(dx*dx+dz*dz)-float64(distance*ChunkSize) <= 8
	}
	return abs(center.X-coord.X) <= distance && abs(center.Z-coord.Z) <= distance
}

// calculateOffsets returns, for the minimum distance, every offset within it
// and, for each larger distance, only the ring of offsets it adds.
func calculateOffsets(minDistance, maxDistance int, shape RevealShape) map[int][]ChunkCoord {
	origin := ChunkCoord{}
	within := func(d int) []ChunkCoord {
		var out []ChunkCoord
		for x := -d; x <= d; x++ {
			for z := -d; z <= d; z++ {
				c := ChunkCoord{X: x, Z: z}
				if chunkInRange(origin, c, d, shape) {
					out = append(out, c)
				}
			}
		}
		return out
	}

	offsets := make(map[int][]ChunkCoord, maxDistance-minDistance+1)
	offsets[minDistance] = within(minDistance)
	for d := minDistance + 1; d <= maxDistance; d++ {
		var ring []ChunkCoord
		for _, c := range within(d) {
			if !chunkInRange(origin, c, d-1, shape) {
				ring = append(ring, c)
			}
		}
		offsets[d] = ring
	}
	return offsets
}

// RenderAreaCoords returns the chunks to render this cycle around center:
// the primary area plus the next secondary ring.
func (s *RenderSpec) RenderAreaCoords(center ChunkCoord) []ChunkCoord {
	offsets := s.offsetTable()

	s.mu.Lock()
	defer s.mu.Unlock()

	if center != s.center {
		s.primaryCoords = nil
		s.lastSecondary = s.area.MinDistance
	}
	s.center = center

	if len(s.primaryCoords) == 0 {
		primary := offsets[s.area.MinDistance]
		s.primaryCoords = make([]ChunkCoord, len(primary))
		for i, o := range primary {
			s.primaryCoords[i] = center.Add(o.X, o.Z)
		}
	}

	if s.area.MinDistance == s.area.MaxDistance {
		return append([]ChunkCoord(nil), s.primaryCoords...)
	}

	if s.lastSecondary == s.area.MaxDistance {
		s.lastSecondary = s.area.MinDistance
	}
	s.lastSecondary++

	secondary := offsets[s.lastSecondary]
	coords := make([]ChunkCoord, 0, len(s.primaryCoords)+len(secondary))
	coords = append(coords, s.primaryCoords...)
	for _, o := range secondary {
		coords = append(coords, center.Add(o.X, o.Z))
	}
	return coords
}

func (s *RenderSpec) PrimaryRenderSize() int {
	return len(s.offsetTable()[s.area.MinDistance])
}

// LastSecondaryRenderDistance is the ring rendered by the latest cycle.
func (s *RenderSpec) LastSecondaryRenderDistance() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSecondary
}

func (s *RenderSpec) LastSecondaryRenderSize() int {
	if s.area.MinDistance == s.area.MaxDistance {
		return 0
	}
	d := s.LastSecondaryRenderDistance()
	return len(s.offsetTable()[d])
}

func (s *RenderSpec) offsetTable() map[int][]ChunkCoord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offsets == nil {
		s.offsets = calculateOffsets(s.area.MinDistance, s.area.MaxDistance, s.area.Shape)
	}
	return s.offsets
}

// SetLastTaskInfo records the outcome of a finished task.
func (s *RenderSpec) SetLastTaskInfo(chunks int, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.LastChunks = chunks
	s.stats.LastElapsed = elapsed
	s.stats.TotalChunks += chunks
	s.stats.TotalElapsed += elapsed
}

func (s *RenderSpec) Stats() RenderStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *RenderSpec) copyStatsFrom(other *RenderSpec) {
	if other == nil {
		return
	}
	stats := other.Stats()
	s.mu.Lock()
	s.stats = stats
	s.mu.Unlock()
}

// DebugString summarizes the area and the last task, flagging slow chunks.
func (s *RenderSpec) DebugString() string {
	stats := s.Stats()

	var label string
	switch s.kind {
	case VariantUnderground:
		label = "Caves"
	case VariantTopo:
		label = "Topo"
	default:
		label = "Surface"
	}

	avg := fmt.Sprintf("%.1fms", float64(stats.LastAvgChunkTime())/float64(time.Millisecond))
	if stats.LastAvgChunkTime() >= 10*time.Millisecond {
		avg += "!"
	}

	if s.area.MinDistance == s.area.MaxDistance {
		return fmt.Sprintf("%s: %d = %d chunks in %dms (avg %s)",
			label, s.area.MinDistance, stats.LastChunks, stats.LastElapsed.Milliseconds(), avg)
	}
	return fmt.Sprintf("%s: %d (%d) + %d (%d) = %d chunks in %dms (avg %s)",
		label, s.area.MinDistance, s.PrimaryRenderSize(),
		s.LastSecondaryRenderDistance(), s.LastSecondaryRenderSize(),
		stats.LastChunks, stats.LastElapsed.Milliseconds(), avg)
}

// RenderSpecs keeps the latest spec per kind of map. A spec is reused until
// the player changes chunk, dimension or underground slice, or the area
// settings change; a replacement keeps the previous spec's stats.
type RenderSpecs struct {
	mu    sync.Mutex
	specs map[VariantKind]*RenderSpec
}

func NewRenderSpecs() *RenderSpecs {
	return &RenderSpecs{specs: make(map[VariantKind]*RenderSpec)}
}

func specKind(v MapVariant) VariantKind {
	if v.Kind == VariantNight {
		return VariantDay
	}
	return v.Kind
}

func (r *RenderSpecs) Get(dimension int, variant MapVariant, area RenderArea, center ChunkCoord) *RenderSpec {
	kind := specKind(variant)
	if variant.Kind == VariantNight {
		variant = Day()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	last := r.specs[kind]
	if last != nil && last.dimension == dimension && last.variant == variant &&
		last.Center() == center && last.area == area.normalize() {
		return last
	}
	spec := NewRenderSpec(kind, area, center)
	spec.dimension = dimension
	spec.variant = variant
	spec.copyStatsFrom(last)
	r.specs[kind] = spec
	return spec
}

// Peek returns the latest spec of a kind without creating one.
func (r *RenderSpecs) Peek(kind VariantKind) *RenderSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.specs[kind]
}

func (r *RenderSpecs) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs = make(map[VariantKind]*RenderSpec)
}
