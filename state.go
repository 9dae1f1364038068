package atlas

import (
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl64"
)

// MappingState is the process-wide "is mapping active" switch together with
// the dimension being mapped. Render tasks check it before every chunk.
type MappingState struct {
	active    atomic.Bool
	dimension atomic.Int64
}

func NewMappingState(dimension int) *MappingState {
	s := &MappingState{}
	s.dimension.Store(int64(dimension))
	return s
}

func (s *MappingState) Start() {
	s.active.Store(true)
}

func (s *MappingState) Stop() {
	s.active.Store(false)
}

func (s *MappingState) Active() bool {
	return s.active.Load()
}

func (s *MappingState) Dimension() int {
	return int(s.dimension.Load())
}

// SetDimension changes the mapped dimension. Tasks for the previous
// dimension cancel themselves at the next chunk.
func (s *MappingState) SetDimension(dimension int) {
	s.dimension.Store(int64(dimension))
}

// ActiveFor reports whether mapping is active for the given dimension.
func (s *MappingState) ActiveFor(dimension int) bool {
	return s.Active() && s.Dimension() == dimension
}

// Player is the observer the proximity manager renders around.
type Player interface {
	Position() mgl64.Vec3
	Dimension() int
	// Underground reports whether the player cannot see the sky.
	Underground() bool
}

// StaticPlayer is a Player whose state is set by the caller, typically from a
// config file or a status feed.
type StaticPlayer struct {
	mu          sync.RWMutex
	position    mgl64.Vec3
	dimension   int
	underground bool
}

func NewStaticPlayer(position mgl64.Vec3, dimension int) *StaticPlayer {
	return &StaticPlayer{position: position, dimension: dimension}
}

func (p *StaticPlayer) Position() mgl64.Vec3 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.position
}

func (p *StaticPlayer) Dimension() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dimension
}

func (p *StaticPlayer) Underground() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.underground
}

func (p *StaticPlayer) MoveTo(position mgl64.Vec3, dimension int, underground bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = position
	p.dimension = dimension
	p.underground = underground
}

// PlayerChunk returns the chunk a player stands in.
func PlayerChunk(p Player) ChunkCoord {
	pos := p.Position()
	return ChunkAtBlock(floorInt(pos.X()), floorInt(pos.Z()))
}

// PlayerVariant returns the underground variant for the player's current
// height, used when the player cannot see the sky.
func PlayerVariant(p Player) MapVariant {
	return UndergroundAt(floorInt(p.Position().Y()))
}

func floorInt(v float64) int {
	i := int(v)
	if v < 0 && float64(i) != v {
		i--
	}
	return i
}
