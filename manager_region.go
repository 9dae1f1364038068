package atlas

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

const RegionManagerName = "region"

// RegionLister enumerates the stored regions and chunks of a world.
type RegionLister interface {
	Regions(dimension int) ([]RegionCoord, error)
	RegionChunks(dimension int, r RegionCoord) ([]ChunkCoord, error)
}

// RegionParams enables the region manager.
type RegionParams struct {
	// All re-renders every region, not only those without a tile yet.
	All bool
	// Variants overrides the variants derived from the player.
	Variants []MapVariant
}

type RegionManagerOpts struct {
	// PollInterval is how long after the last region task a new full scan
	// may be enabled.
	PollInterval time.Duration
	CavesAllowed bool
	Budget       time.Duration
}

// RegionManager renders every stored region of the current dimension, one
// region per task, starting with the player's region and moving outwards.
// It disables itself once the queue is empty.
type RegionManager struct {
	env      *RenderEnv
	lister   RegionLister
	player   Player
	notifier Notifier
	opts     RegionManagerOpts

	mu            sync.Mutex
	enabled       bool
	dimension     int
	variants      []MapVariant
	queue         []RegionCoord
	found         int
	lastCompleted time.Time
}

func NewRegionManager(env *RenderEnv, lister RegionLister, player Player, notifier Notifier, opts RegionManagerOpts) *RegionManager {
	return &RegionManager{
		env:      env,
		lister:   lister,
		player:   player,
		notifier: notifier,
		opts:     opts,
	}
}

func (m *RegionManager) Name() string { return RegionManagerName }

func (m *RegionManager) IsEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Progress returns the regions found by the scan and those still queued.
func (m *RegionManager) Progress() (found, remaining int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.found, len(m.queue)
}

func (m *RegionManager) variantsFor(params RegionParams) []MapVariant {
	if len(params.Variants) > 0 {
		return params.Variants
	}
	if m.player != nil && m.player.Underground() && m.opts.CavesAllowed {
		return []MapVariant{PlayerVariant(m.player)}
	}
	return surfaceVariants
}

// Enable scans the world for regions to render. params must be a
// RegionParams; nil leaves the manager disabled.
func (m *RegionManager) Enable(params any) bool {
	p, ok := params.(RegionParams)
	if !ok {
		if pp, isPtr := params.(*RegionParams); isPtr && pp != nil {
			p, ok = *pp, true
		}
	}
	if !ok {
		return false
	}

	m.mu.Lock()
	lastCompleted := m.lastCompleted
	m.mu.Unlock()
	if time.Since(lastCompleted) < m.opts.PollInterval {
		return false
	}

	variants := m.variantsFor(p)
	dimension := m.env.State.Dimension()

	queue, err := m.scan(dimension, variants[0], p.All)
	if err != nil {
		log.Printf("[automap] couldn't start: %v", err)
		return false
	}

	m.mu.Lock()
	m.dimension = dimension
	m.variants = variants
	m.queue = queue
	m.found = len(queue)
	m.enabled = len(queue) > 0
	enabled := m.enabled
	m.mu.Unlock()

	if !enabled {
		notify(m.notifier, Event{
			Kind:      EventAutomapComplete,
			Dimension: dimension,
			Variant:   variants[0].String(),
			Percent:   100,
			Message:   fmt.Sprintf("nothing to map for %v in DIM%d", variants[0], dimension),
		})
		return false
	}
	log.Printf("[automap] mapping %d regions of DIM%d as %v", len(queue), dimension, variants)
	return true
}

// scan lists the regions with at least one stored chunk, skipping those that
// already have a tile unless all is set. The player's region comes first,
// the rest follow nearest first.
func (m *RegionManager) scan(dimension int, variant MapVariant, all bool) ([]RegionCoord, error) {
	regions, err := m.lister.Regions(dimension)
	if err != nil {
		return nil, err
	}

	var queue []RegionCoord
	for _, r := range regions {
		if !all && m.env.Cache.HasTile(TileKey{Dimension: dimension, Region: r, Variant: variant}) {
			continue
		}
		chunks, err := m.lister.RegionChunks(dimension, r)
		if err != nil {
			log.Printf("[automap] skipping region %v: %v", r, err)
			continue
		}
		if len(chunks) == 0 {
			continue
		}
		queue = append(queue, r)
	}

	var origin RegionCoord
	if m.player != nil && m.player.Dimension() == dimension {
		origin = PlayerChunk(m.player).Region()
	}
	sort.SliceStable(queue, func(i, j int) bool {
		di, dj := queue[i].DistanceSq(origin), queue[j].DistanceSq(origin)
		if di != dj {
			return di < dj
		}
		if queue[i].X != queue[j].X {
			return queue[i].X < queue[j].X
		}
		return queue[i].Z < queue[j].Z
	})
	return queue, nil
}

func (m *RegionManager) Poll(now time.Time) Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return nil
	}
	if !m.env.State.ActiveFor(m.dimension) {
		return nil
	}

	for len(m.queue) > 0 {
		r := m.queue[0]
		chunks, err := m.lister.RegionChunks(m.dimension, r)
		if err != nil || len(chunks) == 0 {
			m.queue = m.queue[1:]
			m.skipped(m.dimension, r, err)
			continue
		}

		task := NewRenderTask(fmt.Sprintf("region %v", r), m.env, m.dimension, RenderJob{
			Variants: m.variants,
			Chunks:   chunks,
		})
		task.Flush = true
		task.Budget = m.opts.Budget
		dimension := m.dimension
		task.OnComplete = func(result TaskResult) {
			m.mu.Lock()
			m.lastCompleted = time.Now()
			m.mu.Unlock()

			if result.Status == StatusFailed || (result.Status == StatusCompleted && result.Chunks == 0) {
				m.skipped(dimension, r, result.Err)
			}
		}
		return task
	}

	m.disableLocked()
	return nil
}

func (m *RegionManager) skipped(dimension int, r RegionCoord, err error) {
	msg := fmt.Sprintf("region %v skipped", r)
	ev := Event{
		Kind:      EventRegionSkipped,
		Dimension: dimension,
		Region:    &r,
		Message:   msg,
	}
	if err != nil {
		ev.Err = err.Error()
		ev.Message = msg + ": " + err.Error()
	}
	notify(m.notifier, ev)
}

// OnAccepted pops the region of an accepted task and reports progress.
func (m *RegionManager) OnAccepted(task Task, accepted bool) {
	if !accepted {
		return
	}

	m.mu.Lock()
	if len(m.queue) == 0 {
		m.mu.Unlock()
		return
	}
	m.queue = m.queue[1:]
	total := float64(m.found)
	percent := (total - float64(len(m.queue))) * 100 / total
	variant := m.variants[0]
	dimension := m.dimension
	m.mu.Unlock()

	notify(m.notifier, Event{
		Kind:      EventAutomapProgress,
		Dimension: dimension,
		Variant:   variant.String(),
		Percent:   percent,
		Message:   fmt.Sprintf("mapping %v of DIM%d: %.1f%%", variant, dimension, percent),
	})
}

func (m *RegionManager) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disableLocked()
}

// disableLocked writes every tile synchronously and drops the batch's tiles
// from memory.
func (m *RegionManager) disableLocked() {
	if !m.enabled {
		return
	}
	m.enabled = false
	m.queue = nil

	notify(m.notifier, Event{
		Kind:      EventAutomapComplete,
		Dimension: m.dimension,
		Variant:   m.variants[0].String(),
		Percent:   100,
		Message:   fmt.Sprintf("mapping %v of DIM%d complete", m.variants[0], m.dimension),
	})

	cache := m.env.Cache
	cache.FlushToDisk(true)
	if cache.DirtyCount() == 0 {
		cache.InvalidateAll()
	}
}
