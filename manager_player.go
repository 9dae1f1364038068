package atlas

import (
	"sync"
	"time"
)

const PlayerManagerName = "player"

type PlayerManagerOpts struct {
	// PollInterval is the minimum time between the end of one proximity
	// task and the start of the next.
	PollInterval time.Duration
	SurfaceArea  RenderArea
	CaveArea     RenderArea

	CavesAllowed     bool
	AlwaysMapCaves   bool
	AlwaysMapSurface bool
	MapTopography    bool

	Budget time.Duration
}

// PlayerManager renders the area around the player every poll interval. The
// primary variant follows the player (surface or the cave slice they stand
// in); the other one and topography can be rendered in the same batch.
type PlayerManager struct {
	env    *RenderEnv
	player Player
	specs  *RenderSpecs
	opts   PlayerManagerOpts

	mu            sync.Mutex
	enabled       bool
	lastCompleted time.Time
	last          TaskResult
}

func NewPlayerManager(env *RenderEnv, player Player, specs *RenderSpecs, opts PlayerManagerOpts) *PlayerManager {
	return &PlayerManager{
		env:    env,
		player: player,
		specs:  specs,
		opts:   opts,
	}
}

func (m *PlayerManager) Name() string { return PlayerManagerName }

func (m *PlayerManager) Enable(params any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
	return true
}

func (m *PlayerManager) IsEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

func (m *PlayerManager) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
}

func (m *PlayerManager) LastResult() TaskResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

var surfaceVariants = []MapVariant{Day(), Night()}

type playerJob struct {
	job  RenderJob
	spec *RenderSpec
}

func (m *PlayerManager) jobs() []playerJob {
	center := PlayerChunk(m.player)
	dimension := m.player.Dimension()
	underground := m.player.Underground()

	add := func(jobs []playerJob, variants []MapVariant, area RenderArea) []playerJob {
		spec := m.specs.Get(dimension, variants[0], area, center)
		return append(jobs, playerJob{
			job:  RenderJob{Variants: variants, Chunks: spec.RenderAreaCoords(center)},
			spec: spec,
		})
	}

	var jobs []playerJob
	if underground {
		jobs = add(jobs, []MapVariant{PlayerVariant(m.player)}, m.opts.CaveArea)
		if m.opts.AlwaysMapSurface {
			jobs = add(jobs, surfaceVariants, m.opts.SurfaceArea)
		}
	} else {
		jobs = add(jobs, surfaceVariants, m.opts.SurfaceArea)
		if m.opts.CavesAllowed && m.opts.AlwaysMapCaves {
			jobs = add(jobs, []MapVariant{PlayerVariant(m.player)}, m.opts.CaveArea)
		}
		if m.opts.MapTopography {
			jobs = add(jobs, []MapVariant{Topo()}, m.opts.SurfaceArea)
		}
	}
	return jobs
}

func (m *PlayerManager) Poll(now time.Time) Task {
	m.mu.Lock()
	enabled, lastCompleted := m.enabled, m.lastCompleted
	m.mu.Unlock()

	if !enabled || m.player == nil {
		return nil
	}
	dimension := m.player.Dimension()
	if !m.env.State.ActiveFor(dimension) {
		return nil
	}
	if now.Sub(lastCompleted) < m.opts.PollInterval {
		return nil
	}
	if m.player.Underground() && !m.opts.CavesAllowed {
		return nil
	}

	jobs := m.jobs()
	renderJobs := make([]RenderJob, len(jobs))
	for i, j := range jobs {
		renderJobs[i] = j.job
	}

	task := NewRenderTask(PlayerManagerName, m.env, dimension, renderJobs...)
	task.Budget = m.opts.Budget
	task.OnComplete = func(result TaskResult) {
		if result.Status == StatusCompleted {
			for i, jr := range result.Jobs {
				if i < len(jobs) {
					jobs[i].spec.SetLastTaskInfo(jr.Chunks, jr.Elapsed)
				}
			}
		}

		m.mu.Lock()
		m.lastCompleted = time.Now()
		m.last = result
		m.mu.Unlock()
	}
	return task
}

func (m *PlayerManager) OnAccepted(task Task, accepted bool) {}
