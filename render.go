package atlas

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// RenderEnv holds the collaborators shared by every render task. It is owned
// by the application and passed to managers explicitly.
type RenderEnv struct {
	Source   func(dimension int) (ChunkSource, error)
	Renderer *ChunkRenderer
	Cache    *RegionImageCache
	State    *MappingState
}

// RenderJob is a batch of chunks to render into one or more variants.
// Rendering Day and Night together shares a single surface pass.
type RenderJob struct {
	Variants []MapVariant
	Chunks   []ChunkCoord
}

func (j RenderJob) has(kind VariantKind) bool {
	for _, v := range j.Variants {
		if v.Kind == kind {
			return true
		}
	}
	return false
}

// maxWindowSnapshots bounds how many snapshots a task keeps for neighbor
// lookups before dropping the ones far from the current chunk.
const maxWindowSnapshots = 2048

// RenderTask renders a batch of chunks of a single dimension into the cache.
type RenderTask struct {
	id   uuid.UUID
	name string
	env  *RenderEnv

	Dimension int
	Jobs      []RenderJob
	// Flush writes dirty tiles to disk when the task completes.
	Flush bool
	// Budget is the expected maximum runtime of the task.
	Budget time.Duration

	OnComplete func(TaskResult)
}

func NewRenderTask(name string, env *RenderEnv, dimension int, jobs ...RenderJob) *RenderTask {
	return &RenderTask{
		id:        uuid.New(),
		name:      name,
		env:       env,
		Dimension: dimension,
		Jobs:      jobs,
	}
}

func (t *RenderTask) ID() uuid.UUID { return t.id }

func (t *RenderTask) Name() string { return t.name }

func (t *RenderTask) MaxRuntime() time.Duration { return t.Budget }

// ChunkCount is the number of chunks across all jobs.
func (t *RenderTask) ChunkCount() int {
	n := 0
	for _, j := range t.Jobs {
		n += len(j.Chunks)
	}
	return n
}

func (t *RenderTask) Complete(result TaskResult) {
	if t.OnComplete != nil {
		t.OnComplete(result)
	}
}

func (t *RenderTask) String() string {
	return fmt.Sprintf("%s[%s] DIM%d %d jobs %d chunks", t.name, t.id, t.Dimension, len(t.Jobs), t.ChunkCount())
}

// Run renders every chunk of every job in order. Missing chunks and chunks
// that fail to render are counted as errors and skipped. Cancellation of ctx
// or mapping being stopped aborts the task between chunks.
func (t *RenderTask) Run(ctx context.Context) (result TaskResult) {
	result = TaskResult{
		TaskID:  t.id,
		Name:    t.name,
		Status:  StatusCompleted,
		Started: time.Now(),
	}
	defer func() {
		result.Elapsed = time.Since(result.Started)
	}()

	source, err := t.env.Source(t.Dimension)
	if err != nil {
		result.Status = StatusFailed
		result.Err = fmt.Errorf("no chunk source for DIM%d: %w", t.Dimension, err)
		return result
	}

	window := newSnapshotWindow(source)

	result.Jobs = make([]JobResult, len(t.Jobs))
	for i, job := range t.Jobs {
		result.Jobs[i].Variants = job.Variants
	}

jobs:
	for i, job := range t.Jobs {
		jr := &result.Jobs[i]
		jobStart := time.Now()
		for _, coord := range job.Chunks {
			if ctx.Err() != nil || !t.env.State.ActiveFor(t.Dimension) {
				result.Status = StatusCancelled
				jr.Elapsed = time.Since(jobStart)
				break jobs
			}

			if len(window.loaded) > maxWindowSnapshots {
				window.forget(func(c ChunkCoord) bool {
					return abs(c.X-coord.X) <= 1 && abs(c.Z-coord.Z) <= 1
				})
			}

			snap, err := window.get(coord)
			if err != nil {
				jr.Errors++
				if !errors.Is(err, ErrChunkAbsent) {
					log.Printf("[task] %s: failed to read chunk %v: %v", t.name, coord, err)
				}
				continue
			}

			if err := t.renderChunk(window, snap, job); err != nil {
				jr.Errors++
				log.Printf("[task] %s: %v", t.name, err)
				continue
			}
			jr.Chunks++
		}
		jr.Elapsed = time.Since(jobStart)
	}

	for _, jr := range result.Jobs {
		result.Chunks += jr.Chunks
		result.Errors += jr.Errors
	}

	if result.Status == StatusCompleted {
		if t.Flush {
			result.Flushed = t.env.Cache.FlushToDisk(false)
		} else {
			t.env.Cache.MaybeFlush()
		}
	}
	return result
}

func (t *RenderTask) renderChunk(window *snapshotWindow, snap *ChunkSnapshot, job RenderJob) error {
	coord := snap.Coord()
	neighbors := window.neighbors(coord)
	cache := t.env.Cache

	if job.has(VariantDay) && job.has(VariantNight) {
		day, night, err := t.env.Renderer.RenderSurface(snap, neighbors)
		if err != nil {
			return err
		}
		if err := cache.WriteChunk(t.Dimension, Day(), coord, day); err != nil {
			return err
		}
		if err := cache.WriteChunk(t.Dimension, Night(), coord, night); err != nil {
			return err
		}
	}

	for _, variant := range job.Variants {
		if job.has(VariantDay) && job.has(VariantNight) && (variant.Kind == VariantDay || variant.Kind == VariantNight) {
			continue
		}
		img, err := t.env.Renderer.RenderChunk(snap, neighbors, variant)
		if err != nil {
			return err
		}
		if err := cache.WriteChunk(t.Dimension, variant, coord, img); err != nil {
			return err
		}
	}
	return nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
