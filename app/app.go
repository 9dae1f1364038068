package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/b1naryth1ef/atlas"
	"github.com/b1naryth1ef/atlas/dl"
	"github.com/b1naryth1ef/atlas/web"
)

// TickInterval is how often the driving loop polls the task managers.
const TickInterval = 100 * time.Millisecond

// App wires a world, the render pipeline and the task managers together.
type App struct {
	Config *atlas.Config
	Info   atlas.WorldInfo

	World      *atlas.AnvilWorld
	Renderer   *atlas.ChunkRenderer
	Cache      *atlas.RegionImageCache
	Scheduler  *atlas.Scheduler
	State      *atlas.MappingState
	Player     *atlas.StaticPlayer
	Specs      *atlas.RenderSpecs
	Events     *atlas.EventLog
	Controller *atlas.TaskController

	Regions *atlas.RegionManager
	Saves   *atlas.SaveManager
	Nearby  *atlas.PlayerManager

	closers []io.Closer
}

func ensureDirectory(path string) error {
	err := os.MkdirAll(path, os.ModePerm)
	if err != nil && !os.IsExist(err) {
		return err
	}
	return nil
}

// New opens the configured world. Nothing is rendered until one of Build,
// Serve or Save drives the task controller.
func New(ctx context.Context, config *atlas.Config) (*App, error) {
	if err := ensureDirectory(config.Output); err != nil {
		return nil, err
	}

	info, err := atlas.ReadWorldInfo(config.World)
	if err != nil {
		log.Printf("[app] couldn't read level.dat of %s: %v", config.World, err)
	}

	a := &App{
		Config: config,
		Info:   info,
		State:  atlas.NewMappingState(config.Dimension),
		Specs:  atlas.NewRenderSpecs(),
		Events: atlas.NewEventLog(64, atlas.LogNotifier{}),
	}

	colorizer, err := a.loadColorizer(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	topo, err := config.TopoPalette()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Renderer = atlas.NewChunkRenderer(colorizer, config.RenderOptions(), topo)

	a.Cache, err = atlas.NewRegionImageCache(config.Output, config.CacheOpts())
	if err != nil {
		a.Close()
		return nil, err
	}

	a.World, err = atlas.OpenAnvilWorld(config.World, config.OpenRegions)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.World)

	a.Player = atlas.NewStaticPlayer(config.PlayerPosition(), config.Dimension)
	if config.Player.Underground {
		a.Player.MoveTo(config.PlayerPosition(), config.Dimension, true)
	}

	env := &atlas.RenderEnv{
		Source:   a.World.Source,
		Renderer: a.Renderer,
		Cache:    a.Cache,
		State:    a.State,
	}

	a.Scheduler = atlas.NewScheduler(config.SchedulerOpts())
	a.Regions = atlas.NewRegionManager(env, a.World, a.Player, a.Events, config.RegionManagerOpts())
	a.Saves = atlas.NewSaveManager(a.Events)
	a.Nearby = atlas.NewPlayerManager(env, a.Player, a.Specs, config.PlayerManagerOpts())
	a.Controller = atlas.NewTaskController(a.Scheduler, a.Regions, a.Saves, a.Nearby)
	return a, nil
}

func (a *App) loadColorizer(ctx context.Context) (atlas.Colorizer, error) {
	jar := a.Config.ClientJar
	if jar == "" {
		version := a.Config.Version
		if version == "" {
			version = a.Info.Version
		}
		if version == "" {
			log.Printf("[app] unknown minecraft version, using built-in block colors")
			return atlas.NewStaticColorizer(atlas.NewRegistry(nil), atlas.DefaultColors), nil
		}

		jar = filepath.Join(a.Config.Output, "res", fmt.Sprintf("client-%s.jar", version))
		if _, err := os.Stat(jar); errors.Is(err, os.ErrNotExist) {
			log.Printf("[app] downloading client jar for %s", version)
			if err := dl.NewClient().DownloadClientJar(ctx, version, jar); err != nil {
				return nil, fmt.Errorf("failed to download client jar: %w", err)
			}
		}
	}

	loader, err := atlas.NewAssetLoaderFromClientJAR(jar)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, loader)

	return atlas.NewPalette(loader, atlas.NewRegistry(nil))
}

func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Close()
	}
	if a.Cache != nil {
		a.Cache.FlushToDisk(true)
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Tick runs one round of the task controller.
func (a *App) Tick(now time.Time) atlas.Task {
	return a.Controller.PerformTasks(now)
}

// runUntil ticks the controller until done reports true or ctx ends. done
// gets the task submitted by the tick, if any. A cancelled context cancels
// the running task and waits for it.
func (a *App) runUntil(ctx context.Context, done func(submitted atlas.Task) bool) error {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		if done(a.Tick(time.Now())) {
			a.Scheduler.Wait()
			return nil
		}

		select {
		case <-ctx.Done():
			waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := a.Scheduler.CancelAndWait(waitCtx); err != nil {
				log.Printf("[app] running task did not stop: %v", err)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *App) idle() bool {
	return a.Scheduler.State() == atlas.SlotIdle
}

// Build renders every stored region of the configured dimension.
func (a *App) Build(ctx context.Context, all bool) error {
	a.State.Start()
	defer a.State.Stop()

	start := time.Now()
	if !a.Controller.Toggle(atlas.RegionManagerName, true, atlas.RegionParams{All: all}) {
		log.Printf("[app] nothing to render")
		return nil
	}

	err := a.runUntil(ctx, func(atlas.Task) bool {
		return !a.Regions.IsEnabled() && a.idle()
	})
	a.Controller.Toggle(atlas.RegionManagerName, false, nil)
	flushed := a.Cache.FlushToDisk(true)

	last := a.Scheduler.Last()
	log.Printf("[app] finished build of DIM%d in %dms (%d tiles written, last task: %s, %d bad blocks)",
		a.State.Dimension(), time.Since(start).Milliseconds(), flushed, last.Message(), a.Renderer.BadBlocks())
	if missing := a.Renderer.GetMissingBlockStates(); len(missing) > 0 {
		log.Printf("[app] block states without a color: %v", missing)
	}
	return err
}

// Save exports one variant of the configured dimension to a single PNG and
// returns its path.
func (a *App) Save(ctx context.Context, variant atlas.MapVariant) (string, error) {
	saver := atlas.NewMapSaver(a.Cache, a.Config.Save.Dir, a.Info.Name, a.State.Dimension(), variant)
	saver.MaxSize = a.Config.Save.MaxSize

	var task *atlas.SaveTask
	if !a.Controller.Toggle(atlas.SaveManagerName, true, saver) {
		return "", atlas.ErrNoSaver
	}

	err := a.runUntil(ctx, func(submitted atlas.Task) bool {
		if t, ok := submitted.(*atlas.SaveTask); ok {
			task = t
		}
		if task == nil {
			return !a.Saves.IsEnabled()
		}
		return a.idle()
	})
	if err != nil {
		return "", err
	}
	if task == nil {
		return "", fmt.Errorf("map save was not scheduled")
	}

	result := a.Scheduler.Last()
	if result.TaskID != task.ID() {
		return "", fmt.Errorf("save task %s did not report a result", task.ID())
	}
	switch result.Status {
	case atlas.StatusCompleted:
		return task.Path, nil
	case atlas.StatusCancelled:
		return "", context.Canceled
	}
	return "", result.Err
}

// DeleteMap removes the tiles of the configured dimension, or of every
// dimension, stopping any task that is writing to them first.
func (a *App) DeleteMap(ctx context.Context, allDimensions bool) (atlas.DeleteResult, error) {
	wasActive := a.State.Active()
	nearby := a.Nearby.IsEnabled()
	a.State.Stop()

	if err := a.Scheduler.CancelAndWait(ctx); err != nil {
		if wasActive {
			a.State.Start()
		}
		return atlas.DeleteResult{}, err
	}
	a.Controller.DisableAll()

	result := a.Cache.DeleteMap(a.State.Dimension(), allDimensions)
	a.Specs.Reset()

	if wasActive {
		a.State.Start()
		if nearby {
			a.Controller.Toggle(atlas.PlayerManagerName, true, nil)
		}
	}
	if !result.OK() {
		return result, fmt.Errorf("failed to delete %v", result.Failed())
	}
	return result, nil
}

// Status is the JSON document served by the web viewer.
type Status struct {
	World     string            `json:"world"`
	Dimension int               `json:"dimension"`
	Mapping   bool              `json:"mapping"`
	State     string            `json:"state"`
	Current   string            `json:"current,omitempty"`
	Last      *LastTask         `json:"last,omitempty"`
	Automap   *AutomapStatus    `json:"automap,omitempty"`
	Specs     []string          `json:"specs"`
	Resident  int               `json:"resident"`
	Dirty     int               `json:"dirty"`
	LastFlush time.Time         `json:"lastFlush"`
	BadBlocks uint64            `json:"badBlocks"`
	Events    []atlas.Event     `json:"events"`
	Player    map[string]string `json:"player"`
}

type LastTask struct {
	atlas.TaskResult
	Message string `json:"message"`
}

type AutomapStatus struct {
	Found     int `json:"found"`
	Remaining int `json:"remaining"`
}

func (a *App) Status() Status {
	status := Status{
		World:     a.Info.Name,
		Dimension: a.State.Dimension(),
		Mapping:   a.State.Active(),
		State:     a.Scheduler.State().String(),
		Specs:     []string{},
		Resident:  a.Cache.Len(),
		Dirty:     a.Cache.DirtyCount(),
		LastFlush: a.Cache.LastFlush(),
		BadBlocks: a.Renderer.BadBlocks(),
		Events:    a.Events.Recent(),
		Player: map[string]string{
			"chunk":   atlas.PlayerChunk(a.Player).String(),
			"variant": atlas.PlayerVariant(a.Player).String(),
		},
	}

	if t := a.Scheduler.Current(); t != nil {
		status.Current = t.Name()
	}
	if last := a.Scheduler.Last(); !last.Started.IsZero() {
		status.Last = &LastTask{TaskResult: last, Message: last.Message()}
	}
	if a.Regions.IsEnabled() {
		found, remaining := a.Regions.Progress()
		status.Automap = &AutomapStatus{Found: found, Remaining: remaining}
	}
	for _, kind := range []atlas.VariantKind{atlas.VariantDay, atlas.VariantUnderground, atlas.VariantTopo} {
		if spec := a.Specs.Peek(kind); spec != nil {
			status.Specs = append(status.Specs, spec.DebugString())
		}
	}
	return status
}

// Serve maps the area around the player and serves the viewer until ctx
// ends.
func (a *App) Serve(ctx context.Context) error {
	variants := []atlas.MapVariant{atlas.Day(), atlas.Night()}
	if !a.Config.Render.DisableCaves {
		variants = append(variants, atlas.PlayerVariant(a.Player))
	}
	if a.Config.Render.MapTopography {
		variants = append(variants, atlas.Topo())
	}

	frontend := web.FrontendData{
		Maps: []web.MapData{web.NewMapData(a.Info.Name, a.State.Dimension(), variants...)},
	}
	server, err := web.NewServer(a.Cache, frontend, func() interface{} {
		return a.Status()
	})
	if err != nil {
		return err
	}

	a.State.Start()
	a.Controller.Toggle(atlas.PlayerManagerName, true, nil)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		errc <- server.ListenAndServe(ctx, a.Config.Listen)
		cancel()
	}()

	err = a.runUntil(ctx, func(atlas.Task) bool { return false })
	a.State.Stop()
	a.Controller.DisableAll()
	a.Cache.FlushToDisk(true)

	if serr := <-errc; serr != nil {
		return serr
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
