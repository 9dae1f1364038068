package atlas

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"gopkg.in/yaml.v3"
)

type Config struct {
	World     string `hcl:"world" yaml:"world"`
	Output    string `hcl:"output,optional" yaml:"output"`
	Dimension int    `hcl:"dimension,optional" yaml:"dimension"`
	Version   string `hcl:"version,optional" yaml:"version"`
	ClientJar string `hcl:"client_jar,optional" yaml:"client_jar"`
	Listen    string `hcl:"listen,optional" yaml:"listen"`

	RenderDelay      string `hcl:"render_delay,optional" yaml:"render_delay"`
	PlayerPoll       string `hcl:"player_poll,optional" yaml:"player_poll"`
	AutomapPoll      string `hcl:"automap_poll,optional" yaml:"automap_poll"`
	FlushInterval    string `hcl:"flush_interval,optional" yaml:"flush_interval"`
	FlushConcurrency int    `hcl:"flush_concurrency,optional" yaml:"flush_concurrency"`
	MaxResidentTiles int    `hcl:"max_resident_tiles,optional" yaml:"max_resident_tiles"`
	OpenRegions      int    `hcl:"open_regions,optional" yaml:"open_regions"`
	TaskBudget       string `hcl:"task_budget,optional" yaml:"task_budget"`
	HardTimeout      bool   `hcl:"hard_timeout,optional" yaml:"hard_timeout"`

	Render *RenderConfigBlock `hcl:"render,block" yaml:"render"`
	Areas  []*AreaConfigBlock `hcl:"area,block" yaml:"areas"`
	Topo   *TopoConfigBlock   `hcl:"topo,block" yaml:"topo"`
	Player *PlayerConfigBlock `hcl:"player,block" yaml:"player"`
	Save   *SaveConfigBlock   `hcl:"save,block" yaml:"save"`

	renderDelay   time.Duration
	playerPoll    time.Duration
	automapPoll   time.Duration
	flushInterval time.Duration
	taskBudget    time.Duration
}

type RenderConfigBlock struct {
	Bathymetry       bool `hcl:"bathymetry,optional" yaml:"bathymetry"`
	Plants           bool `hcl:"plants,optional" yaml:"plants"`
	Crops            bool `hcl:"crops,optional" yaml:"crops"`
	PlantShadows     bool `hcl:"plant_shadows,optional" yaml:"plant_shadows"`
	Antialiasing     bool `hcl:"antialiasing,optional" yaml:"antialiasing"`
	DisableCaves     bool `hcl:"disable_caves,optional" yaml:"disable_caves"`
	AlwaysMapCaves   bool `hcl:"always_map_caves,optional" yaml:"always_map_caves"`
	AlwaysMapSurface bool `hcl:"always_map_surface,optional" yaml:"always_map_surface"`
	MapTopography    bool `hcl:"map_topography,optional" yaml:"map_topography"`
}

type AreaConfigBlock struct {
	Name  string `hcl:"name,label" yaml:"name"`
	Min   int    `hcl:"min" yaml:"min"`
	Max   int    `hcl:"max,optional" yaml:"max"`
	Shape string `hcl:"shape,optional" yaml:"shape"`
}

type TopoConfigBlock struct {
	Low        string `hcl:"low,optional" yaml:"low"`
	High       string `hcl:"high,optional" yaml:"high"`
	Bands      int    `hcl:"bands,optional" yaml:"bands"`
	MinY       int    `hcl:"min_y,optional" yaml:"min_y"`
	BandHeight int    `hcl:"band_height,optional" yaml:"band_height"`
}

type PlayerConfigBlock struct {
	X           float64 `hcl:"x,optional" yaml:"x"`
	Y           float64 `hcl:"y,optional" yaml:"y"`
	Z           float64 `hcl:"z,optional" yaml:"z"`
	Underground bool    `hcl:"underground,optional" yaml:"underground"`
}

type SaveConfigBlock struct {
	Dir     string `hcl:"dir,optional" yaml:"dir"`
	MaxSize int    `hcl:"max_size,optional" yaml:"max_size"`
}

var envFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "name", Type: cty.String},
	},
	Type: function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		return cty.StringVal(os.Getenv(args[0].AsString())), nil
	},
})

func newHCLEvalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{},
		Functions: map[string]function.Function{
			"env": envFunc,
		},
	}
}

// LoadConfig reads an HCL config, or a YAML one when the file ends in .yaml
// or .yml.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := hclsimple.DecodeFile(path, newHCLEvalContext(), &cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseDuration(name, value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", name, value)
	}
	return d, nil
}

func (c *Config) applyDefaults() error {
	if c.World == "" {
		return fmt.Errorf("world path is required")
	}
	if c.Output == "" {
		c.Output = filepath.Join(c.World, "atlas")
	}
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.OpenRegions == 0 {
		c.OpenRegions = DefaultOpenRegions
	}
	if c.MaxResidentTiles < 0 {
		return fmt.Errorf("max_resident_tiles must not be negative")
	}

	var err error
	if c.renderDelay, err = parseDuration("render_delay", c.RenderDelay, 250*time.Millisecond); err != nil {
		return err
	}
	if c.playerPoll, err = parseDuration("player_poll", c.PlayerPoll, 2*time.Second); err != nil {
		return err
	}
	if c.automapPoll, err = parseDuration("automap_poll", c.AutomapPoll, 2*time.Second); err != nil {
		return err
	}
	if c.flushInterval, err = parseDuration("flush_interval", c.FlushInterval, DefaultFlushInterval); err != nil {
		return err
	}
	if c.taskBudget, err = parseDuration("task_budget", c.TaskBudget, 5*time.Second); err != nil {
		return err
	}

	if c.Render == nil {
		c.Render = &RenderConfigBlock{}
	}
	if c.Topo == nil {
		c.Topo = &TopoConfigBlock{}
	}
	if c.Topo.Low == "" {
		c.Topo.Low = "#1d3b14"
	}
	if c.Topo.High == "" {
		c.Topo.High = "#f4e9d8"
	}
	if c.Topo.Bands == 0 {
		c.Topo.Bands = 24
	}
	if c.Topo.MinY == 0 {
		c.Topo.MinY = -64
	}
	if c.Topo.BandHeight == 0 {
		c.Topo.BandHeight = 16
	}
	if c.Player == nil {
		c.Player = &PlayerConfigBlock{}
	}
	if c.Save == nil {
		c.Save = &SaveConfigBlock{}
	}
	if c.Save.Dir == "" {
		c.Save.Dir = filepath.Join(c.Output, "exports")
	}

	for _, area := range c.Areas {
		if area.Name != "surface" && area.Name != "caves" {
			return fmt.Errorf("unknown area %q, expected surface or caves", area.Name)
		}
		if _, err := ParseRevealShape(area.Shape); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) RenderDelayDuration() time.Duration { return c.renderDelay }

func (c *Config) PlayerPollInterval() time.Duration { return c.playerPoll }

func (c *Config) AutomapPollInterval() time.Duration { return c.automapPoll }

func (c *Config) FlushIntervalDuration() time.Duration { return c.flushInterval }

func (c *Config) TaskBudgetDuration() time.Duration { return c.taskBudget }

// Area returns the configured render area by name, "surface" or "caves".
func (c *Config) Area(name string) RenderArea {
	area := RenderArea{MinDistance: 3, MaxDistance: 7}
	if name == "caves" {
		area = RenderArea{MinDistance: 3, MaxDistance: 3}
	}
	for _, a := range c.Areas {
		if a.Name != name {
			continue
		}
		area.MinDistance = a.Min
		area.MaxDistance = a.Max
		if area.MaxDistance == 0 {
			area.MaxDistance = a.Min
		}
		area.Shape, _ = ParseRevealShape(a.Shape)
	}
	return area
}

func (c *Config) RenderOptions() RenderOptions {
	return RenderOptions{
		Bathymetry:   c.Render.Bathymetry,
		Plants:       c.Render.Plants,
		Crops:        c.Render.Crops,
		PlantShadows: c.Render.PlantShadows,
		Antialiasing: c.Render.Antialiasing,
	}
}

func (c *Config) TopoPalette() (*TopoPalette, error) {
	return NewTopoPalette(c.Topo.Low, c.Topo.High, c.Topo.Bands, c.Topo.MinY, c.Topo.BandHeight)
}

func (c *Config) PlayerPosition() mgl64.Vec3 {
	return mgl64.Vec3{c.Player.X, c.Player.Y, c.Player.Z}
}

func (c *Config) CacheOpts() CacheOpts {
	return CacheOpts{
		FlushInterval:    c.flushInterval,
		FlushConcurrency: c.FlushConcurrency,
		MaxResidentTiles: c.MaxResidentTiles,
	}
}

func (c *Config) PlayerManagerOpts() PlayerManagerOpts {
	return PlayerManagerOpts{
		PollInterval:     c.playerPoll,
		SurfaceArea:      c.Area("surface"),
		CaveArea:         c.Area("caves"),
		CavesAllowed:     !c.Render.DisableCaves,
		AlwaysMapCaves:   c.Render.AlwaysMapCaves,
		AlwaysMapSurface: c.Render.AlwaysMapSurface,
		MapTopography:    c.Render.MapTopography,
		Budget:           c.taskBudget,
	}
}

func (c *Config) RegionManagerOpts() RegionManagerOpts {
	return RegionManagerOpts{
		PollInterval: c.automapPoll,
		CavesAllowed: !c.Render.DisableCaves,
		Budget:       c.taskBudget,
	}
}

func (c *Config) SchedulerOpts() SchedulerOpts {
	return SchedulerOpts{
		Delay:       c.renderDelay,
		HardTimeout: c.HardTimeout,
	}
}
