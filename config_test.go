package atlas

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigHCL(t *testing.T) {
	world := t.TempDir()
	t.Setenv("ATLAS_TEST_WORLD", world)

	path := writeConfig(t, "config.hcl", `
world = env("ATLAS_TEST_WORLD")
dimension = -1
render_delay = "500ms"
max_resident_tiles = 64

render {
  map_topography = true
  disable_caves = true
}

area "surface" {
  min = 2
  max = 5
  shape = "circle"
}

player {
  x = 100.5
  y = 70
  z = -20
}
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.World != world {
		t.Errorf("World = %q, want %q", cfg.World, world)
	}
	if cfg.Output != filepath.Join(world, "atlas") {
		t.Errorf("Output = %q", cfg.Output)
	}
	if cfg.Dimension != -1 {
		t.Errorf("Dimension = %d, want -1", cfg.Dimension)
	}
	if cfg.RenderDelayDuration() != 500*time.Millisecond {
		t.Errorf("RenderDelayDuration() = %v", cfg.RenderDelayDuration())
	}
	if cfg.PlayerPollInterval() != 2*time.Second {
		t.Errorf("PlayerPollInterval() = %v, want the default", cfg.PlayerPollInterval())
	}
	if cfg.CacheOpts().MaxResidentTiles != 64 {
		t.Errorf("MaxResidentTiles was not passed to the cache")
	}

	if diff := cmp.Diff(RenderArea{MinDistance: 2, MaxDistance: 5, Shape: RevealCircle}, cfg.Area("surface")); diff != "" {
		t.Errorf("surface area mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(RenderArea{MinDistance: 3, MaxDistance: 3}, cfg.Area("caves")); diff != "" {
		t.Errorf("caves area mismatch (-want +got):\n%s", diff)
	}

	opts := cfg.PlayerManagerOpts()
	if opts.CavesAllowed || !opts.MapTopography {
		t.Errorf("render block not applied: %+v", opts)
	}
	if cfg.RegionManagerOpts().CavesAllowed {
		t.Errorf("region manager allowed caves")
	}
	if got := cfg.PlayerPosition(); got != (mgl64.Vec3{100.5, 70, -20}) {
		t.Errorf("PlayerPosition() = %v", got)
	}
	if _, err := cfg.TopoPalette(); err != nil {
		t.Errorf("default topography palette: %v", err)
	}
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
world: /srv/world
flush_interval: 10s
hard_timeout: true
areas:
  - name: caves
    min: 1
save:
  max_size: 4096
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.FlushIntervalDuration() != 10*time.Second || cfg.CacheOpts().FlushInterval != 10*time.Second {
		t.Errorf("FlushIntervalDuration() = %v", cfg.FlushIntervalDuration())
	}
	if !cfg.SchedulerOpts().HardTimeout {
		t.Errorf("hard_timeout was not applied")
	}
	if diff := cmp.Diff(RenderArea{MinDistance: 1, MaxDistance: 1}, cfg.Area("caves")); diff != "" {
		t.Errorf("caves area mismatch (-want +got):\n%s", diff)
	}
	if cfg.Save.MaxSize != 4096 {
		t.Errorf("Save.MaxSize = %d", cfg.Save.MaxSize)
	}
	if want := filepath.Join("/srv/world", "atlas", "exports"); cfg.Save.Dir != want {
		t.Errorf("Save.Dir = %q, want %q", cfg.Save.Dir, want)
	}
	if cfg.Listen != "127.0.0.1:8080" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	for name, body := range map[string]string{
		"missing world":     "output: /tmp/out\n",
		"bad duration":      "world: /w\nrender_delay: soon\n",
		"negative duration": "world: /w\nplayer_poll: -1s\n",
		"unknown area":      "world: /w\nareas:\n  - name: nether\n    min: 1\n",
		"unknown shape":     "world: /w\nareas:\n  - name: surface\n    min: 1\n    shape: hexagon\n",
		"negative tiles":    "world: /w\nmax_resident_tiles: -1\n",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, "config.yml", body)); err == nil {
				t.Errorf("expected an error")
			}
		})
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.hcl")); err == nil {
		t.Errorf("expected an error for a missing file")
	}
}
