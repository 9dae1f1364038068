package atlas

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func decodeFile(t *testing.T, path string) image.Image {
	t.Helper()
	fd, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer fd.Close()
	img, err := png.Decode(fd)
	if err != nil {
		t.Fatal(err)
	}
	return img
}

func sameColor(a, b color.Color) bool {
	ar, ag, ab, aa := a.RGBA()
	br, bg, bb, ba := b.RGBA()
	return ar == br && ag == bg && ab == bb && aa == ba
}

func TestMapSaverMergesRegions(t *testing.T) {
	cache := newTestCache(t, t.TempDir(), CacheOpts{})
	grey := RGB{0x7d, 0x7d, 0x7d}

	if err := cache.WriteChunk(0, Day(), ChunkCoord{0, 0}, solidChunk(greenColor)); err != nil {
		t.Fatal(err)
	}
	if err := cache.WriteChunk(0, Day(), ChunkCoord{32, 32}, solidChunk(grey)); err != nil {
		t.Fatal(err)
	}
	// flushed tiles and resident ones both count
	cache.FlushToDisk(false)
	cache.InvalidateAll()
	if err := cache.WriteChunk(0, Day(), ChunkCoord{33, 32}, solidChunk(grey)); err != nil {
		t.Fatal(err)
	}

	outDir := t.TempDir()
	saver := NewMapSaver(cache, outDir, "My World", 0, Day())
	saver.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	path, err := saver.Save(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(outDir, "2024-05-01_12.00.00_My_World_DIM0_day.png"); path != want {
		t.Errorf("Save() = %q, want %q", path, want)
	}

	img := decodeFile(t, path)
	if got := img.Bounds(); got != image.Rect(0, 0, 2*RegionBlocks, 2*RegionBlocks) {
		t.Fatalf("merged bounds = %v", got)
	}
	if !sameColor(img.At(8, 8), greenColor.NRGBA()) {
		t.Errorf("region (0, 0) pixel = %v, want green", img.At(8, 8))
	}
	if !sameColor(img.At(RegionBlocks+8, RegionBlocks+8), grey.NRGBA()) {
		t.Errorf("region (1, 1) pixel = %v, want grey", img.At(RegionBlocks+8, RegionBlocks+8))
	}
	if !sameColor(img.At(RegionBlocks+24, RegionBlocks+8), grey.NRGBA()) {
		t.Errorf("resident chunk missing from the export")
	}
	if _, _, _, a := img.At(RegionBlocks+8, 8).RGBA(); a != 0 {
		t.Errorf("region without a tile should be transparent")
	}

	matches, _ := filepath.Glob(filepath.Join(outDir, ".save-*"))
	if len(matches) != 0 {
		t.Errorf("temporary files left behind: %v", matches)
	}
}

func TestMapSaverMaxSize(t *testing.T) {
	cache := newTestCache(t, t.TempDir(), CacheOpts{})
	if err := cache.WriteChunk(-1, Night(), ChunkCoord{0, 0}, solidChunk(greenColor)); err != nil {
		t.Fatal(err)
	}

	saver := NewMapSaver(cache, t.TempDir(), "world", -1, Night())
	saver.MaxSize = 128
	path, err := saver.Save(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got := decodeFile(t, path).Bounds(); got.Dx() != 128 || got.Dy() != 128 {
		t.Errorf("downscaled bounds = %v, want 128x128", got)
	}
}

func TestMapSaverErrors(t *testing.T) {
	cache := newTestCache(t, t.TempDir(), CacheOpts{})
	saver := NewMapSaver(cache, t.TempDir(), "world", 0, Day())

	if _, err := saver.Save(context.Background()); !errors.Is(err, ErrNoTiles) {
		t.Errorf("err = %v, want ErrNoTiles", err)
	}

	if err := cache.WriteChunk(0, Day(), ChunkCoord{0, 0}, solidChunk(greenColor)); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := saver.Save(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestSaveTask(t *testing.T) {
	cache := newTestCache(t, t.TempDir(), CacheOpts{})
	if err := cache.WriteChunk(0, Day(), ChunkCoord{0, 0}, solidChunk(greenColor)); err != nil {
		t.Fatal(err)
	}

	events := &eventRecorder{}
	task := NewSaveTask(NewMapSaver(cache, t.TempDir(), "world", 0, Day()), events)
	result := task.Run(context.Background())
	task.Complete(result)

	if result.Status != StatusCompleted || task.Path == "" {
		t.Fatalf("unexpected result %+v", result)
	}
	if cache.DirtyCount() != 0 {
		t.Errorf("save did not flush dirty tiles first")
	}
	if len(events.events) != 1 || events.events[0].Kind != EventSaveFinished || events.events[0].Path != task.Path {
		t.Errorf("unexpected events %+v", events.events)
	}

	empty := NewSaveTask(nil, events)
	if result := empty.Run(context.Background()); result.Status != StatusFailed || !errors.Is(result.Err, ErrNoSaver) {
		t.Errorf("a task without a saver should fail, got %+v", result)
	}

	failing := NewSaveTask(NewMapSaver(newTestCache(t, t.TempDir(), CacheOpts{}), t.TempDir(), "world", 0, Day()), events)
	result = failing.Run(context.Background())
	failing.Complete(result)
	if result.Status != StatusFailed {
		t.Errorf("saving an empty map should fail, got %v", result.Status)
	}
	if last := events.events[len(events.events)-1]; last.Kind != EventSaveFailed || last.Err == "" {
		t.Errorf("unexpected failure event %+v", last)
	}
}
