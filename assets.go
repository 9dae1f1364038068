package atlas

import (
	"archive/zip"
	"fmt"
	"image"
	"image/png"
	"io"
	"io/fs"
)

// AssetLoader reads textures, models and worldgen data out of a Minecraft
// client jar, or any file system laid out the same way.
type AssetLoader struct {
	fsys   fs.FS
	closer io.Closer
}

func NewAssetLoaderFromClientJAR(path string) (*AssetLoader, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open client jar %s: %w", path, err)
	}

	return &AssetLoader{
		fsys:   r,
		closer: r,
	}, nil
}

// NewAssetLoaderFromFS wraps a file system holding assets/ and data/.
func NewAssetLoaderFromFS(fsys fs.FS) *AssetLoader {
	return &AssetLoader{fsys: fsys}
}

func (a *AssetLoader) open(name string) (fs.File, error) {
	fd, err := a.fsys.Open(name)
	if err != nil {
		return nil, fmt.Errorf("file %s does not exist: %w", name, err)
	}
	return fd, nil
}

func (a *AssetLoader) LoadPNG(name string) (image.Image, error) {
	fd, err := a.open(name)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	return png.Decode(fd)
}

func (a *AssetLoader) LoadRaw(name string) ([]byte, error) {
	fd, err := a.open(name)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	return io.ReadAll(fd)
}

func (a *AssetLoader) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}
