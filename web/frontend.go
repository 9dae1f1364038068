package web

import (
	"github.com/b1naryth1ef/atlas"
)

type FrontendData struct {
	Maps []MapData `json:"maps"`
}

type MapData struct {
	Name      string      `json:"name"`
	Dimension int         `json:"dimension"`
	Layers    []LayerData `json:"layers"`
}

type LayerData struct {
	Name     string  `json:"name"`
	Variant  string  `json:"variant"`
	TileSize int     `json:"tileSize"`
	MaxZoom  int     `json:"maxZoom"`
	Opacity  float64 `json:"opacity"`
}

// NewMapData describes one dimension of a world with a layer per variant.
func NewMapData(name string, dimension int, variants ...atlas.MapVariant) MapData {
	data := MapData{
		Name:      name,
		Dimension: dimension,
		Layers:    []LayerData{},
	}
	for _, v := range variants {
		data.Layers = append(data.Layers, LayerData{
			Name:     v.String(),
			Variant:  v.DirName(),
			TileSize: atlas.RegionBlocks,
			MaxZoom:  atlas.MaxZoom,
			Opacity:  1,
		})
	}
	return data
}
