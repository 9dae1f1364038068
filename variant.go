package atlas

import (
	"fmt"
	"strconv"
	"strings"
)

type VariantKind uint8

const (
	VariantDay VariantKind = iota
	VariantNight
	VariantUnderground
	VariantTopo
)

// MapVariant selects the colorization pass and the cached image a chunk is
// rendered into. Slice is only meaningful for underground variants and names a
// 16-block vertical band: [Slice*16, Slice*16+15].
type MapVariant struct {
	Kind  VariantKind
	Slice int
}

func Day() MapVariant   { return MapVariant{Kind: VariantDay} }
func Night() MapVariant { return MapVariant{Kind: VariantNight} }
func Topo() MapVariant  { return MapVariant{Kind: VariantTopo} }

func Underground(slice int) MapVariant {
	return MapVariant{Kind: VariantUnderground, Slice: slice}
}

// UndergroundAt returns the underground variant whose slice contains block y.
func UndergroundAt(y int) MapVariant {
	return Underground(y >> 4)
}

func (v MapVariant) IsUnderground() bool {
	return v.Kind == VariantUnderground
}

// SliceBounds returns the inclusive minimum and maximum block Y of an
// underground slice.
func (v MapVariant) SliceBounds() (int, int) {
	min := v.Slice << 4
	return min, min + ChunkSize - 1
}

// DirName is the directory name used for this variant's tile images on disk.
func (v MapVariant) DirName() string {
	switch v.Kind {
	case VariantDay:
		return "day"
	case VariantNight:
		return "night"
	case VariantTopo:
		return "topo"
	case VariantUnderground:
		return strconv.Itoa(v.Slice)
	}
	return "unknown"
}

func (v MapVariant) String() string {
	if v.Kind == VariantUnderground {
		return fmt.Sprintf("underground(%d)", v.Slice)
	}
	return v.DirName()
}

// ParseVariant parses the output of DirName or String back into a variant.
func ParseVariant(s string) (MapVariant, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "day", "surface":
		return Day(), nil
	case "night":
		return Night(), nil
	case "topo", "topography":
		return Topo(), nil
	}

	raw := s
	if strings.HasPrefix(s, "underground(") && strings.HasSuffix(s, ")") {
		raw = strings.TrimSuffix(strings.TrimPrefix(s, "underground("), ")")
	} else if strings.HasPrefix(s, "underground:") {
		raw = strings.TrimPrefix(s, "underground:")
	}

	slice, err := strconv.Atoi(raw)
	if err != nil {
		return MapVariant{}, fmt.Errorf("unknown map variant %q", s)
	}
	return Underground(slice), nil
}
