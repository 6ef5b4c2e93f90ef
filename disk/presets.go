package disk

import (
	"sort"
	"strings"

	"github.com/joshuapare/floppykit/pkg/types"
)

// Preset is a named uniform geometry for a flat sector image format.
type Preset struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Geometry    types.Geometry `json:"geometry"`
}

// Formats with variable sectors per track (D64 zones, G64/NIB raw GCR,
// TD0/CQM compressed containers) have no preset; their codecs supply an
// explicit geometry.
var presets = []Preset{
	{"img-360k", "5.25\" DD PC (IMG)", types.Geometry{Cylinders: 40, Heads: 2, SectorsPerTrack: 9, BytesPerSector: 512}},
	{"img-720k", "3.5\" DD PC (IMG)", types.Geometry{Cylinders: 80, Heads: 2, SectorsPerTrack: 9, BytesPerSector: 512}},
	{"img-1200k", "5.25\" HD PC (IMG)", types.Geometry{Cylinders: 80, Heads: 2, SectorsPerTrack: 15, BytesPerSector: 512}},
	{"img-1440k", "3.5\" HD PC (IMG)", types.Geometry{Cylinders: 80, Heads: 2, SectorsPerTrack: 18, BytesPerSector: 512}},
	{"img-2880k", "3.5\" ED PC (IMG)", types.Geometry{Cylinders: 80, Heads: 2, SectorsPerTrack: 36, BytesPerSector: 512}},
	{"adf-dd", "Amiga DD (ADF)", types.Geometry{Cylinders: 80, Heads: 2, SectorsPerTrack: 11, BytesPerSector: 512}},
	{"adf-hd", "Amiga HD (ADF)", types.Geometry{Cylinders: 80, Heads: 2, SectorsPerTrack: 22, BytesPerSector: 512}},
	{"trd", "ZX Spectrum TR-DOS (TRD)", types.Geometry{Cylinders: 80, Heads: 2, SectorsPerTrack: 16, BytesPerSector: 256}},
}

// Presets returns every known preset sorted by name.
func Presets() []Preset {
	out := append([]Preset(nil), presets...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LookupGeometry returns the geometry of a preset by name (case-insensitive).
func LookupGeometry(name string) (types.Geometry, bool) {
	for _, p := range presets {
		if strings.EqualFold(p.Name, name) {
			return p.Geometry, true
		}
	}
	return types.Geometry{}, false
}

// GeometryForSize infers a geometry from a flat image size.
func GeometryForSize(size int64) (types.Geometry, bool) {
	for _, p := range presets {
		if p.Geometry.TotalBytes() == size {
			return p.Geometry, true
		}
	}
	return types.Geometry{}, false
}
