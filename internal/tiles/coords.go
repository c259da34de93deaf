// Package tiles downloads slippy-map tiles covering a bounding box so that
// maps can be rendered offline.
package tiles

import (
	"fmt"
	"iter"
	"math"
	"slices"
)

// maxLatitude is the Web Mercator limit; beyond it y is undefined.
const maxLatitude = 85.05112878

// Tile is one map tile in z/x/y addressing.
type Tile struct {
	Z, X, Y int
}

func (t Tile) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// BBox is a geographic bounding box in degrees.
type BBox struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// Validate reports whether the box lies within valid coordinates.
func (b BBox) Validate() error {
	for _, lat := range []float64{b.North, b.South} {
		if math.IsNaN(lat) || lat < -90 || lat > 90 {
			return fmt.Errorf("latitude %v out of range", lat)
		}
	}
	for _, lon := range []float64{b.East, b.West} {
		if math.IsNaN(lon) || lon < -180 || lon > 180 {
			return fmt.Errorf("longitude %v out of range", lon)
		}
	}
	return nil
}

// LatLonToTile projects a coordinate onto the tile grid at zoom. Results are
// clamped to [0, 2^zoom-1].
func LatLonToTile(lat, lon float64, zoom int) (x, y int) {
	lat = math.Max(-maxLatitude, math.Min(maxLatitude, lat))
	lon = math.Max(-180, math.Min(180, lon))

	n := math.Exp2(float64(zoom))
	latRad := lat * math.Pi / 180

	fx := math.Floor((lon + 180) / 360 * n)
	fy := math.Floor((1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * n)

	last := int(n) - 1
	return clamp(int(fx), 0, last), clamp(int(fy), 0, last)
}

// Range is the rectangle of tiles covering a box at one zoom level.
type Range struct {
	Z, MinX, MaxX, MinY, MaxY int
}

// Count is the number of tiles in r.
func (r Range) Count() int {
	return (r.MaxX - r.MinX + 1) * (r.MaxY - r.MinY + 1)
}

// All yields the tiles of r column by column without materializing them.
func (r Range) All() iter.Seq[Tile] {
	return func(yield func(Tile) bool) {
		for x := r.MinX; x <= r.MaxX; x++ {
			for y := r.MinY; y <= r.MaxY; y++ {
				if !yield(Tile{Z: r.Z, X: x, Y: y}) {
					return
				}
			}
		}
	}
}

// RangeForBounds returns the tile rectangle spanned by the box's corners at
// zoom. Min and max are taken per axis, so corner order does not matter.
func RangeForBounds(b BBox, zoom int) Range {
	x1, y1 := LatLonToTile(b.North, b.West, zoom)
	x2, y2 := LatLonToTile(b.South, b.East, zoom)
	return Range{
		Z:    zoom,
		MinX: min(x1, x2), MaxX: max(x1, x2),
		MinY: min(y1, y2), MaxY: max(y1, y2),
	}
}

// TilesForBounds returns every tile covering the box at zoom. Callers that
// may face large areas should use RangeForBounds instead.
func TilesForBounds(b BBox, zoom int) []Tile {
	return slices.Collect(RangeForBounds(b, zoom).All())
}

// CountTiles is the number of tiles covering the box across zooms, computed
// without enumerating them.
func CountTiles(b BBox, zooms []int) int {
	n := 0
	for _, z := range zooms {
		n += RangeForBounds(b, z).Count()
	}
	return n
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
